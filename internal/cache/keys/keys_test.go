package keys

import (
	"net/url"
	"regexp"
	"strings"
	"testing"
	"unicode"
)

func TestDeterminism_SameInputsSameKey(t *testing.T) {
	p := url.Values{"colormap": {"viridis"}, "opacity": {"0.6"}}
	k1 := Key("coromandel", "9f3a", "overlay", p)
	k2 := Key("coromandel", "9f3a", "overlay", p)
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestNormalization_OrderAndSpacingProduceSameKey(t *testing.T) {
	a := url.Values{"opacity": {" 0.6 "}, "colormap": {"viridis"}, "contrast": {""}}
	b := url.Values{"colormap": {"viridis"}, "opacity": {"0.6"}}
	k1 := Key(" coromandel ", "9f3a", "overlay", a)
	k2 := Key("coromandel", "9f3a", "overlay", b)
	if k1 != k2 {
		t.Fatalf("normalized keys differ:\n k1=%s\n k2=%s", k1, k2)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9:_=.\-]+$`).MatchString(k1) {
		t.Fatalf("key contains disallowed characters: %s", k1)
	}
	if !strings.HasPrefix(k1, Prefix("coromandel")) {
		t.Fatalf("key %s does not start with dataset prefix", k1)
	}
}

func TestDifference_VersionKindAndParams(t *testing.T) {
	p := url.Values{"colormap": {"viridis"}}
	base := Key("d", "v1", "overlay", p)
	for _, other := range []string{
		Key("d", "v2", "overlay", p),
		Key("d", "v1", "legend", p),
		Key("d", "v1", "overlay", url.Values{"colormap": {"magma"}}),
		Key("e", "v1", "overlay", p),
	} {
		if other == base {
			t.Fatalf("keys must differ: %s", base)
		}
	}
}

func TestUnicodeSafety_NoPanicAndHashSuffixPresent(t *testing.T) {
	k := Key("bacia São Francisco", "v", "overlay", url.Values{"nota": {"雪"}})

	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	m := regexp.MustCompile(`:f=([0-9a-f]{16})$`).FindStringSubmatch(k)
	if len(m) != 2 {
		t.Fatalf("missing or invalid :f=<hex64> suffix in key: %s", k)
	}
	if Prefix("") != "flowmap:default:" {
		t.Fatalf("empty dataset prefix=%q", Prefix(""))
	}
}
