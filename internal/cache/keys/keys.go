// Package keys builds cache keys for rendered artifacts.
package keys

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const Namespace = "flowmap"

// Key returns "flowmap:<dataset>:<version>:<kind>:p=<params>:f=<hash>". The
// params are canonicalized so that parameter order and spacing do not matter.
func Key(dataset, version, kind string, params url.Values) string {
	canon := Canonical(params)
	safe := sanitize(canon, true)

	const maxParamTextLen = 160
	if len(safe) > maxParamTextLen {
		safe = safe[:maxParamTextLen]
	}

	sum := xxhash.Sum64String(canon)
	return fmt.Sprintf("%s%s:%s:p=%s:f=%016x", Prefix(dataset), sanitize(version, false), sanitize(kind, false), safe, sum)
}

// Prefix is the common prefix of every key of dataset; purging a dataset
// deletes everything under it.
func Prefix(dataset string) string {
	d := sanitize(strings.TrimSpace(dataset), false)
	if d == "" {
		d = "default"
	}
	return Namespace + ":" + d + ":"
}

// Canonical encodes params with sorted keys, trimmed values and empty values
// dropped.
func Canonical(params url.Values) string {
	ks := make([]string, 0, len(params))
	for k := range params {
		ks = append(ks, k)
	}
	sort.Strings(ks)

	var b strings.Builder
	for _, k := range ks {
		for _, v := range params[k] {
			v = strings.Join(strings.Fields(v), " ")
			if v == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(strings.ToLower(strings.TrimSpace(k)))
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

func sanitize(s string, allowEq bool) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case unicode.IsSpace(r) || r == '&':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '.':
			out = r
		case r == '=' && allowEq:
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
