package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/flowmap/internal/dashboard"
)

func fakeServer(t *testing.T, ready bool) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready {
			http.Error(w, `{"status":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/api/overlay.json", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(dashboard.Metadata{
			Name:    "coromandel",
			Version: "abc",
			Rows:    20,
			Cols:    30,
			Corners: [2][2]float64{{-18.7, -47.5}, {-18.5, -47.2}},
		})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestRun_AllChecks(t *testing.T) {
	mr := miniredis.RunT(t)
	ts := fakeServer(t, true)
	if err := run(context.Background(), ts.URL+"/", mr.Addr(), "", "flowmap-reload", 7); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRun_NotReady(t *testing.T) {
	ts := fakeServer(t, false)
	err := run(context.Background(), ts.URL, "", "", "flowmap-reload", 7)
	if err == nil || !strings.Contains(err.Error(), "server check failed") {
		t.Fatalf("err=%v want server check failure", err)
	}
}

func TestCheckServer_RejectsScheme(t *testing.T) {
	if _, err := checkServer(context.Background(), "ftp://example.org"); err == nil {
		t.Fatal("expected scheme error")
	}
}
