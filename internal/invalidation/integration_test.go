package invalidation_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/flowmap/internal/cache"
	"github.com/mohammed-shakir/flowmap/internal/cache/keys"
	"github.com/mohammed-shakir/flowmap/internal/cache/redisstore"
	"github.com/mohammed-shakir/flowmap/internal/dashboard"
	"github.com/mohammed-shakir/flowmap/internal/dataset"
	"github.com/mohammed-shakir/flowmap/internal/invalidation"
	"github.com/mohammed-shakir/flowmap/internal/invalidation/kafkaconsumer"
	mylog "github.com/mohammed-shakir/flowmap/internal/logger"
	"github.com/mohammed-shakir/flowmap/internal/render"
)

const gridV1 = `ncols 4
nrows 2
xllcorner -47.5
yllcorner -18.7
cellsize 0.05
NODATA_value -9999
0 1 10 100
1000 -9999 5 50
`

func publish(t *testing.T, c *kafkaconsumer.Consumer, off int64, op string, rev uint64) {
	t.Helper()
	body, _ := json.Marshal(invalidation.Event{Version: 1, Op: op, Dataset: "coromandel", Revision: rev, TS: time.Now().UTC()})
	msg := &sarama.ConsumerMessage{Topic: "flowmap-reload", Partition: 0, Offset: off, Value: body}
	if err := c.ProcessOne(context.Background(), msg); err != nil {
		t.Fatalf("ProcessOne(%s): %v", op, err)
	}
}

func TestIntegration_Miniredis_ReloadPurgeAndMetrics(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })

	dir := t.TempDir()
	path := filepath.Join(dir, "flow.asc")
	if err := os.WriteFile(path, []byte(gridV1), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	zl := mylog.Build(mylog.Config{Level: "error"}, io.Discard)
	logger := mylog.NewSlog(&zl)
	loader := dataset.NewLoader(dataset.Source{Name: "coromandel", Mode: dataset.ModeLocal, RasterPath: path}, nil, logger)
	svc := dashboard.New(dashboard.Config{H3Res: 6}, loader, cache.New(cache.Config{}, rc, logger), logger)
	first, err := svc.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if _, err := svc.Overlay(context.Background(), render.DefaultOptions()); err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	prefix := keys.Prefix("coromandel")
	stored := func() int {
		n := 0
		for _, k := range mr.Keys() {
			if strings.HasPrefix(k, prefix) {
				n++
			}
		}
		return n
	}
	if stored() != 1 {
		t.Fatalf("redis keys=%v want one overlay under %s", mr.Keys(), prefix)
	}

	cons := kafkaconsumer.New(kafkaconsumer.FromEnv(), &zl, svc, "coromandel")

	publish(t, cons, 1, invalidation.OpPurge, 1)
	if stored() != 0 {
		t.Fatalf("purge left keys %v", mr.Keys())
	}

	if err := os.WriteFile(path, []byte(strings.Replace(gridV1, "1000", "2000", 1)), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	publish(t, cons, 2, invalidation.OpReload, 2)
	ds, err := svc.Dataset()
	if err != nil {
		t.Fatalf("Dataset: %v", err)
	}
	if ds.Version == first.Version {
		t.Fatalf("reload kept version %s", ds.Version)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	bodyStr := rr.Body.String()
	has := func(s string) {
		if !strings.Contains(bodyStr, s) {
			t.Fatalf("metrics missing %q; got:\n%s", s, bodyStr)
		}
	}
	has(`reload_events_total{op="purge",result="ok"}`)
	has(`reload_events_total{op="reload",result="ok"}`)
	has("cache_results_total")
	has("redis_operation_duration_seconds_bucket")
	has("dataset_loads_total")
}
