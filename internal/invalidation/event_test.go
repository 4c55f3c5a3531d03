package invalidation

import (
	"encoding/json"
	"testing"
	"time"
)

func mustTS() time.Time { return time.Date(2025, 10, 26, 12, 30, 45, 0, time.UTC) }

func TestEvent_Validate_HappyPath(t *testing.T) {
	for _, op := range []string{OpReload, OpPurge} {
		ev := Event{Version: 1, Op: op, Dataset: "coromandel", TS: mustTS()}
		if err := ev.Validate(); err != nil {
			t.Fatalf("op=%s unexpected: %v", op, err)
		}
	}
}

func TestEvent_Validate_Rejects(t *testing.T) {
	for name, ev := range map[string]Event{
		"version": {Version: 2, Op: OpReload, Dataset: "d", TS: mustTS()},
		"op":      {Version: 1, Op: "update", Dataset: "d", TS: mustTS()},
		"dataset": {Version: 1, Op: OpReload, Dataset: " ", TS: mustTS()},
		"ts":      {Version: 1, Op: OpPurge, Dataset: "d"},
	} {
		if err := ev.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestEvent_WireFormat(t *testing.T) {
	raw := `{"version":1,"op":"reload","dataset":"coromandel","revision":7,"ts":"2025-10-26T12:30:45Z"}`
	var ev Event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Revision != 7 || !ev.TS.Equal(mustTS()) || ev.Validate() != nil {
		t.Fatalf("decoded %+v", ev)
	}
}

func TestEvent_Matches(t *testing.T) {
	ev := Event{Dataset: "Coromandel"}
	if !ev.Matches("coromandel") || ev.Matches("other") {
		t.Fatalf("Matches by name broken")
	}
	if !(Event{Dataset: "*"}).Matches("anything") {
		t.Fatalf("wildcard should match")
	}
}
