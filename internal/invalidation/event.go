// Package invalidation defines the reload events that tell a running server
// its dataset changed upstream.
package invalidation

import (
	"fmt"
	"strings"
	"time"
)

const (
	OpReload = "reload"
	OpPurge  = "purge"
)

// Event is the wire form of one reload request.
type Event struct {
	Version int    `json:"version"`
	Op      string `json:"op"`
	Dataset string `json:"dataset"`
	// Revision orders events of one dataset; 0 disables ordering.
	Revision uint64    `json:"revision,omitempty"`
	TS       time.Time `json:"ts"`
	Source   string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpReload, OpPurge:
	default:
		return fmt.Errorf("op must be reload|purge")
	}
	if strings.TrimSpace(e.Dataset) == "" {
		return fmt.Errorf("dataset is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// Matches reports whether the event targets dataset; "*" targets any.
func (e Event) Matches(dataset string) bool {
	return e.Dataset == "*" || strings.EqualFold(e.Dataset, dataset)
}
