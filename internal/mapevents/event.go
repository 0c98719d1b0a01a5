// Package mapevents publishes and consumes map lifecycle events on Kafka.
package mapevents

import (
	"fmt"
	"strings"
	"time"
)

const (
	OpCreated      = "created"
	OpTitleUpdated = "title_updated"
	OpDeleted      = "deleted"
)

type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	MapID   int       `json:"map_id"`
	Title   string    `json:"title"`
	City    string    `json:"city,omitempty"`
	State   string    `json:"state,omitempty"`
	TS      time.Time `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpCreated, OpTitleUpdated, OpDeleted:
	default:
		return fmt.Errorf("op must be created|title_updated|deleted")
	}
	if e.MapID < 0 {
		return fmt.Errorf("map_id must be >= 0")
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}
