package mapevents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// AuditLog appends events to a JSON-lines file.
type AuditLog struct {
	mu sync.Mutex
	f  *os.File
}

func OpenAuditLog(path string) (*AuditLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("mapevents: open audit log: %w", err)
	}
	return &AuditLog{f: f}, nil
}

// Append writes ev and syncs. It satisfies Handler.
func (a *AuditLog) Append(_ context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.f.Write(b); err != nil {
		return fmt.Errorf("mapevents: write audit log: %w", err)
	}
	return a.f.Sync()
}

func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.Close()
}
