package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// AuditEntry is one line of the reclaim audit trail.
type AuditEntry struct {
	Time      time.Time `json:"time"`
	Handle    string    `json:"handle"`
	Event     string    `json:"event"` // reclaimed, rejected, failed, revived, protected
	Reason    string    `json:"reason,omitempty"`
	Signature string    `json:"signature,omitempty"`
	Lamports  uint64    `json:"lamports,omitempty"`
	DryRun    bool      `json:"dry_run,omitempty"`
}

// Auditor appends audit entries. Injected into engines so tests can capture
// the trail without touching the filesystem.
type Auditor interface {
	Append(entry AuditEntry) error
}

// FileAuditor writes one JSON line per entry to an append-only file.
type FileAuditor struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileAuditor opens (or creates) the audit file for appending.
func NewFileAuditor(path string) (*FileAuditor, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G304 -- path is operator config
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	return &FileAuditor{file: file}, nil
}

// Append writes one entry as a JSON line.
func (a *FileAuditor) Append(entry AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode audit entry: %w", err)
	}
	if _, err := a.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (a *FileAuditor) Close() error {
	return a.file.Close()
}

// NopAuditor discards entries.
type NopAuditor struct{}

func (NopAuditor) Append(AuditEntry) error { return nil }
