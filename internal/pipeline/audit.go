package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// AuditRecord is one line of the routing audit trail.
type AuditRecord struct {
	Timestamp    string         `json:"timestamp"`
	ModelID      string         `json:"model_id"`
	DocumentType string         `json:"document_type"`
	InputType    string         `json:"input_type"`
	SourceName   string         `json:"source_name,omitempty"`
	Warnings     []string       `json:"warnings"`
	Metadata     map[string]any `json:"metadata"`
}

// AuditLogger records routing decisions.
type AuditLogger interface {
	Log(rec AuditRecord) error
}

// NoopAudit discards records.
type NoopAudit struct{}

// Log implements AuditLogger.
func (NoopAudit) Log(AuditRecord) error { return nil }

// MemoryAudit keeps records in memory.
type MemoryAudit struct {
	mu      sync.Mutex
	records []AuditRecord
}

// Log implements AuditLogger.
func (m *MemoryAudit) Log(rec AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of the logged records.
func (m *MemoryAudit) Records() []AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditRecord(nil), m.records...)
}

// JSONLAudit appends one JSON object per line to a file.
type JSONLAudit struct {
	mu   sync.Mutex
	path string
}

// NewJSONLAudit creates the parent directory of path.
func NewJSONLAudit(path string) (*JSONLAudit, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, eris.Wrapf(err, "audit: create dir for %s", path)
	}
	return &JSONLAudit{path: path}, nil
}

// Log appends rec, filling in the timestamp when empty.
func (j *JSONLAudit) Log(rec AuditRecord) error {
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if rec.Warnings == nil {
		rec.Warnings = []string{}
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "audit: marshal record")
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return eris.Wrapf(err, "audit: open %s", j.path)
	}
	defer f.Close() //nolint:errcheck
	if _, err := f.Write(append(line, '\n')); err != nil {
		return eris.Wrapf(err, "audit: write %s", j.path)
	}
	return nil
}

// NewAuditLogger returns a JSONL logger for a non-empty path and a no-op
// logger otherwise.
func NewAuditLogger(path string) (AuditLogger, error) {
	if path == "" {
		return NoopAudit{}, nil
	}
	return NewJSONLAudit(path)
}
