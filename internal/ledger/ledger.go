// Package ledger records submission attempts in an append-only run ledger.
//
// The ledger exists for human audit only. Completion decisions are always
// re-derived from the filesystem by the oracle, so ledger/filesystem drift
// can never become a source-of-truth conflict.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies one submission attempt.
const (
	OutcomeSubmitted = "submitted"
	OutcomeSkipped   = "skipped"
	OutcomeScanFail  = "scan-failed"
	OutcomeFailed    = "failed"
)

// Entry is one submission-lifecycle event. Entries are never mutated after
// append.
type Entry struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Stage   string    `json:"stage"`
	Site    string    `json:"site"`
	Day     string    `json:"day"`
	Input   string    `json:"input"`
	JobID   string    `json:"job_id,omitempty"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
}

// Writer appends JSONL entries to a per-invocation ledger file. It is owned
// by a single process for the duration of one invocation, so no locking is
// needed.
type Writer struct {
	f   *os.File
	enc *json.Encoder
}

// Open creates a new ledger file under dir, named for the stage and
// invocation time.
func Open(dir, stage string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir %s: %w", dir, err)
	}

	name := fmt.Sprintf("run_%s_%s.jsonl", stage, time.Now().UTC().Format("20060102T150405Z"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open ledger file: %w", err)
	}

	return &Writer{f: f, enc: json.NewEncoder(f)}, nil
}

// Append writes one entry, assigning its ID and timestamp.
func (w *Writer) Append(e Entry) error {
	e.ID = uuid.NewString()
	e.Time = time.Now().UTC()
	if err := w.enc.Encode(&e); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// Path returns the ledger file path.
func (w *Writer) Path() string {
	return w.f.Name()
}

// Close flushes and closes the ledger file.
func (w *Writer) Close() error {
	return w.f.Close()
}
