// journal/journal.go
//
// The decision journal is the audit trail: one JSON line per decision cycle
// tick that reached the journaling step, written append-only so post-mortems
// can replay exactly what the engine saw and decided.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"quantloop/logs"
)

// Decision is one journaled tick outcome.
type Decision struct {
	Timestamp   time.Time `json:"timestamp"`
	CID         string    `json:"cid"`
	Symbol      string    `json:"symbol"`
	Regime      string    `json:"regime"`
	Strategy    string    `json:"strategy"`
	RawSide     string    `json:"raw_side"`
	RawStrength float64   `json:"raw_strength"`
	Substituted bool      `json:"substituted"`
	TTLLeft     int       `json:"ttl_left"`
	VetoML      bool      `json:"veto_ml"`
	VetoRisk    bool      `json:"veto_risk"`
	VetoReason  string    `json:"veto_reason,omitempty"`
	VolScale    float64   `json:"vol_scale,omitempty"`
	FinalSide   string    `json:"final_side"`
	FinalSize   string    `json:"final_size"`
	RefPrice    string    `json:"ref_price"`
	FillPrice   string    `json:"fill_price,omitempty"`
	FillQty     string    `json:"fill_qty,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	OrderError  string    `json:"order_error,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
}

// Journal records decisions. Append must be safe for concurrent use; every
// symbol cycle writes to the same journal.
type Journal interface {
	Append(d Decision) error
	Close() error
}

// FileJournal writes one JSON line per decision to a dated file.
type FileJournal struct {
	mu   sync.Mutex
	file *os.File
}

func NewFileJournal(dir string) (*FileJournal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	name := fmt.Sprintf("decisions-%s.jsonl", time.Now().UTC().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	return &FileJournal{file: f}, nil
}

func (j *FileJournal) Append(d Decision) error {
	line, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// NullJournal discards everything. Used when journaling is disabled and as a
// safe fallback when the file journal cannot be opened.
type NullJournal struct{}

func (NullJournal) Append(Decision) error { return nil }
func (NullJournal) Close() error          { return nil }

// Open returns a FileJournal, degrading to NullJournal with a logged warning
// when the directory is unusable. A broken journal must not stop trading.
func Open(dir string) Journal {
	j, err := NewFileJournal(dir)
	if err != nil {
		logs.Warnf("[Journal] falling back to null journal: %v", err)
		return NullJournal{}
	}
	return j
}
