package health

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrorRecord is one entry of the error history.
type ErrorRecord struct {
	ID         string     `json:"id"`
	Category   Category   `json:"category"`
	Severity   Severity   `json:"severity"`
	Op         string     `json:"op,omitempty"`
	Message    string     `json:"message"`
	Retryable  bool       `json:"retryable"`
	At         time.Time  `json:"at"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Tracker keeps a bounded history of categorized errors.
type Tracker struct {
	logger *zap.Logger
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	records []ErrorRecord
	total   int
}

// NewTracker creates a tracker retaining at most limit records.
func NewTracker(logger *zap.Logger, limit int) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limit <= 0 {
		limit = 500
	}
	return &Tracker{
		logger: logger.Named("errors"),
		limit:  limit,
		now:    time.Now,
	}
}

// Record classifies err, stores it and returns the record id. op overrides
// the op carried by the error when non-empty.
func (t *Tracker) Record(op string, err error) string {
	if err == nil {
		return ""
	}
	he := Classify(err)
	if op == "" {
		op = he.Op
	}

	rec := ErrorRecord{
		ID:        uuid.NewString(),
		Category:  he.Category,
		Severity:  he.Severity,
		Op:        op,
		Message:   err.Error(),
		Retryable: he.Retryable,
		At:        t.now(),
	}

	t.mu.Lock()
	t.records = append(t.records, rec)
	if len(t.records) > t.limit {
		t.records = t.records[len(t.records)-t.limit:]
	}
	t.total++
	t.mu.Unlock()

	fields := []zap.Field{
		zap.String("category", string(rec.Category)),
		zap.String("severity", string(rec.Severity)),
		zap.String("op", op),
		zap.Error(err),
	}
	if rec.Severity.AtLeast(SeverityHigh) {
		t.logger.Error("error recorded", fields...)
	} else {
		t.logger.Warn("error recorded", fields...)
	}

	return rec.ID
}

// Resolve marks a record as resolved. It reports whether the id was found.
func (t *Tracker) Resolve(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.records {
		if t.records[i].ID == id && !t.records[i].Resolved {
			t.resolveLocked(i)
			return true
		}
	}
	return false
}

// ResolveOp resolves every open record for op and returns how many were
// resolved.
func (t *Tracker) ResolveOp(op string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.records {
		if t.records[i].Op == op && !t.records[i].Resolved {
			t.resolveLocked(i)
			n++
		}
	}
	return n
}

func (t *Tracker) resolveLocked(i int) {
	now := t.now()
	t.records[i].Resolved = true
	t.records[i].ResolvedAt = &now
}

// Unresolved returns the number of open records per severity.
func (t *Tracker) Unresolved() map[Severity]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Severity]int)
	for _, r := range t.records {
		if !r.Resolved {
			out[r.Severity]++
		}
	}
	return out
}

// Recent returns up to n of the newest records, newest first.
func (t *Tracker) Recent(n int) []ErrorRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n <= 0 || n > len(t.records) {
		n = len(t.records)
	}
	out := make([]ErrorRecord, 0, n)
	for i := len(t.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, t.records[i])
	}
	return out
}

// Total returns how many errors were ever recorded.
func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
