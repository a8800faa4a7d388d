package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/entrhq/courier/pkg/logging"
)

var debugLog = logging.NewLogger("ledger")

// Store loads and saves the full record set.
type Store interface {
	Load() ([]Record, error)
	Save(records []Record) error
}

// Accountant decides what a run still has to produce and what the budget
// admits. Every state change is saved before the call returns.
type Accountant struct {
	mu      sync.Mutex
	store   Store
	budget  *Budget
	records map[string]Record
	order   []string
	runID   string
	now     func() time.Time
}

// Option configures an Accountant.
type Option func(*Accountant)

// WithRunID stamps records with id instead of a fresh one.
func WithRunID(id string) Option {
	return func(a *Accountant) {
		a.runID = id
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Accountant) {
		a.now = now
	}
}

// Open loads the ledger from store.
func Open(store Store, budget *Budget, opts ...Option) (*Accountant, error) {
	a := &Accountant{
		store:   store,
		budget:  budget,
		records: make(map[string]Record),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.runID == "" {
		a.runID = NewRunID()
	}

	records, err := store.Load()
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if _, ok := a.records[r.Key]; !ok {
			a.order = append(a.order, r.Key)
		}
		a.records[r.Key] = r
	}
	debugLog.Debugf("ledger opened with %d records, run %s", len(a.records), a.runID)
	return a, nil
}

// RunID returns the id stamped on records written by this accountant.
func (a *Accountant) RunID() string {
	return a.runID
}

// ShouldProduce reports whether key still has to be produced: false once a
// complete record exists.
func (a *Accountant) ShouldProduce(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.records[key]
	return !ok || r.Status != StatusComplete
}

// Total sums complete and pending amounts for category in period. Pending
// counts because it may already have taken effect remotely.
func (a *Accountant) Total(category, period string) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total(category, period)
}

func (a *Accountant) total(category, period string) decimal.Decimal {
	sum := decimal.Zero
	for _, r := range a.records {
		if r.Category != category || r.Period != period {
			continue
		}
		if r.Status == StatusComplete || r.Status == StatusPending {
			sum = sum.Add(r.Amount)
		}
	}
	return sum
}

// ShouldAdmit reports whether amount fits under category's ceiling in
// period. A category without a ceiling always admits.
func (a *Accountant) ShouldAdmit(category, period string, amount decimal.Decimal) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.admits(category, period, amount, "")
}

// admits excludes key's own current amount so re-admitting a pending record
// does not count it twice.
func (a *Accountant) admits(category, period string, amount decimal.Decimal, key string) bool {
	ceiling, ok := a.budget.Ceiling(category)
	if !ok {
		return true
	}
	total := a.total(category, period)
	if r, ok := a.records[key]; ok && r.Category == category && r.Period == period &&
		(r.Status == StatusPending || r.Status == StatusComplete) {
		total = total.Sub(r.Amount)
	}
	return total.Add(amount).LessThanOrEqual(ceiling)
}

// Record stores rec and reports whether anything changed. A complete record
// is never replaced; recording it again is a no-op.
func (a *Accountant) Record(rec Record) (bool, error) {
	if rec.Key == "" {
		return false, fmt.Errorf("record has no key")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record(rec)
}

func (a *Accountant) record(rec Record) (bool, error) {
	prev, exists := a.records[rec.Key]
	if exists && prev.Status == StatusComplete {
		debugLog.Debugf("%s already complete", rec.Key)
		return false, nil
	}

	rec.RunID = a.runID
	rec.UpdatedAt = a.now().UTC()
	a.records[rec.Key] = rec
	if !exists {
		a.order = append(a.order, rec.Key)
	}

	if err := a.store.Save(a.snapshot()); err != nil {
		if exists {
			a.records[rec.Key] = prev
		} else {
			delete(a.records, rec.Key)
			a.order = a.order[:len(a.order)-1]
		}
		return false, err
	}
	debugLog.Infof("%s -> %s", rec.Key, rec.Status)
	return true, nil
}

// Admit checks rec against the budget. Over the ceiling it is recorded as
// skipped and false is returned; otherwise it is recorded as pending. A key
// that is already complete is neither admitted nor changed.
func (a *Accountant) Admit(rec Record) (bool, error) {
	if rec.Key == "" {
		return false, fmt.Errorf("record has no key")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if r, ok := a.records[rec.Key]; ok && r.Status == StatusComplete {
		return false, nil
	}

	if !a.admits(rec.Category, rec.Period, rec.Amount, rec.Key) {
		ceiling, _ := a.budget.Ceiling(rec.Category)
		rec.Status = StatusSkipped
		rec.Note = fmt.Sprintf("%s + %s exceeds %s ceiling %s for %s",
			a.total(rec.Category, rec.Period).StringFixed(2), rec.Amount.StringFixed(2),
			rec.Category, ceiling.StringFixed(2), rec.Period)
		if _, err := a.record(rec); err != nil {
			return false, err
		}
		return false, nil
	}

	rec.Status = StatusPending
	if _, err := a.record(rec); err != nil {
		return false, err
	}
	return true, nil
}

// Complete marks key complete, keeping the fields recorded when it was
// admitted. artifact is stored when non-empty.
func (a *Accountant) Complete(key, artifact string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.records[key]
	if !ok {
		rec = Record{Key: key}
	}
	if rec.Status == StatusComplete {
		return nil
	}
	rec.Status = StatusComplete
	if artifact != "" {
		rec.Artifact = artifact
	}
	_, err := a.record(rec)
	return err
}

// Get returns the record for key.
func (a *Accountant) Get(key string) (Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.records[key]
	return r, ok
}

// Records returns all records in first-recorded order.
func (a *Accountant) Records() []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

func (a *Accountant) snapshot() []Record {
	out := make([]Record, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, a.records[key])
	}
	return out
}

// Counts tallies records by status.
type Counts struct {
	Pending  int `json:"pending"`
	Complete int `json:"complete"`
	Skipped  int `json:"skipped"`
}

// Counts tallies records written by this run.
func (a *Accountant) Counts() Counts {
	a.mu.Lock()
	defer a.mu.Unlock()
	var c Counts
	for _, r := range a.records {
		if r.RunID != a.runID {
			continue
		}
		switch r.Status {
		case StatusPending:
			c.Pending++
		case StatusComplete:
			c.Complete++
		case StatusSkipped:
			c.Skipped++
		}
	}
	return c
}
