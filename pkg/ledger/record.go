// Package ledger accounts for everything a run produces: fetched documents
// and submitted transactions are recorded under a unique logical key so no
// run repeats them, and admitted amounts are totalled per category and month
// against a ceiling.
package ledger

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle of a record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusSkipped  Status = "skipped"
)

// Record is one persisted artifact or submitted transaction.
type Record struct {
	Key      string          `json:"key"`
	Status   Status          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Category string          `json:"category,omitempty"`

	// Period is the calendar month the amount counts against, YYYY-MM
	Period string `json:"period,omitempty"`

	// Artifact is the local path of a produced document
	Artifact string `json:"artifact,omitempty"`

	Note      string    `json:"note,omitempty"`
	RunID     string    `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Period returns the budget period t falls in.
func Period(t time.Time) string {
	return t.Format("2006-01")
}

// NewRunID returns a sortable unique run identifier.
func NewRunID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Budget holds per-category ceilings. A category without a ceiling is
// unbounded.
type Budget struct {
	ceilings map[string]decimal.Decimal
}

// NewBudget creates a budget with no ceilings.
func NewBudget() *Budget {
	return &Budget{ceilings: make(map[string]decimal.Decimal)}
}

// SetCeiling bounds category's monthly total.
func (b *Budget) SetCeiling(category string, ceiling decimal.Decimal) *Budget {
	b.ceilings[category] = ceiling
	return b
}

// Ceiling returns category's ceiling, if any.
func (b *Budget) Ceiling(category string) (decimal.Decimal, bool) {
	if b == nil {
		return decimal.Zero, false
	}
	c, ok := b.ceilings[category]
	return c, ok
}
