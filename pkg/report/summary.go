// Package report presents a run to the operator: a leveled console reporter
// for progress and run artifacts (run.json, summary.md) for the record.
package report

import (
	"time"

	"github.com/entrhq/courier/pkg/ledger"
	"github.com/entrhq/courier/pkg/types"
)

// ItemResult is what happened to one logical key during the run.
type ItemResult struct {
	Key      string        `json:"key"`
	Status   ledger.Status `json:"status"`
	Artifact string        `json:"artifact,omitempty"`
	Note     string        `json:"note,omitempty"`
}

// Summary describes a finished run.
type Summary struct {
	RunID    string `json:"run_id"`
	Site     string `json:"site"`
	Workflow string `json:"workflow"`
	Phase    string `json:"phase,omitempty"`
	Identity string `json:"identity,omitempty"`

	Outcome   types.Outcome `json:"outcome"`
	ErrorKind types.Kind    `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	Counts   ledger.Counts   `json:"counts"`
	Items    []ItemResult    `json:"items,omitempty"`
	Snapshot *types.Snapshot `json:"snapshot,omitempty"`

	// CooldownUntil is set when the failure schedules a cooldown
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// Add appends an item result.
func (s *Summary) Add(key string, status ledger.Status, artifact, note string) {
	s.Items = append(s.Items, ItemResult{Key: key, Status: status, Artifact: artifact, Note: note})
}

// Finish stamps the end of the run and its outcome.
func (s *Summary) Finish(end time.Time, err error) {
	s.EndTime = end
	s.Duration = end.Sub(s.StartTime)
	s.Outcome = types.OutcomeOf(err)
	if err != nil {
		s.Error = err.Error()
		s.ErrorKind = types.KindOf(err)
		s.Snapshot = types.SnapshotOf(err)
	}
}
