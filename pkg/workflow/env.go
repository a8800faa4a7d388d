// Package workflow runs a job against a site: it checks the cooldown,
// attaches to the shared browser, signs in, hands the session to the job
// body and always releases the session before reporting the run.
package workflow

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/entrhq/courier/pkg/action"
	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/config"
	"github.com/entrhq/courier/pkg/ledger"
	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/metrics"
	"github.com/entrhq/courier/pkg/report"
	"github.com/entrhq/courier/pkg/sites"
	"github.com/entrhq/courier/pkg/types"
)

var debugLog = logging.NewLogger("workflow")

// Job is one workflow phase. A job with a nil Body only signs in.
type Job struct {
	// Workflow names the driver, e.g. "invoices"
	Workflow string

	// Phase names the step within the workflow, e.g. "download"
	Phase string

	// Budget caps admitted amounts per category and month; nil admits
	// everything
	Budget *ledger.Budget

	Body func(ctx context.Context, env *Env) error
}

// Env is what a job body works with. Page refuses direct navigation to
// protected URLs.
type Env struct {
	Site      *sites.Site
	Config    *config.Config
	FS        afero.Fs
	OutputDir string

	Session *browser.Session
	Page    browser.Page

	Ledger  *ledger.Accountant
	Console *report.Console
	Metrics *metrics.Run
	Summary *report.Summary

	Pacer       *action.Pacer
	Snapshotter *action.Snapshotter
	Retry       action.RetryPolicy

	now func() time.Time
}

// Now returns the run's clock.
func (e *Env) Now() time.Time {
	return e.now()
}

// Path joins elem onto the output directory.
func (e *Env) Path(elem ...string) string {
	return filepath.Join(append([]string{e.OutputDir}, elem...)...)
}

// Settle waits for the page to go quiet and clears overlays.
func (e *Env) Settle(ctx context.Context) error {
	return e.SettleFor(ctx, e.Config.Session.SettleTimeout)
}

// SettleFor is Settle with an explicit ceiling.
func (e *Env) SettleFor(ctx context.Context, ceiling time.Duration) error {
	if err := action.Settle(ctx, e.Page, ceiling); err != nil {
		return err
	}
	d := &action.Dismisser{Selectors: e.Site.Obstructions, Pacer: e.Pacer}
	if n := d.Dismiss(ctx, e.Page); n > 0 {
		e.Console.Verbosef("dismissed %d overlay(s)", n)
	}
	return nil
}

// Do runs a step under the run's retry policy.
func (e *Env) Do(ctx context.Context, name string, idempotent bool, run func(ctx context.Context) error) error {
	return e.Retry.Do(ctx, action.Step{Name: name, Idempotent: idempotent, Run: run})
}

// Unexpected builds an UnexpectedUIState error with a snapshot of the page.
func (e *Env) Unexpected(op, label, message string) *types.Error {
	return e.Snapshotter.Unexpected(e.Page, op, label, message)
}

// Record reports what happened to key on the console, in the summary and in
// the metrics.
func (e *Env) Record(key string, status ledger.Status, artifact, note string) {
	e.Summary.Add(key, status, artifact, note)
	e.Console.Item(key, status, note)
	e.Metrics.Item(status)
}
