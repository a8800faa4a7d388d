package workflow

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/entrhq/courier/pkg/action"
	"github.com/entrhq/courier/pkg/auth"
	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/config"
	"github.com/entrhq/courier/pkg/credentials"
	"github.com/entrhq/courier/pkg/handoff"
	"github.com/entrhq/courier/pkg/ledger"
	"github.com/entrhq/courier/pkg/metrics"
	"github.com/entrhq/courier/pkg/report"
	"github.com/entrhq/courier/pkg/sites"
	"github.com/entrhq/courier/pkg/types"
)

// Runner executes jobs for one site.
type Runner struct {
	site     *sites.Site
	cfg      *config.Config
	fs       afero.Fs
	manager  *browser.Manager
	resolver credentials.Resolver
	console  *report.Console

	pacer         *action.Pacer
	retry         action.RetryPolicy
	deadline      time.Duration
	skipChallenge bool
	watch         bool
	now           func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithFS sets the filesystem for the ledger, handoff files, cooldown and
// run artifacts.
func WithFS(fs afero.Fs) Option {
	return func(r *Runner) {
		r.fs = fs
	}
}

// WithManager sets the connection manager.
func WithManager(m *browser.Manager) Option {
	return func(r *Runner) {
		r.manager = m
	}
}

// WithResolver sets the credential resolver.
func WithResolver(res credentials.Resolver) Option {
	return func(r *Runner) {
		r.resolver = res
	}
}

// WithConsole sets the progress reporter.
func WithConsole(c *report.Console) Option {
	return func(r *Runner) {
		r.console = c
	}
}

// WithPacer sets the interaction pacer.
func WithPacer(p *action.Pacer) Option {
	return func(r *Runner) {
		r.pacer = p
	}
}

// WithRetryPolicy replaces the default retry policy for job steps.
func WithRetryPolicy(p action.RetryPolicy) Option {
	return func(r *Runner) {
		r.retry = p
	}
}

// WithDeadline bounds the whole run, including the code wait.
func WithDeadline(d time.Duration) Option {
	return func(r *Runner) {
		r.deadline = d
	}
}

// WithSkipChallenge fails instead of waiting for a one-time code.
func WithSkipChallenge(skip bool) Option {
	return func(r *Runner) {
		r.skipChallenge = skip
	}
}

// WithWatch toggles filesystem notifications during the code wait.
func WithWatch(enabled bool) Option {
	return func(r *Runner) {
		r.watch = enabled
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a runner for site configured by cfg.
func NewRunner(site *sites.Site, cfg *config.Config, opts ...Option) *Runner {
	r := &Runner{
		site:  site,
		cfg:   cfg,
		fs:    afero.NewOsFs(),
		pacer: action.NewPacer(),
		retry: action.DefaultRetryPolicy(),
		watch: true,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.manager == nil {
		r.manager = browser.NewManager(&browser.PlaywrightConnector{Install: true},
			browser.WithProbeTimeout(cfg.Session.ProbeTimeout))
	}
	if r.resolver == nil {
		r.resolver = credentials.NewPassResolver()
	}
	if r.console == nil {
		r.console = report.NewConsole(report.ParseLevel(cfg.Session.LogLevel))
	}
	return r
}

// OutputDir returns where the runner keeps its files.
func (r *Runner) OutputDir() string {
	return r.cfg.Session.Dir()
}

// Run executes job and returns its summary. The session is released on
// every path, and the summary, metrics and artifacts are written even when
// the job fails.
func (r *Runner) Run(ctx context.Context, job Job) (*report.Summary, error) {
	if r.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.deadline)
		defer cancel()
	}

	dir := r.OutputDir()
	summary := &report.Summary{
		RunID:     ledger.NewRunID(),
		Site:      r.site.Name,
		Workflow:  job.Workflow,
		Phase:     job.Phase,
		StartTime: r.now(),
	}
	run := metrics.NewRun(r.site.Name, job.Workflow)
	cooldowns := NewCooldownStore(r.fs, filepath.Join(dir, CooldownFile))

	title := fmt.Sprintf("%s %s", r.site.Title, job.Workflow)
	if job.Phase != "" {
		title += " " + job.Phase
	}
	r.console.Header(title)
	debugLog.Infof("run %s: %s", summary.RunID, title)

	var acct *ledger.Accountant
	err := r.run(ctx, job, dir, summary, run, cooldowns, &acct)

	if kind := types.KindOf(err); kind == types.KindRateLimited || kind == types.KindAuthTimeout {
		if c := r.startCooldown(cooldowns, kind, err, summary.RunID); c != nil {
			summary.CooldownUntil = &c.Until
		}
	} else if err == nil {
		if cerr := cooldowns.Clear(); cerr != nil {
			debugLog.Warnf("%v", cerr)
		}
	}

	if acct != nil {
		summary.Counts = acct.Counts()
	}
	end := r.now()
	summary.Finish(end, err)
	run.Finish(err, summary.Duration, end)
	r.publish(dir, job, summary, run)
	return summary, err
}

func (r *Runner) run(ctx context.Context, job Job, dir string, summary *report.Summary, run *metrics.Run,
	cooldowns *CooldownStore, acctOut **ledger.Accountant) error {

	c, err := cooldowns.Active(r.now())
	if err != nil {
		return err
	}
	if c != nil {
		r.console.Warningf("%s is cooling down until %s", r.site.Title, c.Until.Format(time.Kitchen))
		return c.Error(r.now())
	}

	acct, err := ledger.Open(ledger.NewFileStore(r.fs, filepath.Join(dir, ledger.FileName)), job.Budget,
		ledger.WithRunID(summary.RunID), ledger.WithClock(r.now))
	if err != nil {
		return err
	}
	*acctOut = acct

	r.console.Step("Attaching to browser at " + r.cfg.Session.CDPURL)
	sess, err := r.manager.Acquire(ctx, r.cfg.Session.CDPURL)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := r.manager.Release(sess); rerr != nil {
			r.console.Warningf("release: %v", rerr)
		}
	}()

	snap := action.NewSnapshotter(filepath.Join(dir, "snapshots"))
	if err := r.authenticate(ctx, sess, dir, snap, run); err != nil {
		return err
	}
	summary.Identity = sess.Identity()
	r.console.Successf("Signed in to %s as %s", r.site.Title, sess.Identity())

	if job.Body == nil {
		return nil
	}

	guard, err := browser.NewGuard(r.site.EntryPatterns, r.site.ProtectedPatterns)
	if err != nil {
		return err
	}
	env := &Env{
		Site:        r.site,
		Config:      r.cfg,
		FS:          r.fs,
		OutputDir:   dir,
		Session:     sess,
		Page:        guard.Wrap(sess.Page()),
		Ledger:      acct,
		Console:     r.console,
		Metrics:     run,
		Summary:     summary,
		Pacer:       r.pacer,
		Snapshotter: snap,
		Retry:       r.retry,
		now:         r.now,
	}
	return job.Body(ctx, env)
}

func (r *Runner) authenticate(ctx context.Context, sess *browser.Session, dir string, snap *action.Snapshotter, run *metrics.Run) error {
	s := r.cfg.Session
	channel := handoff.New(r.fs, dir, handoff.WithPollInterval(s.PollInterval), handoff.WithWatch(r.watch))
	machine := auth.New(r.site, r.resolver, channel, auth.Options{
		CredentialName:   s.PassPath,
		Hint:             s.MFAPhone,
		ChallengeTimeout: s.MFATimeout,
		SkipChallenge:    r.skipChallenge,
		SettleTimeout:    s.SettleTimeout,
	}, auth.WithPacer(r.pacer), auth.WithSnapshotter(snap), auth.WithClock(r.now))

	r.console.Step("Signing in to " + r.site.Title)
	err := machine.Authenticate(ctx, sess)
	if ch := machine.Challenge(); ch != nil {
		run.AuthWait(r.now().Sub(ch.IssuedAt))
		if err == nil {
			r.console.Verbosef("one-time code accepted")
		}
	}
	if err != nil && types.KindOf(err) == types.KindAuthTimeout {
		r.console.Errorf("no code in %s within %s", channel.CodePath(), s.MFATimeout)
	}
	return err
}

func (r *Runner) startCooldown(store *CooldownStore, kind types.Kind, cause error, runID string) *Cooldown {
	d := r.cfg.Session.RateLimitCooldown
	if kind == types.KindAuthTimeout {
		d = r.cfg.Session.AuthCooldown
	}
	if d <= 0 {
		return nil
	}

	// A failed run that was itself refused by a cooldown keeps the stored one
	var te *types.Error
	if errors.As(cause, &te) && te.Op == "cooldown" {
		return nil
	}

	c := Cooldown{Kind: kind, Until: r.now().Add(d), Reason: cause.Error(), RunID: runID}
	if err := store.Set(c); err != nil {
		r.console.Warningf("could not store cooldown: %v", err)
		return nil
	}
	debugLog.Infof("cooldown after %s until %s", kind, c.Until.Format(time.RFC3339))
	return &c
}

func (r *Runner) publish(dir string, job Job, summary *report.Summary, run *metrics.Run) {
	artifacts := report.NewArtifactWriter(r.fs, filepath.Join(dir, "runs", summary.RunID))
	if err := artifacts.WriteAll(summary); err != nil {
		r.console.Warningf("could not write run artifacts: %v", err)
	}
	if _, ok := r.fs.(*afero.OsFs); ok {
		path := filepath.Join(dir, "metrics", fmt.Sprintf("%s_%s.prom", r.site.Name, job.Workflow))
		if err := run.WriteTextfile(path); err != nil {
			r.console.Warningf("could not write metrics: %v", err)
		}
	}
	r.console.Summary(summary)
}
