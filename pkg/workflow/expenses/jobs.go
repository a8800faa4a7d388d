package expenses

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/entrhq/courier/pkg/action"
	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/config"
	"github.com/entrhq/courier/pkg/fileutil"
	"github.com/entrhq/courier/pkg/types"
	"github.com/entrhq/courier/pkg/workflow"
)

const (
	// Workflow is the workflow name used in reports and metrics
	Workflow = "expenses"

	// ReportIDFile remembers the report the last create phase worked on
	ReportIDFile = "last_report_id.txt"

	// Ledger categories of the records that carry no amount
	CategoryReceipt    = "receipt"
	CategoryAttachment = "attachment"
	CategorySubmission = "submission"
)

// Phases, in the order the full lifecycle runs them.
const (
	PhaseLogin  = "login"
	PhaseCreate = "create"
	PhaseUpload = "upload"
	PhaseAttach = "attach"
	PhaseSubmit = "submit"
	PhaseFull   = "full"
)

// DefaultSuggestTimeout bounds the wait for an autocomplete suggestion.
const DefaultSuggestTimeout = 2 * time.Second

var (
	// ErrNotConfirmed is returned when asked to submit without confirmation
	ErrNotConfirmed = errors.New("submitting a report needs --confirm")

	// ErrNoReport is returned when no report id is known
	ErrNoReport = errors.New("no report id: run create first or pass --report-id")

	// ErrNoReceipts is returned when no receipt file matches
	ErrNoReceipts = errors.New("no receipt files found")
)

// Options configure an expenses job.
type Options struct {
	// ReportID selects an existing report instead of the last created one
	ReportID string

	// Receipts are receipt file paths or glob patterns
	Receipts []string

	// Confirm allows the report to be submitted
	Confirm bool

	SuggestTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.SuggestTimeout <= 0 {
		o.SuggestTimeout = DefaultSuggestTimeout
	}
	return o
}

// LoginJob signs in and does nothing else.
func LoginJob() workflow.Job {
	return workflow.Job{Workflow: Workflow, Phase: PhaseLogin}
}

// CreateJob enters the planned expenses of cfg into a report.
func CreateJob(cfg *config.ExpensesSection, opts Options) workflow.Job {
	return job(PhaseCreate, cfg, opts, func(ctx context.Context, d *driver) error {
		_, err := d.create(ctx)
		return err
	})
}

// UploadJob adds receipt files to the wallet.
func UploadJob(opts Options) workflow.Job {
	return job(PhaseUpload, nil, opts, func(ctx context.Context, d *driver) error {
		return d.upload(ctx)
	})
}

// AttachJob attaches wallet receipts to the report's expenses that have
// none.
func AttachJob(opts Options) workflow.Job {
	return job(PhaseAttach, nil, opts, func(ctx context.Context, d *driver) error {
		id, err := d.reportID()
		if err != nil {
			return err
		}
		return d.attach(ctx, id)
	})
}

// SubmitJob submits the report. It fails without Confirm.
func SubmitJob(opts Options) workflow.Job {
	return job(PhaseSubmit, nil, opts, func(ctx context.Context, d *driver) error {
		if !d.opts.Confirm {
			return ErrNotConfirmed
		}
		id, err := d.reportID()
		if err != nil {
			return err
		}
		return d.submit(ctx, id)
	})
}

// FullJob creates the report, uploads and attaches receipts when given and
// submits when confirmed. Receipt failures are reported but do not stop
// the run.
func FullJob(cfg *config.ExpensesSection, opts Options) workflow.Job {
	return job(PhaseFull, cfg, opts, func(ctx context.Context, d *driver) error {
		id, err := d.create(ctx)
		if err != nil {
			return err
		}
		if id == "" {
			return ErrNoReport
		}

		if len(d.opts.Receipts) > 0 {
			if err := d.upload(ctx); err != nil {
				if types.KindOf(err) == types.KindCancelled {
					return err
				}
				d.env.Console.Warningf("receipt upload: %v", err)
			} else if err := d.attach(ctx, id); err != nil {
				if types.KindOf(err) == types.KindCancelled {
					return err
				}
				d.env.Console.Warningf("receipt attach: %v", err)
			}
		}

		if !d.opts.Confirm {
			d.env.Console.Infof("report %s is ready for review; submit it with: courier expenses submit --confirm --report-id %s", id, id)
			return nil
		}
		return d.submit(ctx, id)
	})
}

func job(phase string, cfg *config.ExpensesSection, opts Options, body func(ctx context.Context, d *driver) error) workflow.Job {
	j := workflow.Job{
		Workflow: Workflow,
		Phase:    phase,
		Body: func(ctx context.Context, env *workflow.Env) error {
			d := &driver{env: env, cfg: env.Config.Expenses, opts: opts.withDefaults()}
			return body(ctx, d)
		},
	}
	if cfg != nil {
		j.Budget = NewBudget(cfg.Category, cfg.MonthlyLimit)
	}
	return j
}

// driver carries one run of the expenses workflow.
type driver struct {
	env  *workflow.Env
	cfg  *config.ExpensesSection
	opts Options
}

func (d *driver) selector(key string) string {
	sel, _ := d.env.Site.Selector(key)
	return sel
}

// reportID is the report to work on: the one given, else the one the last
// create phase recorded.
func (d *driver) reportID() (string, error) {
	if d.opts.ReportID != "" {
		return d.opts.ReportID, nil
	}
	id, err := LoadReportID(d.env.FS, d.env.Path(ReportIDFile))
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", ErrNoReport
	}
	return id, nil
}

// LoadReportID reads a stored report id. A missing file or an id recorded
// as unknown yields "".
func LoadReportID(fs afero.Fs, path string) (string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	id := strings.TrimSpace(string(data))
	if id == "unknown" {
		return "", nil
	}
	return id, nil
}

// SaveReportID stores id for later phases.
func SaveReportID(fs afero.Fs, path, id string) error {
	return fileutil.WriteFileAtomic(fs, path, []byte(id+"\n"))
}

// home returns to the report list, the only entry page of the workflow.
func (d *driver) home(ctx context.Context) error {
	home := d.env.Site.HomeURL
	if !strings.HasPrefix(d.env.Page.URL(), home) {
		if err := d.env.Page.Goto(home); err != nil {
			return err
		}
		if err := d.env.Settle(ctx); err != nil {
			return err
		}
	}
	if !strings.HasPrefix(d.env.Page.URL(), home) {
		return d.env.Unexpected("expenses.home", "report-list", "report list did not load, got "+d.env.Page.URL())
	}
	return nil
}

// openReport reaches a report through its link on the report list.
func (d *driver) openReport(ctx context.Context, id string) error {
	if err := d.home(ctx); err != nil {
		return err
	}
	link, err := d.env.Site.SelectorFor("report_link", id)
	if err != nil {
		return err
	}
	if err := d.click(ctx, "open report "+id, link); err != nil {
		return d.env.Unexpected("expenses.open", "no-report-link", "report "+id+" is not on the report list")
	}
	return d.env.Settle(ctx)
}

// click clicks an element that has no remote effect, retrying while it is
// not ready.
func (d *driver) click(ctx context.Context, name, selector string) error {
	err := d.env.Do(ctx, name, true, func(ctx context.Context) error {
		return d.env.Page.Click(selector, browser.ClickOptions{})
	})
	if err != nil {
		return err
	}
	return d.env.Pacer.Breathe(ctx)
}

// commit clicks an element that changes remote state. It runs exactly once
// and waits out the postback.
func (d *driver) commit(ctx context.Context, name, selector string, opts browser.ClickOptions) error {
	err := d.env.Do(ctx, name, false, func(ctx context.Context) error {
		return d.env.Page.Click(selector, opts)
	})
	if err != nil {
		return err
	}
	return d.postback(ctx)
}

func (d *driver) postback(ctx context.Context) error {
	return d.env.SettleFor(ctx, action.PostbackSettleTimeout)
}

func (d *driver) bodyText() string {
	text, err := d.env.Page.InnerText("body")
	if err != nil {
		d.env.Console.Debugf("body text: %v", err)
	}
	return text
}
