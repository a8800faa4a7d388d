package invoices

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/entrhq/courier/pkg/archive"
	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/ledger"
	"github.com/entrhq/courier/pkg/traverse"
	"github.com/entrhq/courier/pkg/workflow"
)

const (
	// Workflow is the workflow name used in reports and metrics
	Workflow = "invoices"

	// Category tags statement records in the ledger
	Category = "statement"

	// PDFDir is where statements are saved inside the output directory
	PDFDir = "pdfs"

	// DefaultDownloadTimeout bounds the wait for a statement download
	DefaultDownloadTimeout = 20 * time.Second
)

// Options configure a download run.
type Options struct {
	// OnlyNew also skips statements whose file is already on disk
	OnlyNew bool

	// Archiver receives a copy of every validated statement
	Archiver archive.Archiver

	DownloadTimeout time.Duration

	// MaxPages, when positive, bounds the statement pages walked per
	// account
	MaxPages int

	// Validate checks a saved file and returns its page count
	Validate func(path string) (int, error)
}

// LoginJob signs in and does nothing else.
func LoginJob() workflow.Job {
	return workflow.Job{Workflow: Workflow, Phase: "login"}
}

// DownloadJob fetches every statement of every account that the ledger does
// not hold yet.
func DownloadJob(opts Options) workflow.Job {
	if opts.Archiver == nil {
		opts.Archiver = archive.Nop{}
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = DefaultDownloadTimeout
	}
	if opts.Validate == nil {
		opts.Validate = ValidatePDF
	}
	return workflow.Job{
		Workflow: Workflow,
		Phase:    "download",
		Body: func(ctx context.Context, env *workflow.Env) error {
			d := &downloader{env: env, opts: opts}
			return d.run(ctx)
		},
	}
}

type downloader struct {
	env  *workflow.Env
	opts Options

	// fresh is set until a row of the current page has been expanded; only
	// then may an open menu belong to the page's first row
	fresh bool
}

func (d *downloader) run(ctx context.Context) error {
	if err := d.env.Site.Require("account_tiles", "billing_link", "billing_link_fallback", "all_statements",
		"statement_rows", "download_menu", "regular_pdf", "next_page"); err != nil {
		return err
	}
	if err := os.MkdirAll(d.env.Path(PDFDir), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", PDFDir, err)
	}

	engine := traverse.New[Statement](&accountSource{env: d.env}, traverse.WithMaxPages(d.opts.MaxPages))
	for item, err := range engine.Walk(ctx) {
		if err != nil {
			return err
		}
		if item.Index == 0 {
			d.fresh = true
			d.env.Metrics.Page()
			d.env.Console.Step(fmt.Sprintf("%s: statements page %d", item.Entity.Key, item.Page+1))
		}
		if err := d.fetch(ctx, item.Entity, item.Value); err != nil {
			return err
		}
	}

	state := engine.State()
	d.env.Console.Successf("walked %d account(s), %d page(s)", len(state.Entities()), state.PageCount())
	return nil
}

// Key is the ledger key of a statement row.
func Key(account, rowText string) string {
	return account + "|" + oneLine(rowText)
}

func (d *downloader) fetch(ctx context.Context, account traverse.Entity, st Statement) (err error) {
	env := d.env
	key := Key(account.Key, st.Text)
	if !env.Ledger.ShouldProduce(key) {
		env.Record(key, ledger.StatusSkipped, "", "already downloaded")
		return nil
	}
	if _, err := env.Ledger.Record(ledger.Record{Key: key, Status: ledger.StatusPending, Category: Category}); err != nil {
		return err
	}

	rows, _ := env.Site.Selector("statement_rows")
	row := fmt.Sprintf("%s >> nth=%d", rows, st.Row)
	menu, _ := env.Site.Selector("download_menu")
	regular, _ := env.Site.Selector("regular_pdf")

	if err := d.expand(ctx, st, rows, menu); err != nil {
		return err
	}
	defer func() {
		if cerr := d.collapse(ctx, row, menu); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if open, _ := env.Page.IsVisible(menu); !open {
		return d.skip(key, "no PDF download offered")
	}
	if err := d.click(ctx, "open download menu", menu); err != nil {
		return err
	}
	if visible, _ := env.Page.IsVisible(regular); !visible {
		return d.skip(key, "no regular PDF option")
	}

	var dl browser.Download
	err = env.Do(ctx, "download "+st.Text, true, func(ctx context.Context) error {
		var err error
		dl, err = env.Page.ExpectDownload(func() error {
			return env.Page.Click(regular, browser.ClickOptions{})
		}, d.opts.DownloadTimeout)
		return err
	})
	if err != nil {
		return err
	}

	name := fileName(dl.SuggestedFilename(), key)
	target := env.Path(PDFDir, name)
	if d.opts.OnlyNew {
		if _, err := os.Stat(target); err == nil {
			_ = dl.Cancel()
			if err := env.Ledger.Complete(key, target); err != nil {
				return err
			}
			env.Record(key, ledger.StatusComplete, target, "already on disk")
			return nil
		}
	}

	if err := dl.SaveAs(target); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	pages, err := d.opts.Validate(target)
	if err != nil {
		_ = os.Remove(target)
		return d.skip(key, err.Error())
	}
	if info, err := os.Stat(target); err == nil {
		env.Metrics.Downloaded(info.Size())
	}

	note := fmt.Sprintf("%d page(s)", pages)
	uri, err := d.opts.Archiver.Archive(ctx, target, path.Join(archiveDir(account.Key), name))
	switch {
	case err != nil:
		env.Console.Warningf("archive %s: %v", name, err)
		note += ", not archived"
	case uri != "":
		note += ", archived to " + uri
	}

	if err := env.Ledger.Complete(key, target); err != nil {
		return err
	}
	env.Record(key, ledger.StatusComplete, target, note)
	return nil
}

// skip leaves the statement for a later run.
func (d *downloader) skip(key, note string) error {
	if _, err := d.env.Ledger.Record(ledger.Record{Key: key, Status: ledger.StatusSkipped, Category: Category, Note: note}); err != nil {
		return err
	}
	d.env.Record(key, ledger.StatusSkipped, "", note)
	return nil
}

func (d *downloader) click(ctx context.Context, name, selector string) error {
	err := d.env.Do(ctx, name, true, func(ctx context.Context) error {
		return d.env.Page.Click(selector, browser.ClickOptions{})
	})
	if err != nil {
		return err
	}
	return d.env.Pacer.Breathe(ctx)
}

// expand opens the statement's row. The download menu is not scoped to a
// row, so an open menu is only accepted as this row's when the row is the
// first of a page nothing was expanded on yet. A menu left open by the
// first row while earlier rows were skipped is folded away first.
func (d *downloader) expand(ctx context.Context, st Statement, rows, menu string) error {
	fresh := d.fresh
	d.fresh = false

	open, _ := d.env.Page.IsVisible(menu)
	switch {
	case open && fresh && st.Row == 0:
		return nil
	case open && fresh:
		if err := d.collapse(ctx, rows+" >> nth=0", menu); err != nil {
			return err
		}
	case open:
		return d.env.Unexpected("invoices.expand", "menu-open",
			fmt.Sprintf("a download menu is already open before expanding %q", st.Text))
	}
	return d.click(ctx, "expand "+st.Text, fmt.Sprintf("%s >> nth=%d", rows, st.Row))
}

// collapse folds the row back and checks that no download menu is left
// open for the next row to pick up.
func (d *downloader) collapse(ctx context.Context, row, menu string) error {
	if err := d.env.Page.Click(row, browser.ClickOptions{}); err != nil {
		d.env.Console.Debugf("collapse: %v", err)
	} else {
		_ = d.env.Pacer.Breathe(ctx)
	}
	if open, _ := d.env.Page.IsVisible(menu); open {
		return d.env.Unexpected("invoices.collapse", "menu-open", "the download menu stayed open after folding "+row)
	}
	return nil
}

// fileName keeps the suggested name but never lets it leave the PDF
// directory.
func fileName(suggested, key string) string {
	name := filepath.Base(strings.TrimSpace(suggested))
	if name == "." || name == "/" || name == "" {
		name = sanitize(key) + ".pdf"
	}
	return name
}

func archiveDir(account string) string {
	return sanitize(account)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, s)
}
