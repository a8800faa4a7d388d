package expenses

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/courier/pkg/browser/browsertest"
	"github.com/entrhq/courier/pkg/config"
	"github.com/entrhq/courier/pkg/ledger"
	"github.com/entrhq/courier/pkg/report"
	"github.com/entrhq/courier/pkg/types"
	"github.com/entrhq/courier/pkg/workflow"
	"github.com/entrhq/courier/pkg/workflow/workflowtest"
)

var march10 = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

// reportSite scripts the report list, the expense editor, the receipt
// wallet and a report view.
type reportSite struct {
	h  *workflowtest.Harness
	mu sync.Mutex

	newID     string
	rows      []string
	wallet    bool
	submitted bool
	sticks    bool // whether clicking submit changes the status

	editing bool
	saves   int
}

func newReportSite(t *testing.T) *reportSite {
	h := workflowtest.New(t, "certify")
	s := &reportSite{h: h, newID: "4711", wallet: true, sticks: true}
	h.Page.OnGoto = func(p *browsertest.Page, url string) error {
		if url == h.Site.HomeURL {
			s.list()
		}
		return nil
	}
	h.SignedIn()
	s.list()
	s.install()
	return s
}

func (s *reportSite) sel(key string) string {
	sel, err := s.h.Site.Selector(key)
	if err != nil {
		panic(err)
	}
	return sel
}

func (s *reportSite) link(id string) string {
	sel, err := s.h.Site.SelectorFor("report_link", id)
	if err != nil {
		panic(err)
	}
	return sel
}

func (s *reportSite) edit(row int) string {
	return fmt.Sprintf("%s >> nth=%d >> %s", s.sel("expense_rows"), row, s.sel("edit_expense"))
}

func (s *reportSite) runner(opts ...workflow.Option) *workflow.Runner {
	return s.h.Runner(append([]workflow.Option{workflow.WithClock(func() time.Time { return march10 })}, opts...)...)
}

func (s *reportSite) run(t *testing.T, job workflow.Job) (*report.Summary, error) {
	t.Helper()
	return s.runner().Run(context.Background(), job)
}

func (s *reportSite) list() {
	p := s.h.Page
	p.SetURL(s.h.Site.HomeURL)
	for _, key := range []string{"add_expense", "expense_date", "category", "amount", "vendor", "location",
		"save_expense", "receipt_file", "upload_button", "expense_rows", "select_receipt", "wallet_item",
		"use_receipt", "submit_report", "report_name"} {
		p.Remove(s.sel(key))
	}
	p.Remove("body")
	p.Show(s.sel("new_report"), "New Expense Report")
	p.Show(s.sel("wallet_link"), "Wallet")
	for _, id := range []string{"4711", "9000"} {
		p.Show(s.link(id), "Report "+id)
	}
}

func (s *reportSite) editor() {
	p := s.h.Page
	for _, key := range []string{"expense_date", "category", "vendor", "location", "save_expense"} {
		p.Show(s.sel(key), "")
	}
}

func (s *reportSite) reportView(id string) {
	p := s.h.Page
	p.SetURL("https://expense.certify.com/ExpRptView.aspx?ID=" + id)
	p.Remove(s.sel("new_report"))
	p.Show(s.sel("add_expense"), "Add Expense")
	s.mu.Lock()
	rows := append([]string{}, s.rows...)
	submitted := s.submitted
	s.mu.Unlock()
	if len(rows) > 0 {
		p.ShowAll(s.sel("expense_rows"), rows...)
	}
	status := "Status: Open"
	if submitted {
		status = "Status: Pending Approval"
	}
	p.Show("body", status)
	p.Show(s.sel("submit_report"), "Submit")
}

func (s *reportSite) install() {
	p := s.h.Page
	p.On(s.sel("new_report"), func(p *browsertest.Page) error {
		s.reportView(s.newID)
		p.Show(s.sel("report_name"), "")
		return nil
	})
	for _, id := range []string{"4711", "9000"} {
		id := id
		p.On(s.link(id), func(p *browsertest.Page) error {
			s.reportView(id)
			return nil
		})
	}
	p.On(s.sel("add_expense"), func(p *browsertest.Page) error {
		s.editor()
		return nil
	})
	p.On(s.sel("category"), func(p *browsertest.Page) error {
		p.Show(s.sel("amount"), "")
		return nil
	})
	p.On(s.sel("save_expense"), func(p *browsertest.Page) error {
		s.mu.Lock()
		s.saves++
		for i, row := range s.rows {
			if !s.editing {
				break
			}
			s.rows[i] = strings.Replace(row, "No Receipt", "Receipt", 1)
			if s.rows[i] != row {
				break
			}
		}
		s.editing = false
		s.mu.Unlock()
		for _, key := range []string{"expense_date", "category", "amount", "vendor", "location", "save_expense",
			"select_receipt", "wallet_item", "use_receipt"} {
			p.Remove(s.sel(key))
		}
		p.Remove(s.sel("expense_rows"))
		s.reportView(s.newID)
		return nil
	})
	p.On(s.sel("wallet_link"), func(p *browsertest.Page) error {
		p.SetURL("https://expense.certify.com/AddReceipts.aspx")
		p.Show(s.sel("receipt_file"), "")
		p.Hidden(s.sel("upload_button"))
		return nil
	})
	for i := 0; i < 4; i++ {
		p.On(s.edit(i), func(p *browsertest.Page) error {
			s.mu.Lock()
			s.editing = true
			s.mu.Unlock()
			p.Show(s.sel("select_receipt"), "Select Receipt")
			p.Show(s.sel("save_expense"), "Save")
			return nil
		})
	}
	p.On(s.sel("select_receipt"), func(p *browsertest.Page) error {
		if s.wallet {
			p.Show(s.sel("wallet_item"), "receipt.pdf")
		}
		return nil
	})
	p.On(s.sel("wallet_item"), func(p *browsertest.Page) error {
		p.Show(s.sel("use_receipt"), "Select")
		return nil
	})
	p.On(s.sel("submit_report"), func(p *browsertest.Page) error {
		if s.sticks {
			s.mu.Lock()
			s.submitted = true
			s.mu.Unlock()
			p.Show("body", "Status: Pending Approval")
		}
		return nil
	})
}

// setRows makes every row of the report carry an edit link.
func (s *reportSite) setRows(rows ...string) {
	s.rows = rows
	for i := range rows {
		s.h.Page.Show(s.edit(i), "Edit")
	}
}

func budgetConfig(cfg *config.ExpensesSection) {
	cfg.MonthlyLimit = decimal.RequireFromString("120.00")
	cfg.LineItems = []config.LineItem{
		{Description: "Cellphone", Amount: decimal.RequireFromString("100.00")},
		{Description: "Internet", Amount: decimal.RequireFromString("20.00")},
		{Description: "Misc", Amount: decimal.RequireFromString("0.01")},
	}
	cfg.MonthsBack = 2
}

func TestCreate_BudgetAndIdempotence(t *testing.T) {
	s := newReportSite(t)
	cfg := s.h.Config.Expenses
	budgetConfig(cfg)

	summary, err := s.run(t, CreateJob(cfg, Options{}))
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Counts.Complete)
	assert.Equal(t, 2, summary.Counts.Skipped, "the 0.01 item exceeds the limit in both months")
	assert.Equal(t, 4, s.saves)
	assert.Equal(t, 1, s.h.Page.ClickCount(s.sel("new_report")))

	for _, it := range summary.Items {
		if strings.Contains(it.Key, "Misc") {
			assert.Equal(t, ledger.StatusSkipped, it.Status)
			assert.Contains(t, it.Note, "exceeds")
		}
	}
	assert.Equal(t, "expense|2026-02|Cellphone", summary.Items[0].Key)

	keys := strings.Join(s.h.Page.Keys, " ")
	assert.Contains(t, keys, "Control+a 2/5/2026 Tab")
	assert.Contains(t, keys, "Control+a 100.00 Tab")
	assert.Contains(t, keys, "1/17/2026")
	assert.Equal(t, "Cellphone & Internet", s.h.Page.Selected[s.sel("category")])
	assert.Equal(t, "Expenses - 1/1/2026 - 3/10/2026", s.h.Page.Values[s.sel("report_name")])

	id, err := LoadReportID(afero.NewOsFs(), filepath.Join(s.h.Config.Session.OutputDir, ReportIDFile))
	require.NoError(t, err)
	assert.Equal(t, "4711", id)

	// A second run enters nothing and opens no report
	summary, err = s.run(t, CreateJob(cfg, Options{}))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Counts.Complete)
	assert.Equal(t, 4, s.saves)
	assert.Equal(t, 1, s.h.Page.ClickCount(s.sel("new_report")))
}

func TestCreate_Autocomplete(t *testing.T) {
	s := newReportSite(t)
	cfg := s.h.Config.Expenses
	cfg.MonthsBack = 1
	cfg.LineItems = []config.LineItem{{Description: "Internet", Amount: decimal.RequireFromString("20.00")}}
	cfg.Vendor = "AT&T"
	cfg.Location = "Austin"

	suggestion, err := s.h.Site.SelectorFor("suggestion", "AT&T")
	require.NoError(t, err)
	s.h.Page.Show(suggestion, "AT&T Wireless")

	_, err = s.run(t, CreateJob(cfg, Options{SuggestTimeout: time.Millisecond}))
	require.NoError(t, err)

	assert.Equal(t, "AT&T", s.h.Page.Values[s.sel("vendor")])
	assert.Equal(t, "Austin", s.h.Page.Values[s.sel("location")])
	assert.Equal(t, 1, s.h.Page.ClickCount(suggestion))
	assert.Contains(t, s.h.Output.String(), `no location suggestion for "Austin"`)
}

func TestCreate_PendingFromEarlierRunIsLeftAlone(t *testing.T) {
	s := newReportSite(t)
	cfg := s.h.Config.Expenses
	budgetConfig(cfg)

	store := ledger.NewFileStore(afero.NewOsFs(), filepath.Join(s.h.Config.Session.OutputDir, ledger.FileName))
	require.NoError(t, store.Save([]ledger.Record{{
		Key:      ExpenseKey("2026-02", "Cellphone"),
		Status:   ledger.StatusPending,
		Amount:   decimal.RequireFromString("100.00"),
		Category: cfg.Category,
		Period:   "2026-02",
		RunID:    "01JOLDRUN",
	}}))

	summary, err := s.run(t, CreateJob(cfg, Options{}))
	require.NoError(t, err)
	assert.Equal(t, 3, s.saves)
	assert.Equal(t, ledger.StatusPending, summary.Items[0].Status)
	assert.Contains(t, summary.Items[0].Note, "01JOLDRUN")
}

func TestCreate_IntoExistingReport(t *testing.T) {
	s := newReportSite(t)
	s.newID = "9000"
	cfg := s.h.Config.Expenses
	cfg.MonthsBack = 1

	summary, err := s.run(t, CreateJob(cfg, Options{ReportID: "9000"}))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Counts.Complete)
	assert.Zero(t, s.h.Page.ClickCount(s.sel("new_report")))
	assert.Equal(t, 1, s.h.Page.ClickCount(s.link("9000")))
}

func TestCreate_NoReportIDIsUnexpected(t *testing.T) {
	s := newReportSite(t)
	s.h.Page.On(s.sel("new_report"), func(p *browsertest.Page) error {
		p.SetURL("https://expense.certify.com/ExpRptView.aspx")
		p.Show(s.sel("add_expense"), "Add Expense")
		return nil
	})

	_, err := s.run(t, CreateJob(s.h.Config.Expenses, Options{}))
	assert.Equal(t, types.KindUnexpectedUIState, types.KindOf(err))
	assert.Zero(t, s.saves)
}

func writeReceipt(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestUpload_DeduplicatesByContent(t *testing.T) {
	s := newReportSite(t)
	dir := t.TempDir()
	writeReceipt(t, dir, "jan.pdf", "january bill")
	writeReceipt(t, dir, "feb.pdf", "february bill")
	writeReceipt(t, dir, "feb-copy.pdf", "february bill")

	summary, err := s.run(t, UploadJob(Options{Receipts: []string{filepath.Join(dir, "*.pdf")}}))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Counts.Complete)
	assert.Equal(t, 2, s.h.Page.ClickCount(s.sel("upload_button")))
	assert.Equal(t, []string{filepath.Join(dir, "jan.pdf")}, s.h.Page.Files[s.sel("receipt_file")])
	assert.Contains(t, s.h.Page.Evaluated, revealScript)

	var skipped []string
	for _, it := range summary.Items {
		if it.Status == ledger.StatusSkipped {
			skipped = append(skipped, it.Note)
		}
	}
	assert.Equal(t, []string{"already uploaded"}, skipped)

	// Nothing left to upload: the wallet is not even opened
	_, err = s.run(t, UploadJob(Options{Receipts: []string{filepath.Join(dir, "*.pdf")}}))
	require.NoError(t, err)
	assert.Equal(t, 1, s.h.Page.ClickCount(s.sel("wallet_link")))
}

func TestUpload_FallsBackToFormSubmit(t *testing.T) {
	s := newReportSite(t)
	dir := t.TempDir()
	file := writeReceipt(t, dir, "jan.pdf", "january bill")
	s.h.Page.FailNext(s.sel("upload_button"), errors.New("element is outside of the viewport"))

	summary, err := s.run(t, UploadJob(Options{Receipts: []string{file}}))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts.Complete)
	assert.Contains(t, s.h.Page.Evaluated, submitFormScript)
}

func TestUpload_NoFiles(t *testing.T) {
	s := newReportSite(t)
	_, err := s.run(t, UploadJob(Options{Receipts: []string{filepath.Join(t.TempDir(), "*.pdf")}}))
	assert.ErrorIs(t, err, ErrNoReceipts)
	assert.Zero(t, s.h.Page.ClickCount(s.sel("wallet_link")))
}

func TestAttach(t *testing.T) {
	s := newReportSite(t)
	s.setRows(
		"2/5/2026 Cellphone $100.00 No Receipt",
		"2/17/2026 Internet $20.00 Receipt",
		"1/5/2026 Cellphone $100.00 No Receipt",
	)
	require.NoError(t, SaveReportID(afero.NewOsFs(), filepath.Join(s.h.Config.Session.OutputDir, ReportIDFile), "4711"))

	summary, err := s.run(t, AttachJob(Options{}))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Counts.Complete)
	assert.Equal(t, 1, s.h.Page.ClickCount(s.edit(0)))
	assert.Zero(t, s.h.Page.ClickCount(s.edit(1)))
	assert.Equal(t, 1, s.h.Page.ClickCount(s.edit(2)))
	assert.Equal(t, AttachKey("4711", "2/5/2026 Cellphone $100.00 No Receipt"), summary.Items[0].Key)

	// Every row has a receipt now
	summary, err = s.run(t, AttachJob(Options{}))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Counts.Complete)
	assert.Equal(t, 2, s.saves)
}

func TestAttach_EmptyWallet(t *testing.T) {
	s := newReportSite(t)
	s.wallet = false
	s.setRows("2/5/2026 Cellphone $100.00 No Receipt", "1/5/2026 Cellphone $100.00 No Receipt")

	summary, err := s.run(t, AttachJob(Options{ReportID: "4711"}))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts.Skipped)
	assert.Zero(t, s.saves)
	assert.Contains(t, s.h.Output.String(), "upload receipts first")
}

func TestAttach_NoReport(t *testing.T) {
	s := newReportSite(t)
	_, err := s.run(t, AttachJob(Options{}))
	assert.ErrorIs(t, err, ErrNoReport)
}

func TestSubmit(t *testing.T) {
	s := newReportSite(t)

	_, err := s.run(t, SubmitJob(Options{ReportID: "4711"}))
	assert.ErrorIs(t, err, ErrNotConfirmed)
	assert.Zero(t, s.h.Page.ClickCount(s.sel("submit_report")))

	summary, err := s.run(t, SubmitJob(Options{ReportID: "4711", Confirm: true}))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts.Complete)
	assert.Equal(t, 1, s.h.Page.ClickCount(s.sel("submit_report")))

	var installs, restores int
	for _, script := range s.h.Page.Evaluated {
		switch {
		case strings.Contains(script, "function () { return true; }"):
			installs++
		case strings.Contains(script, "delete window[n]"):
			restores++
		}
	}
	assert.Equal(t, 3, installs, "installed before the click and again after the postback")
	assert.Equal(t, 1, restores, "removed when the session is released")

	// The ledger remembers the submission
	summary, err = s.run(t, SubmitJob(Options{ReportID: "4711", Confirm: true}))
	require.NoError(t, err)
	assert.Equal(t, "already submitted", summary.Items[0].Note)
	assert.Equal(t, 1, s.h.Page.ClickCount(s.sel("submit_report")))
}

func TestSubmit_AlreadySubmittedOnPage(t *testing.T) {
	s := newReportSite(t)
	s.submitted = true

	summary, err := s.run(t, SubmitJob(Options{ReportID: "4711", Confirm: true}))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts.Complete)
	assert.Zero(t, s.h.Page.ClickCount(s.sel("submit_report")))
}

func TestSubmit_NotConfirmedByPageIsNeverRetried(t *testing.T) {
	s := newReportSite(t)
	s.sticks = false

	_, err := s.run(t, SubmitJob(Options{ReportID: "4711", Confirm: true}))
	assert.Equal(t, types.KindUnexpectedUIState, types.KindOf(err))
	assert.Equal(t, 1, s.h.Page.ClickCount(s.sel("submit_report")))

	store := ledger.NewFileStore(afero.NewOsFs(), filepath.Join(s.h.Config.Session.OutputDir, ledger.FileName))
	records, err := store.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, ledger.StatusPending, records[0].Status)
}

func TestFull(t *testing.T) {
	s := newReportSite(t)
	cfg := s.h.Config.Expenses
	cfg.MonthsBack = 1
	dir := t.TempDir()
	receipt := writeReceipt(t, dir, "feb.pdf", "february bill")
	s.setRows("2/5/2026 Cellphone $100.00 No Receipt", "2/17/2026 Internet $20.00 No Receipt")

	// Without confirmation the report is left for review
	summary, err := s.run(t, FullJob(cfg, Options{Receipts: []string{receipt}}))
	require.NoError(t, err)
	assert.Equal(t, 2+1+2, summary.Counts.Complete, "expenses, receipt, attachments")
	assert.Zero(t, s.h.Page.ClickCount(s.sel("submit_report")))
	assert.Contains(t, s.h.Output.String(), "courier expenses submit --confirm --report-id 4711")

	summary, err = s.run(t, FullJob(cfg, Options{Confirm: true}))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Counts.Complete)
	assert.Equal(t, 1, s.h.Page.ClickCount(s.sel("submit_report")))
	assert.Equal(t, 1, s.h.Page.ClickCount(s.sel("new_report")))
}

func TestFull_ReceiptFailureOnlyWarns(t *testing.T) {
	s := newReportSite(t)
	cfg := s.h.Config.Expenses
	cfg.MonthsBack = 1

	summary, err := s.run(t, FullJob(cfg, Options{Receipts: []string{filepath.Join(t.TempDir(), "none-*.pdf")}}))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Counts.Complete)
	assert.Contains(t, s.h.Output.String(), "receipt upload")
}

func TestPlan(t *testing.T) {
	items := config.DefaultLineItems()
	plan := Plan(march10, 2, items)
	require.Len(t, plan, 4)

	var got []string
	for _, e := range plan {
		got = append(got, e.Date.Format(DateFormat)+" "+e.Key())
	}
	assert.Equal(t, []string{
		"2/5/2026 expense|2026-02|Cellphone",
		"2/17/2026 expense|2026-02|Internet",
		"1/5/2026 expense|2026-01|Cellphone",
		"1/17/2026 expense|2026-01|Internet",
	}, got)

	// Across a year boundary
	plan = Plan(time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), 1, items)
	assert.Equal(t, "2025-12", plan[0].Period())
}

func TestExpenseDay(t *testing.T) {
	tests := []struct {
		description string
		want        int
	}{
		{"Cellphone", 5},
		{"Home phone", 5},
		{"Internet", 17},
		{"Parking", 15},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpenseDay(tt.description))
		})
	}
}

func TestReportIDFromURL(t *testing.T) {
	assert.Equal(t, "4711", reportIDFromURL("https://expense.certify.com/ExpRptView.aspx?ID=4711"))
	assert.Equal(t, "12", reportIDFromURL("https://expense.certify.com/ExpRptView.aspx?tab=1&id=12"))
	assert.Equal(t, "", reportIDFromURL("https://expense.certify.com/ExpRptView.aspx"))
}

func TestReportIDStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	id, err := LoadReportID(fs, "/out/last_report_id.txt")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, afero.WriteFile(fs, "/out/last_report_id.txt", []byte("unknown"), 0o644))
	id, err = LoadReportID(fs, "/out/last_report_id.txt")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, SaveReportID(fs, "/out/last_report_id.txt", "4711"))
	id, err = LoadReportID(fs, "/out/last_report_id.txt")
	require.NoError(t, err)
	assert.Equal(t, "4711", id)
}

func TestExpandReceipts(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/r/b.pdf", []byte("b"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/r/a.pdf", []byte("a"), 0o644))
	require.NoError(t, fs.MkdirAll("/r/dir.pdf", 0o755))

	files, err := ExpandReceipts(fs, []string{"/r/*.pdf", "/r/a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/r/a.pdf", "/r/b.pdf"}, files)

	a, err := Digest(fs, "/r/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "ca978112ca1bbdcafac231b39a23dc4da786eff8147c4e72b9807785afee48bb", a)
}
