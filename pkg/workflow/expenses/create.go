package expenses

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/ledger"
)

const reportIDScript = `(sel) => {
	const el = document.querySelector(sel);
	return el ? String(el.value || el.textContent || "").trim() : "";
}`

const setCheckedScript = `(args) => {
	const el = document.querySelector(args.selector);
	if (!el) return false;
	if (el.checked !== args.checked) el.click();
	return true;
}`

// create enters every planned expense that is not in the ledger yet and
// returns the report they went into.
func (d *driver) create(ctx context.Context) (string, error) {
	env := d.env
	if err := env.Site.Require("new_report", "report_link", "add_expense", "expense_date", "category",
		"amount", "vendor", "location", "suggestion", "save_expense"); err != nil {
		return "", err
	}

	plan := Plan(env.Now(), d.cfg.MonthsBack, d.cfg.LineItems)
	var todo []Expense
	for _, e := range plan {
		rec, ok := env.Ledger.Get(e.Key())
		switch {
		case ok && rec.Status == ledger.StatusComplete:
			env.Record(e.Key(), ledger.StatusSkipped, "", "already entered")
		case ok && rec.Status == ledger.StatusPending && rec.RunID != env.Ledger.RunID():
			// The earlier save may already have reached the report
			env.Record(e.Key(), ledger.StatusPending, "", "left pending by run "+rec.RunID+", check the report before retrying")
		default:
			todo = append(todo, e)
		}
	}
	if len(todo) == 0 {
		env.Console.Successf("all %d planned expense(s) are already handled", len(plan))
		if d.opts.ReportID != "" {
			return d.opts.ReportID, nil
		}
		return LoadReportID(env.FS, env.Path(ReportIDFile))
	}

	var id string
	total := 0
	for _, e := range todo {
		admitted, err := env.Ledger.Admit(ledger.Record{
			Key:      e.Key(),
			Amount:   e.Amount,
			Category: d.cfg.Category,
			Period:   e.Period(),
		})
		if err != nil {
			return id, err
		}
		if !admitted {
			rec, _ := env.Ledger.Get(e.Key())
			env.Record(e.Key(), ledger.StatusSkipped, "", rec.Note)
			continue
		}

		// Opened on the first admitted expense
		if id == "" {
			if id, err = d.startReport(ctx); err != nil {
				return "", err
			}
		}
		if err := d.enter(ctx, e); err != nil {
			return id, err
		}
		if err := env.Ledger.Complete(e.Key(), ""); err != nil {
			return id, err
		}
		env.Metrics.Entered(d.cfg.Category, e.Amount)
		env.Record(e.Key(), ledger.StatusComplete, "", fmt.Sprintf("$%s on %s in report %s", e.Amount.StringFixed(2), e.Date.Format(DateFormat), id))
		total++
	}

	if id == "" {
		env.Console.Warningf("no expense fit under the %s limit of $%s", d.cfg.Category, d.cfg.MonthlyLimit.StringFixed(2))
		return LoadReportID(env.FS, env.Path(ReportIDFile))
	}
	env.Console.Successf("entered %d expense(s) into report %s", total, id)
	return id, nil
}

// startReport opens the requested report or creates a new one, and
// remembers its id.
func (d *driver) startReport(ctx context.Context) (string, error) {
	env := d.env
	if d.opts.ReportID != "" {
		env.Console.Section("Report " + d.opts.ReportID)
		if err := d.openReport(ctx, d.opts.ReportID); err != nil {
			return "", err
		}
		return d.opts.ReportID, SaveReportID(env.FS, env.Path(ReportIDFile), d.opts.ReportID)
	}

	name := ReportName(env.Now(), d.cfg.MonthsBack)
	env.Console.Section("New report " + name)
	if err := d.home(ctx); err != nil {
		return "", err
	}
	if err := d.commit(ctx, "create report", d.selector("new_report"), browser.ClickOptions{}); err != nil {
		return "", err
	}

	if sel, err := env.Site.Selector("report_name"); err == nil {
		if visible, _ := env.Page.IsVisible(sel); visible {
			if err := env.Page.Fill(sel, name); err != nil {
				env.Console.Debugf("report name: %v", err)
			}
		}
	}

	id := reportIDFromURL(env.Page.URL())
	if id == "" {
		if sel, err := env.Site.Selector("report_id_field"); err == nil {
			if v, err := env.Page.Evaluate(reportIDScript, sel); err == nil {
				id, _ = v.(string)
			}
		}
	}
	if id == "" {
		return "", env.Unexpected("expenses.create", "no-report-id", "the new report shows no id")
	}
	if err := SaveReportID(env.FS, env.Path(ReportIDFile), id); err != nil {
		return "", err
	}
	env.Console.Verbosef("report id %s saved to %s", id, ReportIDFile)
	return id, nil
}

// reportIDFromURL returns the ID query parameter of a report page.
func reportIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	for k, v := range u.Query() {
		if strings.EqualFold(k, "id") && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// enter fills the expense editor in the order the form requires: the
// category postback reveals the amount field.
func (d *driver) enter(ctx context.Context, e Expense) error {
	env := d.env
	env.Console.Step(fmt.Sprintf("%s %s $%s", e.Date.Format(DateFormat), e.Description, e.Amount.StringFixed(2)))

	if err := d.click(ctx, "add expense", d.selector("add_expense")); err != nil {
		return err
	}
	if err := d.postback(ctx); err != nil {
		return err
	}

	if err := d.typeField(ctx, "expense date", d.selector("expense_date"), e.Date.Format(DateFormat)); err != nil {
		return err
	}

	category := d.selector("category")
	err := env.Do(ctx, "select category", true, func(ctx context.Context) error {
		return env.Page.SelectOption(category, d.cfg.Category)
	})
	if err != nil {
		return env.Unexpected("expenses.create", "category", fmt.Sprintf("category %q could not be selected: %v", d.cfg.Category, err))
	}
	if err := d.postback(ctx); err != nil {
		return err
	}

	if err := d.typeField(ctx, "amount", d.selector("amount"), e.Amount.StringFixed(2)); err != nil {
		return err
	}
	if err := d.autocomplete(ctx, "vendor", d.cfg.Vendor, false); err != nil {
		return err
	}
	if err := d.autocomplete(ctx, "location", d.cfg.Location, true); err != nil {
		return err
	}

	if sel, err := env.Site.Selector("reimbursable"); err == nil {
		args := map[string]interface{}{"selector": sel, "checked": d.cfg.Reimbursable}
		if _, err := env.Page.Evaluate(setCheckedScript, args); err != nil {
			env.Console.Debugf("reimbursable: %v", err)
		}
	}

	return d.commit(ctx, "save expense", d.selector("save_expense"), browser.ClickOptions{})
}

// typeField replaces a masked input's value by keyboard, which the editor's
// input widgets accept where a direct fill is ignored.
func (d *driver) typeField(ctx context.Context, name, selector, value string) error {
	env := d.env
	err := env.Do(ctx, "focus "+name, true, func(ctx context.Context) error {
		return env.Page.Click(selector, browser.ClickOptions{})
	})
	if err != nil {
		return err
	}
	if err := env.Page.PressKey("Control+a"); err != nil {
		return fmt.Errorf("failed to select %s: %w", name, err)
	}
	if err := env.Page.KeyboardType(value, env.Pacer.KeystrokeDelay()); err != nil {
		return fmt.Errorf("failed to type %s: %w", name, err)
	}
	if err := env.Page.PressKey("Tab"); err != nil {
		return fmt.Errorf("failed to leave %s: %w", name, err)
	}
	return env.Pacer.Breathe(ctx)
}

// autocomplete types value into a suggest box and picks the matching
// suggestion, or tabs out to keep the typed text when none appears.
func (d *driver) autocomplete(ctx context.Context, key, value string, force bool) error {
	if value == "" {
		return nil
	}
	env := d.env
	sel := d.selector(key)
	err := env.Do(ctx, "focus "+key, true, func(ctx context.Context) error {
		return env.Page.Click(sel, browser.ClickOptions{Force: force})
	})
	if err != nil {
		return err
	}
	if err := env.Page.Fill(sel, ""); err != nil {
		return fmt.Errorf("failed to clear %s: %w", key, err)
	}
	if err := env.Page.TypeText(sel, value, env.Pacer.KeystrokeDelay()); err != nil {
		return fmt.Errorf("failed to type %s: %w", key, err)
	}

	suggestion, err := env.Site.SelectorFor("suggestion", value)
	if err != nil {
		return err
	}
	if err := env.Page.WaitForSelector(suggestion, d.opts.SuggestTimeout); err == nil {
		if err := env.Page.Click(suggestion, browser.ClickOptions{}); err == nil {
			return env.Pacer.Breathe(ctx)
		}
	}
	env.Console.Verbosef("no %s suggestion for %q, keeping the typed value", key, value)
	if err := env.Page.PressKey("Tab"); err != nil {
		return fmt.Errorf("failed to leave %s: %w", key, err)
	}
	return env.Pacer.Breathe(ctx)
}
