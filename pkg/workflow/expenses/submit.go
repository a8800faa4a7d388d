package expenses

import (
	"context"

	"github.com/entrhq/courier/pkg/action"
	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/ledger"
)

// submit sends the report for approval. The submit click is never
// repeated: a report the ledger holds as submitted, or one the page already
// shows as submitted, is recorded without clicking.
func (d *driver) submit(ctx context.Context, id string) error {
	env := d.env
	if err := env.Site.Require("report_link", "submit_report"); err != nil {
		return err
	}
	key := SubmitKey(id)
	if !env.Ledger.ShouldProduce(key) {
		env.Record(key, ledger.StatusSkipped, "", "already submitted")
		return nil
	}

	env.Console.Section("Submitting report " + id)
	if err := d.openReport(ctx, id); err != nil {
		return err
	}
	if env.Site.ContainsText("submitted", d.bodyText()) {
		if err := env.Ledger.Complete(key, ""); err != nil {
			return err
		}
		env.Record(key, ledger.StatusComplete, "", "already submitted")
		return nil
	}

	if _, err := env.Ledger.Record(ledger.Record{Key: key, Status: ledger.StatusPending, Category: CategorySubmission}); err != nil {
		return err
	}

	override, err := action.OverrideConfirm(env.Page, env.Session, env.Site.ConfirmFunctions)
	if err != nil {
		return err
	}
	err = env.Do(ctx, "submit report", false, func(ctx context.Context) error {
		return env.Page.Click(d.selector("submit_report"), browser.ClickOptions{})
	})
	if err != nil {
		return err
	}
	// A postback replaces the page context and with it the override
	if err := override.Install(); err != nil {
		env.Console.Debugf("confirm override: %v", err)
	}
	if err := d.postback(ctx); err != nil {
		return err
	}
	if err := override.Install(); err != nil {
		env.Console.Debugf("confirm override: %v", err)
	}

	if !env.Site.ContainsText("submitted", d.bodyText()) {
		return env.Unexpected("expenses.submit", "not-submitted", "report "+id+" does not show as submitted")
	}
	if err := env.Ledger.Complete(key, ""); err != nil {
		return err
	}
	env.Record(key, ledger.StatusComplete, "", "submitted for approval")
	env.Console.Successf("report %s submitted", id)
	return nil
}
