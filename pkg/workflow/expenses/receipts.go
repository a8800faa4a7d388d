package expenses

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/ledger"
	"github.com/entrhq/courier/pkg/traverse"
)

// revealScript makes a hidden upload button clickable.
const revealScript = `(sel) => {
	const el = document.querySelector(sel);
	if (!el) return false;
	el.style.display = "inline-block";
	el.style.visibility = "visible";
	el.style.opacity = "1";
	return true;
}`

const submitFormScript = `() => { document.forms[0].submit(); return true; }`

var errWalletEmpty = errors.New("the wallet has no receipt to attach")

// ExpandReceipts resolves paths and glob patterns to regular files, sorted
// and without duplicates.
func ExpandReceipts(fs afero.Fs, patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := afero.Glob(fs, pattern)
		if err != nil {
			return nil, fmt.Errorf("bad receipt pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := fs.Stat(m)
			if err != nil || !info.Mode().IsRegular() || seen[m] {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Digest returns the hex SHA-256 of a file's content.
func Digest(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// upload adds every receipt not uploaded before to the wallet.
func (d *driver) upload(ctx context.Context) error {
	env := d.env
	if err := env.Site.Require("wallet_link", "receipt_file", "upload_button"); err != nil {
		return err
	}
	files, err := ExpandReceipts(env.FS, d.opts.Receipts)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("%w matching %v", ErrNoReceipts, d.opts.Receipts)
	}
	env.Console.Section(fmt.Sprintf("Uploading %d receipt(s)", len(files)))

	opened := false
	for _, file := range files {
		digest, err := Digest(env.FS, file)
		if err != nil {
			return fmt.Errorf("failed to read receipt %s: %w", file, err)
		}
		key := ReceiptKey(digest)
		if !env.Ledger.ShouldProduce(key) {
			env.Record(key, ledger.StatusSkipped, file, "already uploaded")
			continue
		}

		if !opened {
			if err := d.openWallet(ctx); err != nil {
				return err
			}
			opened = true
		}
		if _, err := env.Ledger.Record(ledger.Record{Key: key, Status: ledger.StatusPending, Category: CategoryReceipt, Artifact: file}); err != nil {
			return err
		}
		if err := d.uploadOne(ctx, file); err != nil {
			return err
		}
		if err := env.Ledger.Complete(key, file); err != nil {
			return err
		}
		env.Record(key, ledger.StatusComplete, file, filepath.Base(file))
	}
	return nil
}

func (d *driver) openWallet(ctx context.Context) error {
	if err := d.home(ctx); err != nil {
		return err
	}
	if err := d.click(ctx, "open wallet", d.selector("wallet_link")); err != nil {
		return d.env.Unexpected("expenses.upload", "no-wallet-link", "the report list has no link to the receipt wallet")
	}
	return d.env.Settle(ctx)
}

func (d *driver) uploadOne(ctx context.Context, file string) error {
	env := d.env
	env.Console.Step("uploading " + filepath.Base(file))

	input := d.selector("receipt_file")
	err := env.Do(ctx, "choose "+filepath.Base(file), true, func(ctx context.Context) error {
		return env.Page.SetInputFiles(input, file)
	})
	if err != nil {
		return err
	}

	button := d.selector("upload_button")
	if _, err := env.Page.Evaluate(revealScript, button); err != nil {
		env.Console.Debugf("reveal upload button: %v", err)
	}
	err = env.Do(ctx, "upload "+filepath.Base(file), false, func(ctx context.Context) error {
		return env.Page.Click(button, browser.ClickOptions{Force: true})
	})
	if err != nil {
		env.Console.Verbosef("upload button: %v, submitting the form instead", err)
		if _, ferr := env.Page.Evaluate(submitFormScript); ferr != nil {
			return fmt.Errorf("failed to upload %s: %w", filepath.Base(file), errors.Join(err, ferr))
		}
	}
	return d.postback(ctx)
}

// expenseRow is one row of a report's expense table.
type expenseRow struct {
	Row  int
	Text string
}

// reportRows walks the expense rows of a single report.
type reportRows struct {
	d  *driver
	id string
}

var _ traverse.Source[expenseRow] = (*reportRows)(nil)

func (s *reportRows) Discover(ctx context.Context) ([]traverse.Entity, error) {
	return []traverse.Entity{{Key: s.id, Label: "report " + s.id}}, nil
}

func (s *reportRows) Select(ctx context.Context, ent traverse.Entity) error {
	s.d.env.Console.Section("Attaching receipts to report " + ent.Key)
	return s.d.openReport(ctx, ent.Key)
}

func (s *reportRows) ExtractPage(ctx context.Context) (traverse.Page[expenseRow], error) {
	texts, err := s.d.env.Page.AllInnerTexts(s.d.selector("expense_rows"))
	if err != nil {
		return traverse.Page[expenseRow]{}, fmt.Errorf("failed to read expense rows: %w", err)
	}
	var page traverse.Page[expenseRow]
	for i, text := range texts {
		page.Items = append(page.Items, expenseRow{Row: i, Text: oneLine(text)})
	}
	if len(page.Items) > 0 {
		page.Fingerprint = page.Items[0].Text
	}
	page.HasNext, _ = s.d.env.Page.IsVisible(s.d.selector("next_page"))
	return page, nil
}

func (s *reportRows) Advance(ctx context.Context) error {
	if err := s.d.click(ctx, "next page", s.d.selector("next_page")); err != nil {
		return err
	}
	return s.d.env.Settle(ctx)
}

// attach gives every expense of the report that shows no receipt the first
// receipt in the wallet.
func (d *driver) attach(ctx context.Context, id string) error {
	env := d.env
	if err := env.Site.Require("report_link", "expense_rows", "edit_expense", "select_receipt", "wallet_item",
		"use_receipt", "save_expense", "next_page"); err != nil {
		return err
	}

	engine := traverse.New[expenseRow](&reportRows{d: d, id: id})
	attached := 0
	for item, err := range engine.Walk(ctx) {
		if err != nil {
			return err
		}
		if item.Index == 0 {
			env.Metrics.Page()
		}
		row := item.Value
		if !env.Site.ContainsText("no_receipt", row.Text) {
			continue
		}
		key := AttachKey(id, row.Text)
		if !env.Ledger.ShouldProduce(key) {
			env.Record(key, ledger.StatusSkipped, "", "already attached")
			continue
		}

		err := d.attachOne(ctx, key, row)
		if errors.Is(err, errWalletEmpty) {
			if _, rerr := env.Ledger.Record(ledger.Record{Key: key, Status: ledger.StatusSkipped, Category: CategoryAttachment, Note: err.Error()}); rerr != nil {
				return rerr
			}
			env.Record(key, ledger.StatusSkipped, "", err.Error())
			env.Console.Warningf("%v; upload receipts first", err)
			break
		}
		if err != nil {
			return err
		}
		attached++
	}
	env.Console.Successf("attached %d receipt(s) to report %s", attached, id)
	return nil
}

func (d *driver) attachOne(ctx context.Context, key string, row expenseRow) error {
	env := d.env
	env.Console.Step(row.Text)
	if _, err := env.Ledger.Record(ledger.Record{Key: key, Status: ledger.StatusPending, Category: CategoryAttachment}); err != nil {
		return err
	}

	edit := fmt.Sprintf("%s >> nth=%d >> %s", d.selector("expense_rows"), row.Row, d.selector("edit_expense"))
	if err := d.click(ctx, "edit expense", edit); err != nil {
		return err
	}
	if err := d.postback(ctx); err != nil {
		return err
	}
	if err := d.click(ctx, "select receipt", d.selector("select_receipt")); err != nil {
		return err
	}
	if err := env.Settle(ctx); err != nil {
		return err
	}

	if visible, _ := env.Page.IsVisible(d.selector("wallet_item")); !visible {
		return errWalletEmpty
	}
	if err := d.click(ctx, "pick receipt", d.selector("wallet_item")); err != nil {
		return err
	}
	if err := d.click(ctx, "use receipt", d.selector("use_receipt")); err != nil {
		return err
	}
	if err := d.postback(ctx); err != nil {
		return err
	}
	if err := d.commit(ctx, "save expense", d.selector("save_expense"), browser.ClickOptions{}); err != nil {
		return err
	}

	if err := env.Ledger.Complete(key, ""); err != nil {
		return err
	}
	env.Record(key, ledger.StatusComplete, "", "receipt attached")
	return nil
}
