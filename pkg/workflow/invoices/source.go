// Package invoices downloads billing statements. Accounts are discovered on
// the overview page and each account's statement history is reached by
// clicking through from there; statements already in the ledger are never
// fetched again.
package invoices

import (
	"context"
	"fmt"
	"strings"

	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/traverse"
	"github.com/entrhq/courier/pkg/workflow"
)

// CurrentAccount is the entity used when the overview shows no account
// tiles.
const CurrentAccount = "current"

// Statement is one row of the statement history.
type Statement struct {
	// Row is the row's position on the page
	Row int

	// Text is the row's rendered text on one line
	Text string
}

// accountSource walks accounts and their statement pages.
type accountSource struct {
	env *workflow.Env
}

var _ traverse.Source[Statement] = (*accountSource)(nil)

func (s *accountSource) selector(key string) string {
	sel, _ := s.env.Site.Selector(key)
	return sel
}

// overview returns to the account overview, the only entry page of the
// billing flow.
func (s *accountSource) overview(ctx context.Context) error {
	home := s.env.Site.HomeURL
	if !strings.HasPrefix(s.env.Page.URL(), home) {
		s.env.Console.Verbosef("navigating to account overview")
		if err := s.env.Page.Goto(home); err != nil {
			return err
		}
		if err := s.env.Settle(ctx); err != nil {
			return err
		}
	}
	if !strings.HasPrefix(s.env.Page.URL(), home) {
		return s.env.Unexpected("invoices.overview", "overview", "account overview did not load, got "+s.env.Page.URL())
	}
	return nil
}

func (s *accountSource) Discover(ctx context.Context) ([]traverse.Entity, error) {
	if err := s.overview(ctx); err != nil {
		return nil, err
	}
	tiles, err := s.env.Page.AllInnerTexts(s.selector("account_tiles"))
	if err != nil {
		return nil, fmt.Errorf("failed to read account tiles: %w", err)
	}
	if len(tiles) == 0 {
		s.env.Console.Warningf("no account tiles found, using the current account only")
		return []traverse.Entity{{Key: CurrentAccount, Label: "current account"}}, nil
	}

	entities := make([]traverse.Entity, 0, len(tiles))
	for i, tile := range tiles {
		lines := nonEmptyLines(tile)
		id, kind := "unknown", "unknown"
		if len(lines) > 0 {
			id = lines[0]
		}
		if len(lines) > 1 {
			kind = lines[1]
		}
		entities = append(entities, traverse.Entity{Key: id, Label: fmt.Sprintf("%s (%s)", id, kind), Index: i})
		s.env.Console.Verbosef("found account %s (%s)", id, kind)
	}
	return entities, nil
}

func (s *accountSource) Select(ctx context.Context, ent traverse.Entity) error {
	s.env.Console.Section("Account " + ent.Label)
	if err := s.overview(ctx); err != nil {
		return err
	}

	if ent.Key != CurrentAccount {
		tile := fmt.Sprintf("%s >> nth=%d", s.selector("account_tiles"), ent.Index)
		if err := s.click(ctx, "select account "+ent.Key, tile); err != nil {
			return err
		}
	}

	billing := s.selector("billing_link")
	if visible, _ := s.env.Page.IsVisible(billing); !visible {
		billing = s.selector("billing_link_fallback")
	}
	if err := s.click(ctx, "open billing", billing); err != nil {
		return s.env.Unexpected("invoices.select", "no-billing-link", "no billing link for account "+ent.Key)
	}

	allStatements := s.selector("all_statements")
	if visible, _ := s.env.Page.IsVisible(allStatements); visible {
		if err := s.click(ctx, "see all statements", allStatements); err != nil {
			return err
		}
	} else {
		s.env.Console.Verbosef("no link to all statements, assuming the history is already shown")
	}
	return nil
}

func (s *accountSource) ExtractPage(ctx context.Context) (traverse.Page[Statement], error) {
	texts, err := s.env.Page.AllInnerTexts(s.selector("statement_rows"))
	if err != nil {
		return traverse.Page[Statement]{}, fmt.Errorf("failed to read statements: %w", err)
	}
	var page traverse.Page[Statement]
	for i, text := range texts {
		page.Items = append(page.Items, Statement{Row: i, Text: oneLine(text)})
	}
	if len(page.Items) > 0 {
		page.Fingerprint = page.Items[0].Text
	}
	page.HasNext, _ = s.env.Page.IsVisible(s.selector("next_page"))
	return page, nil
}

func (s *accountSource) Advance(ctx context.Context) error {
	return s.click(ctx, "next page", s.selector("next_page"))
}

// click clicks selector under the retry policy and lets the page settle.
func (s *accountSource) click(ctx context.Context, name, selector string) error {
	err := s.env.Do(ctx, name, true, func(ctx context.Context) error {
		return s.env.Page.Click(selector, browser.ClickOptions{})
	})
	if err != nil {
		return err
	}
	return s.env.Settle(ctx)
}

func nonEmptyLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// oneLine collapses a row's text to a single space-separated line.
func oneLine(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
