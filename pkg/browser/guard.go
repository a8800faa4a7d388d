package browser

import (
	"fmt"

	"github.com/entrhq/courier/pkg/types"
	"github.com/gobwas/glob"
)

// Guard decides which URLs may be reached by direct navigation. Protected
// patterns cover pages the target only serves correctly when reached
// through in-page links; entry patterns are always allowed and win over a
// protected match.
type Guard struct {
	entryPatterns     []glob.Glob
	protectedPatterns []glob.Glob
}

// NewGuard compiles the entry and protected URL globs.
func NewGuard(entry, protected []string) (*Guard, error) {
	g := &Guard{}

	for _, pattern := range entry {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid entry pattern '%s': %w", pattern, err)
		}
		g.entryPatterns = append(g.entryPatterns, compiled)
	}

	for _, pattern := range protected {
		compiled, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid protected pattern '%s': %w", pattern, err)
		}
		g.protectedPatterns = append(g.protectedPatterns, compiled)
	}

	return g, nil
}

// Allows reports whether url may be navigated to directly.
func (g *Guard) Allows(url string) bool {
	for _, p := range g.entryPatterns {
		if p.Match(url) {
			return true
		}
	}
	for _, p := range g.protectedPatterns {
		if p.Match(url) {
			return false
		}
	}
	return true
}

// Wrap returns a Page whose Goto refuses protected URLs.
func (g *Guard) Wrap(p Page) Page {
	return &guardedPage{Page: p, guard: g}
}

type guardedPage struct {
	Page
	guard *Guard
}

func (p *guardedPage) Goto(url string) error {
	if !p.guard.Allows(url) {
		debugLog.Warnf("refused direct navigation to protected page %s", url)
		return types.NewError(types.KindUnexpectedUIState, "browser.goto",
			fmt.Sprintf("direct navigation to %s is not allowed; reach it through the page", url))
	}
	return p.Page.Goto(url)
}
