package sites

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/entrhq/courier/pkg/browser"
)

// Landmark is a positive signal that the page is in a given state.
//
// The URL conditions gate the match: every URLContains substring must be
// present, no URLExcludes substring may be, and when URLGlobs are set at
// least one must match. Selectors and Text are alternative signals; when
// any are set at least one of them must hold. A landmark with nothing set
// never matches.
type Landmark struct {
	URLContains []string `yaml:"url_contains"`
	URLExcludes []string `yaml:"url_excludes"`
	URLGlobs    []string `yaml:"url_globs"`
	Selectors   []string `yaml:"selectors"`
	Text        []string `yaml:"text"`

	globs []glob.Glob
}

// Empty reports whether the landmark has no conditions.
func (l *Landmark) Empty() bool {
	return len(l.URLContains) == 0 && len(l.URLExcludes) == 0 && len(l.URLGlobs) == 0 &&
		len(l.Selectors) == 0 && len(l.Text) == 0
}

func (l *Landmark) compile() error {
	l.globs = l.globs[:0]
	for _, pattern := range l.URLGlobs {
		g, err := glob.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid url glob '%s': %w", pattern, err)
		}
		l.globs = append(l.globs, g)
	}
	return nil
}

// MatchURL evaluates only the URL gate.
func (l *Landmark) MatchURL(url string) bool {
	for _, s := range l.URLContains {
		if !strings.Contains(url, s) {
			return false
		}
	}
	for _, s := range l.URLExcludes {
		if strings.Contains(url, s) {
			return false
		}
	}
	if len(l.URLGlobs) > 0 {
		if len(l.globs) != len(l.URLGlobs) {
			if err := l.compile(); err != nil {
				return false
			}
		}
		for _, g := range l.globs {
			if g.Match(url) {
				return true
			}
		}
		return false
	}
	return true
}

// Match reports whether page currently shows the landmark.
func (l *Landmark) Match(page browser.Page) (bool, error) {
	if l.Empty() {
		return false, nil
	}
	if !l.MatchURL(page.URL()) {
		return false, nil
	}
	if len(l.Selectors) == 0 && len(l.Text) == 0 {
		return true, nil
	}

	for _, sel := range l.Selectors {
		visible, err := page.IsVisible(sel)
		if err != nil {
			return false, err
		}
		if visible {
			return true, nil
		}
	}

	if len(l.Text) > 0 {
		body, err := page.InnerText("body")
		if err != nil {
			// A page without a rendered body cannot show the text
			return false, nil
		}
		body = strings.ToLower(body)
		for _, t := range l.Text {
			if strings.Contains(body, strings.ToLower(t)) {
				return true, nil
			}
		}
	}
	return false, nil
}
