package action

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/types"
)

// DefaultExcerptLength caps the visible text kept in a snapshot.
const DefaultExcerptLength = 2000

var unsafeLabel = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Snapshotter records what the page showed when something went wrong.
type Snapshotter struct {
	// Dir receives screenshots; empty disables them
	Dir string

	// MaxText caps the text excerpt
	MaxText int

	now func() time.Time
}

// NewSnapshotter creates a snapshotter writing screenshots under dir.
func NewSnapshotter(dir string) *Snapshotter {
	return &Snapshotter{Dir: dir, MaxText: DefaultExcerptLength, now: time.Now}
}

// Capture takes a best-effort snapshot. Individual capture failures leave
// the matching field empty.
func (s *Snapshotter) Capture(page browser.Page, label string) *types.Snapshot {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	snap := &types.Snapshot{
		Label:      label,
		URL:        page.URL(),
		CapturedAt: now(),
	}

	if title, err := page.Title(); err == nil {
		snap.Title = title
	}

	if content, err := page.Content(); err == nil {
		title, text := s.excerpt(content)
		if snap.Title == "" {
			snap.Title = title
		}
		snap.TextExcerpt = text
	}

	if s.Dir != "" {
		name := fmt.Sprintf("%s-%s.png", snap.CapturedAt.Format("20060102-150405"), unsafeLabel.ReplaceAllString(label, "_"))
		path := filepath.Join(s.Dir, name)
		if err := os.MkdirAll(s.Dir, 0o755); err != nil {
			debugLog.Warnf("snapshot dir %s: %v", s.Dir, err)
		} else if err := page.Screenshot(path); err != nil {
			debugLog.Warnf("screenshot %s: %v", label, err)
		} else {
			snap.ScreenshotPath = path
		}
	}

	debugLog.Infof("snapshot %s at %s (%q)", label, snap.URL, snap.Title)
	return snap
}

func (s *Snapshotter) excerpt(content string) (title, text string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", ""
	}
	title = strings.TrimSpace(doc.Find("title").First().Text())

	max := s.MaxText
	if max <= 0 {
		max = DefaultExcerptLength
	}
	body := doc.Find("body")
	if body.Length() == 0 {
		return title, ""
	}
	text, _ = browser.VisibleText(body.Nodes[0], max)
	return title, text
}

// Unexpected builds an UnexpectedUiState error carrying a fresh snapshot.
func (s *Snapshotter) Unexpected(page browser.Page, op, label, message string) *types.Error {
	return types.NewError(types.KindUnexpectedUIState, op, message).WithSnapshot(s.Capture(page, label))
}
