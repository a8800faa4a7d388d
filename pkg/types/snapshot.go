package types

import "time"

// Snapshot captures what the page looked like when a structural assumption
// failed. It is surfaced verbatim in reports.
type Snapshot struct {
	Label          string    `json:"label"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	TextExcerpt    string    `json:"text_excerpt"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}
