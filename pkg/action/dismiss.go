package action

import (
	"context"
	"time"

	"github.com/entrhq/courier/pkg/browser"
)

// Dismisser clears promotional overlays, cookie banners and similar modals
// that sit on top of the elements a workflow needs.
type Dismisser struct {
	Selectors []string
	Pacer     *Pacer
}

// Dismiss clicks every visible obstruction with forced interaction and
// returns how many it clicked. Per-selector failures are swallowed; an
// overlay that cannot be closed will surface as a failure of the next real
// action instead.
func (d *Dismisser) Dismiss(ctx context.Context, page browser.Page) int {
	clicked := 0
	for _, sel := range d.Selectors {
		if ctx.Err() != nil {
			return clicked
		}
		visible, err := page.IsVisible(sel)
		if err != nil || !visible {
			continue
		}
		if err := page.Click(sel, browser.ClickOptions{Force: true, Timeout: 2 * time.Second}); err != nil {
			debugLog.Debugf("dismiss %s: %v", sel, err)
			continue
		}
		clicked++
		debugLog.Debugf("dismissed %s", sel)
		if d.Pacer != nil {
			_ = d.Pacer.Wait(ctx, Range{Min: 400 * time.Millisecond, Max: 600 * time.Millisecond})
		}
	}
	return clicked
}
