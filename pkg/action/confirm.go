package action

import (
	"fmt"
	"sync"

	"github.com/entrhq/courier/pkg/browser"
)

const installConfirmScript = `(names) => {
	const saved = (window.__courierConfirm = window.__courierConfirm || {});
	for (const n of names) {
		if (!(n in saved)) saved[n] = window[n];
		window[n] = function () { return true; };
	}
	return names.length;
}`

const restoreConfirmScript = `(names) => {
	const saved = window.__courierConfirm || {};
	for (const n of names) {
		if (!(n in saved)) continue;
		if (saved[n] === undefined) { delete window[n]; } else { window[n] = saved[n]; }
		delete saved[n];
	}
	return true;
}`

// ReleaseRegistrar accepts cleanup hooks that run when a session is given
// up. *browser.Session satisfies it.
type ReleaseRegistrar interface {
	OnRelease(func() error)
}

// ConfirmOverride replaces named window confirmation functions with ones
// that always accept, for the current page context only.
type ConfirmOverride struct {
	page  browser.Page
	names []string

	mu       sync.Mutex
	restored bool
}

// OverrideConfirm installs the override and registers its removal with reg,
// so the shared browser is never left auto-confirming after the run.
func OverrideConfirm(page browser.Page, reg ReleaseRegistrar, names []string) (*ConfirmOverride, error) {
	o := &ConfirmOverride{page: page, names: append([]string(nil), names...)}
	if len(o.names) == 0 {
		return o, nil
	}
	if err := o.Install(); err != nil {
		return nil, err
	}
	reg.OnRelease(o.Restore)
	return o, nil
}

// Install (re)applies the override. A postback replaces the page context,
// so call it again after one. Originals are saved only the first time.
func (o *ConfirmOverride) Install() error {
	if len(o.names) == 0 {
		return nil
	}
	if _, err := o.page.Evaluate(installConfirmScript, o.names); err != nil {
		return fmt.Errorf("failed to override %v: %w", o.names, err)
	}
	o.mu.Lock()
	o.restored = false
	o.mu.Unlock()
	debugLog.Debugf("confirm override installed for %v", o.names)
	return nil
}

// Restore puts the original functions back. Safe to call more than once.
func (o *ConfirmOverride) Restore() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.restored || len(o.names) == 0 {
		return nil
	}
	if _, err := o.page.Evaluate(restoreConfirmScript, o.names); err != nil {
		return fmt.Errorf("failed to restore %v: %w", o.names, err)
	}
	o.restored = true
	debugLog.Debugf("confirm override removed for %v", o.names)
	return nil
}
