package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightConnector attaches to a running Chromium over CDP using the
// playwright driver. The driver is started per attach and stopped on detach.
type PlaywrightConnector struct {
	// Install downloads the driver if it is missing. Browsers are never
	// installed: the browser is always the externally supervised one.
	Install bool

	// Timeout bounds the CDP handshake
	Timeout time.Duration
}

// Connect implements Connector.
func (c *PlaywrightConnector) Connect(ctx context.Context, endpoint string) (Attachment, error) {
	// Driver output would interleave with the console reporter
	opts := &playwright.RunOptions{
		Verbose:             false,
		Stdout:              io.Discard,
		Stderr:              io.Discard,
		SkipInstallBrowsers: true,
	}

	if c.Install {
		if err := playwright.Install(opts); err != nil {
			return nil, fmt.Errorf("failed to install playwright driver: %w", err)
		}
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultWaitTimeout
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}

	b, err := pw.Chromium.ConnectOverCDP(endpoint, playwright.BrowserTypeConnectOverCDPOptions{
		Timeout: playwright.Float(millis(timeout)),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to connect over CDP: %w", err)
	}

	var bctx playwright.BrowserContext
	if contexts := b.Contexts(); len(contexts) > 0 {
		bctx = contexts[0]
	} else {
		bctx, err = b.NewContext()
		if err != nil {
			_ = pw.Stop()
			return nil, fmt.Errorf("failed to create context: %w", err)
		}
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else {
		page, err = bctx.NewPage()
		if err != nil {
			_ = pw.Stop()
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
	}

	return &playwrightAttachment{pw: pw, page: &playwrightPage{page: page}}, nil
}

type playwrightAttachment struct {
	pw   *playwright.Playwright
	page *playwrightPage
	once sync.Once
}

func (a *playwrightAttachment) Page() Page {
	return a.page
}

// Detach stops the driver. The browser, its contexts and the page are left
// exactly as they are.
func (a *playwrightAttachment) Detach() error {
	var err error
	a.once.Do(func() {
		if stopErr := a.pw.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop playwright: %w", stopErr)
		}
	})
	return err
}

// playwrightPage adapts a playwright page to Page.
type playwrightPage struct {
	page playwright.Page
}

func (p *playwrightPage) first(selector string) playwright.Locator {
	return p.page.Locator(selector).First()
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Title() (string, error) {
	title, err := p.page.Title()
	return title, translate(err)
}

func (p *playwrightPage) Content() (string, error) {
	content, err := p.page.Content()
	return content, translate(err)
}

func (p *playwrightPage) Goto(url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		return fmt.Errorf("navigation failed: %w", translate(err))
	}
	return nil
}

func (p *playwrightPage) Click(selector string, opts ClickOptions) error {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultActionTimeout
	}
	err := p.first(selector).Click(playwright.LocatorClickOptions{
		Force:   playwright.Bool(opts.Force),
		Timeout: playwright.Float(millis(timeout)),
	})
	if err != nil {
		return fmt.Errorf("click %s: %w", selector, translate(err))
	}
	return nil
}

func (p *playwrightPage) Count(selector string) (int, error) {
	n, err := p.page.Locator(selector).Count()
	return n, translate(err)
}

func (p *playwrightPage) IsVisible(selector string) (bool, error) {
	visible, err := p.first(selector).IsVisible()
	return visible, translate(err)
}

func (p *playwrightPage) InnerText(selector string) (string, error) {
	text, err := p.first(selector).InnerText(playwright.LocatorInnerTextOptions{
		Timeout: playwright.Float(millis(DefaultActionTimeout)),
	})
	if err != nil {
		return "", fmt.Errorf("inner text %s: %w", selector, translate(err))
	}
	return text, nil
}

func (p *playwrightPage) AllInnerTexts(selector string) ([]string, error) {
	texts, err := p.page.Locator(selector).AllInnerTexts()
	return texts, translate(err)
}

func (p *playwrightPage) Fill(selector, value string) error {
	err := p.first(selector).Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(millis(DefaultActionTimeout)),
	})
	if err != nil {
		return fmt.Errorf("fill %s: %w", selector, translate(err))
	}
	return nil
}

func (p *playwrightPage) TypeText(selector, text string, delay time.Duration) error {
	err := p.first(selector).PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
		Delay:   playwright.Float(millis(delay)),
		Timeout: playwright.Float(millis(DefaultActionTimeout)),
	})
	if err != nil {
		return fmt.Errorf("type into %s: %w", selector, translate(err))
	}
	return nil
}

func (p *playwrightPage) PressKey(key string) error {
	return translate(p.page.Keyboard().Press(key))
}

func (p *playwrightPage) KeyboardType(text string, delay time.Duration) error {
	return translate(p.page.Keyboard().Type(text, playwright.KeyboardTypeOptions{
		Delay: playwright.Float(millis(delay)),
	}))
}

func (p *playwrightPage) SelectOption(selector, value string) error {
	loc := p.first(selector)
	if _, err := loc.SelectOption(playwright.SelectOptionValues{Values: &[]string{value}}); err == nil {
		return nil
	}
	if _, err := loc.SelectOption(playwright.SelectOptionValues{Labels: &[]string{value}}); err != nil {
		return fmt.Errorf("select %q in %s: %w", value, selector, translate(err))
	}
	return nil
}

func (p *playwrightPage) SetInputFiles(selector string, files ...string) error {
	if err := p.first(selector).SetInputFiles(files); err != nil {
		return fmt.Errorf("set files on %s: %w", selector, translate(err))
	}
	return nil
}

func (p *playwrightPage) WaitForSelector(selector string, timeout time.Duration) error {
	err := p.first(selector).WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(millis(timeout)),
	})
	if err != nil {
		return fmt.Errorf("wait for %s: %w", selector, translate(err))
	}
	return nil
}

func (p *playwrightPage) WaitForNetworkIdle(timeout time.Duration) error {
	return translate(p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(millis(timeout)),
	}))
}

func (p *playwrightPage) Evaluate(script string, args ...interface{}) (interface{}, error) {
	result, err := p.page.Evaluate(script, args...)
	return result, translate(err)
}

func (p *playwrightPage) ExpectDownload(trigger func() error, timeout time.Duration) (Download, error) {
	dl, err := p.page.ExpectDownload(trigger, playwright.PageExpectDownloadOptions{
		Timeout: playwright.Float(millis(timeout)),
	})
	if err != nil {
		return nil, fmt.Errorf("download: %w", translate(err))
	}
	return dl, nil
}

func (p *playwrightPage) Screenshot(path string) error {
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(true),
	})
	return translate(err)
}

func (p *playwrightPage) MouseMove(x, y float64) error {
	return translate(p.page.Mouse().Move(x, y))
}

// translate folds playwright's transient failures into ErrNotReady so retry
// policies can recognize them without importing playwright.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "not attached to the DOM") ||
		strings.Contains(msg, "Element is not visible") ||
		strings.Contains(msg, "Execution context was destroyed") {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return err
}

func millis(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}
