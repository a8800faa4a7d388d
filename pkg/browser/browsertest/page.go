// Package browsertest provides a scriptable in-memory browser.Page and
// Connector for exercising workflows without a browser.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/entrhq/courier/pkg/browser"
)

var (
	_ browser.Page      = (*Page)(nil)
	_ browser.Connector = (*Connector)(nil)
)

// Element is the scripted state behind one selector.
type Element struct {
	Visible bool
	Text    string

	// Texts, when set, makes the selector match len(Texts) elements in
	// that order.
	Texts []string
}

// Handler reacts to an interaction and may reshape the page.
type Handler func(p *Page) error

// Page is a fake browser.Page. Selectors are opaque keys: a selector
// matches only if it was registered verbatim.
type Page struct {
	mu sync.Mutex

	url      string
	title    string
	content  string
	elements map[string]*Element
	handlers map[string]Handler
	failures map[string][]error

	// OnGoto runs after a direct navigation updated the URL
	OnGoto func(p *Page, url string) error

	// Eval answers Evaluate; nil returns (nil, nil)
	Eval func(script string, args ...interface{}) (interface{}, error)

	// NextDownload produces the download started by ExpectDownload's trigger
	NextDownload func(p *Page) (*Download, error)

	// IdleErr is returned by every WaitForNetworkIdle call
	IdleErr error

	Gotos      []string
	Clicks     []string
	Values     map[string]string
	Keys       []string
	Selected   map[string]string
	Files      map[string][]string
	Evaluated  []string
	Shots      []string
	IdleWaits  int
	MouseMoves int
}

// NewPage creates a page showing url.
func NewPage(url string) *Page {
	return &Page{
		url:      url,
		elements: make(map[string]*Element),
		handlers: make(map[string]Handler),
		failures: make(map[string][]error),
		Values:   make(map[string]string),
		Selected: make(map[string]string),
		Files:    make(map[string][]string),
	}
}

// SetURL changes the address the page reports.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// SetTitle sets the document title.
func (p *Page) SetTitle(title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.title = title
}

// SetContent sets the serialized DOM returned by Content.
func (p *Page) SetContent(content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.content = content
}

// Show registers a visible element with the given text.
func (p *Page) Show(selector, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[selector] = &Element{Visible: true, Text: text}
}

// ShowAll registers a visible selector matching one element per text.
func (p *Page) ShowAll(selector string, texts ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[selector] = &Element{Visible: len(texts) > 0, Texts: append([]string{}, texts...)}
	for i, text := range texts {
		p.elements[fmt.Sprintf("%s >> nth=%d", selector, i)] = &Element{Visible: true, Text: text}
	}
}

// Hidden registers an element that exists but is not visible.
func (p *Page) Hidden(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[selector] = &Element{}
}

// Remove drops an element, including its indexed variants.
func (p *Page) Remove(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.elements[selector]; ok {
		for i := range el.Texts {
			delete(p.elements, fmt.Sprintf("%s >> nth=%d", selector, i))
		}
	}
	delete(p.elements, selector)
}

// On registers a handler run when selector is clicked or has an option
// selected.
func (p *Page) On(selector string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[selector] = h
}

// FailNext queues errors returned by the next interactions with selector.
func (p *Page) FailNext(selector string, errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[selector] = append(p.failures[selector], errs...)
}

// ClickCount returns how many times selector was clicked.
func (p *Page) ClickCount(selector string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.Clicks {
		if c == selector {
			n++
		}
	}
	return n
}

func (p *Page) popFailure(selector string) error {
	queue := p.failures[selector]
	if len(queue) == 0 {
		return nil
	}
	p.failures[selector] = queue[1:]
	return queue[0]
}

func notReady(action, selector string) error {
	return fmt.Errorf("%s %s: %w", action, selector, browser.ErrNotReady)
}

// runHandler invokes the handler for selector without holding the lock so
// it can reshape the page.
func (p *Page) runHandler(selector string) error {
	p.mu.Lock()
	h := p.handlers[selector]
	p.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(p)
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Title() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.title, nil
}

func (p *Page) Content() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.content != "" {
		return p.content, nil
	}
	return fmt.Sprintf("<html><head><title>%s</title></head><body></body></html>", p.title), nil
}

func (p *Page) Goto(url string) error {
	p.mu.Lock()
	p.Gotos = append(p.Gotos, url)
	p.url = url
	hook := p.OnGoto
	p.mu.Unlock()
	if hook != nil {
		return hook(p, url)
	}
	return nil
}

func (p *Page) Click(selector string, opts browser.ClickOptions) error {
	p.mu.Lock()
	if err := p.popFailure(selector); err != nil {
		p.mu.Unlock()
		return err
	}
	el, ok := p.elements[selector]
	if !ok || (!el.Visible && !opts.Force) {
		p.mu.Unlock()
		return notReady("click", selector)
	}
	p.Clicks = append(p.Clicks, selector)
	p.mu.Unlock()
	return p.runHandler(selector)
}

func (p *Page) Count(selector string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[selector]
	if !ok {
		return 0, nil
	}
	if el.Texts != nil {
		return len(el.Texts), nil
	}
	return 1, nil
}

func (p *Page) IsVisible(selector string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[selector]
	return ok && el.Visible, nil
}

func (p *Page) InnerText(selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[selector]
	if !ok {
		return "", notReady("inner text", selector)
	}
	if len(el.Texts) > 0 {
		return el.Texts[0], nil
	}
	return el.Text, nil
}

func (p *Page) AllInnerTexts(selector string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.elements[selector]
	if !ok {
		return nil, nil
	}
	if el.Texts != nil {
		return append([]string{}, el.Texts...), nil
	}
	return []string{el.Text}, nil
}

func (p *Page) input(action, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.popFailure(selector); err != nil {
		return err
	}
	if _, ok := p.elements[selector]; !ok {
		return notReady(action, selector)
	}
	p.Values[selector] += value
	return nil
}

func (p *Page) Fill(selector, value string) error {
	p.mu.Lock()
	delete(p.Values, selector)
	p.mu.Unlock()
	return p.input("fill", selector, value)
}

func (p *Page) TypeText(selector, text string, delay time.Duration) error {
	return p.input("type into", selector, text)
}

func (p *Page) PressKey(key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Keys = append(p.Keys, key)
	return nil
}

func (p *Page) KeyboardType(text string, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Keys = append(p.Keys, text)
	return nil
}

func (p *Page) SelectOption(selector, value string) error {
	p.mu.Lock()
	if err := p.popFailure(selector); err != nil {
		p.mu.Unlock()
		return err
	}
	if _, ok := p.elements[selector]; !ok {
		p.mu.Unlock()
		return notReady("select", selector)
	}
	p.Selected[selector] = value
	p.mu.Unlock()
	return p.runHandler(selector)
}

func (p *Page) SetInputFiles(selector string, files ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.elements[selector]; !ok {
		return notReady("set files on", selector)
	}
	p.Files[selector] = append([]string{}, files...)
	return nil
}

func (p *Page) WaitForSelector(selector string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.elements[selector]; ok && el.Visible {
		return nil
	}
	return notReady("wait for", selector)
}

func (p *Page) WaitForNetworkIdle(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.IdleWaits++
	return p.IdleErr
}

func (p *Page) Evaluate(script string, args ...interface{}) (interface{}, error) {
	p.mu.Lock()
	p.Evaluated = append(p.Evaluated, script)
	eval := p.Eval
	p.mu.Unlock()
	if eval == nil {
		return nil, nil
	}
	return eval(script, args...)
}

func (p *Page) ExpectDownload(trigger func() error, timeout time.Duration) (browser.Download, error) {
	if err := trigger(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	next := p.NextDownload
	p.mu.Unlock()
	if next == nil {
		return nil, fmt.Errorf("download: %w", browser.ErrNotReady)
	}
	dl, err := next(p)
	if err != nil {
		return nil, err
	}
	return dl, nil
}

func (p *Page) Screenshot(path string) error {
	p.mu.Lock()
	p.Shots = append(p.Shots, path)
	p.mu.Unlock()
	return os.WriteFile(path, []byte("png"), 0600)
}

func (p *Page) MouseMove(x, y float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.MouseMoves++
	return nil
}

// Download is a fake transfer whose body is held in memory.
type Download struct {
	Name      string
	Data      []byte
	Saved     []string
	Cancelled bool
}

func (d *Download) SuggestedFilename() string {
	return d.Name
}

func (d *Download) SaveAs(path string) error {
	d.Saved = append(d.Saved, path)
	return os.WriteFile(path, d.Data, 0600)
}

func (d *Download) Cancel() error {
	d.Cancelled = true
	return nil
}

// Connector hands out attachments to a fixed Page.
type Connector struct {
	Page *Page
	Err  error

	mu       sync.Mutex
	Attaches int
	Detaches int
}

// Connect implements browser.Connector.
func (c *Connector) Connect(ctx context.Context, endpoint string) (browser.Attachment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return nil, c.Err
	}
	c.Attaches++
	return &attachment{c: c}, nil
}

type attachment struct {
	c *Connector
}

func (a *attachment) Page() browser.Page {
	return a.c.Page
}

func (a *attachment) Detach() error {
	a.c.mu.Lock()
	defer a.c.mu.Unlock()
	a.c.Detaches++
	return nil
}
