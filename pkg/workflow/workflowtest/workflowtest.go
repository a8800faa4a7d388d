// Package workflowtest wires a workflow.Runner to a scripted page so
// workflow drivers can be tested end to end without a browser.
package workflowtest

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/entrhq/courier/pkg/action"
	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/browser/browsertest"
	"github.com/entrhq/courier/pkg/config"
	"github.com/entrhq/courier/pkg/credentials"
	"github.com/entrhq/courier/pkg/report"
	"github.com/entrhq/courier/pkg/sites"
	"github.com/entrhq/courier/pkg/workflow"
)

// Resolver returns fixed credentials.
type Resolver struct {
	Creds credentials.Credentials
	Err   error
}

// Resolve implements credentials.Resolver.
func (r Resolver) Resolve(ctx context.Context, name string) (credentials.Credentials, error) {
	return r.Creds, r.Err
}

// Harness is a runner attached to a scripted page.
type Harness struct {
	Site    *sites.Site
	Config  *config.Config
	Page    *browsertest.Page
	Conn    *browsertest.Connector
	Output  *bytes.Buffer
	Manager *browser.Manager
}

// New builds a harness for the built-in site name. The output directory is
// a fresh temp dir and every timing is shortened.
func New(t testing.TB, name string) *Harness {
	t.Helper()
	site, err := sites.Builtin(name)
	if err != nil {
		t.Fatalf("site: %v", err)
	}

	cfg := config.New(name)
	cfg.Session.CDPURL = browsertest.NewEndpoint(t)
	cfg.Session.OutputDir = t.TempDir()
	cfg.Session.MFATimeout = 100 * time.Millisecond
	cfg.Session.SettleTimeout = 10 * time.Millisecond
	cfg.Session.PollInterval = 5 * time.Millisecond

	page := browsertest.NewPage("about:blank")
	conn := &browsertest.Connector{Page: page}
	return &Harness{
		Site:    site,
		Config:  cfg,
		Page:    page,
		Conn:    conn,
		Output:  &bytes.Buffer{},
		Manager: browser.NewManager(conn),
	}
}

// SignedIn makes the login page redirect to the site's home page, the way a
// session that is still signed in behaves.
func (h *Harness) SignedIn() {
	home := h.Site.HomeURL
	login := h.Site.LoginURL
	prev := h.Page.OnGoto
	h.Page.OnGoto = func(p *browsertest.Page, url string) error {
		if url == login {
			p.SetURL(home)
			return nil
		}
		if prev != nil {
			return prev(p, url)
		}
		return nil
	}
}

// Runner creates a runner over the harness. opts are applied last.
func (h *Harness) Runner(opts ...workflow.Option) *workflow.Runner {
	base := []workflow.Option{
		workflow.WithFS(afero.NewOsFs()),
		workflow.WithManager(h.Manager),
		workflow.WithResolver(Resolver{Creds: credentials.Credentials{Username: "user@example.com", Secret: "hunter2"}}),
		workflow.WithConsole(report.NewConsole(report.LevelVerbose).WithWriter(h.Output)),
		workflow.WithPacer(action.NoPacing()),
		workflow.WithRetryPolicy(action.RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}),
		workflow.WithWatch(false),
	}
	return workflow.NewRunner(h.Site, h.Config, append(base, opts...)...)
}
