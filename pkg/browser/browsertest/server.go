package browsertest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/entrhq/courier/pkg/browser"
)

// NewEndpoint starts a server answering the control endpoint's version
// probe. It is closed when the test ends.
func NewEndpoint(t testing.TB) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"Browser":"Chrome/126.0.0.0","Protocol-Version":"1.3"}`))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

// Attach acquires a session on page through a fresh manager.
func Attach(t testing.TB, page *Page) (*browser.Manager, *browser.Session, *Connector) {
	t.Helper()
	conn := &Connector{Page: page}
	mgr := browser.NewManager(conn)
	sess, err := mgr.Acquire(context.Background(), NewEndpoint(t))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	return mgr, sess, conn
}
