package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/types"
)

var debugLog = logging.NewLogger("browser")

// Attachment is a live driver connection to an already-running browser.
type Attachment interface {
	// Page returns the page to drive: the first page of the first context.
	Page() Page

	// Detach drops the driver connection. It must leave pages, contexts and
	// the browser process untouched.
	Detach() error
}

// Connector attaches to a browser over its control endpoint.
type Connector interface {
	Connect(ctx context.Context, endpoint string) (Attachment, error)
}

// Manager owns the attach/detach lifecycle. It never launches or terminates
// a browser.
type Manager struct {
	mu           sync.Mutex
	connector    Connector
	client       *http.Client
	probeTimeout time.Duration
	active       *Session
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithProbeTimeout bounds the endpoint reachability probe.
func WithProbeTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// WithHTTPClient replaces the client used for the probe.
func WithHTTPClient(c *http.Client) ManagerOption {
	return func(m *Manager) {
		m.client = c
	}
}

// NewManager creates a manager that attaches through connector.
func NewManager(connector Connector, opts ...ManagerOption) *Manager {
	m := &Manager{
		connector:    connector,
		client:       &http.Client{},
		probeTimeout: DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire probes the endpoint and attaches to the browser behind it. An
// unreachable endpoint fails fast with ConnectionUnavailable; nothing is
// launched as a fallback.
func (m *Manager) Acquire(ctx context.Context, endpoint string) (*Session, error) {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	endpoint = strings.TrimRight(endpoint, "/")

	if err := m.probe(ctx, endpoint); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && !m.active.Released() {
		return nil, fmt.Errorf("session already attached to %s", m.active.Endpoint)
	}

	att, err := m.connector.Connect(ctx, endpoint)
	if err != nil {
		return nil, types.Wrap(types.KindConnectionUnavailable, "browser.attach", err)
	}

	session := &Session{
		Endpoint:   endpoint,
		AttachedAt: time.Now(),
		page:       att.Page(),
		attached:   att,
	}
	m.active = session
	debugLog.Infof("attached to %s", endpoint)
	return session, nil
}

// Release detaches from the browser, running the session's release hooks
// first. It never closes the page, the context or the browser, and is safe
// to call any number of times.
func (m *Manager) Release(s *Session) error {
	if s == nil {
		return nil
	}
	already := s.Released()
	err := s.release()

	m.mu.Lock()
	if m.active == s {
		m.active = nil
	}
	m.mu.Unlock()

	if !already {
		if err != nil {
			debugLog.Warnf("released %s with errors: %v", s.Endpoint, err)
		} else {
			debugLog.Infof("released %s", s.Endpoint)
		}
	}
	return err
}

// probe checks that something answers on the endpoint's version route.
func (m *Manager) probe(ctx context.Context, endpoint string) error {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/json/version", nil)
	if err != nil {
		return types.Wrap(types.KindConnectionUnavailable, "browser.probe", err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return types.NewError(types.KindConnectionUnavailable, "browser.probe",
			fmt.Sprintf("no browser answering at %s", endpoint)).WithDetail("cause", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.NewError(types.KindConnectionUnavailable, "browser.probe",
			fmt.Sprintf("%s/json/version returned %d", endpoint, resp.StatusCode))
	}
	return nil
}
