package browser

import (
	"errors"
	"sync"
	"time"
)

// Session is ownership of one live attachment to the shared browser. It has
// no close operation: the browser outlives every run, and the only way to
// give a Session up is Manager.Release, which detaches.
type Session struct {
	// Endpoint is the control endpoint the session is attached to
	Endpoint string

	// AttachedAt is the timestamp of the attach
	AttachedAt time.Time

	mu       sync.Mutex
	page     Page
	attached Attachment
	identity string
	hooks    []func() error
	released bool
}

// Page returns the page the session drives.
func (s *Session) Page() Page {
	return s.page
}

// Identity returns the authenticated identity, or "" before login completes.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// SetIdentity records the identity once authentication succeeds.
func (s *Session) SetIdentity(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = identity
}

// Authenticated reports whether an identity has been recorded.
func (s *Session) Authenticated() bool {
	return s.Identity() != ""
}

// OnRelease registers a hook run before the session detaches. Hooks run in
// reverse registration order. Registering after release is a no-op.
func (s *Session) OnRelease(hook func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.hooks = append(s.hooks, hook)
}

// Released reports whether the session has been given up.
func (s *Session) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

// release runs hooks and detaches. Second and later calls do nothing.
func (s *Session) release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	hooks := s.hooks
	s.hooks = nil
	s.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if s.attached != nil {
		if err := s.attached.Detach(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
