package auth

import (
	"context"
	"time"

	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/handoff"
	"github.com/entrhq/courier/pkg/sites"
	"github.com/entrhq/courier/pkg/types"
)

// landing is the recognized kind of page a submission led to.
type landing int

const (
	landingNone landing = iota
	landingAuthenticated
	landingChallenge
	landingRateLimited
	landingBlocked
	landingLocked
)

func (l landing) terminal() bool {
	return l == landingRateLimited || l == landingBlocked || l == landingLocked
}

// classify checks landmarks in priority order. Refusals come first: an
// error page may still live under a signed-in URL.
func (m *Machine) classify(page browser.Page) (landing, error) {
	lm := m.site.Landmarks
	checks := []struct {
		mark *sites.Landmark
		kind landing
	}{
		{&lm.RateLimited, landingRateLimited},
		{&lm.Blocked, landingBlocked},
		{&lm.Locked, landingLocked},
		{&lm.Authenticated, landingAuthenticated},
		{&lm.Challenge, landingChallenge},
	}
	for _, c := range checks {
		ok, err := c.mark.Match(page)
		if err != nil {
			return landingNone, err
		}
		if ok {
			return c.kind, nil
		}
	}
	return landingNone, nil
}

// await polls the landmarks until one matches or ConfirmTimeout elapses.
// Only a positive landmark counts; an unrecognized page is landingNone.
func (m *Machine) await(ctx context.Context, page browser.Page) (landing, error) {
	deadline := time.NewTimer(m.opts.ConfirmTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(m.opts.LandmarkPoll)
	defer ticker.Stop()

	for {
		l, err := m.classify(page)
		if err != nil || l != landingNone {
			return l, err
		}
		select {
		case <-ctx.Done():
			return landingNone, types.Wrap(types.KindCancelled, "auth.await", ctx.Err())
		case <-deadline.C:
			return m.classify(page)
		case <-ticker.C:
		}
	}
}

func (m *Machine) failLanding(page browser.Page, l landing) error {
	op := "auth." + m.state.String()
	var (
		status handoff.Status
		err    *types.Error
	)
	switch l {
	case landingRateLimited:
		status = handoff.StatusErrorRateLimited
		err = types.NewError(types.KindRateLimited, op, m.site.Title+" reports too many attempts")
	case landingBlocked:
		status = handoff.StatusErrorBlocked
		err = types.NewError(types.KindBlocked, op, m.site.Title+" refused the session as automated")
	case landingLocked:
		status = handoff.StatusErrorLocked
		err = types.NewError(types.KindAccountLocked, op, m.site.Title+" reports the account is locked")
	default:
		return m.unexpected(page, handoff.StatusErrorUnexpectedPage, "unrecognized", "unrecognized page")
	}
	return m.fail(status, err.WithSnapshot(m.snap.Capture(page, m.site.Name+"-"+string(status))))
}
