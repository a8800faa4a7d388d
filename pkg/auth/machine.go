// Package auth drives the login flow against a target site: credentials, an
// optional one-time-code challenge supplied by a human through the handoff
// files, and positive confirmation that the session is signed in.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/courier/pkg/action"
	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/credentials"
	"github.com/entrhq/courier/pkg/handoff"
	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/sites"
	"github.com/entrhq/courier/pkg/types"
)

var debugLog = logging.NewLogger("auth")

// Defaults
const (
	DefaultChallengeTimeout = 300 * time.Second
	DefaultConfirmTimeout   = 30 * time.Second
	DefaultLandmarkPoll     = time.Second
	passwordFieldTimeout    = 20 * time.Second
)

// Options configure one login.
type Options struct {
	// CredentialName is the secret store entry, e.g. "att/login"
	CredentialName string

	// Hint selects the code delivery destination by label
	Hint string

	ChallengeTimeout time.Duration

	// SkipChallenge fails with ChallengeRequired instead of asking for a code
	SkipChallenge bool

	SettleTimeout time.Duration

	// ConfirmTimeout bounds the wait for a recognizable page after each
	// submission
	ConfirmTimeout time.Duration

	// LandmarkPoll is the interval between landmark checks
	LandmarkPoll time.Duration
}

func (o *Options) setDefaults() {
	if o.ChallengeTimeout <= 0 {
		o.ChallengeTimeout = DefaultChallengeTimeout
	}
	if o.SettleTimeout <= 0 {
		o.SettleTimeout = action.DefaultSettleTimeout
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = DefaultConfirmTimeout
	}
	if o.LandmarkPoll <= 0 {
		o.LandmarkPoll = DefaultLandmarkPoll
	}
}

// Option customizes a Machine.
type Option func(*Machine)

// WithPacer sets the interaction pacer.
func WithPacer(p *action.Pacer) Option {
	return func(m *Machine) {
		m.pacer = p
	}
}

// WithSnapshotter sets where diagnostics go.
func WithSnapshotter(s *action.Snapshotter) Option {
	return func(m *Machine) {
		m.snap = s
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// Machine is a single-use login state machine.
type Machine struct {
	site     *sites.Site
	resolver credentials.Resolver
	channel  *handoff.Channel
	opts     Options

	pacer *action.Pacer
	snap  *action.Snapshotter
	now   func() time.Time

	state     State
	history   []State
	challenge *Challenge
	err       error
}

// New creates a machine in the Unauthenticated state.
func New(site *sites.Site, resolver credentials.Resolver, channel *handoff.Channel, opts Options, options ...Option) *Machine {
	opts.setDefaults()
	m := &Machine{
		site:     site,
		resolver: resolver,
		channel:  channel,
		opts:     opts,
		pacer:    action.NewPacer(),
		snap:     action.NewSnapshotter(""),
		now:      time.Now,
		state:    Unauthenticated,
		history:  []State{Unauthenticated},
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// History returns every state entered, in order.
func (m *Machine) History() []State {
	return append([]State(nil), m.history...)
}

// Challenge returns the issued challenge, or nil.
func (m *Machine) Challenge() *Challenge {
	return m.challenge
}

// Err returns the failure that ended the machine, if any.
func (m *Machine) Err() error {
	return m.err
}

func (m *Machine) transition(to State) error {
	if !CanTransition(m.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, m.state, to)
	}
	debugLog.Debugf("%s: %s -> %s", m.site.Name, m.state, to)
	m.state = to
	m.history = append(m.history, to)
	return nil
}

func (m *Machine) notify(status handoff.Status, detail string) {
	if err := m.channel.Notify(status, detail); err != nil {
		debugLog.Warnf("status %s not written: %v", status, err)
	}
}

// fail moves to Failed and reports err. Failed is never retried in the same
// run.
func (m *Machine) fail(status handoff.Status, err error) error {
	m.notify(status, err.Error())
	if m.state != Failed {
		if terr := m.transition(Failed); terr != nil {
			return terr
		}
	}
	m.err = err
	debugLog.Errorf("%s login failed: %v", m.site.Name, err)
	return err
}

func (m *Machine) unexpected(page browser.Page, status handoff.Status, label, message string) error {
	return m.fail(status, m.snap.Unexpected(page, "auth."+m.state.String(), m.site.Name+"-"+label, message))
}

// Authenticate runs the flow on sess. On success the session carries the
// authenticated identity. The session is never released here.
func (m *Machine) Authenticate(ctx context.Context, sess *browser.Session) error {
	if m.state != Unauthenticated {
		return fmt.Errorf("%w: authenticate from %s", ErrIllegalTransition, m.state)
	}
	page := sess.Page()

	creds, err := m.resolver.Resolve(ctx, m.opts.CredentialName)
	if err != nil {
		return m.fail(handoff.StatusErrorLoginFailed, fmt.Errorf("failed to resolve credentials: %w", err))
	}

	// A code left from an earlier run must not be replayed
	if err := m.channel.ClearCode(); err != nil {
		return m.fail(handoff.StatusErrorLoginFailed, err)
	}

	m.notify(handoff.StatusNavigatingToLogin, m.site.LoginURL)
	if err := page.Goto(m.site.LoginURL); err != nil {
		return m.fail(handoff.StatusErrorUnexpectedPage, types.Wrap(types.KindUnexpectedUIState, "auth.navigate", err))
	}
	if err := m.settle(ctx, page); err != nil {
		return m.fail(handoff.StatusErrorLoginFailed, err)
	}

	landing, err := m.classify(page)
	if err != nil {
		return m.fail(handoff.StatusErrorLoginFailed, err)
	}
	switch {
	case landing.terminal():
		return m.failLanding(page, landing)
	case landing == landingAuthenticated:
		m.notify(handoff.StatusAlreadyLoggedIn, page.URL())
		return m.succeed(sess, creds)
	}

	if err := m.submitCredentials(ctx, page, creds); err != nil {
		return err
	}

	landing, err = m.await(ctx, page)
	if err != nil {
		return m.fail(handoff.StatusErrorLoginFailed, err)
	}
	switch landing {
	case landingAuthenticated:
		return m.succeed(sess, creds)
	case landingChallenge:
	case landingNone:
		return m.unexpected(page, handoff.StatusErrorUnexpectedPage, "after-sign-in", "no known page after sign-in")
	default:
		return m.failLanding(page, landing)
	}

	if m.opts.SkipChallenge {
		return m.fail(handoff.StatusMFARequiredSkipped,
			types.NewError(types.KindChallengeRequired, "auth.challenge", "a one-time code is required and MFA is skipped"))
	}

	if err := m.issueChallenge(ctx, page); err != nil {
		return err
	}
	if err := m.resolveChallenge(ctx); err != nil {
		return err
	}
	if err := m.submitCode(ctx, page); err != nil {
		return err
	}

	landing, err = m.await(ctx, page)
	if err != nil {
		return m.fail(handoff.StatusErrorLoginFailed, err)
	}
	switch landing {
	case landingAuthenticated:
		return m.succeed(sess, creds)
	case landingNone, landingChallenge:
		return m.unexpected(page, handoff.StatusErrorLoginFailed, "after-code", "code submitted but the signed-in page never appeared")
	default:
		return m.failLanding(page, landing)
	}
}

func (m *Machine) succeed(sess *browser.Session, creds credentials.Credentials) error {
	if err := m.transition(Authenticated); err != nil {
		return err
	}
	identity := creds.Username
	if identity == "" {
		identity = m.site.Name
	}
	sess.SetIdentity(identity)
	m.notify(handoff.StatusLoggedIn, sess.Page().URL())
	debugLog.Infof("%s signed in at %s", m.site.Name, sess.Page().URL())
	return nil
}

func (m *Machine) settle(ctx context.Context, page browser.Page) error {
	if err := action.Settle(ctx, page, m.opts.SettleTimeout); err != nil {
		return err
	}
	d := &action.Dismisser{Selectors: m.site.Obstructions, Pacer: m.pacer}
	d.Dismiss(ctx, page)
	return nil
}

func (m *Machine) submitCredentials(ctx context.Context, page browser.Page, creds credentials.Credentials) error {
	if err := m.pacer.Wiggle(ctx, page, 3); err != nil {
		return m.fail(handoff.StatusErrorLoginFailed, err)
	}

	login := m.site.Login
	userVisible := false
	if login.Username != "" {
		userVisible, _ = page.IsVisible(login.Username)
	}
	passVisible, _ := page.IsVisible(login.Password)

	switch {
	case userVisible:
		m.notify(handoff.StatusEnteringUsername, "")
		if err := m.typeInto(ctx, page, login.Username, creds.Username); err != nil {
			return m.fail(handoff.StatusErrorLoginFailed, err)
		}
		if !passVisible {
			if sel, ok := firstVisible(page, login.UsernameNext); ok {
				if err := page.Click(sel, browser.ClickOptions{}); err != nil {
					return m.fail(handoff.StatusErrorLoginFailed, fmt.Errorf("failed to submit username: %w", err))
				}
				m.notify(handoff.StatusUsernameSubmitted, "")
				if err := m.settle(ctx, page); err != nil {
					return m.fail(handoff.StatusErrorLoginFailed, err)
				}
			}
		}
	case passVisible:
		m.notify(handoff.StatusUsernamePrefilled, "")
	}

	if err := page.WaitForSelector(login.Password, passwordFieldTimeout); err != nil {
		return m.unexpected(page, handoff.StatusErrorUnexpectedPage, "no-password", "password field never appeared")
	}

	m.notify(handoff.StatusEnteringPassword, "")
	if err := m.typeInto(ctx, page, login.Password, creds.Secret); err != nil {
		return m.fail(handoff.StatusErrorLoginFailed, err)
	}

	sel, ok := firstVisible(page, login.Submit)
	if !ok {
		return m.unexpected(page, handoff.StatusErrorUnexpectedPage, "no-sign-in", "no visible sign-in button")
	}
	if err := page.Click(sel, browser.ClickOptions{}); err != nil {
		return m.fail(handoff.StatusErrorLoginFailed, fmt.Errorf("failed to click sign in: %w", err))
	}
	m.notify(handoff.StatusSignInClicked, "")

	if err := m.transition(CredentialsSubmitted); err != nil {
		return err
	}
	if err := m.settle(ctx, page); err != nil {
		return m.fail(handoff.StatusErrorLoginFailed, err)
	}
	return nil
}

// typeInto focuses a field and types text with per-key delay, pausing
// before and after.
func (m *Machine) typeInto(ctx context.Context, page browser.Page, sel, text string) error {
	if err := page.Click(sel, browser.ClickOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to focus %s: %w", sel, err)
	}
	if err := m.pacer.Breathe(ctx); err != nil {
		return err
	}
	if err := page.TypeText(sel, text, m.pacer.KeystrokeDelay()); err != nil {
		return fmt.Errorf("failed to type into %s: %w", sel, err)
	}
	return m.pacer.Breathe(ctx)
}

func (m *Machine) issueChallenge(ctx context.Context, page browser.Page) error {
	m.notify(handoff.StatusMFAPage, page.URL())
	ch := m.site.Challenge

	var dest string
	switch {
	case m.opts.Hint != "":
		dest = m.site.DestinationSelector(m.opts.Hint)
	case ch.FirstDestination != "":
		dest = ch.FirstDestination
	}
	if dest != "" {
		if visible, _ := page.IsVisible(dest); !visible {
			msg := "no code destination available"
			if m.opts.Hint != "" {
				msg = fmt.Sprintf("no code destination matching %q", m.opts.Hint)
			}
			return m.unexpected(page, handoff.StatusErrorNoMFAOption, "no-destination", msg)
		}
		if err := page.Click(dest, browser.ClickOptions{}); err != nil {
			return m.fail(handoff.StatusErrorNoMFAOption, fmt.Errorf("failed to select destination: %w", err))
		}
		if err := m.pacer.Breathe(ctx); err != nil {
			return m.fail(handoff.StatusErrorLoginFailed, err)
		}
	}

	sel, ok := firstVisible(page, ch.Send)
	switch {
	case ok:
		if err := page.Click(sel, browser.ClickOptions{}); err != nil {
			return m.fail(handoff.StatusErrorNoMFAOption, fmt.Errorf("failed to request code: %w", err))
		}
	case !anyVisible(page, ch.CodeInputs):
		return m.unexpected(page, handoff.StatusErrorNoMFAOption, "no-send", "no way to request a code")
	}

	m.challenge = &Challenge{Hint: m.opts.Hint, IssuedAt: m.now(), Timeout: m.opts.ChallengeTimeout}
	if err := m.transition(ChallengeIssued); err != nil {
		return err
	}

	detail := fmt.Sprintf("Code requested. Write it to %s before %s.",
		m.channel.CodePath(), m.challenge.ExpiresAt().Format(time.RFC3339))
	if m.opts.Hint != "" {
		detail = fmt.Sprintf("Code sent to destination matching %q. Write it to %s before %s.",
			m.opts.Hint, m.channel.CodePath(), m.challenge.ExpiresAt().Format(time.RFC3339))
	}
	m.notify(handoff.StatusMFACodeSent, detail)

	if err := m.settle(ctx, page); err != nil {
		return m.fail(handoff.StatusErrorLoginFailed, err)
	}
	return nil
}

func (m *Machine) resolveChallenge(ctx context.Context) error {
	// The wait ends when the challenge expires, not a full timeout after
	// the settle that followed issuing it
	remaining := max(m.challenge.ExpiresAt().Sub(m.now()), 0)
	code, err := m.channel.WaitForCode(ctx, remaining)
	if err != nil {
		status := handoff.StatusErrorLoginFailed
		if types.KindOf(err) == types.KindAuthTimeout {
			status = handoff.StatusErrorMFATimeout
		}
		return m.fail(status, err)
	}
	if err := m.challenge.Resolve(code); err != nil {
		return m.fail(handoff.StatusErrorLoginFailed, err)
	}
	return m.transition(ChallengeResolved)
}

func (m *Machine) submitCode(ctx context.Context, page browser.Page) error {
	m.notify(handoff.StatusEnteringMFACode, "")
	input, ok := firstVisible(page, m.site.Challenge.CodeInputs)
	if !ok {
		return m.unexpected(page, handoff.StatusErrorNoCodeInput, "no-code-input", "no visible code input")
	}
	if err := m.typeInto(ctx, page, input, m.challenge.Code()); err != nil {
		return m.fail(handoff.StatusErrorLoginFailed, err)
	}

	if sel, ok := firstVisible(page, m.site.Challenge.Submit); ok {
		if err := page.Click(sel, browser.ClickOptions{Force: true}); err != nil {
			return m.fail(handoff.StatusErrorLoginFailed, fmt.Errorf("failed to submit code: %w", err))
		}
	} else if err := page.PressKey("Enter"); err != nil {
		return m.fail(handoff.StatusErrorLoginFailed, fmt.Errorf("failed to submit code: %w", err))
	}
	m.notify(handoff.StatusMFASubmitted, "")

	if err := m.settle(ctx, page); err != nil {
		return m.fail(handoff.StatusErrorLoginFailed, err)
	}
	return nil
}

func firstVisible(page browser.Page, selectors []string) (string, bool) {
	for _, sel := range selectors {
		if visible, err := page.IsVisible(sel); err == nil && visible {
			return sel, true
		}
	}
	return "", false
}

func anyVisible(page browser.Page, selectors []string) bool {
	_, ok := firstVisible(page, selectors)
	return ok
}
