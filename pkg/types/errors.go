package types

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide between aborting the run,
// scheduling a cooldown, or surfacing a diagnostic.
type Kind string

const (
	KindConnectionUnavailable Kind = "connection_unavailable" // KindConnectionUnavailable means nothing answered at the control endpoint.
	KindAuthTimeout           Kind = "auth_timeout"           // KindAuthTimeout means no one-time code arrived before the challenge expired.
	KindRateLimited           Kind = "rate_limited"           // KindRateLimited means the target signalled too many attempts.
	KindTraversalStalled      Kind = "traversal_stalled"      // KindTraversalStalled means pagination could not progress and no cycle was seen.
	KindUnexpectedUIState     Kind = "unexpected_ui_state"    // KindUnexpectedUIState means a structural assumption about the target UI failed.
	KindCancelled             Kind = "cancelled"              // KindCancelled means the run deadline or a signal stopped the run.
	KindBlocked               Kind = "blocked"                // KindBlocked means the target refused the session as automated.
	KindAccountLocked         Kind = "account_locked"         // KindAccountLocked means the target locked the account.
	KindChallengeRequired     Kind = "challenge_required"     // KindChallengeRequired means a one-time code was needed but the run skips MFA.
	KindBudgetExceeded        Kind = "budget_exceeded"        // KindBudgetExceeded means an item would push its category past the monthly ceiling.
)

// Sentinels for errors.Is matching. Any *Error with the same Kind matches.
var (
	ErrConnectionUnavailable = &Error{Kind: KindConnectionUnavailable}
	ErrAuthTimeout           = &Error{Kind: KindAuthTimeout}
	ErrRateLimited           = &Error{Kind: KindRateLimited}
	ErrTraversalStalled      = &Error{Kind: KindTraversalStalled}
	ErrUnexpectedUIState     = &Error{Kind: KindUnexpectedUIState}
	ErrCancelled             = &Error{Kind: KindCancelled}
	ErrBlocked               = &Error{Kind: KindBlocked}
	ErrAccountLocked         = &Error{Kind: KindAccountLocked}
	ErrChallengeRequired     = &Error{Kind: KindChallengeRequired}
	ErrBudgetExceeded        = &Error{Kind: KindBudgetExceeded}
)

// Error is the structured failure reported by every component of a run.
type Error struct {
	Kind     Kind
	Op       string
	Message  string
	Snapshot *Snapshot
	Details  map[string]interface{}
	Err      error
}

// NewError creates an error of the given kind.
func NewError(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an error of the given kind around a cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s (%s): %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithSnapshot attaches a diagnostic snapshot and returns the error.
func (e *Error) WithSnapshot(s *Snapshot) *Error {
	e.Snapshot = s
	return e
}

// WithDetail records a key/value detail and returns the error.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there
// is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// SnapshotOf returns the first snapshot attached anywhere in err's chain.
func SnapshotOf(err error) *Snapshot {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return nil
		}
		if e.Snapshot != nil {
			return e.Snapshot
		}
		err = e.Err
	}
	return nil
}
