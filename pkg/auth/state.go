package auth

import (
	"errors"
	"fmt"
	"time"
)

// State is a step of the login flow.
type State int

const (
	Unauthenticated State = iota
	CredentialsSubmitted
	ChallengeIssued
	ChallengeResolved
	Authenticated
	Failed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case CredentialsSubmitted:
		return "credentials_submitted"
	case ChallengeIssued:
		return "challenge_issued"
	case ChallengeResolved:
		return "challenge_resolved"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Authenticated || s == Failed
}

// ErrIllegalTransition is returned for a transition the flow does not have.
var ErrIllegalTransition = errors.New("illegal auth transition")

// Unauthenticated may go straight to Authenticated when the shared browser
// still holds a valid session. Every non-terminal state may fail.
var transitions = map[State][]State{
	Unauthenticated:      {CredentialsSubmitted, Authenticated, Failed},
	CredentialsSubmitted: {ChallengeIssued, Authenticated, Failed},
	ChallengeIssued:      {ChallengeResolved, Failed},
	ChallengeResolved:    {Authenticated, Failed},
}

// CanTransition reports whether from → to is part of the flow.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Challenge is an outstanding one-time-code requirement.
type Challenge struct {
	// Hint selects the delivery destination; empty means the first one
	Hint     string
	IssuedAt time.Time
	Timeout  time.Duration

	code string
}

// ExpiresAt is when the challenge stops accepting a code.
func (c *Challenge) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.Timeout)
}

// Resolved reports whether a code has been supplied.
func (c *Challenge) Resolved() bool {
	return c.code != ""
}

// Code returns the supplied code, or "".
func (c *Challenge) Code() string {
	return c.code
}

// Resolve records the code. A challenge resolves exactly once.
func (c *Challenge) Resolve(code string) error {
	if code == "" {
		return fmt.Errorf("empty code")
	}
	if c.code != "" {
		return fmt.Errorf("challenge already resolved")
	}
	c.code = code
	return nil
}
