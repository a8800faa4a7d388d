// Package handoff is the file-based channel between a run and the human
// operator: the run writes progress notices to a status file and waits for
// the operator to drop a one-time code into a code file.
package handoff

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"

	"github.com/entrhq/courier/pkg/fileutil"
	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/types"
)

var debugLog = logging.NewLogger("handoff")

// Well-known file names inside the workflow output directory
const (
	StatusFile = "status.txt"
	CodeFile   = "mfa_code.txt"
)

// DefaultPollInterval is how often the code file is re-read when no
// filesystem notification arrives.
const DefaultPollInterval = 2 * time.Second

// Status is a machine-readable progress notice.
type Status string

const (
	StatusNavigatingToLogin   Status = "NAVIGATING_TO_LOGIN"
	StatusAlreadyLoggedIn     Status = "ALREADY_LOGGED_IN"
	StatusEnteringUsername    Status = "ENTERING_USERNAME"
	StatusUsernamePrefilled   Status = "USERNAME_PREFILLED"
	StatusUsernameSubmitted   Status = "USERNAME_SUBMITTED"
	StatusEnteringPassword    Status = "ENTERING_PASSWORD"
	StatusSignInClicked       Status = "SIGN_IN_CLICKED"
	StatusMFAPage             Status = "MFA_PAGE"
	StatusMFACodeSent         Status = "MFA_CODE_SENT"
	StatusEnteringMFACode     Status = "ENTERING_MFA_CODE"
	StatusMFASubmitted        Status = "MFA_SUBMITTED"
	StatusLoggedIn            Status = "LOGGED_IN"
	StatusMFARequiredSkipped  Status = "MFA_REQUIRED_BUT_SKIPPED"
	StatusErrorBlocked        Status = "ERROR_BLOCKED"
	StatusErrorLocked         Status = "ERROR_ACCOUNT_LOCKED"
	StatusErrorRateLimited    Status = "ERROR_RATE_LIMITED"
	StatusErrorNoMFAOption    Status = "ERROR_NO_MFA_OPTION"
	StatusErrorNoCodeInput    Status = "ERROR_NO_CODE_INPUT"
	StatusErrorMFATimeout     Status = "ERROR_MFA_TIMEOUT"
	StatusErrorLoginFailed    Status = "ERROR_LOGIN_FAILED"
	StatusErrorUnexpectedPage Status = "ERROR_UNEXPECTED_PAGE"
)

// Channel reads and writes the handoff files of one output directory.
type Channel struct {
	fs           afero.Fs
	dir          string
	pollInterval time.Duration
	watch        bool
	now          func() time.Time
}

// Option customizes a Channel.
type Option func(*Channel)

// WithPollInterval sets how often the code file is re-read.
func WithPollInterval(d time.Duration) Option {
	return func(c *Channel) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithWatch toggles filesystem notifications. They are only used on the OS
// filesystem regardless of this setting.
func WithWatch(enabled bool) Option {
	return func(c *Channel) {
		c.watch = enabled
	}
}

// New creates a channel rooted at dir.
func New(fs afero.Fs, dir string, opts ...Option) *Channel {
	c := &Channel{
		fs:           fs,
		dir:          dir,
		pollInterval: DefaultPollInterval,
		watch:        true,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusPath returns the path of the status file.
func (c *Channel) StatusPath() string {
	return filepath.Join(c.dir, StatusFile)
}

// CodePath returns the path of the code file.
func (c *Channel) CodePath() string {
	return filepath.Join(c.dir, CodeFile)
}

// Notify overwrites the status file with a notice. The first line is always
// the status code so scripts can match on it.
func (c *Channel) Notify(status Status, detail string) error {
	var b strings.Builder
	b.WriteString(string(status))
	b.WriteByte('\n')
	if detail != "" {
		b.WriteString(detail)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "at: %s\n", c.now().Format(time.RFC3339))

	if err := fileutil.WriteFileAtomic(c.fs, c.StatusPath(), []byte(b.String())); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}
	debugLog.Infof("status %s %s", status, detail)
	return nil
}

// Status returns the status code last written, or "" if there is none.
func (c *Channel) Status() Status {
	data, err := afero.ReadFile(c.fs, c.StatusPath())
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return Status(strings.TrimSpace(line))
}

// ClearCode removes any code left over from an earlier login so it cannot
// be replayed.
func (c *Channel) ClearCode() error {
	if err := c.fs.Remove(c.CodePath()); err != nil && fileutil.Exists(c.fs, c.CodePath()) {
		return fmt.Errorf("failed to clear code file: %w", err)
	}
	return nil
}

// readCode returns the trimmed code file content; missing and empty files
// both read as "".
func (c *Channel) readCode() string {
	data, err := afero.ReadFile(c.fs, c.CodePath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// WaitForCode blocks until the code file holds a non-empty code, the timeout
// elapses (AuthTimeout) or ctx is done (Cancelled). The code file is removed
// once read.
func (c *Channel) WaitForCode(ctx context.Context, timeout time.Duration) (string, error) {
	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create handoff directory: %w", err)
	}

	var events <-chan fsnotify.Event
	if watcher := c.startWatcher(); watcher != nil {
		defer watcher.Close()
		events = watcher.Events
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	debugLog.Infof("waiting up to %s for code in %s", timeout, c.CodePath())
	for {
		if code := c.readCode(); code != "" {
			_ = c.fs.Remove(c.CodePath())
			debugLog.Infof("code received")
			return code, nil
		}

		select {
		case <-ctx.Done():
			return "", types.Wrap(types.KindCancelled, "handoff.wait", ctx.Err())
		case <-deadline.C:
			// One last read: the file may have landed between ticks
			if code := c.readCode(); code != "" {
				_ = c.fs.Remove(c.CodePath())
				return code, nil
			}
			return "", types.NewError(types.KindAuthTimeout, "handoff.wait",
				fmt.Sprintf("no code in %s after %s", c.CodePath(), timeout))
		case <-ticker.C:
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(event.Name) != CodeFile {
				continue
			}
		}
	}
}

// startWatcher returns a watcher on the handoff directory, or nil when
// notifications are disabled or unavailable. Polling covers both cases.
func (c *Channel) startWatcher() *fsnotify.Watcher {
	if !c.watch {
		return nil
	}
	if _, ok := c.fs.(*afero.OsFs); !ok {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		debugLog.Warnf("file notifications unavailable, polling only: %v", err)
		return nil
	}
	if err := watcher.Add(c.dir); err != nil {
		_ = watcher.Close()
		debugLog.Warnf("cannot watch %s, polling only: %v", c.dir, err)
		return nil
	}
	return watcher
}
