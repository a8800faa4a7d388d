package config

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/spf13/cast"
)

const (
	// SectionIDSession is the identifier for the session settings section
	SectionIDSession = "session"
)

// Default session values.
const (
	DefaultCDPURL            = "http://127.0.0.1:9222"
	DefaultMFATimeout        = 300 * time.Second
	DefaultSettleTimeout     = 10 * time.Second
	DefaultProbeTimeout      = 3 * time.Second
	DefaultPollInterval      = 2 * time.Second
	DefaultRateLimitCooldown = 30 * time.Minute
	DefaultAuthCooldown      = 5 * time.Minute
	DefaultLogLevel          = "normal"
)

var defaultOutputDirs = map[string]string{
	"att":     "~/invoices/att",
	"certify": "~/expenses/certify",
}

// DefaultOutputDir returns where a site's files go unless configured.
func DefaultOutputDir(site string) string {
	if dir, ok := defaultOutputDirs[site]; ok {
		return dir
	}
	return "~/.courier/" + site
}

var logLevels = map[string]bool{"quiet": true, "normal": true, "verbose": true, "debug": true}

// SessionSection manages how a run attaches to the browser, signs in and
// where it keeps its files.
type SessionSection struct {
	site string

	CDPURL    string
	OutputDir string
	PassPath  string

	// MFAPhone is the destination hint picked on the challenge page
	MFAPhone   string
	MFATimeout time.Duration

	SettleTimeout time.Duration
	ProbeTimeout  time.Duration
	PollInterval  time.Duration

	RateLimitCooldown time.Duration
	AuthCooldown      time.Duration

	LogLevel string

	mu sync.RWMutex
}

// NewSessionSection creates a session section with the defaults for site.
func NewSessionSection(site string) *SessionSection {
	s := &SessionSection{site: site}
	s.reset()
	return s
}

// ID returns the section identifier.
func (s *SessionSection) ID() string {
	return SectionIDSession
}

// Title returns the section title.
func (s *SessionSection) Title() string {
	return "Session Settings"
}

// Description returns the section description.
func (s *SessionSection) Description() string {
	return "Browser endpoint, sign-in and output location. Durations accept Go duration strings or a number of seconds."
}

// Data returns the current configuration data.
func (s *SessionSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"cdp_url":             s.CDPURL,
		"output_dir":          s.OutputDir,
		"pass_path":           s.PassPath,
		"mfa_phone":           s.MFAPhone,
		"mfa_timeout":         int(s.MFATimeout / time.Second),
		"settle_timeout":      s.SettleTimeout.String(),
		"probe_timeout":       s.ProbeTimeout.String(),
		"poll_interval":       s.PollInterval.String(),
		"rate_limit_cooldown": s.RateLimitCooldown.String(),
		"auth_cooldown":       s.AuthCooldown.String(),
		"log_level":           s.LogLevel,
	}
}

// SetData updates the configuration from the provided data.
func (s *SessionSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "cdp_url":
			s.CDPURL, err = cast.ToStringE(value)
		case "output_dir":
			s.OutputDir, err = cast.ToStringE(value)
		case "pass_path":
			s.PassPath, err = cast.ToStringE(value)
		case "mfa_phone":
			s.MFAPhone, err = cast.ToStringE(value)
		case "mfa_timeout":
			s.MFATimeout, err = toDuration(value)
		case "settle_timeout":
			s.SettleTimeout, err = toDuration(value)
		case "probe_timeout":
			s.ProbeTimeout, err = toDuration(value)
		case "poll_interval":
			s.PollInterval, err = toDuration(value)
		case "rate_limit_cooldown":
			s.RateLimitCooldown, err = toDuration(value)
		case "auth_cooldown":
			s.AuthCooldown, err = toDuration(value)
		case "log_level":
			s.LogLevel, err = cast.ToStringE(value)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", key, err)
		}
	}
	return nil
}

// Validate validates the current configuration.
func (s *SessionSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, err := url.Parse(s.CDPURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("cdp_url must be an http(s) URL, got %q", s.CDPURL)
	}
	if s.OutputDir == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	if s.MFATimeout <= 0 {
		return fmt.Errorf("mfa_timeout must be positive")
	}
	for name, d := range map[string]time.Duration{
		"settle_timeout":      s.SettleTimeout,
		"probe_timeout":       s.ProbeTimeout,
		"poll_interval":       s.PollInterval,
		"rate_limit_cooldown": s.RateLimitCooldown,
		"auth_cooldown":       s.AuthCooldown,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if !logLevels[s.LogLevel] {
		return fmt.Errorf("log_level must be one of quiet, normal, verbose, debug; got %q", s.LogLevel)
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *SessionSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *SessionSection) reset() {
	s.CDPURL = DefaultCDPURL
	s.OutputDir = DefaultOutputDir(s.site)
	s.PassPath = s.site + "/login"
	s.MFAPhone = ""
	s.MFATimeout = DefaultMFATimeout
	s.SettleTimeout = DefaultSettleTimeout
	s.ProbeTimeout = DefaultProbeTimeout
	s.PollInterval = DefaultPollInterval
	s.RateLimitCooldown = DefaultRateLimitCooldown
	s.AuthCooldown = DefaultAuthCooldown
	s.LogLevel = DefaultLogLevel
}

// Dir returns the output directory with ~ expanded.
func (s *SessionSection) Dir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ExpandHome(s.OutputDir)
}

// toDuration accepts a Go duration string or a number of seconds.
func toDuration(value any) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d, nil
		}
	}
	secs, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, fmt.Errorf("expected a duration or seconds, got %v", value)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
