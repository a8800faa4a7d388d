// Package sites holds the data-driven description of each target web
// application: where to log in, how to recognize where the session landed,
// which overlays to dismiss and the selector maps the workflows walk. Code
// never hard-codes a target's selectors; a site redesign is a YAML change.
package sites

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

//go:embed defs/*.yaml
var builtin embed.FS

// Site describes one target web application.
type Site struct {
	Name      string `yaml:"name"`
	Title     string `yaml:"title"`
	EnvPrefix string `yaml:"env_prefix"`

	// LoginURL is the entry page for authentication
	LoginURL string `yaml:"login_url"`

	// HomeURL is the post-login entry page workflows start from
	HomeURL string `yaml:"home_url"`

	// EntryPatterns may always be navigated to directly
	EntryPatterns []string `yaml:"entry_patterns"`

	// ProtectedPatterns must only be reached through in-page links
	ProtectedPatterns []string `yaml:"protected_patterns"`

	Login            LoginSelectors     `yaml:"login"`
	Challenge        ChallengeSelectors `yaml:"challenge"`
	Landmarks        Landmarks          `yaml:"landmarks"`
	Obstructions     []string           `yaml:"obstructions"`
	ConfirmFunctions []string           `yaml:"confirm_functions"`

	// Selectors is the workflow-specific selector map
	Selectors map[string]string `yaml:"selectors"`

	// Texts are workflow-specific phrases matched case-insensitively
	// against rendered text
	Texts map[string][]string `yaml:"texts"`
}

// LoginSelectors locate the credential form.
type LoginSelectors struct {
	Username     string   `yaml:"username"`
	UsernameNext []string `yaml:"username_next"`
	Password     string   `yaml:"password"`
	Submit       []string `yaml:"submit"`
}

// ChallengeSelectors locate the one-time-code form.
type ChallengeSelectors struct {
	// Destination is a selector template; %s is replaced by the hint
	Destination string `yaml:"destination"`

	// FirstDestination picks a destination when no hint is configured.
	// Empty means the site needs no explicit choice.
	FirstDestination string `yaml:"first_destination"`

	Send       []string `yaml:"send"`
	CodeInputs []string `yaml:"code_inputs"`
	Submit     []string `yaml:"submit"`
}

// Landmarks are the positive signals used to recognize where a session is.
type Landmarks struct {
	Authenticated Landmark `yaml:"authenticated"`
	Challenge     Landmark `yaml:"challenge"`
	RateLimited   Landmark `yaml:"rate_limited"`
	Blocked       Landmark `yaml:"blocked"`
	Locked        Landmark `yaml:"locked"`
	LoginForm     Landmark `yaml:"login_form"`
}

// Selector returns a workflow selector by key.
func (s *Site) Selector(key string) (string, error) {
	sel, ok := s.Selectors[key]
	if !ok || strings.TrimSpace(sel) == "" {
		return "", fmt.Errorf("site %s has no selector %q", s.Name, key)
	}
	return sel, nil
}

// Text returns the phrases registered under key.
func (s *Site) Text(key string) []string {
	return s.Texts[key]
}

// ContainsText reports whether text contains any phrase registered under
// key, ignoring case.
func (s *Site) ContainsText(key, text string) bool {
	text = strings.ToLower(text)
	for _, phrase := range s.Texts[key] {
		if strings.Contains(text, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// Require checks that every key has a selector.
func (s *Site) Require(keys ...string) error {
	var missing []string
	for _, key := range keys {
		if _, err := s.Selector(key); err != nil {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("site %s is missing selectors: %s", s.Name, strings.Join(missing, ", "))
	}
	return nil
}

// SelectorFor returns a templated selector with every %s replaced by arg.
func (s *Site) SelectorFor(key, arg string) (string, error) {
	tmpl, err := s.Selector(key)
	if err != nil {
		return "", err
	}
	return fillTemplate(tmpl, arg), nil
}

// DestinationSelector fills the destination template with hint.
func (s *Site) DestinationSelector(hint string) string {
	if strings.Contains(s.Challenge.Destination, "%s") {
		return fillTemplate(s.Challenge.Destination, hint)
	}
	return s.Challenge.Destination + hint
}

func fillTemplate(tmpl, arg string) string {
	return strings.ReplaceAll(tmpl, "%s", strings.ReplaceAll(arg, `"`, `\"`))
}

// Validate checks the definition is usable and compiles its patterns.
func (s *Site) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("site definition has no name")
	}
	if s.LoginURL == "" {
		return fmt.Errorf("site %s has no login_url", s.Name)
	}
	if s.Landmarks.Authenticated.Empty() {
		return fmt.Errorf("site %s has no authenticated landmark", s.Name)
	}
	if s.Login.Password == "" || len(s.Login.Submit) == 0 {
		return fmt.Errorf("site %s has an incomplete login form", s.Name)
	}
	for name, lm := range map[string]*Landmark{
		"authenticated": &s.Landmarks.Authenticated,
		"challenge":     &s.Landmarks.Challenge,
		"rate_limited":  &s.Landmarks.RateLimited,
		"blocked":       &s.Landmarks.Blocked,
		"locked":        &s.Landmarks.Locked,
		"login_form":    &s.Landmarks.LoginForm,
	} {
		if err := lm.compile(); err != nil {
			return fmt.Errorf("site %s landmark %s: %w", s.Name, name, err)
		}
	}
	return nil
}

// Parse decodes and validates a site definition.
func Parse(data []byte) (*Site, error) {
	var s Site
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse site definition: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Builtin returns an embedded site definition by name.
func Builtin(name string) (*Site, error) {
	data, err := builtin.ReadFile(path.Join("defs", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("unknown site %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return Parse(data)
}

// LoadFile reads a site definition from fs.
func LoadFile(fs afero.Fs, filename string) (*Site, error) {
	data, err := afero.ReadFile(fs, filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read site file: %w", err)
	}
	return Parse(data)
}

// Load returns the site from override when set, otherwise the built-in
// definition named name.
func Load(fs afero.Fs, name, override string) (*Site, error) {
	if override != "" {
		s, err := LoadFile(fs, override)
		if err != nil {
			return nil, err
		}
		if s.Name != name {
			return nil, fmt.Errorf("site file %s defines %q, expected %q", override, s.Name, name)
		}
		return s, nil
	}
	return Builtin(name)
}

// Names lists the built-in site names.
func Names() []string {
	entries, err := builtin.ReadDir("defs")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}
