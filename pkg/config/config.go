// Package config holds the settings of a run, grouped into sections. Values
// are layered from built-in defaults, a JSON config file, the environment
// and command-line flags; see Load.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Section is one named group of settings. Data and SetData exchange plain
// values (strings, numbers, bools, lists and maps) so a section can be fed
// from any layer.
type Section interface {
	// ID returns the unique identifier for this section
	ID() string

	// Title returns a short human-readable title
	Title() string

	// Description returns what the section configures
	Description() string

	// Data returns the current values keyed by option name
	Data() map[string]any

	// SetData updates the section from the provided values. Unknown keys
	// are ignored.
	SetData(data map[string]any) error

	// Validate checks the current values
	Validate() error

	// Reset restores the defaults
	Reset()
}

// Config is the resolved configuration of one site.
type Config struct {
	// Site is the site definition name the config was loaded for
	Site string

	// File is the config file that was read, "" when none was found
	File string

	Session  *SessionSection
	Invoices *InvoicesSection
	Expenses *ExpensesSection
}

// New returns a config holding the defaults for site.
func New(site string) *Config {
	return &Config{
		Site:     site,
		Session:  NewSessionSection(site),
		Invoices: NewInvoicesSection(),
		Expenses: NewExpensesSection(),
	}
}

// Sections returns every section in registration order.
func (c *Config) Sections() []Section {
	return []Section{c.Session, c.Invoices, c.Expenses}
}

// Section looks up a section by ID.
func (c *Config) Section(id string) (Section, bool) {
	for _, s := range c.Sections() {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

// Keys lists every option name across all sections.
func (c *Config) Keys() []string {
	var keys []string
	for _, s := range c.Sections() {
		for key := range s.Data() {
			keys = append(keys, key)
		}
	}
	return keys
}

// Validate validates every section.
func (c *Config) Validate() error {
	var errs []error
	for _, s := range c.Sections() {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
