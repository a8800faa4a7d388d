package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cast"
)

const (
	// SectionIDInvoices is the identifier for the invoice download section
	SectionIDInvoices = "invoices"
)

// InvoicesSection manages document retrieval.
type InvoicesSection struct {
	// OnlyNew also skips statements whose file already exists on disk
	OnlyNew bool

	// ArchiveBucket, when set, receives a copy of every validated PDF
	ArchiveBucket string
	ArchivePrefix string

	mu sync.RWMutex
}

// NewInvoicesSection creates an invoices section with default settings.
func NewInvoicesSection() *InvoicesSection {
	return &InvoicesSection{}
}

// ID returns the section identifier.
func (s *InvoicesSection) ID() string {
	return SectionIDInvoices
}

// Title returns the section title.
func (s *InvoicesSection) Title() string {
	return "Invoice Settings"
}

// Description returns the section description.
func (s *InvoicesSection) Description() string {
	return "Statement download options and optional archival to a Cloud Storage bucket."
}

// Data returns the current configuration data.
func (s *InvoicesSection) Data() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"only_new":       s.OnlyNew,
		"archive_bucket": s.ArchiveBucket,
		"archive_prefix": s.ArchivePrefix,
	}
}

// SetData updates the configuration from the provided data.
func (s *InvoicesSection) SetData(data map[string]any) error {
	if data == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, value := range data {
		var err error
		switch key {
		case "only_new":
			s.OnlyNew, err = cast.ToBoolE(value)
		case "archive_bucket":
			s.ArchiveBucket, err = cast.ToStringE(value)
		case "archive_prefix":
			s.ArchivePrefix, err = cast.ToStringE(value)
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
func (s *InvoicesSection) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if strings.HasPrefix(s.ArchiveBucket, "gs://") {
		return fmt.Errorf("archive_bucket is a bucket name, not a URI: %q", s.ArchiveBucket)
	}
	if s.ArchiveBucket == "" && s.ArchivePrefix != "" {
		return fmt.Errorf("archive_prefix is set but archive_bucket is empty")
	}
	return nil
}

// Reset resets the section to default configuration.
func (s *InvoicesSection) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OnlyNew = false
	s.ArchiveBucket = ""
	s.ArchivePrefix = ""
}
