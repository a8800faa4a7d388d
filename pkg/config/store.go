package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/entrhq/courier/pkg/fileutil"
)

// ErrFileExists is returned by Save when the target exists and overwriting
// was not asked for.
var ErrFileExists = errors.New("config file already exists")

// DefaultFile returns the file Load looks for when none is given. An empty
// dir means ~/.config/courier.
func DefaultFile(site, dir string) string {
	if dir == "" {
		dir = filepath.Join("~", ".config", "courier")
	}
	return filepath.Join(ExpandHome(dir), site+".json")
}

// Flatten returns every option of cfg keyed by option name, the shape Load
// reads from a config file.
func (c *Config) Flatten() map[string]any {
	data := make(map[string]any)
	for _, s := range c.Sections() {
		for key, value := range s.Data() {
			data[key] = value
		}
	}
	return data
}

// Marshal renders cfg as an indented JSON config file.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c.Flatten()); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// Save writes cfg to path so a later Load reproduces it. An existing file
// is only replaced when overwrite is set.
func Save(fs afero.Fs, path string, cfg *Config, overwrite bool) error {
	if !overwrite && fileutil.Exists(fs, path) {
		return fmt.Errorf("%w: %s", ErrFileExists, path)
	}
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(fs, path, data); err != nil {
		return fmt.Errorf("failed to save config to %s: %w", path, err)
	}
	return nil
}

// Describe lists the sections of cfg with their options in name order, for
// display.
func (c *Config) Describe() []SectionInfo {
	var infos []SectionInfo
	for _, s := range c.Sections() {
		data := s.Data()
		keys := make([]string, 0, len(data))
		for key := range data {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		infos = append(infos, SectionInfo{ID: s.ID(), Title: s.Title(), Description: s.Description(), Keys: keys})
	}
	return infos
}

// SectionInfo describes one section for display.
type SectionInfo struct {
	ID          string
	Title       string
	Description string
	Keys        []string
}
