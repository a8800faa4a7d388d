package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/entrhq/courier/pkg/fileutil"
	"github.com/entrhq/courier/pkg/types"
)

// CooldownFile is the cooldown marker inside the output directory.
const CooldownFile = "cooldown.json"

// Cooldown is a period during which runs refuse to touch the target after
// it pushed back.
type Cooldown struct {
	Kind   types.Kind `json:"kind"`
	Until  time.Time  `json:"until"`
	Reason string     `json:"reason,omitempty"`
	RunID  string     `json:"run_id,omitempty"`
}

// CooldownStore persists the current cooldown.
type CooldownStore struct {
	fs   afero.Fs
	path string
}

// NewCooldownStore creates a store backed by path.
func NewCooldownStore(fs afero.Fs, path string) *CooldownStore {
	return &CooldownStore{fs: fs, path: path}
}

// Load returns the stored cooldown, or nil when there is none.
func (s *CooldownStore) Load() (*Cooldown, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cooldown: %w", err)
	}
	var c Cooldown
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse cooldown %s: %w", s.path, err)
	}
	return &c, nil
}

// Active returns the stored cooldown if it has not expired at now.
func (s *CooldownStore) Active(now time.Time) (*Cooldown, error) {
	c, err := s.Load()
	if err != nil || c == nil {
		return nil, err
	}
	if !now.Before(c.Until) {
		return nil, nil
	}
	return c, nil
}

// Set stores c, replacing any earlier cooldown.
func (s *CooldownStore) Set(c Cooldown) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cooldown: %w", err)
	}
	return fileutil.WriteFileAtomic(s.fs, s.path, data)
}

// Clear removes the stored cooldown.
func (s *CooldownStore) Clear() error {
	err := s.fs.Remove(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear cooldown: %w", err)
	}
	return nil
}

// Error converts an active cooldown into the error the run fails with. It
// carries the kind that caused the cooldown.
func (c *Cooldown) Error(now time.Time) *types.Error {
	msg := fmt.Sprintf("cooling down for another %s after %s", c.Until.Sub(now).Round(time.Second), c.Kind)
	if c.Reason != "" {
		msg += ": " + c.Reason
	}
	return types.NewError(c.Kind, "cooldown", msg).WithDetail("until", c.Until.Format(time.RFC3339))
}
