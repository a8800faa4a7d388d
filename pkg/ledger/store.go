package ledger

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"github.com/entrhq/courier/pkg/fileutil"
)

// FileName is the ledger file inside a workflow output directory.
const FileName = "ledger.json"

const fileVersion = 1

type ledgerFile struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

// FileStore persists records as JSON, replacing the file atomically on every
// save.
type FileStore struct {
	fs   afero.Fs
	path string
}

// NewFileStore creates a store at path on fs.
func NewFileStore(fs afero.Fs, path string) *FileStore {
	return &FileStore{fs: fs, path: path}
}

// Path returns the ledger file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads all records. A missing file is an empty ledger.
func (s *FileStore) Load() ([]Record, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	var f ledgerFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse ledger %s: %w", s.path, err)
	}
	if f.Version > fileVersion {
		return nil, fmt.Errorf("ledger %s has version %d, newest supported is %d", s.path, f.Version, fileVersion)
	}
	return f.Records, nil
}

// Save replaces the stored records.
func (s *FileStore) Save(records []Record) error {
	data, err := json.MarshalIndent(ledgerFile{Version: fileVersion, Records: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}
	if err := fileutil.WriteFileAtomic(s.fs, s.path, append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	return nil
}
