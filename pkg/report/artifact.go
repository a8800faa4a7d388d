package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/entrhq/courier/pkg/fileutil"
	"github.com/entrhq/courier/pkg/ledger"
)

// Artifact file names
const (
	RunFile     = "run.json"
	SummaryFile = "summary.md"
)

// ArtifactWriter writes run artifacts into the output directory
type ArtifactWriter struct {
	fs        afero.Fs
	outputDir string
}

// NewArtifactWriter creates a new artifact writer
func NewArtifactWriter(fs afero.Fs, outputDir string) *ArtifactWriter {
	return &ArtifactWriter{fs: fs, outputDir: outputDir}
}

// WriteAll writes run.json and summary.md
func (w *ArtifactWriter) WriteAll(s *Summary) error {
	if err := w.WriteRunJSON(s); err != nil {
		return err
	}
	return w.WriteSummaryMarkdown(s)
}

// WriteRunJSON writes the full summary as JSON
func (w *ArtifactWriter) WriteRunJSON(s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}
	if err := fileutil.WriteFileAtomic(w.fs, filepath.Join(w.outputDir, RunFile), data); err != nil {
		return fmt.Errorf("failed to write run JSON: %w", err)
	}
	return nil
}

// WriteSummaryMarkdown writes a human-readable summary
func (w *ArtifactWriter) WriteSummaryMarkdown(s *Summary) error {
	var md strings.Builder

	task := s.Workflow
	if s.Phase != "" {
		task += " " + s.Phase
	}
	fmt.Fprintf(&md, "# %s %s\n\n", s.Site, task)
	fmt.Fprintf(&md, "**Run:** %s\n\n", s.RunID)
	fmt.Fprintf(&md, "**Outcome:** %s\n\n", s.Outcome)
	fmt.Fprintf(&md, "**Started:** %s\n\n", s.StartTime.Format(time.RFC3339))
	fmt.Fprintf(&md, "**Completed:** %s\n\n", s.EndTime.Format(time.RFC3339))
	fmt.Fprintf(&md, "**Duration:** %s\n\n", s.Duration.Round(time.Second))

	md.WriteString("## Result\n\n")
	if s.Error != "" {
		fmt.Fprintf(&md, "❌ **%s:** %s\n\n", s.ErrorKind, s.Error)
		if s.Snapshot != nil {
			fmt.Fprintf(&md, "- Page: %s\n", s.Snapshot.URL)
			if s.Snapshot.Title != "" {
				fmt.Fprintf(&md, "- Title: %s\n", s.Snapshot.Title)
			}
			if s.Snapshot.ScreenshotPath != "" {
				fmt.Fprintf(&md, "- Screenshot: `%s`\n", s.Snapshot.ScreenshotPath)
			}
			md.WriteString("\n")
		}
	} else {
		md.WriteString("✅ **Completed**\n\n")
	}
	if s.CooldownUntil != nil {
		fmt.Fprintf(&md, "Next attempt not before %s.\n\n", s.CooldownUntil.Format(time.RFC3339))
	}

	if len(s.Items) > 0 {
		md.WriteString("## Items\n\n")
		for _, item := range s.Items {
			mark := "✅"
			switch item.Status {
			case ledger.StatusSkipped:
				mark = "⏭"
			case ledger.StatusPending:
				mark = "⏳"
			}
			fmt.Fprintf(&md, "- %s `%s`", mark, item.Key)
			if item.Artifact != "" {
				fmt.Fprintf(&md, " → `%s`", item.Artifact)
			}
			if item.Note != "" {
				fmt.Fprintf(&md, " (%s)", item.Note)
			}
			md.WriteString("\n")
		}
		md.WriteString("\n")
	}

	md.WriteString("## Counts\n\n")
	fmt.Fprintf(&md, "- **Complete:** %d\n", s.Counts.Complete)
	fmt.Fprintf(&md, "- **Skipped:** %d\n", s.Counts.Skipped)
	fmt.Fprintf(&md, "- **Pending:** %d\n", s.Counts.Pending)

	if err := fileutil.WriteFileAtomic(w.fs, filepath.Join(w.outputDir, SummaryFile), []byte(md.String())); err != nil {
		return fmt.Errorf("failed to write summary markdown: %w", err)
	}
	return nil
}
