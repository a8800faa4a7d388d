package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/entrhq/courier/pkg/ledger"
	"github.com/entrhq/courier/pkg/types"
)

// Level represents the console verbosity level
type Level int

const (
	// LevelQuiet shows only warnings, errors and the final summary
	LevelQuiet Level = iota
	// LevelNormal shows standard run progress (default)
	LevelNormal
	// LevelVerbose shows every item
	LevelVerbose
	// LevelDebug shows internal details
	LevelDebug
)

// ParseLevel converts a level name; unknown names mean normal.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "quiet":
		return LevelQuiet
	case "verbose":
		return LevelVerbose
	case "debug":
		return LevelDebug
	default:
		return LevelNormal
	}
}

// Console prints run progress for the operator
type Console struct {
	level  Level
	writer io.Writer

	colorReset     string
	colorGreen     string
	colorCyan      string
	colorYellow    string
	colorRed       string
	colorGray      string
	colorBoldGreen string
	colorBoldRed   string
	colorBoldWhite string

	stepCount int
}

// NewConsole creates a console reporter writing to stdout
func NewConsole(level Level) *Console {
	return &Console{
		level:          level,
		writer:         os.Stdout,
		colorReset:     "\033[0m",
		colorGreen:     "\033[32m",
		colorCyan:      "\033[36m",
		colorYellow:    "\033[33m",
		colorRed:       "\033[31m",
		colorGray:      "\033[90m",
		colorBoldGreen: "\033[1;32m",
		colorBoldRed:   "\033[1;31m",
		colorBoldWhite: "\033[1;37m",
	}
}

// WithWriter redirects output and drops colors
func (c *Console) WithWriter(w io.Writer) *Console {
	c.writer = w
	c.colorReset, c.colorGreen, c.colorCyan, c.colorYellow, c.colorRed = "", "", "", "", ""
	c.colorGray, c.colorBoldGreen, c.colorBoldRed, c.colorBoldWhite = "", "", "", ""
	return c
}

// Header prints a prominent header message
func (c *Console) Header(message string) {
	if c.level >= LevelNormal {
		fmt.Fprintf(c.writer, "\n%s%s%s\n", c.colorBoldWhite, strings.Repeat("=", 70), c.colorReset)
		fmt.Fprintf(c.writer, "%s  %s%s\n", c.colorBoldWhite, message, c.colorReset)
		fmt.Fprintf(c.writer, "%s%s%s\n", c.colorBoldWhite, strings.Repeat("=", 70), c.colorReset)
	}
}

// Section prints a section divider
func (c *Console) Section(title string) {
	if c.level >= LevelNormal {
		fmt.Fprintln(c.writer)
		fmt.Fprintf(c.writer, "%s▶ %s%s\n", c.colorCyan, title, c.colorReset)
		fmt.Fprintf(c.writer, "%s%s%s\n", c.colorGray, strings.Repeat("─", 50), c.colorReset)
	}
}

// Step prints a numbered step
func (c *Console) Step(message string) {
	if c.level >= LevelNormal {
		c.stepCount++
		fmt.Fprintf(c.writer, "%s[%d] %s%s\n", c.colorCyan, c.stepCount, message, c.colorReset)
	}
}

// Successf prints a success message with checkmark
func (c *Console) Successf(format string, args ...interface{}) {
	if c.level >= LevelNormal {
		fmt.Fprintf(c.writer, "%s✓ %s%s\n", c.colorBoldGreen, fmt.Sprintf(format, args...), c.colorReset)
	}
}

// Infof prints an informational message
func (c *Console) Infof(format string, args ...interface{}) {
	if c.level >= LevelNormal {
		fmt.Fprintf(c.writer, "%s\n", fmt.Sprintf(format, args...))
	}
}

// Warningf prints a warning message
func (c *Console) Warningf(format string, args ...interface{}) {
	fmt.Fprintf(c.writer, "%s⚠ Warning: %s%s\n", c.colorYellow, fmt.Sprintf(format, args...), c.colorReset)
}

// Errorf prints an error message
func (c *Console) Errorf(format string, args ...interface{}) {
	fmt.Fprintf(c.writer, "%s✗ Error: %s%s\n", c.colorBoldRed, fmt.Sprintf(format, args...), c.colorReset)
}

// Verbosef prints detail shown only in verbose mode
func (c *Console) Verbosef(format string, args ...interface{}) {
	if c.level >= LevelVerbose {
		fmt.Fprintf(c.writer, "%s→ %s%s\n", c.colorGray, fmt.Sprintf(format, args...), c.colorReset)
	}
}

// Debugf prints debug information
func (c *Console) Debugf(format string, args ...interface{}) {
	if c.level >= LevelDebug {
		fmt.Fprintf(c.writer, "%s[DEBUG] %s%s\n", c.colorGray, fmt.Sprintf(format, args...), c.colorReset)
	}
}

// Item logs what happened to one key
func (c *Console) Item(key string, status ledger.Status, note string) {
	switch c.level {
	case LevelQuiet:
	case LevelNormal:
		if status == ledger.StatusComplete {
			fmt.Fprintf(c.writer, "%s  • %s%s\n", c.colorGreen, key, c.colorReset)
		}
	default:
		suffix := ""
		if note != "" {
			suffix = " (" + note + ")"
		}
		fmt.Fprintf(c.writer, "%s  • %s: %s%s%s\n", c.colorGray, key, status, suffix, c.colorReset)
	}
}

// Summary prints the final run summary
func (c *Console) Summary(s *Summary) {
	fmt.Fprintln(c.writer)
	fmt.Fprintf(c.writer, "%s%s%s\n", c.colorBoldWhite, strings.Repeat("=", 70), c.colorReset)
	fmt.Fprintf(c.writer, "%s  RUN SUMMARY%s\n", c.colorBoldWhite, c.colorReset)
	fmt.Fprintf(c.writer, "%s%s%s\n", c.colorBoldWhite, strings.Repeat("=", 70), c.colorReset)

	c.printOutcome(s.Outcome)
	task := s.Workflow
	if s.Phase != "" {
		task += " " + s.Phase
	}
	fmt.Fprintf(c.writer, "  Run: %s %s (%s)\n", s.Site, task, s.RunID)
	if s.Identity != "" {
		fmt.Fprintf(c.writer, "  Signed in as: %s\n", s.Identity)
	}
	fmt.Fprintf(c.writer, "  Duration: %s\n", s.Duration.Round(time.Second))
	fmt.Fprintf(c.writer, "  Items: %d complete, %d skipped, %d pending\n",
		s.Counts.Complete, s.Counts.Skipped, s.Counts.Pending)

	if s.Error != "" {
		fmt.Fprintln(c.writer)
		fmt.Fprintf(c.writer, "%s  Error Details:%s\n", c.colorBoldRed, c.colorReset)
		fmt.Fprintf(c.writer, "%s    %s%s\n", c.colorRed, s.Error, c.colorReset)
		if s.Snapshot != nil {
			fmt.Fprintf(c.writer, "    Page: %s\n", s.Snapshot.URL)
			if s.Snapshot.ScreenshotPath != "" {
				fmt.Fprintf(c.writer, "    Screenshot: %s\n", s.Snapshot.ScreenshotPath)
			}
		}
	}
	if s.CooldownUntil != nil {
		fmt.Fprintf(c.writer, "%s  Next attempt not before %s%s\n", c.colorYellow, s.CooldownUntil.Format(time.RFC3339), c.colorReset)
	}
	fmt.Fprintf(c.writer, "%s%s%s\n", c.colorBoldWhite, strings.Repeat("=", 70), c.colorReset)
	fmt.Fprintln(c.writer)
}

func (c *Console) printOutcome(outcome types.Outcome) {
	fmt.Fprint(c.writer, "  Outcome: ")
	switch outcome {
	case types.OutcomeCompleted:
		fmt.Fprintf(c.writer, "%s✓ COMPLETED%s\n", c.colorBoldGreen, c.colorReset)
	case types.OutcomeCancelled:
		fmt.Fprintf(c.writer, "%s⚠ CANCELLED%s\n", c.colorYellow, c.colorReset)
	default:
		fmt.Fprintf(c.writer, "%s✗ FAILED%s\n", c.colorBoldRed, c.colorReset)
	}
}
