// Package main provides courier, which runs scheduled browser workflows
// against an already-running, operator-owned browser: downloading billing
// statements and filing expense reports.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/types"
)

const version = "0.1.0"

// Exit codes
const (
	exitOK        = 0
	exitFailed    = 1
	exitUsage     = 2
	exitCancelled = 130
)

func main() {
	// Create context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if cerr := logging.CloseAll(); cerr != nil {
		fmt.Fprintf(os.Stderr, "closing logs: %v\n", cerr)
	}
	os.Exit(exitCode(err))
}

// exitCode maps a run error to the process exit status.
func exitCode(err error) int {
	var usage *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &usage):
		return exitUsage
	case types.KindOf(err) == types.KindCancelled:
		return exitCancelled
	}
	return exitFailed
}

// usageError reports a command line that cannot be run.
type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}
