// Package action holds the resilient UI primitives every workflow is built
// from: bounded settle-waits, overlay dismissal, retry of transient
// failures, confirm-dialog override, human-like pacing and diagnostic
// snapshots.
package action

import (
	"context"
	"time"

	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/types"
)

var debugLog = logging.NewLogger("action")

// Settle ceilings
const (
	DefaultSettleTimeout  = 10 * time.Second
	PostbackSettleTimeout = 15 * time.Second
)

// Settle waits for the page's network to go idle, for at most ceiling.
// Running out of time is logged and otherwise ignored: a busy page is not a
// failure. The wait is shortened to the run deadline, and a done context is
// reported as Cancelled.
func Settle(ctx context.Context, page browser.Page, ceiling time.Duration) error {
	if err := types.FromContext(ctx, "settle"); err != nil {
		return err
	}
	if ceiling <= 0 {
		ceiling = DefaultSettleTimeout
	}

	wait := ceiling
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}
	if wait <= 0 {
		return types.Wrap(types.KindCancelled, "settle", context.DeadlineExceeded)
	}

	if err := page.WaitForNetworkIdle(wait); err != nil {
		if ctxErr := types.FromContext(ctx, "settle"); ctxErr != nil {
			return ctxErr
		}
		debugLog.Warnf("page did not settle within %s: %v", wait, err)
	}
	return nil
}
