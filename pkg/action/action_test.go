package action

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/browser/browsertest"
	"github.com/entrhq/courier/pkg/types"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), Step{
		Name:       "open menu",
		Idempotent: true,
		Run: func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return fmt.Errorf("click: %w", browser.ErrNotReady)
			}
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), Step{
		Name:       "open menu",
		Idempotent: true,
		Run: func(ctx context.Context) error {
			calls++
			return browser.ErrNotReady
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrNotReady)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "open menu")
}

func TestRetry_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := fastPolicy().Do(context.Background(), Step{
		Name:       "open menu",
		Idempotent: true,
		Run: func(ctx context.Context) error {
			calls++
			return boom
		},
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetry_NonIdempotentRunsOnce(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), Step{
		Name: "save expense",
		Run: func(ctx context.Context) error {
			calls++
			return browser.ErrNotReady
		},
	})
	assert.ErrorIs(t, err, browser.ErrNotReady)
	assert.Equal(t, 1, calls)
}

func TestRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := fastPolicy().Do(ctx, Step{
		Name:       "open menu",
		Idempotent: true,
		Run: func(ctx context.Context) error {
			calls++
			return nil
		},
	})
	assert.ErrorIs(t, err, types.ErrCancelled)
	assert.Equal(t, 0, calls)
}

func TestSettle(t *testing.T) {
	t.Run("idle timeout is not fatal", func(t *testing.T) {
		page := browsertest.NewPage("https://example.test/")
		page.IdleErr = fmt.Errorf("networkidle: %w", browser.ErrNotReady)

		require.NoError(t, Settle(context.Background(), page, time.Second))
		assert.Equal(t, 1, page.IdleWaits)
	})

	t.Run("done context is cancelled", func(t *testing.T) {
		page := browsertest.NewPage("https://example.test/")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := Settle(ctx, page, time.Second)
		assert.ErrorIs(t, err, types.ErrCancelled)
		assert.Equal(t, 0, page.IdleWaits)
	})
}

func TestDismisser(t *testing.T) {
	page := browsertest.NewPage("https://example.test/")
	page.Show("#promo-close", "x")
	page.Hidden("#cookie-close")
	page.Show("#survey-close", "x")
	page.FailNext("#survey-close", errors.New("detached"))

	d := &Dismisser{Selectors: []string{"#promo-close", "#cookie-close", "#survey-close", "#missing"}}
	n := d.Dismiss(context.Background(), page)

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"#promo-close"}, page.Clicks)
}

func TestConfirmOverride(t *testing.T) {
	page := browsertest.NewPage("https://example.test/")
	var args []interface{}
	page.Eval = func(script string, a ...interface{}) (interface{}, error) {
		args = a
		return true, nil
	}

	var hooks []func() error
	reg := registrarFunc(func(h func() error) { hooks = append(hooks, h) })

	o, err := OverrideConfirm(page, reg, []string{"confirm", "customConfirm"})
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	require.Len(t, page.Evaluated, 1)
	assert.Contains(t, page.Evaluated[0], "__courierConfirm")
	assert.Equal(t, []interface{}{[]string{"confirm", "customConfirm"}}, args)

	require.NoError(t, o.Install())
	require.NoError(t, hooks[0]())
	require.NoError(t, o.Restore())
	assert.Len(t, page.Evaluated, 3, "restore must run once")
}

func TestConfirmOverride_NoNames(t *testing.T) {
	page := browsertest.NewPage("https://example.test/")
	reg := registrarFunc(func(h func() error) { t.Fatal("no hook expected") })

	_, err := OverrideConfirm(page, reg, nil)
	require.NoError(t, err)
	assert.Empty(t, page.Evaluated)
}

func TestSnapshotter(t *testing.T) {
	dir := t.TempDir()
	page := browsertest.NewPage("https://example.test/signin?errorCode=1")
	page.SetContent(`<html><head><title>Sign in</title><script>var x = 1;</script></head>
<body><h1>Something   went wrong</h1><style>.a{}</style><p>Try again later.</p></body></html>`)

	s := NewSnapshotter(dir)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }

	snap := s.Capture(page, "login/unexpected")
	assert.Equal(t, "https://example.test/signin?errorCode=1", snap.URL)
	assert.Equal(t, "Sign in", snap.Title)
	assert.Contains(t, snap.TextExcerpt, "Something went wrong")
	assert.Contains(t, snap.TextExcerpt, "Try again later.")
	assert.NotContains(t, snap.TextExcerpt, "var x")
	require.NotEmpty(t, snap.ScreenshotPath)
	assert.True(t, strings.HasSuffix(snap.ScreenshotPath, "20260301-093000-login_unexpected.png"))
	_, err := os.Stat(snap.ScreenshotPath)
	assert.NoError(t, err)

	uerr := s.Unexpected(page, "login", "login", "no landmark matched")
	assert.ErrorIs(t, uerr, types.ErrUnexpectedUIState)
	require.NotNil(t, types.SnapshotOf(uerr))
}

func TestPacer(t *testing.T) {
	p := NewPacer()
	for i := 0; i < 50; i++ {
		d := p.Between(p.Keystroke)
		assert.GreaterOrEqual(t, d, p.Keystroke.Min)
		assert.LessOrEqual(t, d, p.Keystroke.Max)
	}

	page := browsertest.NewPage("https://example.test/")
	require.NoError(t, NoPacing().Wiggle(context.Background(), page, 4))
	assert.Equal(t, 4, page.MouseMoves)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Breathe(ctx), types.ErrCancelled)
}

type registrarFunc func(func() error)

func (f registrarFunc) OnRelease(h func() error) { f(h) }
