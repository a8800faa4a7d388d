package action

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/entrhq/courier/pkg/browser"
	"github.com/entrhq/courier/pkg/types"
)

// Range is an inclusive duration interval.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Pacer produces randomized pauses so interaction timing looks like a person
// at a keyboard.
type Pacer struct {
	// Pause is the gap between fields and actions
	Pause Range

	// Keystroke is the per-key typing delay
	Keystroke Range

	// Wander is the gap between random mouse moves
	Wander Range

	rng *rand.Rand
}

// NewPacer creates a pacer with the usual ranges.
func NewPacer() *Pacer {
	return &Pacer{
		Pause:     Range{Min: 300 * time.Millisecond, Max: 1500 * time.Millisecond},
		Keystroke: Range{Min: 50 * time.Millisecond, Max: 120 * time.Millisecond},
		Wander:    Range{Min: 150 * time.Millisecond, Max: 400 * time.Millisecond},
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x636f7572)),
	}
}

// NoPacing returns a pacer that never waits.
func NoPacing() *Pacer {
	return &Pacer{rng: rand.New(rand.NewPCG(1, 2))}
}

// Between returns a random duration within r.
func (p *Pacer) Between(r Range) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(p.rng.Int64N(int64(r.Max-r.Min)+1))
}

// KeystrokeDelay returns a per-key typing delay.
func (p *Pacer) KeystrokeDelay() time.Duration {
	return p.Between(p.Keystroke)
}

// Wait sleeps for a random duration within r, returning early as Cancelled
// if ctx is done.
func (p *Pacer) Wait(ctx context.Context, r Range) error {
	return sleep(ctx, p.Between(r))
}

// Breathe waits for the pause range.
func (p *Pacer) Breathe(ctx context.Context) error {
	return p.Wait(ctx, p.Pause)
}

// Wiggle moves the mouse to n random viewport positions. Move errors are
// ignored.
func (p *Pacer) Wiggle(ctx context.Context, page browser.Page, n int) error {
	for i := 0; i < n; i++ {
		x := float64(100 + p.rng.IntN(1700))
		y := float64(100 + p.rng.IntN(800))
		_ = page.MouseMove(x, y)
		if err := p.Wait(ctx, p.Wander); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return types.FromContext(ctx, "pause")
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return types.Wrap(types.KindCancelled, "pause", ctx.Err())
	case <-t.C:
		return nil
	}
}
