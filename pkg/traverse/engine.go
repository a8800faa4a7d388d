// Package traverse walks multi-entity, paginated UIs. Entities (accounts,
// reports) are selected and their pages advanced only through in-page
// affordances, and a page fingerprint seen twice for the same entity ends
// that entity, so pagination that loops back on itself terminates.
package traverse

import (
	"context"
	"fmt"
	"iter"

	"github.com/entrhq/courier/pkg/logging"
	"github.com/entrhq/courier/pkg/types"
)

var debugLog = logging.NewLogger("traverse")

// Entity is one top-level thing to walk, e.g. an account.
type Entity struct {
	// Key identifies the entity across the traversal
	Key string

	// Label is what the UI shows for it
	Label string

	// Index is the entity's position in discovery order
	Index int
}

// Page is what the UI currently shows for the selected entity.
type Page[T any] struct {
	Items []T

	// Fingerprint identifies the page, typically its leading row text
	Fingerprint string

	// HasNext reports whether a next-page affordance is present
	HasNext bool
}

// Item is one yielded value with its position.
type Item[T any] struct {
	Entity Entity
	Page   int
	Index  int
	Value  T
}

// Source adapts a concrete UI to the engine.
type Source[T any] interface {
	// Discover lists the entities in UI order
	Discover(ctx context.Context) ([]Entity, error)

	// Select makes entity current by clicking through to it
	Select(ctx context.Context, entity Entity) error

	// ExtractPage reads the current page
	ExtractPage(ctx context.Context) (Page[T], error)

	// Advance clicks the next-page affordance
	Advance(ctx context.Context) error
}

// Engine walks a Source.
type Engine[T any] struct {
	source   Source[T]
	state    *State
	maxPages int
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	maxPages int
}

// WithMaxPages bounds the pages walked per entity; exceeding it is a stall.
// Without it a walk ends only on a last page or a repeated fingerprint.
func WithMaxPages(n int) Option {
	return func(o *options) {
		o.maxPages = n
	}
}

// New creates an engine over source.
func New[T any](source Source[T], opts ...Option) *Engine[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine[T]{source: source, state: NewState(), maxPages: o.maxPages}
}

// State exposes what has been visited.
func (e *Engine[T]) State() *State {
	return e.state
}

// Walk yields every item of every entity. Items of a page are yielded
// before the engine advances, so the consumer acts on the page the UI shows.
// A non-nil error is always the last value yielded.
func (e *Engine[T]) Walk(ctx context.Context) iter.Seq2[Item[T], error] {
	return func(yield func(Item[T], error) bool) {
		var zero Item[T]

		entities, err := e.source.Discover(ctx)
		if err != nil {
			yield(zero, err)
			return
		}
		debugLog.Infof("discovered %d entities", len(entities))

		for _, ent := range entities {
			if err := types.FromContext(ctx, "traverse"); err != nil {
				yield(zero, err)
				return
			}
			if !e.state.VisitEntity(ent.Key) {
				debugLog.Debugf("entity %s already visited", ent.Key)
				continue
			}
			if err := e.source.Select(ctx, ent); err != nil {
				yield(zero, err)
				return
			}
			if !e.walkEntity(ctx, ent, yield) {
				return
			}
		}
	}
}

// walkEntity reports whether the traversal should continue with the next
// entity.
func (e *Engine[T]) walkEntity(ctx context.Context, ent Entity, yield func(Item[T], error) bool) bool {
	var zero Item[T]
	op := "traverse." + ent.Key

	for page := 0; ; page++ {
		if err := types.FromContext(ctx, op); err != nil {
			yield(zero, err)
			return false
		}

		p, err := e.source.ExtractPage(ctx)
		if err != nil {
			yield(zero, err)
			return false
		}
		if !e.state.VisitPage(ent.Key, p.Fingerprint) {
			debugLog.Infof("%s: page %q seen before, entity done after %d pages", ent.Key, p.Fingerprint, page)
			return true
		}

		if len(p.Items) == 0 {
			if p.HasNext {
				yield(zero, types.NewError(types.KindTraversalStalled, op,
					fmt.Sprintf("page %d is empty but offers a next page", page+1)))
				return false
			}
			return true
		}

		for i, v := range p.Items {
			if !yield(Item[T]{Entity: ent, Page: page, Index: i, Value: v}, nil) {
				return false
			}
		}

		if !p.HasNext {
			debugLog.Debugf("%s: last page %d", ent.Key, page+1)
			return true
		}
		if e.maxPages > 0 && page+1 >= e.maxPages {
			yield(zero, types.NewError(types.KindTraversalStalled, op,
				fmt.Sprintf("still paging after %d pages", e.maxPages)))
			return false
		}

		if err := e.source.Advance(ctx); err != nil {
			if ctxErr := types.FromContext(ctx, op); ctxErr != nil {
				yield(zero, ctxErr)
			} else if types.KindOf(err) != "" {
				yield(zero, err)
			} else {
				yield(zero, types.Wrap(types.KindTraversalStalled, op, err))
			}
			return false
		}
	}
}
