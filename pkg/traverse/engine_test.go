package traverse

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/courier/pkg/types"
)

// fakeSource serves scripted pages per entity. After the last scripted page
// Advance wraps to the first, as paginators that loop do.
type fakeSource struct {
	entities   []Entity
	pages      map[string][]Page[string]
	current    string
	cursor     int
	selected   []string
	advances   int
	advanceErr error
	discover   error
}

func (f *fakeSource) Discover(ctx context.Context) ([]Entity, error) {
	return f.entities, f.discover
}

func (f *fakeSource) Select(ctx context.Context, e Entity) error {
	f.current = e.Key
	f.cursor = 0
	f.selected = append(f.selected, e.Key)
	return nil
}

func (f *fakeSource) ExtractPage(ctx context.Context) (Page[string], error) {
	return f.pages[f.current][f.cursor], nil
}

func (f *fakeSource) Advance(ctx context.Context) error {
	f.advances++
	if f.advanceErr != nil {
		return f.advanceErr
	}
	f.cursor = (f.cursor + 1) % len(f.pages[f.current])
	return nil
}

func page(hasNext bool, items ...string) Page[string] {
	fp := ""
	if len(items) > 0 {
		fp = items[0]
	}
	return Page[string]{Items: items, Fingerprint: fp, HasNext: hasNext}
}

func collect(t *testing.T, e *Engine[string]) ([]string, error) {
	t.Helper()
	var got []string
	for item, err := range e.Walk(context.Background()) {
		if err != nil {
			return got, err
		}
		got = append(got, item.Entity.Key+":"+item.Value)
	}
	return got, nil
}

func TestWalk_AllEntitiesInOrder(t *testing.T) {
	src := &fakeSource{
		entities: []Entity{{Key: "a"}, {Key: "b"}},
		pages: map[string][]Page[string]{
			"a": {page(true, "a1", "a2"), page(false, "a3")},
			"b": {page(false, "b1")},
		},
	}
	e := New[string](src)

	got, err := collect(t, e)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:a1", "a:a2", "a:a3", "b:b1"}, got)
	assert.Equal(t, []string{"a", "b"}, e.State().Entities())
	assert.Equal(t, []string{"a1", "a3"}, e.State().Pages("a"))
	assert.Equal(t, 3, e.State().PageCount())
	assert.Equal(t, 1, src.advances)
}

func TestWalk_CycleTerminates(t *testing.T) {
	// "Next" never disappears and wraps back to the first page
	src := &fakeSource{
		entities: []Entity{{Key: "acct"}},
		pages: map[string][]Page[string]{
			"acct": {page(true, "jan", "feb"), page(true, "mar"), page(true, "apr")},
		},
	}
	e := New[string](src)

	got, err := collect(t, e)
	require.NoError(t, err)
	assert.Equal(t, []string{"acct:jan", "acct:feb", "acct:mar", "acct:apr"}, got)
	assert.Equal(t, 3, src.advances, "bounded by distinct fingerprints")
}

func TestWalk_DuplicateEntitySkipped(t *testing.T) {
	src := &fakeSource{
		entities: []Entity{{Key: "a"}, {Key: "a"}},
		pages:    map[string][]Page[string]{"a": {page(false, "x")}},
	}
	e := New[string](src)

	got, err := collect(t, e)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:x"}, got)
	assert.Equal(t, []string{"a"}, src.selected)
}

func TestWalk_EmptyPageWithNextStalls(t *testing.T) {
	src := &fakeSource{
		entities: []Entity{{Key: "a"}},
		pages:    map[string][]Page[string]{"a": {page(true)}},
	}
	_, err := collect(t, New[string](src))
	assert.ErrorIs(t, err, types.ErrTraversalStalled)
}

func TestWalk_EmptyLastPageEndsEntity(t *testing.T) {
	src := &fakeSource{
		entities: []Entity{{Key: "a"}, {Key: "b"}},
		pages: map[string][]Page[string]{
			"a": {page(false)},
			"b": {page(false, "b1")},
		},
	}
	got, err := collect(t, New[string](src))
	require.NoError(t, err)
	assert.Equal(t, []string{"b:b1"}, got)
}

func TestWalk_AdvanceFailureStalls(t *testing.T) {
	src := &fakeSource{
		entities:   []Entity{{Key: "a"}},
		pages:      map[string][]Page[string]{"a": {page(true, "a1"), page(false, "a2")}},
		advanceErr: errors.New("next link detached"),
	}
	got, err := collect(t, New[string](src))
	assert.Equal(t, []string{"a:a1"}, got)
	assert.ErrorIs(t, err, types.ErrTraversalStalled)
	assert.True(t, strings.Contains(err.Error(), "next link detached"))
}

func TestWalk_MaxPages(t *testing.T) {
	pages := make([]Page[string], 10)
	for i := range pages {
		pages[i] = page(true, string(rune('a'+i)))
	}
	src := &fakeSource{entities: []Entity{{Key: "a"}}, pages: map[string][]Page[string]{"a": pages}}

	got, err := collect(t, New[string](src, WithMaxPages(4)))
	assert.Len(t, got, 4)
	assert.ErrorIs(t, err, types.ErrTraversalStalled)
}

func TestWalk_LongHistoryHasNoDefaultCeiling(t *testing.T) {
	pages := make([]Page[string], 250)
	for i := range pages {
		pages[i] = page(i < len(pages)-1, fmt.Sprintf("p%03d", i))
	}
	src := &fakeSource{entities: []Entity{{Key: "a"}}, pages: map[string][]Page[string]{"a": pages}}

	e := New[string](src)
	got, err := collect(t, e)
	require.NoError(t, err)
	assert.Len(t, got, 250)
	assert.Equal(t, 250, e.State().PageCount())
}

func TestWalk_ConsumerStops(t *testing.T) {
	src := &fakeSource{
		entities: []Entity{{Key: "a"}},
		pages:    map[string][]Page[string]{"a": {page(true, "a1", "a2"), page(false, "a3")}},
	}
	e := New[string](src)

	n := 0
	for _, err := range e.Walk(context.Background()) {
		require.NoError(t, err)
		n++
		if n == 1 {
			break
		}
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, src.advances, "no advance after the consumer stopped")
}

func TestWalk_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	src := &fakeSource{
		entities: []Entity{{Key: "a"}},
		pages:    map[string][]Page[string]{"a": {page(true, "a1"), page(false, "a2")}},
	}

	var got []string
	var werr error
	for item, err := range New[string](src).Walk(ctx) {
		if err != nil {
			werr = err
			break
		}
		got = append(got, item.Value)
		cancel()
	}
	assert.Equal(t, []string{"a1"}, got)
	assert.ErrorIs(t, werr, types.ErrCancelled)
}

func TestWalk_DiscoverError(t *testing.T) {
	boom := errors.New("overview did not load")
	src := &fakeSource{discover: boom}
	_, err := collect(t, New[string](src))
	assert.ErrorIs(t, err, boom)
}
