package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/store"
	"github.com/tunogya/tkg/pkg/store/memory"
)

type fakeLabeler struct {
	mu       sync.Mutex
	requests []Request
	fn       func(req Request) ([]Suggestion, error)
}

func (f *fakeLabeler) LabelBatch(ctx context.Context, req Request) ([]Suggestion, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.fn(req)
}

// labelAll answers for every item; the batcher drops index 1, the context item
func labelAll(req Request) ([]Suggestion, error) {
	out := make([]Suggestion, 0, len(req.Items))
	for _, it := range req.Items {
		out = append(out, Suggestion{Index: it.Index, Label: fmt.Sprintf("move %d", it.Position)})
	}
	return out, nil
}

func newChain(t *testing.T, n int) (*memory.Store, *model.Chain) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()

	bars := make([]model.RawBar, n)
	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		c := 50 + float64(i%11)
		bars[i] = model.RawBar{Ticker: "TKG", Date: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10}
	}
	require.NoError(t, s.InsertBars(ctx, bars))
	_, err := store.Regenerate(ctx, s, 0)
	require.NoError(t, err)

	chain, err := store.FetchChain(ctx, s, "TKG", 0)
	require.NoError(t, err)
	return s, chain
}

func TestBounds(t *testing.T) {
	start, end := Bounds(1, 400, DefaultBatchSize)
	assert.Equal(t, 0, start)
	assert.Equal(t, 151, end)

	start, end = Bounds(151, 400, DefaultBatchSize)
	assert.Equal(t, 150, start)
	assert.Equal(t, 301, end)

	start, end = Bounds(350, 360, DefaultBatchSize)
	assert.Equal(t, 349, start)
	assert.Equal(t, 360, end)
}

func TestNextReachesFullCoverage(t *testing.T) {
	s, chain := newChain(t, 400)
	labeler := &fakeLabeler{fn: labelAll}
	b := NewBatcher(labeler, s)
	ctx := context.Background()

	var calls int
	for i := 0; i < 10; i++ {
		res, err := b.Next(ctx, chain, model.CategoryGeneral)
		require.NoError(t, err)
		assert.Equal(t, StateComplete, res.State)
		if res.Chain == nil {
			break
		}
		calls++
		chain = res.Chain
	}

	assert.Equal(t, 3, calls)
	assert.Len(t, labeler.requests, 3)
	assert.Equal(t, 0, labeler.requests[0].Offset)
	assert.Equal(t, 150, labeler.requests[1].Offset)
	assert.Equal(t, 300, labeler.requests[2].Offset)
	assert.Len(t, labeler.requests[2].Items, 100)

	assert.False(t, chain.Labels.Has(chain.Observations[0].ID, model.CategoryGeneral))
	labeled, total := chain.Coverage(model.CategoryGeneral)
	assert.Equal(t, total, labeled)
	assert.Equal(t, 399, s.LabelCount())

	// Once covered, further calls are no-ops
	res, err := b.Next(ctx, chain, model.CategoryGeneral)
	require.NoError(t, err)
	assert.True(t, res.Done())
	assert.Nil(t, res.Chain)
	assert.Len(t, labeler.requests, 3)

	// Another category starts from scratch
	res, err = b.Next(ctx, chain, model.CategoryRHigh)
	require.NoError(t, err)
	assert.Equal(t, 150, res.Written)
}

func TestNextRequestShape(t *testing.T) {
	s, chain := newChain(t, 5)
	labeler := &fakeLabeler{fn: labelAll}
	b := NewBatcher(labeler, s)

	_, err := b.Next(context.Background(), chain, model.CategoryROpen)
	require.NoError(t, err)

	require.Len(t, labeler.requests, 1)
	req := labeler.requests[0]
	assert.Equal(t, "TKG", req.Ticker)
	assert.Equal(t, model.CategoryROpen, req.Category)
	require.Len(t, req.Items, 5)
	for i, it := range req.Items {
		assert.Equal(t, i+1, it.Index)
		assert.Equal(t, i, it.Position)
		assert.Equal(t, chain.Observations[i].Date, it.Date)
	}
	assert.Equal(t, model.StateVector{}, req.Items[0].Delta)
	assert.Equal(t, chain.Observations[2].State.Sub(chain.Observations[1].State), req.Items[2].Delta)
}

func TestNextMapsRelativeIndexes(t *testing.T) {
	s, chain := newChain(t, 10)
	ctx := context.Background()

	// Label positions 1..4 so the next batch starts at position 4
	var seed []model.SemanticLabel
	for i := 1; i <= 4; i++ {
		seed = append(seed, model.SemanticLabel{ObservationID: chain.Observations[i].ID, Category: model.CategoryGeneral, Label: "seed"})
	}
	require.NoError(t, s.UpsertLabels(ctx, seed))
	chain = chain.WithLabels(chain.Labels.Merge(seed))

	labeler := &fakeLabeler{fn: func(req Request) ([]Suggestion, error) {
		return []Suggestion{
			{Index: 1, Label: "context"},
			{Index: 2, Label: "Gap Fill"},
			{Index: 0, Label: "ignored"},
			{Index: 99, Label: "ignored"},
			{Index: 3, Label: "   "},
		}, nil
	}}
	b := NewBatcher(labeler, s)

	res, err := b.Next(ctx, chain, model.CategoryGeneral)
	require.NoError(t, err)
	assert.Equal(t, 4, res.BatchStart)
	assert.Equal(t, 10, res.BatchEnd)
	assert.Equal(t, 5, res.Suggested)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 4, res.Remaining)

	label, ok := res.Chain.Labels.Get(chain.Observations[5].ID, model.CategoryGeneral)
	require.True(t, ok)
	assert.Equal(t, "Gap Fill", label)

	// The context item keeps its earlier label
	label, _ = res.Chain.Labels.Get(chain.Observations[4].ID, model.CategoryGeneral)
	assert.Equal(t, "seed", label)

	// The input chain is not mutated
	assert.False(t, chain.Labels.Has(chain.Observations[5].ID, model.CategoryGeneral))
}

func TestNextNeverLabelsFirstObservation(t *testing.T) {
	s, chain := newChain(t, 3)
	labeler := &fakeLabeler{fn: func(req Request) ([]Suggestion, error) {
		return []Suggestion{{Index: 1, Label: "Origin"}, {Index: 2, Label: "Step"}}, nil
	}}

	res, err := NewBatcher(labeler, s).Next(context.Background(), chain, model.CategoryGeneral)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)
	assert.False(t, res.Chain.Labels.Has(chain.Observations[0].ID, model.CategoryGeneral))
}

func TestNextLabelerFailure(t *testing.T) {
	s, chain := newChain(t, 4)
	boom := errors.New("model unavailable")
	labeler := &fakeLabeler{fn: func(req Request) ([]Suggestion, error) { return nil, boom }}

	res, err := NewBatcher(labeler, s).Next(context.Background(), chain, model.CategoryGeneral)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateComplete, res.State)
	assert.Nil(t, res.Chain)
	assert.Equal(t, 3, res.Remaining)
	assert.Equal(t, 0, s.LabelCount())
}

func TestNextNoProgress(t *testing.T) {
	s, chain := newChain(t, 4)
	labeler := &fakeLabeler{fn: func(req Request) ([]Suggestion, error) { return nil, nil }}

	_, err := NewBatcher(labeler, s).Next(context.Background(), chain, model.CategoryGeneral)
	require.ErrorIs(t, err, ErrNoProgress)
}

func TestNextContextOnlyIsNoProgress(t *testing.T) {
	s, chain := newChain(t, 6)
	ctx := context.Background()
	seed := []model.SemanticLabel{{ObservationID: chain.Observations[1].ID, Category: model.CategoryGeneral, Label: "seed"}}
	require.NoError(t, s.UpsertLabels(ctx, seed))
	chain = chain.WithLabels(chain.Labels.Merge(seed))

	labeler := &fakeLabeler{fn: func(req Request) ([]Suggestion, error) {
		return []Suggestion{{Index: 1, Label: "again"}}, nil
	}}

	_, err := NewBatcher(labeler, s).Next(ctx, chain, model.CategoryGeneral)
	require.ErrorIs(t, err, ErrNoProgress)
	label, _ := chain.Labels.Get(chain.Observations[1].ID, model.CategoryGeneral)
	assert.Equal(t, "seed", label)
	assert.Equal(t, 1, s.LabelCount())
}

func TestNextRewriteIsNoProgress(t *testing.T) {
	s, chain := newChain(t, 10)
	ctx := context.Background()

	// Gap at 5 with 6 already labeled; the batch starts at 4
	var seed []model.SemanticLabel
	for _, i := range []int{1, 2, 3, 4, 6} {
		seed = append(seed, model.SemanticLabel{ObservationID: chain.Observations[i].ID, Category: model.CategoryGeneral, Label: "seed"})
	}
	require.NoError(t, s.UpsertLabels(ctx, seed))
	chain = chain.WithLabels(chain.Labels.Merge(seed))

	labeler := &fakeLabeler{fn: func(req Request) ([]Suggestion, error) {
		return []Suggestion{{Index: 3, Label: "rewrite"}}, nil
	}}

	res, err := NewBatcher(labeler, s).Next(ctx, chain, model.CategoryGeneral)
	require.ErrorIs(t, err, ErrNoProgress)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 4, res.Remaining)
}

func TestDrainStopsWithoutProgress(t *testing.T) {
	s, chain := newChain(t, 5)
	var calls int
	labeler := &fakeLabeler{fn: func(req Request) ([]Suggestion, error) {
		calls++
		if calls == 1 {
			return []Suggestion{{Index: 2, Label: "a"}, {Index: 3, Label: "b"}}, nil
		}
		return []Suggestion{{Index: 1, Label: "context"}}, nil
	}}
	b := NewBatcher(labeler, s, WithBatchSize(3))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, batches, err := b.Drain(ctx, chain, model.CategoryGeneral, 0)
	require.ErrorIs(t, err, ErrNoProgress)
	assert.Equal(t, 1, batches)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, res.Remaining)
	assert.Len(t, res.Labels, 2)
}

func TestNextTimeout(t *testing.T) {
	s, chain := newChain(t, 4)
	blocking := LabelerFunc(func(ctx context.Context, req Request) ([]Suggestion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := NewBatcher(blocking, s, WithTimeout(10*time.Millisecond)).Next(context.Background(), chain, model.CategoryGeneral)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNextShortChain(t *testing.T) {
	s, chain := newChain(t, 1)
	labeler := &fakeLabeler{fn: labelAll}

	res, err := NewBatcher(labeler, s).Next(context.Background(), chain, model.CategoryGeneral)
	require.NoError(t, err)
	assert.True(t, res.Done())
	assert.Empty(t, labeler.requests)
}

func TestDrain(t *testing.T) {
	s, chain := newChain(t, 320)
	labeler := &fakeLabeler{fn: labelAll}
	b := NewBatcher(labeler, s, WithBatchSize(101))

	res, batches, err := b.Drain(context.Background(), chain, model.CategoryGeneral, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, batches)
	assert.False(t, res.Done())

	res, batches, err = b.Drain(context.Background(), res.Chain, model.CategoryGeneral, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, batches)
	assert.True(t, res.Done())
	assert.Equal(t, 319, s.LabelCount())
}

func TestGuard(t *testing.T) {
	g := NewGuard()

	release, err := g.Acquire("AAPL", model.CategoryGeneral)
	require.NoError(t, err)
	assert.True(t, g.Busy("AAPL", model.CategoryGeneral))

	_, err = g.Acquire("AAPL", model.CategoryGeneral)
	assert.ErrorIs(t, err, ErrInFlight)

	other, err := g.Acquire("AAPL", model.CategoryRLow)
	require.NoError(t, err)
	other()

	release()
	release()
	assert.False(t, g.Busy("AAPL", model.CategoryGeneral))

	release, err = g.Acquire("AAPL", model.CategoryGeneral)
	require.NoError(t, err)
	release()
}
