package window

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunogya/tkg/pkg/enrich"
	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/store"
	"github.com/tunogya/tkg/pkg/store/memory"
)

type flakyReader struct {
	store.ChainReader
	fail atomic.Bool
}

func (r *flakyReader) ObservationsPage(ctx context.Context, ticker string, offset, limit int) ([]model.LabeledObservation, error) {
	if r.fail.Load() {
		return nil, errors.New("connection reset")
	}
	return r.ChainReader.ObservationsPage(ctx, ticker, offset, limit)
}

func seedStore(t *testing.T, counts map[string]int) *memory.Store {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	for ticker, n := range counts {
		bars := make([]model.RawBar, n)
		for i := range bars {
			c := 10 + float64(i%7)
			bars[i] = model.RawBar{Ticker: ticker, Date: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: int64(100 + i)}
		}
		require.NoError(t, s.InsertBars(ctx, bars))
	}
	_, err := store.Regenerate(ctx, s, 0)
	require.NoError(t, err)
	return s
}

func labelAt(t *testing.T, s *memory.Store, ticker string, pos int, cat model.Category, text string) {
	t.Helper()
	chain, err := store.FetchChain(context.Background(), s, ticker, 0)
	require.NoError(t, err)
	require.NoError(t, s.UpsertLabels(context.Background(), []model.SemanticLabel{
		{ObservationID: chain.Observations[pos].ID, Category: cat, Label: text},
	}))
}

func newTestService(r store.ChainReader) *Service {
	return NewService(r, Config{Interval: 5 * time.Millisecond}, zerolog.Nop())
}

func TestServiceRequiresTicker(t *testing.T) {
	svc := newTestService(memory.New())
	defer svc.Close()

	_, err := svc.View()
	assert.ErrorIs(t, err, ErrNoChain)
	_, err = svc.SetStart(3)
	assert.ErrorIs(t, err, ErrNoChain)
	_, err = svc.Play()
	assert.ErrorIs(t, err, ErrNoChain)
	_, err = svc.Reload(context.Background())
	assert.ErrorIs(t, err, ErrNoChain)
}

func TestServiceWindowAndSearch(t *testing.T) {
	s := seedStore(t, map[string]int{"AAA": 100})
	labelAt(t, s, "AAA", 60, model.CategoryGeneral, "Hammer reversal")
	svc := newTestService(s)
	defer svc.Close()

	v, err := svc.SelectTicker(context.Background(), "aaa")
	require.NoError(t, err)
	assert.Equal(t, "AAA", v.Ticker)
	assert.Equal(t, 0, v.Start)
	assert.Equal(t, -1, v.Selected)
	assert.Len(t, v.Rows, DefaultWidth)
	assert.Equal(t, 1, v.Labeled)

	v, err = svc.SetStart(500)
	require.NoError(t, err)
	assert.Equal(t, 70, v.Start)
	assert.Len(t, v.Rows, DefaultWidth)

	res, err := svc.Search("HAMMER")
	require.NoError(t, err)
	assert.Equal(t, []int{60}, res.Matches)
	assert.Equal(t, 60, res.Selected)
	assert.Equal(t, 45, res.View.Start)
	row, ok := res.View.SelectedRow()
	require.True(t, ok)
	assert.Equal(t, "Hammer reversal", row.Labels[model.CategoryGeneral])

	// Labels of another category do not match
	_, err = svc.SetCategory(model.CategoryRLow)
	require.NoError(t, err)
	res, err = svc.Search("hammer")
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.Equal(t, 45, res.View.Start)
}

func TestServiceDateRangeAndTickerSwitch(t *testing.T) {
	s := seedStore(t, map[string]int{"AAA": 100, "BBB": 10})
	svc := newTestService(s)
	defer svc.Close()
	ctx := context.Background()

	_, err := svc.SelectTicker(ctx, "AAA")
	require.NoError(t, err)
	_, err = svc.SetStart(40)
	require.NoError(t, err)
	_, err = svc.Select(50)
	require.NoError(t, err)

	r, err := ParseDateRange("2021-01-11", "2021-02-19")
	require.NoError(t, err)
	v, err := svc.SetDateRange(r)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Start)
	assert.Equal(t, -1, v.Selected)
	assert.Equal(t, 40, v.Total)
	assert.Equal(t, 100, v.ChainLen)
	assert.Equal(t, "2021-01-11", v.Rows[0].DateKey())

	v, err = svc.SelectTicker(ctx, "BBB")
	require.NoError(t, err)
	assert.True(t, v.Range.IsZero())
	assert.Equal(t, 10, v.Total)
	assert.Len(t, v.Rows, 10)
	assert.Equal(t, 0, v.Start)

	_, err = svc.Select(10)
	assert.Error(t, err)
}

func TestServiceKeepsChainOnStoreFailure(t *testing.T) {
	s := seedStore(t, map[string]int{"AAA": 40, "BBB": 40})
	reader := &flakyReader{ChainReader: s}
	svc := newTestService(reader)
	defer svc.Close()
	ctx := context.Background()

	_, err := svc.SelectTicker(ctx, "AAA")
	require.NoError(t, err)
	_, err = svc.SetStart(5)
	require.NoError(t, err)

	reader.fail.Store(true)
	_, err = svc.SelectTicker(ctx, "BBB")
	require.Error(t, err)
	_, err = svc.Reload(ctx)
	require.Error(t, err)

	v, err := svc.View()
	require.NoError(t, err)
	assert.Equal(t, "AAA", v.Ticker)
	assert.Equal(t, 5, v.Start)
	assert.Equal(t, 40, v.Total)
}

func TestServiceAutoplay(t *testing.T) {
	s := seedStore(t, map[string]int{"AAA": 35})
	svc := newTestService(s)
	defer svc.Close()

	_, err := svc.SelectTicker(context.Background(), "AAA")
	require.NoError(t, err)

	v, err := svc.Play()
	require.NoError(t, err)
	assert.True(t, v.Playing)

	require.Eventually(t, func() bool {
		v, _ := svc.View()
		return !v.Playing
	}, 2*time.Second, 5*time.Millisecond)

	v, err = svc.View()
	require.NoError(t, err)
	assert.Equal(t, 5, v.Start)

	// Already at the end: play is a no-op
	v, err = svc.Play()
	require.NoError(t, err)
	assert.False(t, v.Playing)
}

func TestServiceManualMoveStopsAutoplay(t *testing.T) {
	s := seedStore(t, map[string]int{"AAA": 500})
	svc := newTestService(s)
	defer svc.Close()

	_, err := svc.SelectTicker(context.Background(), "AAA")
	require.NoError(t, err)
	_, err = svc.Play()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		v, _ := svc.View()
		return v.Start >= 2
	}, 2*time.Second, 5*time.Millisecond)

	v, err := svc.SetStart(100)
	require.NoError(t, err)
	assert.False(t, v.Playing)

	time.Sleep(30 * time.Millisecond)
	v, err = svc.View()
	require.NoError(t, err)
	assert.Equal(t, 100, v.Start)
}

func TestServiceEnrich(t *testing.T) {
	s := seedStore(t, map[string]int{"AAA": 20})
	svc := newTestService(s)
	defer svc.Close()
	ctx := context.Background()

	_, err := svc.SelectTicker(ctx, "AAA")
	require.NoError(t, err)

	labeler := enrich.LabelerFunc(func(ctx context.Context, req enrich.Request) ([]enrich.Suggestion, error) {
		out := make([]enrich.Suggestion, 0, len(req.Items))
		for _, it := range req.Items {
			out = append(out, enrich.Suggestion{Index: it.Index, Label: fmt.Sprintf("day %d", it.Position)})
		}
		return out, nil
	})
	b := enrich.NewBatcher(labeler, s)
	g := enrich.NewGuard()

	release, err := g.Acquire("AAA", model.CategoryGeneral)
	require.NoError(t, err)
	_, err = svc.Enrich(ctx, b, g, model.CategoryGeneral)
	assert.ErrorIs(t, err, enrich.ErrInFlight)
	release()

	res, err := svc.Enrich(ctx, b, g, model.CategoryGeneral)
	require.NoError(t, err)
	assert.Equal(t, 19, res.Written)
	assert.True(t, res.Done())

	v, err := svc.View()
	require.NoError(t, err)
	assert.Equal(t, 19, v.Labeled)
	assert.Equal(t, "day 5", v.Rows[5].Labels[model.CategoryGeneral])

	res, err = svc.Enrich(ctx, b, g, model.CategoryGeneral)
	require.NoError(t, err)
	assert.Zero(t, res.Written)
}

func TestServiceEnrichSurvivesFailedLoad(t *testing.T) {
	s := seedStore(t, map[string]int{"AAA": 10, "BBB": 10})
	r := &flakyReader{ChainReader: s}
	svc := newTestService(r)
	defer svc.Close()
	ctx := context.Background()

	_, err := svc.SelectTicker(ctx, "AAA")
	require.NoError(t, err)

	labeler := enrich.LabelerFunc(func(ctx context.Context, req enrich.Request) ([]enrich.Suggestion, error) {
		r.fail.Store(true)
		_, lerr := svc.SelectTicker(ctx, "BBB")
		r.fail.Store(false)
		require.Error(t, lerr)

		out := make([]enrich.Suggestion, 0, len(req.Items))
		for _, it := range req.Items {
			out = append(out, enrich.Suggestion{Index: it.Index, Label: "move"})
		}
		return out, nil
	})

	res, err := svc.Enrich(ctx, enrich.NewBatcher(labeler, s), enrich.NewGuard(), model.CategoryGeneral)
	require.NoError(t, err)
	assert.Equal(t, 9, res.Written)

	v, err := svc.View()
	require.NoError(t, err)
	assert.Equal(t, "AAA", v.Ticker)
	assert.Equal(t, 9, v.Labeled)
}

func TestServiceEnrichDroppedAfterTickerChange(t *testing.T) {
	s := seedStore(t, map[string]int{"AAA": 10, "BBB": 10})
	svc := newTestService(s)
	defer svc.Close()
	ctx := context.Background()

	_, err := svc.SelectTicker(ctx, "AAA")
	require.NoError(t, err)

	labeler := enrich.LabelerFunc(func(ctx context.Context, req enrich.Request) ([]enrich.Suggestion, error) {
		_, lerr := svc.SelectTicker(ctx, "BBB")
		require.NoError(t, lerr)
		return []enrich.Suggestion{{Index: 2, Label: "move"}}, nil
	})

	res, err := svc.Enrich(ctx, enrich.NewBatcher(labeler, s), enrich.NewGuard(), model.CategoryGeneral)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Written)

	v, err := svc.View()
	require.NoError(t, err)
	assert.Equal(t, "BBB", v.Ticker)
	assert.Zero(t, v.Labeled)
}

func TestServiceWatch(t *testing.T) {
	s := seedStore(t, map[string]int{"AAA": 50})
	svc := newTestService(s)
	defer svc.Close()

	ch, cancel := svc.Watch()
	defer cancel()

	_, err := svc.SelectTicker(context.Background(), "AAA")
	require.NoError(t, err)
	_, err = svc.SetStart(7)
	require.NoError(t, err)

	select {
	case v := <-ch:
		assert.Equal(t, 7, v.Start)
	case <-time.After(time.Second):
		t.Fatal("no view received")
	}
}
