package window

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunogya/tkg/pkg/enrich"
	"github.com/tunogya/tkg/pkg/model"
	"github.com/tunogya/tkg/pkg/store"
)

// ErrNoChain is returned by operations that need an active ticker
var ErrNoChain = errors.New("window: no ticker selected")

// ErrSuperseded is returned when a newer load replaced the chain first
var ErrSuperseded = errors.New("window: load superseded")

// Row is one window entry. Index is the position in the filtered chain.
type Row struct {
	Index int `json:"index"`
	model.Observation
	Labels map[model.Category]string `json:"labels,omitempty"`
}

// View is a consistent snapshot of the session
type View struct {
	Ticker   string         `json:"ticker"`
	Category model.Category `json:"category"`
	Start    int            `json:"start"`
	Width    int            `json:"width"`
	// Total is the filtered chain length, ChainLen the unfiltered one
	Total    int       `json:"total"`
	ChainLen int       `json:"chain_len"`
	Range    DateRange `json:"range"`
	Playing  bool      `json:"playing"`
	// Selected is a filtered-chain position or -1
	Selected int   `json:"selected"`
	Labeled  int   `json:"labeled"`
	Rows     []Row `json:"rows"`
}

// SelectedRow returns the selected observation when it is visible
func (v *View) SelectedRow() (Row, bool) {
	for _, r := range v.Rows {
		if r.Index == v.Selected {
			return r, true
		}
	}
	return Row{}, false
}

// SearchResult is the outcome of a label search
type SearchResult struct {
	Query    string `json:"query"`
	Matches  []int  `json:"matches"`
	Selected int    `json:"selected"`
	View     View   `json:"view"`
}

// Config tunes a Service
type Config struct {
	Width    int
	Lead     int
	Interval time.Duration
	PageSize int
}

// Service owns the active ticker's chain and playback state. Store and
// labeler calls run without the lock held; their results are applied only
// if no newer load replaced the chain in the meantime.
type Service struct {
	reader   store.ChainReader
	width    int
	lead     int
	pageSize int
	logger   zerolog.Logger
	player   *Player

	mu       sync.Mutex
	ticker   string
	full     *model.Chain
	chain    *model.Chain
	rng      DateRange
	category model.Category
	start    int
	selected int
	playing  bool
	// loadSeq orders load requests; chainSeq changes only when a load commits
	loadSeq  uint64
	chainSeq uint64

	watchers map[int]chan View
	nextID   int
}

// NewService creates an idle service reading chains from r
func NewService(r store.ChainReader, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Lead <= 0 {
		cfg.Lead = DefaultLead
	}
	s := &Service{
		reader:   r,
		width:    cfg.Width,
		lead:     cfg.Lead,
		pageSize: cfg.PageSize,
		logger:   logger,
		category: model.CategoryGeneral,
		selected: -1,
		watchers: make(map[int]chan View),
	}
	s.player = NewPlayer(cfg.Interval, s.tick)
	return s
}

// SelectTicker loads a ticker's chain and resets playback, selection and
// the date filter. On a store error the previous state is kept.
func (s *Service) SelectTicker(ctx context.Context, ticker string) (View, error) {
	ticker = model.NormalizeTicker(ticker)
	if ticker == "" {
		return View{}, fmt.Errorf("ticker is required")
	}

	seq := s.beginLoad()
	chain, err := store.FetchChain(ctx, s.reader, ticker, s.pageSize)
	if err != nil {
		s.logger.Error().Err(err).Str("ticker", ticker).Msg("failed to load chain")
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.loadSeq {
		return s.viewLocked(), fmt.Errorf("load of %s: %w", ticker, ErrSuperseded)
	}

	s.stopLocked()
	s.ticker = ticker
	s.full = chain
	s.chainSeq++
	s.rng = DateRange{}
	s.chain = chain
	s.start = 0
	s.selected = -1

	s.logger.Info().Str("ticker", ticker).Int("observations", chain.Len()).Msg("chain loaded")
	return s.notifyLocked(), nil
}

// Reload refetches the active ticker, keeping the filter, category and a
// clamped start. Used after regeneration or out-of-band labeling.
func (s *Service) Reload(ctx context.Context) (View, error) {
	s.mu.Lock()
	ticker := s.ticker
	s.mu.Unlock()
	if ticker == "" {
		return View{}, ErrNoChain
	}

	seq := s.beginLoad()
	chain, err := store.FetchChain(ctx, s.reader, ticker, s.pageSize)
	if err != nil {
		s.logger.Error().Err(err).Str("ticker", ticker).Msg("failed to reload chain")
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if seq != s.loadSeq || s.ticker != ticker {
		return s.viewLocked(), fmt.Errorf("reload of %s: %w", ticker, ErrSuperseded)
	}

	s.full = chain
	s.chainSeq++
	s.chain = s.rng.Apply(chain)
	s.start = ClampStart(s.start, s.chain.Len(), s.width)
	if s.selected >= s.chain.Len() {
		s.selected = -1
	}
	if s.playing && AtEnd(s.start, s.chain.Len(), s.width) {
		s.stopLocked()
	}
	return s.notifyLocked(), nil
}

func (s *Service) beginLoad() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadSeq++
	return s.loadSeq
}

// Ticker returns the active ticker
func (s *Service) Ticker() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticker
}

// Chain returns the unfiltered chain of the active ticker
func (s *Service) Chain() (*model.Chain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full == nil {
		return nil, ErrNoChain
	}
	return s.full, nil
}

// View returns the current snapshot
func (s *Service) View() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full == nil {
		return View{}, ErrNoChain
	}
	return s.viewLocked(), nil
}

// SetStart moves the window and stops autoplay
func (s *Service) SetStart(start int) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full == nil {
		return View{}, ErrNoChain
	}

	s.stopLocked()
	s.start = ClampStart(start, s.chain.Len(), s.width)
	return s.notifyLocked(), nil
}

// SetDateRange filters the chain and resets playback to the first position
func (s *Service) SetDateRange(r DateRange) (View, error) {
	if err := r.Validate(); err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full == nil {
		return View{}, ErrNoChain
	}

	s.stopLocked()
	s.rng = r
	s.chain = r.Apply(s.full)
	s.start = 0
	s.selected = -1
	return s.notifyLocked(), nil
}

// SetCategory changes the active label category
func (s *Service) SetCategory(cat model.Category) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full == nil {
		return View{}, ErrNoChain
	}

	s.category = cat
	return s.notifyLocked(), nil
}

// Select marks a filtered-chain position as selected; -1 clears it
func (s *Service) Select(index int) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full == nil {
		return View{}, ErrNoChain
	}
	if index < -1 || index >= s.chain.Len() {
		return View{}, fmt.Errorf("index %d out of range [0,%d)", index, s.chain.Len())
	}

	s.selected = index
	return s.notifyLocked(), nil
}

// SelectDate selects the observation on a calendar date, moving the window
// to it when it is not visible
func (s *Service) SelectDate(date time.Time) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full == nil {
		return View{}, ErrNoChain
	}

	i := s.chain.IndexOfDate(date)
	if i < 0 {
		return View{}, fmt.Errorf("no observation on %s: %w", date.Format(model.DateLayout), store.ErrNotFound)
	}
	s.selected = i
	if start, end := Bounds(s.start, s.chain.Len(), s.width); i < start || i >= end {
		s.stopLocked()
		s.start = Recenter(i, s.chain.Len(), s.width, s.lead)
	}
	return s.notifyLocked(), nil
}

// Search finds observations whose active-category label contains query.
// On a match the window recenters on the first one and selects it.
func (s *Service) Search(query string) (SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full == nil {
		return SearchResult{}, ErrNoChain
	}

	res := SearchResult{Query: query, Selected: -1}
	res.Matches = Search(s.chain, s.category, query)
	if len(res.Matches) > 0 {
		first := res.Matches[0]
		s.stopLocked()
		s.start = Recenter(first, s.chain.Len(), s.width, s.lead)
		s.selected = first
		res.Selected = first
		res.View = s.notifyLocked()
		return res, nil
	}
	res.View = s.viewLocked()
	return res, nil
}

// Play starts autoplay. It is a no-op when the window is already at the end.
func (s *Service) Play() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full == nil {
		return View{}, ErrNoChain
	}

	if s.playing || AtEnd(s.start, s.chain.Len(), s.width) {
		return s.viewLocked(), nil
	}
	s.playing = true
	// a run that just reached the end may not have cleared itself yet
	s.player.Stop()
	s.player.Start()
	return s.notifyLocked(), nil
}

// Pause stops autoplay
func (s *Service) Pause() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full == nil {
		return View{}, ErrNoChain
	}

	s.stopLocked()
	return s.notifyLocked(), nil
}

// Enrich labels the next batch of the active ticker in cat over the full
// chain. The guard serializes batches per (ticker, category); merged labels
// are applied only if the chain was not reloaded meanwhile.
func (s *Service) Enrich(ctx context.Context, b *enrich.Batcher, g *enrich.Guard, cat model.Category) (*enrich.Result, error) {
	s.mu.Lock()
	chain, seq := s.full, s.chainSeq
	s.mu.Unlock()
	if chain == nil {
		return nil, ErrNoChain
	}

	release, err := g.Acquire(chain.Ticker, cat)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := b.Next(ctx, chain, cat)
	if res != nil && len(res.Labels) > 0 {
		s.applyLabels(seq, res.Labels)
	}
	return res, err
}

// applyLabels merges labels into the current chain when seq still names the
// committed chain. Failed or superseded loads leave it in place.
func (s *Service) applyLabels(seq uint64, labels []model.SemanticLabel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.full == nil || seq != s.chainSeq {
		return false
	}
	s.full = s.full.WithLabels(s.full.Labels.Merge(labels))
	s.chain = s.rng.Apply(s.full)
	s.notifyLocked()
	return true
}

// Watch subscribes to view changes. The channel holds the latest view
// only; slow readers miss intermediate frames.
func (s *Service) Watch() (<-chan View, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan View, 1)
	s.watchers[id] = ch
	if s.full != nil {
		ch <- s.viewLocked()
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Close stops autoplay and waits for the player to exit
func (s *Service) Close() {
	s.mu.Lock()
	s.stopLocked()
	s.mu.Unlock()
	s.player.Close()
}

func (s *Service) tick(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx.Err() != nil || !s.playing || s.chain == nil {
		return false
	}
	if AtEnd(s.start, s.chain.Len(), s.width) {
		s.playing = false
		s.notifyLocked()
		return false
	}

	s.start++
	if AtEnd(s.start, s.chain.Len(), s.width) {
		s.playing = false
	}
	s.notifyLocked()
	return s.playing
}

func (s *Service) stopLocked() {
	s.playing = false
	s.player.Stop()
}

func (s *Service) viewLocked() View {
	v := View{
		Ticker:   s.ticker,
		Category: s.category,
		Width:    s.width,
		Range:    s.rng,
		Playing:  s.playing,
		Selected: s.selected,
	}
	if s.chain == nil {
		return v
	}

	v.Total = s.chain.Len()
	v.ChainLen = s.full.Len()
	v.Labeled, _ = s.full.Coverage(s.category)

	start, end := Bounds(s.start, s.chain.Len(), s.width)
	v.Start = start
	v.Rows = make([]Row, 0, end-start)
	for i := start; i < end; i++ {
		o := s.chain.Observations[i]
		row := Row{Index: i, Observation: o}
		if labels := s.chain.Labels.For(o.ID); len(labels) > 0 {
			row.Labels = labels
		}
		v.Rows = append(v.Rows, row)
	}
	return v
}

func (s *Service) notifyLocked() View {
	v := s.viewLocked()
	for _, ch := range s.watchers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
	return v
}
