package search

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kikidoko/kikidoko-go/internal/equipment"
	"github.com/kikidoko/kikidoko-go/internal/logger"
	"github.com/kikidoko/kikidoko-go/internal/metrics"
	"github.com/kikidoko/kikidoko-go/internal/store"
)

// View is what one search interaction renders: the ranked slice of the
// current page plus enough paging state for the controls.
type View struct {
	Items       []RankedItem `json:"items"`
	PageIndex   int          `json:"page_index"`
	HasNext     bool         `json:"has_next"`
	LoadedPages int          `json:"loaded_pages"`
	Degraded    bool         `json:"degraded"`
	Total       int          `json:"total_on_page"`
}

// Engine ties the planner, pager, augmenter and ranker together behind
// the operations the transport layer exposes. One engine serves one
// user session; it is safe for concurrent use, the pager's generation
// guard resolves races between facet changes and in-flight loads.
type Engine struct {
	pager     *Pager
	augmenter *Augmenter
	origin    *equipment.Coordinate
	pageSize  int
	log       *logger.Logger

	// Augmenter hits are memoized per facet set so every render of the
	// generation, including free backward jumps, merges the same exact
	// matches. A facet change simply misses the cache.
	mu         sync.Mutex
	exactFor   equipment.SearchFacets
	exactHits  []equipment.Record
	exactValid bool
}

// NewEngine builds a session-scoped search engine. origin is the user's
// coordinate when known, nil otherwise.
func NewEngine(reader store.Reader, log *logger.Logger, m *metrics.Metrics, pageSize int, origin *equipment.Coordinate) *Engine {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Engine{
		pager:     NewPager(reader, log, m, pageSize),
		augmenter: NewAugmenter(reader, log, m),
		origin:    origin,
		pageSize:  pageSize,
		log:       log.WithModule("search"),
	}
}

// Search applies a facet set and loads the first page. A facet set equal
// to the current one still restarts the generation, which doubles as the
// retry path after a transient failure.
func (e *Engine) Search(ctx context.Context, facets equipment.SearchFacets) (View, error) {
	facets = facets.Canonical()
	e.pager.Reset(facets)

	var (
		snap    PageSnapshot
		exact   []equipment.Record
		exactOK bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := e.pager.LoadFirstPage(gctx)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	g.Go(func() error {
		// Independent of pagination; merged at render time.
		hits, err := e.augmenter.ExactMatches(gctx, facets.Keyword, facets)
		if err != nil {
			e.log.WithError(err).Warn("exact-match augmentation failed, continuing with paged results")
			return nil
		}
		exact = hits
		exactOK = true
		return nil
	})
	if err := g.Wait(); err != nil {
		return View{}, err
	}
	if exactOK {
		e.storeExact(facets, exact)
	}
	return e.render(snap, exact), nil
}

// NextPage loads (or replays) the page after the current one.
func (e *Engine) NextPage(ctx context.Context) (View, error) {
	snap, err := e.pager.LoadNextPage(ctx)
	if err != nil {
		return View{}, err
	}
	return e.renderWithAugment(ctx, snap)
}

// PreviousPage steps back one page. Backward jumps replay the cached
// page; the pager never touches the store for them.
func (e *Engine) PreviousPage(ctx context.Context) (View, error) {
	snap, ok := e.pager.Snapshot()
	if !ok {
		return View{}, nil
	}
	if snap.Index > 0 {
		prev, err := e.pager.JumpBackward(snap.Index - 1)
		if err != nil {
			return View{}, err
		}
		snap = prev
	}
	return e.renderWithAugment(ctx, snap)
}

// GoToPage jumps to an arbitrary page index, loading intermediate pages
// forward as needed. Past-the-end targets settle on the last page that
// exists.
func (e *Engine) GoToPage(ctx context.Context, index int) (View, error) {
	snap, ok := e.pager.Snapshot()
	if !ok {
		return View{}, nil
	}
	var (
		target PageSnapshot
		err    error
	)
	switch {
	case index <= 0:
		target, err = e.pager.JumpToFirst()
	case index < snap.LoadedPages:
		target, err = e.pager.JumpBackward(index)
	default:
		target, err = e.pager.JumpForward(ctx, index)
	}
	if err != nil {
		return View{}, err
	}
	return e.renderWithAugment(ctx, target)
}

// LastLoadedPage jumps to the highest page fetched so far.
func (e *Engine) LastLoadedPage(ctx context.Context) (View, error) {
	snap, err := e.pager.JumpToLastLoaded()
	if err != nil {
		return View{}, err
	}
	return e.renderWithAugment(ctx, snap)
}

// Current re-renders the latest loaded page without any remote calls.
func (e *Engine) Current(ctx context.Context) (View, bool) {
	snap, ok := e.pager.Snapshot()
	if !ok {
		return View{}, false
	}
	view, err := e.renderWithAugment(ctx, snap)
	if err != nil {
		return e.render(snap, nil), true
	}
	return view, true
}

// Facets returns the active facet set.
func (e *Engine) Facets() equipment.SearchFacets {
	return e.pager.Facets()
}

func (e *Engine) renderWithAugment(ctx context.Context, snap PageSnapshot) (View, error) {
	facets := e.pager.Facets()
	exact, ok := e.cachedExact(facets)
	if !ok {
		hits, err := e.augmenter.ExactMatches(ctx, facets.Keyword, facets)
		if err != nil {
			e.log.WithError(err).Warn("exact-match augmentation failed, continuing with paged results")
			return e.render(snap, nil), nil
		}
		e.storeExact(facets, hits)
		exact = hits
	}
	return e.render(snap, exact), nil
}

func (e *Engine) cachedExact(facets equipment.SearchFacets) ([]equipment.Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.exactValid || e.exactFor != facets {
		return nil, false
	}
	return e.exactHits, true
}

func (e *Engine) storeExact(facets equipment.SearchFacets, hits []equipment.Record) {
	e.mu.Lock()
	e.exactFor = facets
	e.exactHits = hits
	e.exactValid = true
	e.mu.Unlock()
}

func (e *Engine) render(snap PageSnapshot, exact []equipment.Record) View {
	merged := MergeCandidates(snap.Items, exact)
	ranker := NewRanker(e.origin, e.pageSize)
	ranked := ranker.Rank(merged, e.pager.Facets(), e.pager.Normalized())
	return View{
		Items:       ranked,
		PageIndex:   snap.Index,
		HasNext:     snap.HasNext,
		LoadedPages: snap.LoadedPages,
		Degraded:    snap.Degraded,
		Total:       len(ranked),
	}
}
