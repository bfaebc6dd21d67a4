package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kikidoko/kikidoko-go/internal/apperrors"
	"github.com/kikidoko/kikidoko-go/internal/equipment"
	"github.com/kikidoko/kikidoko-go/internal/logger"
	"github.com/kikidoko/kikidoko-go/internal/metrics"
	"github.com/kikidoko/kikidoko-go/internal/normalize"
	"github.com/kikidoko/kikidoko-go/internal/store"
)

// ErrStaleGeneration is returned when a response arrives after the facets
// changed; the caller must treat the operation as superseded, not failed.
var ErrStaleGeneration = errors.New("query generation superseded")

// DefaultPageSize is the UI page size.
const DefaultPageSize = 20

// Page is one cached page of results within a query generation.
type Page struct {
	Index   int
	Items   []equipment.Record
	HasNext bool

	cursor store.Cursor // continuation after this page
}

// PageSnapshot is the immutable view handed to callers.
type PageSnapshot struct {
	Index       int
	Items       []equipment.Record
	HasNext     bool
	LoadedPages int
	Degraded    bool
}

// Pager caches fetched pages per query generation and provides random
// access over the store's forward-only cursors. A generation is one fixed
// facets+degradation tuple; any facet or keyword change starts a new
// generation and discards every cached page.
type Pager struct {
	reader   store.Reader
	log      *logger.Logger
	metrics  *metrics.Metrics
	pageSize int

	mu         sync.Mutex
	generation uint64
	facets     equipment.SearchFacets
	norm       normalize.Result
	plan       Plan
	pages      []Page
	current    int

	flight singleflight.Group
}

// NewPager creates a pager over the given store reader. A pageSize of 0
// selects DefaultPageSize.
func NewPager(reader store.Reader, log *logger.Logger, m *metrics.Metrics, pageSize int) *Pager {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Pager{
		reader:   reader,
		log:      log,
		metrics:  m,
		pageSize: pageSize,
	}
}

// Reset starts a new query generation for the given facets. All cached
// pages are dropped and the degradation flag returns to the planner
// default.
func (p *Pager) Reset(facets equipment.SearchFacets) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	p.facets = facets
	p.norm = normalize.Keyword(facets.Keyword)
	p.plan = BuildPlan(facets, p.norm)
	p.pages = nil
	p.current = 0
}

// Facets returns the facets of the current generation.
func (p *Pager) Facets() equipment.SearchFacets {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.facets
}

// Normalized returns the normalizer output of the current generation.
func (p *Pager) Normalized() normalize.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.norm
}

// PageSize returns the configured page size.
func (p *Pager) PageSize() int {
	return p.pageSize
}

// Snapshot returns the current page without touching the store.
func (p *Pager) Snapshot() (PageSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current >= len(p.pages) {
		return PageSnapshot{}, false
	}
	return p.snapshotLocked(p.current), true
}

// LoadFirstPage fetches page 0 of the current generation, transparently
// degrading the plan once on a missing-index rejection. Returns the
// cached page if it is already present.
func (p *Pager) LoadFirstPage(ctx context.Context) (PageSnapshot, error) {
	return p.loadPage(ctx, 0)
}

// LoadNextPage fetches the page after the last loaded one.
func (p *Pager) LoadNextPage(ctx context.Context) (PageSnapshot, error) {
	p.mu.Lock()
	next := len(p.pages)
	p.mu.Unlock()
	return p.loadPage(ctx, next)
}

// JumpBackward moves to an already-fetched page. It never issues a
// remote call; jumping to an unfetched index is an input error.
func (p *Pager) JumpBackward(toIndex int) (PageSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if toIndex < 0 || toIndex >= len(p.pages) {
		return PageSnapshot{}, fmt.Errorf("%w: page %d not loaded", apperrors.ErrInvalidInput, toIndex)
	}
	p.current = toIndex
	p.metrics.RecordPageCacheHit()
	return p.snapshotLocked(toIndex), nil
}

// JumpToFirst moves to page 0 (already fetched by construction).
func (p *Pager) JumpToFirst() (PageSnapshot, error) {
	return p.JumpBackward(0)
}

// JumpToLastLoaded moves to the highest fetched page index.
func (p *Pager) JumpToLastLoaded() (PageSnapshot, error) {
	p.mu.Lock()
	last := len(p.pages) - 1
	p.mu.Unlock()
	return p.JumpBackward(last)
}

// JumpForward fetches pages sequentially until toIndex is reached or the
// store runs out, in which case it settles on the nearest reachable page.
func (p *Pager) JumpForward(ctx context.Context, toIndex int) (PageSnapshot, error) {
	if toIndex < 0 {
		return PageSnapshot{}, fmt.Errorf("%w: negative page index", apperrors.ErrInvalidInput)
	}

	p.mu.Lock()
	loaded := len(p.pages)
	p.mu.Unlock()

	if toIndex < loaded {
		return p.JumpBackward(toIndex)
	}

	for {
		p.mu.Lock()
		loaded = len(p.pages)
		exhausted := loaded > 0 && !p.pages[loaded-1].HasNext
		p.mu.Unlock()

		if toIndex < loaded {
			return p.JumpBackward(toIndex)
		}
		if exhausted {
			// Settle on the last page the store can produce.
			return p.JumpBackward(loaded - 1)
		}
		if _, err := p.loadPage(ctx, loaded); err != nil {
			return PageSnapshot{}, err
		}
	}
}

// loadPage fetches the page at index, which must be the next unfetched
// index (or an already-cached one, returned without a remote call).
// Concurrent loads of the same page share a single store read, and
// responses landing after a generation change are discarded.
func (p *Pager) loadPage(ctx context.Context, index int) (PageSnapshot, error) {
	p.mu.Lock()
	gen := p.generation
	if index < len(p.pages) {
		p.current = index
		snap := p.snapshotLocked(index)
		p.mu.Unlock()
		p.metrics.RecordPageCacheHit()
		return snap, nil
	}
	if index != len(p.pages) {
		p.mu.Unlock()
		return PageSnapshot{}, fmt.Errorf("%w: page %d is not the next unfetched page", apperrors.ErrInvalidInput, index)
	}
	plan := p.plan
	var after store.Cursor
	if index > 0 {
		prev := p.pages[index-1]
		if !prev.HasNext {
			p.mu.Unlock()
			return PageSnapshot{}, apperrors.ErrExhausted
		}
		after = prev.cursor
	}
	p.mu.Unlock()

	p.metrics.RecordPageCacheMiss()

	type fetchOutcome struct {
		result   store.Result
		degraded bool
	}
	key := fmt.Sprintf("%d:%d", gen, index)
	v, err, _ := p.flight.Do(key, func() (any, error) {
		result, degraded, err := p.fetch(ctx, plan, after)
		if err != nil {
			return nil, err
		}
		return fetchOutcome{result: result, degraded: degraded}, nil
	})
	if err != nil {
		return PageSnapshot{}, err
	}
	outcome := v.(fetchOutcome)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.generation != gen {
		// A facet change started a new generation while this response
		// was in flight; drop it rather than corrupt the new state.
		return PageSnapshot{}, ErrStaleGeneration
	}
	if index < len(p.pages) {
		// A shared flight already applied this page.
		p.current = index
		return p.snapshotLocked(index), nil
	}

	if outcome.degraded && !p.plan.Degraded {
		p.plan = p.plan.Degrade()
		p.metrics.RecordPlanDegraded()
	}

	items := outcome.result.Items
	hasNext := len(items) > p.pageSize
	if hasNext {
		items = items[:p.pageSize]
	}
	cursor := outcome.result.NextCursor
	if len(items) > 0 {
		// Continuation must resume after the last *kept* item, not after
		// the probe row.
		cursor = p.cursorAfter(items[len(items)-1])
	}

	p.pages = append(p.pages, Page{
		Index:   index,
		Items:   items,
		HasNext: hasNext,
		cursor:  cursor,
	})
	p.current = index
	return p.snapshotLocked(index), nil
}

// fetch executes one page read with the limit+1 probe, retrying once with
// a degraded plan when the store reports a missing composite index. Any
// other failure is classified and surfaced.
func (p *Pager) fetch(ctx context.Context, plan Plan, after store.Cursor) (store.Result, bool, error) {
	start := time.Now()
	result, err := p.reader.Query(ctx, plan.Query(after, p.pageSize+1))
	if err == nil {
		p.metrics.RecordStoreQuery("pager", "success", time.Since(start).Seconds())
		return result, plan.Degraded, nil
	}

	kind := apperrors.Classify(err)
	p.metrics.RecordStoreQuery("pager", kind.String(), time.Since(start).Seconds())

	if kind != apperrors.KindMissingIndex || plan.Degraded {
		return store.Result{}, false, apperrors.NewWrapper("search", "load_page").
			Wrap(err, "検索結果を取得できませんでした")
	}

	if p.log != nil {
		p.log.WithModule("search").WithError(err).
			Warn("store rejected ordered plan, retrying without ordering")
	}

	degraded := plan.Degrade()
	start = time.Now()
	result, err = p.reader.Query(ctx, degraded.Query(after, p.pageSize+1))
	if err != nil {
		p.metrics.RecordStoreQuery("pager", apperrors.Classify(err).String(), time.Since(start).Seconds())
		return store.Result{}, false, apperrors.NewWrapper("search", "load_page").
			Wrap(err, "検索結果を取得できませんでした")
	}
	p.metrics.RecordStoreQuery("pager", "success", time.Since(start).Seconds())
	return result, true, nil
}

// cursorAfter rebuilds a continuation cursor pointing after the given
// record under the current plan's ordering.
func (p *Pager) cursorAfter(rec equipment.Record) store.Cursor {
	return store.CursorAfter(rec, p.plan.OrderBy)
}

// snapshotLocked copies the page at index. Caller holds p.mu.
func (p *Pager) snapshotLocked(index int) PageSnapshot {
	page := p.pages[index]
	items := make([]equipment.Record, len(page.Items))
	copy(items, page.Items)
	return PageSnapshot{
		Index:       page.Index,
		Items:       items,
		HasNext:     page.HasNext,
		LoadedPages: len(p.pages),
		Degraded:    p.plan.Degraded,
	}
}
