// Package recommend builds the "alternatives" list shown on an
// equipment detail page: a growing, deduplicated, capped pool of
// same-category records, fetched in stages (region-restricted first,
// category-wide fallback) and ordered by proximity or accessibility.
package recommend

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kikidoko/kikidoko-go/internal/apperrors"
	"github.com/kikidoko/kikidoko-go/internal/equipment"
	"github.com/kikidoko/kikidoko-go/internal/geo"
	"github.com/kikidoko/kikidoko-go/internal/logger"
	"github.com/kikidoko/kikidoko-go/internal/metrics"
	"github.com/kikidoko/kikidoko-go/internal/store"
)

// Mode selects the ordering of the pool.
type Mode string

const (
	// ModeNearby orders by distance to the user. Chosen when a user
	// coordinate is known.
	ModeNearby Mode = "nearby"
	// ModeAccessible orders by facility density of the record's
	// prefecture. The fallback when no coordinate is available.
	ModeAccessible Mode = "accessible"
)

const (
	// PoolCap is the hard maximum the deduplicated pool may grow to.
	PoolCap = 20
	// InitialVisible and VisibleStep control how much of the pool the
	// caller sees: a small head, growing on explicit load-more.
	InitialVisible = 3
	VisibleStep    = 3

	maxRegions      = 8
	fetchPageSize   = 10
	maxPagesPerCall = 3
)

type stage int

const (
	stagePrefecture stage = iota
	stageCategory
	stageDone
)

func (s stage) String() string {
	switch s {
	case stagePrefecture:
		return "prefecture"
	case stageCategory:
		return "category"
	default:
		return "done"
	}
}

// prefectureCounter is the optional store capability used for the
// accessible-mode density ranking. Stores without it fall back to the
// default region order.
type prefectureCounter interface {
	CountByPrefecture(ctx context.Context) (map[string]int, error)
}

// Snapshot is the immutable view handed to the transport layer.
type Snapshot struct {
	FocalID  string             `json:"focal_id"`
	Mode     Mode               `json:"mode"`
	Items    []equipment.Record `json:"items"`
	PoolSize int                `json:"pool_size"`
	HasMore  bool               `json:"has_more"`
}

// state is the memoized pool for one (focal, mode, region-set) key. All
// access goes through the builder's mutex.
type state struct {
	focal   equipment.Record
	mode    Mode
	regions []string

	pool    []equipment.Record
	seen    map[string]struct{}
	visible int

	stage        stage
	cursor       store.Cursor
	pagesFetched int
}

func (s *state) hasMoreRemote() bool {
	return s.stage != stageDone && len(s.pool) < PoolCap
}

// Builder computes and caches recommendation pools. It is safe for
// concurrent use; concurrent load-more calls for the same key collapse
// into a single fetch.
type Builder struct {
	reader  store.Reader
	log     *logger.Logger
	metrics *metrics.Metrics
	origin  *equipment.Coordinate

	mu     sync.Mutex
	states map[string]*state

	countsOnce sync.Once
	counts     map[string]int

	flight singleflight.Group
}

// New creates a builder. origin is the user's coordinate when known.
func New(reader store.Reader, log *logger.Logger, m *metrics.Metrics, origin *equipment.Coordinate) *Builder {
	return &Builder{
		reader:  reader,
		log:     log.WithModule("recommend"),
		metrics: m,
		origin:  origin,
		states:  make(map[string]*state),
	}
}

// Forget drops the memoized state for a focal record. Called when a
// detail trail that visited the record is discarded.
func (b *Builder) Forget(focalID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.states {
		if strings.HasPrefix(key, focalID+"|") {
			delete(b.states, key)
		}
	}
}

// Recommend returns the pool for a focal record, fetching enough to show
// the initial head. Revisiting the same record under the same mode and
// region set reuses the cached pool without touching the store.
func (b *Builder) Recommend(ctx context.Context, focal equipment.Record) (Snapshot, error) {
	return b.advance(ctx, focal, false)
}

// LoadMore reveals the next slice of the pool, resuming the staged fetch
// when the already-fetched pool is exhausted. Re-entrant calls while a
// fetch is in flight collapse into that fetch.
func (b *Builder) LoadMore(ctx context.Context, focal equipment.Record) (Snapshot, error) {
	return b.advance(ctx, focal, true)
}

func (b *Builder) advance(ctx context.Context, focal equipment.Record, grow bool) (Snapshot, error) {
	mode := ModeAccessible
	if b.origin != nil {
		mode = ModeNearby
	}
	regions := b.preferredRegions(ctx, mode)
	key := focal.ID + "|" + string(mode) + "|" + strings.Join(regions, ",")

	v, err, _ := b.flight.Do(key, func() (any, error) {
		b.mu.Lock()
		st, ok := b.states[key]
		if !ok {
			st = &state{
				focal:   focal,
				mode:    mode,
				regions: regions,
				seen:    map[string]struct{}{focal.ID: {}},
				visible: InitialVisible,
			}
			b.states[key] = st
		} else if grow && st.visible < PoolCap {
			st.visible += VisibleStep
		}
		want := st.visible
		b.mu.Unlock()

		if err := b.fill(ctx, st, want); err != nil {
			return Snapshot{}, err
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		b.sortPoolLocked(st)
		b.metrics.RecordRecommendPoolSize(len(st.pool))
		return b.snapshotLocked(st), nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// fill runs the staged fetch until the unique pool covers want items,
// the per-call page budget is spent, or the store runs out.
func (b *Builder) fill(ctx context.Context, st *state, want int) error {
	if want > PoolCap {
		want = PoolCap
	}

	b.mu.Lock()
	st.pagesFetched = 0
	b.mu.Unlock()

	for {
		b.mu.Lock()
		done := len(st.pool) >= want || st.stage == stageDone ||
			st.pagesFetched >= maxPagesPerCall || len(st.pool) >= PoolCap
		current := st.stage
		cursor := st.cursor
		b.mu.Unlock()
		if done {
			return nil
		}

		result, err := b.fetchStage(ctx, st.focal, st.regions, current, cursor)
		if err != nil {
			if current == stagePrefecture {
				// Combined predicates are the most likely to be
				// unsupported; retry region-free.
				b.log.WithError(err).Info("prefecture stage failed, falling back to category stage")
				b.mu.Lock()
				st.stage = stageCategory
				st.cursor = ""
				b.mu.Unlock()
				continue
			}
			return apperrors.NewWrapper("recommend", "fetch").
				Wrap(err, "関連機器を取得できませんでした")
		}

		b.mu.Lock()
		for _, rec := range result.Items {
			if _, dup := st.seen[rec.ID]; dup {
				continue
			}
			st.seen[rec.ID] = struct{}{}
			st.pool = append(st.pool, rec)
			if len(st.pool) >= PoolCap {
				break
			}
		}
		st.pagesFetched++
		st.cursor = result.NextCursor
		if result.NextCursor == "" {
			switch st.stage {
			case stagePrefecture:
				st.stage = stageCategory
				st.cursor = ""
			case stageCategory:
				st.stage = stageDone
			}
		}
		b.mu.Unlock()
	}
}

func (b *Builder) fetchStage(ctx context.Context, focal equipment.Record, regions []string, s stage, cursor store.Cursor) (store.Result, error) {
	predicates := []store.Predicate{
		store.Equal(store.FieldCategoryGeneral, focal.CategoryGeneral),
	}
	if s == stagePrefecture && len(regions) > 0 {
		predicates = append(predicates, store.OneOf(store.FieldRegion, regions))
	}

	start := time.Now()
	result, err := b.reader.Query(ctx, store.Query{
		Collection: store.CollectionEquipment,
		Predicates: predicates,
		StartAfter: cursor,
		Limit:      fetchPageSize,
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		b.metrics.RecordRecommendFetch(s.String(), apperrors.Classify(err).String())
		b.metrics.RecordStoreQuery("recommend", apperrors.Classify(err).String(), elapsed)
		return store.Result{}, err
	}
	b.metrics.RecordRecommendFetch(s.String(), "success")
	b.metrics.RecordStoreQuery("recommend", "success", elapsed)
	return result, nil
}

// preferredRegions picks up to eight regions: nearest first when a
// coordinate is known, otherwise ranked by facility density with a fixed
// default order as the last resort.
func (b *Builder) preferredRegions(ctx context.Context, mode Mode) []string {
	if mode == ModeNearby && b.origin != nil {
		return geo.NearestRegions(*b.origin, maxRegions)
	}
	return geo.RegionsByDensity(b.prefectureCounts(ctx), maxRegions)
}

func (b *Builder) prefectureCounts(ctx context.Context) map[string]int {
	b.countsOnce.Do(func() {
		counter, ok := b.reader.(prefectureCounter)
		if !ok {
			return
		}
		counts, err := counter.CountByPrefecture(ctx)
		if err != nil {
			b.log.WithError(err).Warn("prefecture density counts unavailable, using default region order")
			return
		}
		b.counts = counts
	})
	return b.counts
}

func (b *Builder) sortPoolLocked(st *state) {
	counts := b.counts
	focalPref := st.focal.Prefecture
	sort.SliceStable(st.pool, func(i, j int) bool {
		a, c := &st.pool[i], &st.pool[j]
		if st.mode == ModeNearby && b.origin != nil {
			da, aok := geo.RecordDistanceKm(*b.origin, a)
			dc, cok := geo.RecordDistanceKm(*b.origin, c)
			if aok != cok {
				return aok
			}
			if aok && da != dc {
				return da < dc
			}
			return a.Name < c.Name
		}
		ca, cc := counts[a.Prefecture], counts[c.Prefecture]
		if ca != cc {
			return ca > cc
		}
		aSame, cSame := a.Prefecture == focalPref, c.Prefecture == focalPref
		if aSame != cSame {
			return aSame
		}
		return a.Name < c.Name
	})
}

func (b *Builder) snapshotLocked(st *state) Snapshot {
	visible := st.visible
	if visible > len(st.pool) {
		visible = len(st.pool)
	}
	items := make([]equipment.Record, visible)
	copy(items, st.pool[:visible])
	return Snapshot{
		FocalID:  st.focal.ID,
		Mode:     st.mode,
		Items:    items,
		PoolSize: len(st.pool),
		HasMore:  st.visible < len(st.pool) || st.hasMoreRemote(),
	}
}
