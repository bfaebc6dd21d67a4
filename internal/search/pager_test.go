package search

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kikidoko/kikidoko-go/internal/apperrors"
	"github.com/kikidoko/kikidoko-go/internal/equipment"
	"github.com/kikidoko/kikidoko-go/internal/store"
)

// fakeReader serves a fixed, pre-sorted record set and records every query
// it receives. When failOrdered is set it rejects any ordered query the way
// the store does when a composite index is missing.
type fakeReader struct {
	mu          sync.Mutex
	records     []equipment.Record
	queries     []store.Query
	failOrdered bool
}

func (f *fakeReader) Query(_ context.Context, q store.Query) (store.Result, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()

	if f.failOrdered && q.OrderBy != "" {
		return store.Result{}, apperrors.MissingIndex("no composite index for ordered query")
	}

	start := 0
	if q.StartAfter != "" {
		for i, rec := range f.records {
			if store.CursorAfter(rec, q.OrderBy) == q.StartAfter {
				start = i + 1
				break
			}
		}
	}

	end := start + q.Limit
	if end > len(f.records) {
		end = len(f.records)
	}
	items := make([]equipment.Record, end-start)
	copy(items, f.records[start:end])

	result := store.Result{Items: items}
	if end < len(f.records) && len(items) > 0 {
		result.NextCursor = store.CursorAfter(items[len(items)-1], q.OrderBy)
	}
	return result, nil
}

func (f *fakeReader) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeReader) lastQuery() store.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

func pagerRecords(n int) []equipment.Record {
	// Hiragana codepoints interleave small variants ('あ'+1 is ぃ, not い),
	// so spell the vowel sequence out instead of doing rune arithmetic.
	vowels := []rune("あいうえお")
	recs := make([]equipment.Record, n)
	for i := range recs {
		recs[i] = equipment.Record{
			ID:   string(rune('a' + i)),
			Name: "装置" + string(vowels[i%len(vowels)]),
		}
	}
	return recs
}

func TestPagerFirstPageProbes(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{records: pagerRecords(5)}
	pager := NewPager(reader, nil, nil, 2)
	pager.Reset(equipment.SearchFacets{})

	snap, err := pager.LoadFirstPage(context.Background())
	if err != nil {
		t.Fatalf("LoadFirstPage() error = %v", err)
	}
	if snap.Index != 0 || len(snap.Items) != 2 {
		t.Fatalf("got page %d with %d items, want page 0 with 2", snap.Index, len(snap.Items))
	}
	if !snap.HasNext {
		t.Error("HasNext = false, want true with more records remaining")
	}
	if snap.LoadedPages != 1 {
		t.Errorf("LoadedPages = %d, want 1", snap.LoadedPages)
	}
	if got := reader.lastQuery().Limit; got != 3 {
		t.Errorf("query limit = %d, want page size + 1 probe", got)
	}
}

func TestPagerJumpBackwardUsesCache(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{records: pagerRecords(5)}
	pager := NewPager(reader, nil, nil, 2)
	pager.Reset(equipment.SearchFacets{})

	ctx := context.Background()
	first, err := pager.LoadFirstPage(ctx)
	if err != nil {
		t.Fatalf("LoadFirstPage() error = %v", err)
	}
	if _, err := pager.LoadNextPage(ctx); err != nil {
		t.Fatalf("LoadNextPage() error = %v", err)
	}

	before := reader.queryCount()
	snap, err := pager.JumpBackward(0)
	if err != nil {
		t.Fatalf("JumpBackward(0) error = %v", err)
	}
	if reader.queryCount() != before {
		t.Errorf("JumpBackward issued %d queries, want none", reader.queryCount()-before)
	}
	if snap.Index != 0 || len(snap.Items) != len(first.Items) {
		t.Errorf("got page %d with %d items, want cached page 0", snap.Index, len(snap.Items))
	}

	if _, err := pager.JumpBackward(7); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("JumpBackward(7) error = %v, want ErrInvalidInput", err)
	}
}

func TestPagerResetDiscardsPages(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{records: pagerRecords(5)}
	pager := NewPager(reader, nil, nil, 2)
	pager.Reset(equipment.SearchFacets{})

	ctx := context.Background()
	if _, err := pager.LoadFirstPage(ctx); err != nil {
		t.Fatalf("LoadFirstPage() error = %v", err)
	}
	if _, err := pager.LoadNextPage(ctx); err != nil {
		t.Fatalf("LoadNextPage() error = %v", err)
	}

	pager.Reset(equipment.SearchFacets{Region: "関東"})
	if _, ok := pager.Snapshot(); ok {
		t.Fatal("Snapshot() returned a page after Reset, want none")
	}

	snap, err := pager.LoadFirstPage(ctx)
	if err != nil {
		t.Fatalf("LoadFirstPage() after Reset error = %v", err)
	}
	if snap.LoadedPages != 1 {
		t.Errorf("LoadedPages = %d after Reset, want 1", snap.LoadedPages)
	}
}

func TestPagerMissingIndexDegradesOnce(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{records: pagerRecords(5), failOrdered: true}
	pager := NewPager(reader, nil, nil, 2)
	pager.Reset(equipment.SearchFacets{Region: "関東"})

	ctx := context.Background()
	snap, err := pager.LoadFirstPage(ctx)
	if err != nil {
		t.Fatalf("LoadFirstPage() error = %v", err)
	}
	if !snap.Degraded {
		t.Error("Degraded = false, want true after missing-index retry")
	}
	if len(snap.Items) != 2 {
		t.Errorf("got %d items, want 2", len(snap.Items))
	}
	if got := reader.queryCount(); got != 2 {
		t.Errorf("first page took %d queries, want ordered attempt plus one retry", got)
	}

	// The degraded plan is sticky for the generation: no further ordered
	// attempts once the store rejected one.
	if _, err := pager.LoadNextPage(ctx); err != nil {
		t.Fatalf("LoadNextPage() error = %v", err)
	}
	if got := reader.queryCount(); got != 3 {
		t.Errorf("next page took %d total queries, want 3", got)
	}
	if got := reader.lastQuery().OrderBy; got != "" {
		t.Errorf("next page query OrderBy = %q, want unordered", got)
	}
}

// resettingReader changes the pager's facets from inside the first read,
// simulating a user refining the search while a page load is in flight.
type resettingReader struct {
	inner fakeReader
	pager *Pager
	once  sync.Once
}

func (r *resettingReader) Query(ctx context.Context, q store.Query) (store.Result, error) {
	result, err := r.inner.Query(ctx, q)
	r.once.Do(func() { r.pager.Reset(equipment.SearchFacets{Region: "関西"}) })
	return result, err
}

func TestPagerDiscardsStaleResponse(t *testing.T) {
	t.Parallel()

	reader := &resettingReader{inner: fakeReader{records: pagerRecords(5)}}
	pager := NewPager(reader, nil, nil, 2)
	reader.pager = pager
	pager.Reset(equipment.SearchFacets{})

	ctx := context.Background()
	if _, err := pager.LoadFirstPage(ctx); !errors.Is(err, ErrStaleGeneration) {
		t.Fatalf("LoadFirstPage() error = %v, want ErrStaleGeneration", err)
	}

	// The superseding generation starts empty and loads normally.
	if _, ok := pager.Snapshot(); ok {
		t.Fatal("stale response was applied to the new generation")
	}
	snap, err := pager.LoadFirstPage(ctx)
	if err != nil {
		t.Fatalf("LoadFirstPage() after reset error = %v", err)
	}
	if snap.Index != 0 || len(snap.Items) != 2 {
		t.Errorf("got page %d with %d items, want page 0 with 2", snap.Index, len(snap.Items))
	}
	if pager.Facets().Region != "関西" {
		t.Errorf("facets = %+v, want the superseding generation's", pager.Facets())
	}
}

func TestPagerJumpForwardSettlesAtEnd(t *testing.T) {
	t.Parallel()

	reader := &fakeReader{records: pagerRecords(5)}
	pager := NewPager(reader, nil, nil, 2)
	pager.Reset(equipment.SearchFacets{})

	ctx := context.Background()
	if _, err := pager.LoadFirstPage(ctx); err != nil {
		t.Fatalf("LoadFirstPage() error = %v", err)
	}

	snap, err := pager.JumpForward(ctx, 10)
	if err != nil {
		t.Fatalf("JumpForward(10) error = %v", err)
	}
	if snap.Index != 2 {
		t.Errorf("settled on page %d, want last reachable page 2", snap.Index)
	}
	if snap.HasNext {
		t.Error("HasNext = true on final page, want false")
	}
	if len(snap.Items) != 1 {
		t.Errorf("final page has %d items, want 1", len(snap.Items))
	}

	if _, err := pager.LoadNextPage(ctx); !errors.Is(err, apperrors.ErrExhausted) {
		t.Errorf("LoadNextPage() past the end error = %v, want ErrExhausted", err)
	}
}
