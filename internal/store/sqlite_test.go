package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kikidoko/kikidoko-go/internal/apperrors"
	"github.com/kikidoko/kikidoko-go/internal/equipment"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "equipment.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedRecords(t *testing.T, s *SQLiteStore, records []*equipment.Record) {
	t.Helper()
	require.NoError(t, s.PutBatch(context.Background(), records))
}

func rec(id, name, category, org, prefecture, region string, tokens ...string) *equipment.Record {
	return &equipment.Record{
		ID:              id,
		Name:            name,
		CategoryGeneral: category,
		OrgName:         org,
		Prefecture:      prefecture,
		Region:          region,
		SearchTokens:    tokens,
	}
}

func TestQueryEquality(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	seedRecords(t, s, []*equipment.Record{
		rec("eq-1", "走査型電子顕微鏡", "顕微鏡", "東都大学", "東京都", "関東"),
		rec("eq-2", "X線回折装置", "分析装置", "浪速大学", "大阪府", "関西"),
		rec("eq-3", "透過型電子顕微鏡", "顕微鏡", "浪速大学", "大阪府", "関西"),
	})

	result, err := s.Query(context.Background(), Query{
		Collection: CollectionEquipment,
		Predicates: []Predicate{Equal(FieldCategoryGeneral, "顕微鏡")},
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, "eq-1", result.Items[0].ID)
	assert.Equal(t, "eq-3", result.Items[1].ID)
	assert.Empty(t, result.NextCursor, "partial page should not promise more")
}

func TestQueryTokenMembership(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	seedRecords(t, s, []*equipment.Record{
		rec("eq-1", "走査型電子顕微鏡", "顕微鏡", "東都大学", "東京都", "関東", "走査", "顕微鏡", "電子"),
		rec("eq-2", "X線回折装置", "分析装置", "浪速大学", "大阪府", "関西", "回折", "x線"),
	})

	result, err := s.Query(context.Background(), Query{
		Collection: CollectionEquipment,
		Predicates: []Predicate{OneOf(FieldSearchTokens, []string{"顕微鏡", "存在しない"})},
		Limit:      10,
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "eq-1", result.Items[0].ID)
}

func TestQueryOneOfCap(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	values := make([]string, MaxOneOfValues+1)
	for i := range values {
		values[i] = string(rune('a' + i))
	}
	_, err := s.Query(context.Background(), Query{
		Collection: CollectionEquipment,
		Predicates: []Predicate{OneOf(FieldSearchTokens, values)},
		Limit:      10,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestQueryCursorPagination(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	seedRecords(t, s, []*equipment.Record{
		rec("eq-1", "装置A", "分析装置", "東都大学", "東京都", "関東"),
		rec("eq-2", "装置B", "分析装置", "東都大学", "東京都", "関東"),
		rec("eq-3", "装置C", "分析装置", "東都大学", "東京都", "関東"),
		rec("eq-4", "装置D", "分析装置", "東都大学", "東京都", "関東"),
		rec("eq-5", "装置E", "分析装置", "東都大学", "東京都", "関東"),
	})

	q := Query{Collection: CollectionEquipment, Limit: 2}

	first, err := s.Query(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)
	assert.Equal(t, "eq-1", first.Items[0].ID)
	assert.Equal(t, "eq-2", first.Items[1].ID)

	q.StartAfter = first.NextCursor
	second, err := s.Query(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, second.Items, 2)
	assert.Equal(t, "eq-3", second.Items[0].ID)
	assert.Equal(t, "eq-4", second.Items[1].ID)

	q.StartAfter = second.NextCursor
	third, err := s.Query(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, third.Items, 1)
	assert.Equal(t, "eq-5", third.Items[0].ID)
	assert.Empty(t, third.NextCursor)
}

func TestQueryOrderedCursorResumesAfterDocument(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	s.DeclareIndex(FieldName)
	seedRecords(t, s, []*equipment.Record{
		rec("eq-3", "いちご分析計", "分析装置", "東都大学", "東京都", "関東"),
		rec("eq-1", "りんご顕微鏡", "顕微鏡", "東都大学", "東京都", "関東"),
		rec("eq-2", "みかん回折計", "分析装置", "東都大学", "東京都", "関東"),
	})

	first, err := s.Query(context.Background(), Query{
		Collection: CollectionEquipment,
		OrderBy:    FieldName,
		Limit:      1,
	})
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	assert.Equal(t, "いちご分析計", first.Items[0].Name)

	// CursorAfter built from the fetched record must continue the same
	// ordering.
	after := CursorAfter(first.Items[0], FieldName)
	rest, err := s.Query(context.Background(), Query{
		Collection: CollectionEquipment,
		OrderBy:    FieldName,
		StartAfter: after,
		Limit:      5,
	})
	require.NoError(t, err)
	require.Len(t, rest.Items, 2)
	assert.Equal(t, "みかん回折計", rest.Items[0].Name)
	assert.Equal(t, "りんご顕微鏡", rest.Items[1].Name)
}

func TestQueryMissingIndex(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	seedRecords(t, s, []*equipment.Record{
		rec("eq-1", "装置A", "分析装置", "東都大学", "東京都", "関東"),
	})

	// Ordering plus a filter needs a declared composite index.
	_, err := s.Query(context.Background(), Query{
		Collection: CollectionEquipment,
		Predicates: []Predicate{Equal(FieldRegion, "関東")},
		OrderBy:    FieldName,
		Limit:      10,
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindMissingIndex, apperrors.Classify(err))

	// Declaring the shape fixes it; filter field order is irrelevant.
	s.DeclareIndex(FieldName, FieldRegion)
	result, err := s.Query(context.Background(), Query{
		Collection: CollectionEquipment,
		Predicates: []Predicate{Equal(FieldRegion, "関東")},
		OrderBy:    FieldName,
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Len(t, result.Items, 1)

	// Document-identity order never needs an index.
	result, err = s.Query(context.Background(), Query{
		Collection: CollectionEquipment,
		Predicates: []Predicate{Equal(FieldRegion, "関東")},
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Len(t, result.Items, 1)
}

func TestQueryValidation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	tests := []struct {
		name string
		q    Query
	}{
		{
			name: "Unknown collection",
			q:    Query{Collection: "users", Limit: 1},
		},
		{
			name: "Zero limit",
			q:    Query{Collection: CollectionEquipment},
		},
		{
			name: "Excessive limit",
			q:    Query{Collection: CollectionEquipment, Limit: maxQueryLimit + 1},
		},
		{
			name: "Malformed cursor",
			q:    Query{Collection: CollectionEquipment, Limit: 1, StartAfter: Cursor("not base64 😵")},
		},
		{
			name: "Equality on array field",
			q: Query{
				Collection: CollectionEquipment,
				Predicates: []Predicate{Equal(FieldSearchTokens, "x")},
				Limit:      1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := s.Query(context.Background(), tt.q)
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
		})
	}
}

func TestGetByID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	seedRecords(t, s, []*equipment.Record{
		rec("eq-1", "装置A", "分析装置", "東都大学", "東京都", "関東"),
	})

	got, err := s.GetByID(context.Background(), "eq-1")
	require.NoError(t, err)
	assert.Equal(t, "装置A", got.Name)

	_, err = s.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPutReplacesMembershipRows(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	r := rec("eq-1", "装置A", "分析装置", "東都大学", "東京都", "関東", "旧トークン")
	seedRecords(t, s, []*equipment.Record{r})

	r.SearchTokens = []string{"新トークン"}
	require.NoError(t, s.Put(context.Background(), r))

	stale, err := s.Query(context.Background(), Query{
		Collection: CollectionEquipment,
		Predicates: []Predicate{OneOf(FieldSearchTokens, []string{"旧トークン"})},
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Empty(t, stale.Items, "old membership rows must be gone after reinsert")

	fresh, err := s.Query(context.Background(), Query{
		Collection: CollectionEquipment,
		Predicates: []Predicate{OneOf(FieldSearchTokens, []string{"新トークン"})},
		Limit:      10,
	})
	require.NoError(t, err)
	assert.Len(t, fresh.Items, 1)
}

func TestCountByPrefecture(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	seedRecords(t, s, []*equipment.Record{
		rec("eq-1", "装置A", "分析装置", "東都大学", "東京都", "関東"),
		rec("eq-2", "装置B", "分析装置", "東都大学", "東京都", "関東"),
		rec("eq-3", "装置C", "分析装置", "浪速大学", "大阪府", "関西"),
	})

	total, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, total)

	counts, err := s.CountByPrefecture(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, counts["東京都"])
	assert.Equal(t, 1, counts["大阪府"])
}
