package search

import (
	"testing"

	"github.com/kikidoko/kikidoko-go/internal/equipment"
	"github.com/kikidoko/kikidoko-go/internal/normalize"
)

func TestRankExactNameOutranksPartialMatch(t *testing.T) {
	t.Parallel()

	candidates := []equipment.Record{
		{ID: "b", Name: "SEM観察装置"},
		{ID: "a", Name: "SEM"},
		{ID: "c", Name: "恒温槽"},
	}
	facets := equipment.SearchFacets{Keyword: "SEM"}
	norm := normalize.Keyword(facets.Keyword)

	ranked := NewRanker(nil, 0).Rank(candidates, facets, norm)
	if len(ranked) != 3 {
		t.Fatalf("Rank() returned %d items, want 3", len(ranked))
	}
	if ranked[0].ID != "a" || ranked[0].MatchTier != TierExactName {
		t.Errorf("top item = %s tier %d, want exact-name match a at tier %d",
			ranked[0].ID, ranked[0].MatchTier, TierExactName)
	}
	if ranked[1].ID != "b" || ranked[1].MatchTier != TierFieldMatch {
		t.Errorf("second item = %s tier %d, want partial match b at tier %d",
			ranked[1].ID, ranked[1].MatchTier, TierFieldMatch)
	}
	if ranked[2].ID != "c" {
		t.Errorf("last item = %s, want non-matching c", ranked[2].ID)
	}
}

func TestRankOrganizationKeywordNarrows(t *testing.T) {
	t.Parallel()

	candidates := []equipment.Record{
		{ID: "x", Name: "走査プローブ顕微鏡", OrgName: "東京大学"},
		{ID: "y", Name: "東京精密測定器", OrgName: "海洋研究開発機構"},
	}
	facets := equipment.SearchFacets{Keyword: "東京大学"}
	norm := normalize.Keyword(facets.Keyword)

	ranked := NewRanker(nil, 0).Rank(candidates, facets, norm)
	if len(ranked) != 1 || ranked[0].ID != "x" {
		t.Fatalf("Rank() = %d items first %q, want only the organization hit x",
			len(ranked), ranked[0].ID)
	}
}

func TestRankOrganizationNarrowingFallsBack(t *testing.T) {
	t.Parallel()

	candidates := []equipment.Record{
		{ID: "x", Name: "走査プローブ顕微鏡", OrgName: "東京大学"},
		{ID: "y", Name: "精密測定器", OrgName: "海洋研究開発機構"},
	}
	// Organization-style keyword that hits no organization field: the
	// narrowing must not empty the list.
	facets := equipment.SearchFacets{Keyword: "琉球高専"}
	norm := normalize.Keyword(facets.Keyword)

	ranked := NewRanker(nil, 0).Rank(candidates, facets, norm)
	if len(ranked) != 2 {
		t.Fatalf("Rank() returned %d items, want all 2 kept", len(ranked))
	}
}

func TestRankDistancePrimaryWithoutKeyword(t *testing.T) {
	t.Parallel()

	tokyo := equipment.Coordinate{Lat: 35.6895, Lng: 139.6917}
	candidates := []equipment.Record{
		{ID: "far", Name: "分光器", Prefecture: "沖縄県"},
		{ID: "nowhere", Name: "粘度計"},
		{ID: "near", Name: "電子天秤", Prefecture: "東京都"},
	}
	facets := equipment.SearchFacets{Region: "関東"}
	norm := normalize.Keyword("")

	ranked := NewRanker(&tokyo, 0).Rank(candidates, facets, norm)
	if len(ranked) != 3 {
		t.Fatalf("Rank() returned %d items, want 3", len(ranked))
	}
	order := []string{ranked[0].ID, ranked[1].ID, ranked[2].ID}
	want := []string{"near", "far", "nowhere"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("distance order = %v, want %v", order, want)
		}
	}
}

func TestRankCapsAtPageSize(t *testing.T) {
	t.Parallel()

	candidates := pagerRecords(5)
	ranked := NewRanker(nil, 2).Rank(candidates, equipment.SearchFacets{}, normalize.Keyword(""))
	if len(ranked) != 2 {
		t.Errorf("Rank() returned %d items, want capped at 2", len(ranked))
	}
}

func TestMergeCandidatesFirstSeenWins(t *testing.T) {
	t.Parallel()

	pageItems := []equipment.Record{
		{ID: "a", Name: "ページ側"},
		{ID: "b", Name: "装置B"},
	}
	exact := []equipment.Record{
		{ID: "a", Name: "完全一致側"},
		{ID: "c", Name: "装置C"},
	}

	merged := MergeCandidates(pageItems, exact)
	if len(merged) != 3 {
		t.Fatalf("MergeCandidates() returned %d items, want 3", len(merged))
	}
	if merged[0].ID != "a" || merged[0].Name != "ページ側" {
		t.Errorf("merged[0] = %s %q, want the page copy of a", merged[0].ID, merged[0].Name)
	}
	if merged[1].ID != "b" || merged[2].ID != "c" {
		t.Errorf("merged tail = %s, %s, want b then c", merged[1].ID, merged[2].ID)
	}
}
