package search

import (
	"math"
	"sort"
	"strings"

	"github.com/kikidoko/kikidoko-go/internal/equipment"
	"github.com/kikidoko/kikidoko-go/internal/geo"
	"github.com/kikidoko/kikidoko-go/internal/normalize"
	"github.com/kikidoko/kikidoko-go/internal/sliceutil"
)

// Match tiers, coarse relevance buckets sorted ahead of the score.
const (
	TierNoKeyword  = 0
	TierUsageOnly  = 1
	TierFieldMatch = 2
	TierExactName  = 3
)

// Per-field base weights. The ordering matters more than the values:
// a weak hit on the name should still beat a strong hit on the fee band.
const (
	weightName       = 8.0
	weightCategory   = 6.0
	weightOrg        = 5.0
	weightLocation   = 3.0
	weightAttribute  = 2.0
	weightUsage      = 1.0
	weightAliasBonus = weightName * multPrefix
)

// Within-field multipliers by match strength.
const (
	multExact    = 3.0
	multPrefix   = 2.0
	multSub      = 1.5
	multPerToken = 0.5
)

// RankedItem is a record annotated with its relevance placement.
type RankedItem struct {
	equipment.Record
	MatchTier int     `json:"match_tier"`
	Score     float64 `json:"score"`

	distance float64
	hasDist  bool
	orgHit   bool
}

// Ranker orders the merged candidate set (paged results unioned with the
// augmenter's literal matches) for display. It is stateless apart from
// the optional user coordinate used for distance tie-breaking.
type Ranker struct {
	origin   *equipment.Coordinate
	pageSize int
}

// NewRanker creates a ranker capping its output at pageSize items.
// origin may be nil when the user's location is unknown.
func NewRanker(origin *equipment.Coordinate, pageSize int) *Ranker {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Ranker{origin: origin, pageSize: pageSize}
}

// Rank scores, sorts and caps the candidate set. norm must be the
// Normalizer output for facets.Keyword; the caller already holds it from
// planning, so the ranker never re-normalizes.
func (rk *Ranker) Rank(candidates []equipment.Record, facets equipment.SearchFacets, norm normalize.Result) []RankedItem {
	ranked := make([]RankedItem, 0, len(candidates))
	for i := range candidates {
		ranked = append(ranked, rk.annotate(&candidates[i], norm))
	}

	// Organization-style keywords narrow the result to organization
	// hits, unless that would empty the list.
	if facets.Keyword != "" && LooksLikeOrganization(facets.Keyword) {
		narrowed := make([]RankedItem, 0, len(ranked))
		for _, item := range ranked {
			if item.orgHit {
				narrowed = append(narrowed, item)
			}
		}
		if len(narrowed) > 0 {
			ranked = narrowed
		}
	}

	keywordless := norm.IsEmpty()
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := &ranked[i], &ranked[j]
		if keywordless && rk.origin != nil {
			// Distance becomes the primary key when browsing.
			if a.hasDist != b.hasDist {
				return a.hasDist
			}
			if a.hasDist && a.distance != b.distance {
				return a.distance < b.distance
			}
			return a.Name < b.Name
		}
		if a.MatchTier != b.MatchTier {
			return a.MatchTier > b.MatchTier
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if rk.origin != nil {
			if a.hasDist != b.hasDist {
				return a.hasDist
			}
			if a.hasDist && math.Abs(a.distance-b.distance) > 1e-9 {
				return a.distance < b.distance
			}
		}
		return a.Name < b.Name
	})

	if len(ranked) > rk.pageSize {
		ranked = ranked[:rk.pageSize]
	}
	return ranked
}

// MergeCandidates unions the page items and the augmenter's matches by
// id, first seen wins, page items first.
func MergeCandidates(pageItems, exactMatches []equipment.Record) []equipment.Record {
	combined := make([]equipment.Record, 0, len(pageItems)+len(exactMatches))
	combined = append(combined, pageItems...)
	combined = append(combined, exactMatches...)
	return sliceutil.Deduplicate(combined, func(r equipment.Record) string { return r.ID })
}

func (rk *Ranker) annotate(rec *equipment.Record, norm normalize.Result) RankedItem {
	item := RankedItem{Record: *rec}
	if rk.origin != nil {
		item.distance, item.hasDist = geo.RecordDistanceKm(*rk.origin, rec)
	}
	if norm.IsEmpty() {
		item.MatchTier = TierNoKeyword
		return item
	}

	nameScore := fieldScore(rec.Name, norm, weightName)
	catScore := fieldScore(rec.CategoryGeneral, norm, weightCategory) +
		fieldScore(rec.CategoryDetail, norm, weightCategory)
	orgScore := fieldScore(rec.OrgName, norm, weightOrg)
	locScore := fieldScore(rec.Prefecture, norm, weightLocation) +
		fieldScore(rec.Address, norm, weightLocation)
	attrScore := fieldScore(rec.OrgType, norm, weightAttribute) +
		fieldScore(rec.FeeBand, norm, weightAttribute)
	usageScore := fieldScore(rec.Usage, norm, weightUsage)

	aliasScore := 0.0
	if aliasHit(rec.SearchAliases, norm.AliasKeys) {
		aliasScore = weightAliasBonus
	}

	item.Score = nameScore + catScore + orgScore + locScore + attrScore + usageScore + aliasScore
	item.orgHit = orgScore > 0

	switch {
	case normalize.Keyword(rec.Name).Normalized == norm.Normalized,
		normalize.Keyword(rec.OrgName).Normalized == norm.Normalized:
		item.MatchTier = TierExactName
	case nameScore+catScore+orgScore+locScore+attrScore+aliasScore > 0:
		item.MatchTier = TierFieldMatch
	case usageScore > 0:
		item.MatchTier = TierUsageOnly
	default:
		item.MatchTier = TierNoKeyword
	}
	return item
}

// fieldScore rates one record field against the normalized keyword:
// exact beats prefix beats substring beats token overlap.
func fieldScore(field string, norm normalize.Result, weight float64) float64 {
	if field == "" {
		return 0
	}
	folded := normalize.Keyword(field).Normalized
	if folded == "" {
		return 0
	}
	switch {
	case folded == norm.Normalized:
		return weight * multExact
	case strings.HasPrefix(folded, norm.Normalized):
		return weight * multPrefix
	case strings.Contains(folded, norm.Normalized):
		return weight * multSub
	}
	overlap := 0
	for _, token := range norm.Tokens {
		if strings.Contains(folded, token) {
			overlap++
		}
	}
	return weight * multPerToken * float64(overlap)
}

func aliasHit(recordAliases, queryKeys []string) bool {
	if len(recordAliases) == 0 || len(queryKeys) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(recordAliases))
	for _, a := range recordAliases {
		set[a] = struct{}{}
	}
	for _, k := range queryKeys {
		if _, ok := set[k]; ok {
			return true
		}
	}
	return false
}
