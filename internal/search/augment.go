package search

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kikidoko/kikidoko-go/internal/apperrors"
	"github.com/kikidoko/kikidoko-go/internal/equipment"
	"github.com/kikidoko/kikidoko-go/internal/logger"
	"github.com/kikidoko/kikidoko-go/internal/metrics"
	"github.com/kikidoko/kikidoko-go/internal/store"
)

// Literal lookup limits. The lookups are unpaged by design: their whole
// point is to rescue a handful of exact matches that the bounded
// token/alias membership predicates may have filtered out.
const (
	exactNameLimit = 5
	exactOrgLimit  = 15
)

// institutionalSuffixes drives the organization-keyword heuristic: a
// keyword containing one of these looks like an organization name, so an
// exact org_name lookup is worth a query. Known to both under- and
// over-trigger; the ranker falls back to the unfiltered order when the
// narrowing would leave nothing.
var institutionalSuffixes = []string{
	"大学院", "大学", "高等専門学校", "高専",
	"研究所", "研究機構", "研究センター", "センター", "機構", "学校",
}

// LooksLikeOrganization reports whether the keyword carries an
// institutional suffix word.
func LooksLikeOrganization(keyword string) bool {
	for _, suffix := range institutionalSuffixes {
		if strings.Contains(keyword, suffix) {
			return true
		}
	}
	return false
}

// Augmenter issues small literal-equality lookups alongside the paged
// search so exact record and organization name matches are never lost to
// token filtering. It has no cache: a keyword change simply reruns it.
type Augmenter struct {
	reader  store.Reader
	log     *logger.Logger
	metrics *metrics.Metrics
}

// NewAugmenter creates an augmenter over the given store reader.
func NewAugmenter(reader store.Reader, log *logger.Logger, m *metrics.Metrics) *Augmenter {
	return &Augmenter{reader: reader, log: log, metrics: m}
}

// ExactMatches runs the literal lookups for a keyword and filters the
// results against the non-keyword facets, which the literal queries
// cannot carry themselves. Empty keyword yields nothing.
func (a *Augmenter) ExactMatches(ctx context.Context, keyword string, facets equipment.SearchFacets) ([]equipment.Record, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, nil
	}

	var nameHits, orgHits []equipment.Record

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		items, err := a.lookup(gctx, store.FieldName, keyword, exactNameLimit)
		if err != nil {
			return err
		}
		nameHits = items
		return nil
	})
	if LooksLikeOrganization(keyword) {
		g.Go(func() error {
			items, err := a.lookup(gctx, store.FieldOrgName, keyword, exactOrgLimit)
			if err != nil {
				return err
			}
			orgHits = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperrors.NewWrapper("search", "exact_lookup").
			Wrap(err, "完全一致の検索に失敗しました")
	}

	sideFacets := facets.WithoutKeyword()
	merged := make([]equipment.Record, 0, len(nameHits)+len(orgHits))
	for _, rec := range append(nameHits, orgHits...) {
		if sideFacets.Matches(&rec) {
			merged = append(merged, rec)
		}
	}
	return merged, nil
}

func (a *Augmenter) lookup(ctx context.Context, field, value string, limit int) ([]equipment.Record, error) {
	start := time.Now()
	result, err := a.reader.Query(ctx, store.Query{
		Collection: store.CollectionEquipment,
		Predicates: []store.Predicate{store.Equal(field, value)},
		Limit:      limit,
	})
	if err != nil {
		a.metrics.RecordStoreQuery("augmenter", apperrors.Classify(err).String(), time.Since(start).Seconds())
		return nil, err
	}
	a.metrics.RecordStoreQuery("augmenter", "success", time.Since(start).Seconds())
	return result.Items, nil
}
