// Package search implements the equipment list pipeline: query planning
// against the limited document store, cached cursor-based pagination,
// literal-match augmentation, and client-side relevance ranking.
package search

import (
	"github.com/kikidoko/kikidoko-go/internal/equipment"
	"github.com/kikidoko/kikidoko-go/internal/normalize"
	"github.com/kikidoko/kikidoko-go/internal/store"
)

// Plan is the minimal store query a facet/keyword combination compiles
// to. Derivation is deterministic; only Degrade mutates it, and only by
// removing the ordering clause.
type Plan struct {
	Predicates []store.Predicate
	OrderBy    string
	// Degraded is set once the store has rejected this predicate shape
	// with a missing-index error and the ordering clause was dropped. It
	// never resets within a query generation.
	Degraded bool
}

// BuildPlan compiles facets plus normalizer output into a Plan.
//
// Content predicate priority: organization equality is most selective
// and wins outright; alias-key membership beats raw token membership;
// with neither the query is a pure browse. An ordering clause is only
// requested for pure equality queries (no content predicate, no
// organization filter), the one shape that is always indexable without
// a composite index — whether it actually is indexed is discovered at
// execution time.
func BuildPlan(facets equipment.SearchFacets, norm normalize.Result) Plan {
	facets = facets.Canonical()
	var plan Plan

	hasContent := false
	switch {
	case facets.Organization != "":
		plan.Predicates = append(plan.Predicates, store.Equal(store.FieldOrgName, facets.Organization))
	case len(norm.AliasKeys) > 0:
		plan.Predicates = append(plan.Predicates, store.OneOf(store.FieldSearchAliases, capValues(norm.AliasKeys)))
		hasContent = true
	case len(norm.Tokens) > 0:
		plan.Predicates = append(plan.Predicates, store.OneOf(store.FieldSearchTokens, capValues(norm.Tokens)))
		hasContent = true
	}

	if facets.Region != "" {
		plan.Predicates = append(plan.Predicates, store.Equal(store.FieldRegion, facets.Region))
	}
	if facets.Category != "" {
		plan.Predicates = append(plan.Predicates, store.Equal(store.FieldCategoryGeneral, facets.Category))
	}
	if facets.ExternalOnly {
		plan.Predicates = append(plan.Predicates, store.Equal(store.FieldExternalUse, equipment.ExternalUsePermitted))
	}
	if facets.FreeOnly {
		plan.Predicates = append(plan.Predicates, store.Equal(store.FieldFeeBand, equipment.FeeBandFree))
	}
	if facets.Prefecture != "" {
		plan.Predicates = append(plan.Predicates, store.Equal(store.FieldPrefecture, facets.Prefecture))
	}

	if !hasContent && facets.Organization == "" {
		plan.OrderBy = store.FieldName
	}
	return plan
}

// Degrade returns the plan with its ordering clause removed. Used after
// a missing-index rejection; correctness is preserved because ordering
// is a presentation concern re-established by the ranker.
func (p Plan) Degrade() Plan {
	p.OrderBy = ""
	p.Degraded = true
	return p
}

// Query materializes one page read from the plan.
func (p Plan) Query(startAfter store.Cursor, limit int) store.Query {
	return store.Query{
		Collection: store.CollectionEquipment,
		Predicates: p.Predicates,
		OrderBy:    p.OrderBy,
		StartAfter: startAfter,
		Limit:      limit,
	}
}

// capValues trims a membership value list to the store's oneOf limit.
func capValues(values []string) []string {
	if len(values) > store.MaxOneOfValues {
		values = values[:store.MaxOneOfValues]
	}
	return values
}
