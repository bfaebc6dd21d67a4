// Package equipment defines the shared-equipment record model and the
// controlled facet vocabularies used across search, recommendation and
// storage.
package equipment

// External-use classifications as they appear in the source data.
const (
	ExternalUsePermitted    = "可"
	ExternalUseConsultation = "要相談"
	ExternalUseDenied       = "不可"
	ExternalUseUnknown      = "不明"
)

// Fee band classifications.
const (
	FeeBandFree    = "無料"
	FeeBandPaid    = "有料"
	FeeBandUnknown = "不明"
)

// CategoryAll is the category picker's all-categories sentinel. It is a
// UI value, never a stored category; facet consumers treat it as "no
// category filter".
const CategoryAll = "all"

// Coordinate is a WGS84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Record is one piece of shared research equipment as fetched from the
// document store. Records are read-only from this core's perspective:
// search and recommendation annotate copies, never the record itself.
type Record struct {
	ID              string   `json:"equipment_id"`
	Name            string   `json:"name"`
	CategoryGeneral string   `json:"category_general"`
	CategoryDetail  string   `json:"category_detail,omitempty"`
	OrgName         string   `json:"org_name"`
	OrgType         string   `json:"org_type,omitempty"`
	Prefecture      string   `json:"prefecture,omitempty"`
	Region          string   `json:"region,omitempty"`
	Address         string   `json:"address_raw,omitempty"`
	Usage           string   `json:"usage_manual_summary,omitempty"`
	ExternalUse     string   `json:"external_use,omitempty"`
	FeeBand         string   `json:"fee_band,omitempty"`
	SourceURL       string   `json:"source_url,omitempty"`
	Lat             *float64 `json:"lat,omitempty"`
	Lng             *float64 `json:"lng,omitempty"`

	// Precomputed search aids (built at ingest time, see normalize).
	SearchTokens  []string `json:"search_tokens,omitempty"`
	SearchAliases []string `json:"search_aliases,omitempty"`
}

// Coordinate returns the record's own geocoordinate when both components
// are present.
func (r *Record) Coordinate() (Coordinate, bool) {
	if r.Lat == nil || r.Lng == nil {
		return Coordinate{}, false
	}
	return Coordinate{Lat: *r.Lat, Lng: *r.Lng}, true
}

// SearchFacets is the full set of filterable dimensions for the main
// equipment list. The zero value means "browse everything".
type SearchFacets struct {
	Keyword      string `form:"keyword" json:"keyword"`
	Region       string `form:"region" json:"region"`
	Category     string `form:"category" json:"category"`
	ExternalOnly bool   `form:"external_only" json:"external_only"`
	FreeOnly     bool   `form:"free_only" json:"free_only"`
	Prefecture   string `form:"prefecture" json:"prefecture"`
	Organization string `form:"organization" json:"organization"`
}

// Canonical maps UI sentinel values onto their zero-value meaning, so
// downstream planning and matching only ever see real facet values.
func (f SearchFacets) Canonical() SearchFacets {
	if f.Category == CategoryAll {
		f.Category = ""
	}
	return f
}

// WithoutKeyword returns a copy of the facets with the keyword cleared.
// The exact-match augmenter filters its results against these, since its
// literal lookups cannot carry the other predicates.
func (f SearchFacets) WithoutKeyword() SearchFacets {
	f.Keyword = ""
	return f
}

// Matches reports whether the record satisfies every non-keyword facet.
func (f SearchFacets) Matches(r *Record) bool {
	f = f.Canonical()
	if f.Region != "" && r.Region != f.Region {
		return false
	}
	if f.Category != "" && r.CategoryGeneral != f.Category {
		return false
	}
	if f.ExternalOnly && r.ExternalUse != ExternalUsePermitted {
		return false
	}
	if f.FreeOnly && r.FeeBand != FeeBandFree {
		return false
	}
	if f.Prefecture != "" && r.Prefecture != f.Prefecture {
		return false
	}
	if f.Organization != "" && r.OrgName != f.Organization {
		return false
	}
	return true
}
