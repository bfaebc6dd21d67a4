// Package store defines the read contract of the remote document store
// the search core runs against: equality and small membership predicates,
// single-field ordering, opaque forward-only cursors, and errors
// classifiable into missing-index / transient / other. A SQLite-backed
// implementation is provided for local serving and tests.
package store

import (
	"context"

	"github.com/kikidoko/kikidoko-go/internal/equipment"
)

// CollectionEquipment is the document collection holding equipment records.
const CollectionEquipment = "equipment"

// Queryable field names. These mirror the document field names in the
// snapshot schema.
const (
	FieldID              = "equipment_id"
	FieldName            = "name"
	FieldOrgName         = "org_name"
	FieldRegion          = "region"
	FieldCategoryGeneral = "category_general"
	FieldExternalUse     = "external_use"
	FieldFeeBand         = "fee_band"
	FieldPrefecture      = "prefecture"
	FieldSearchTokens    = "search_tokens"
	FieldSearchAliases   = "search_aliases"
)

// MaxOneOfValues is the store's cap on membership predicate size.
const MaxOneOfValues = 10

// Operator is a predicate operator.
type Operator string

const (
	// OpEqual matches documents whose field equals the value exactly.
	OpEqual Operator = "=="
	// OpOneOf matches documents whose field (or any element of an array
	// field) is contained in a small fixed value list.
	OpOneOf Operator = "in"
)

// Predicate is one (field, operator, value) filter clause.
type Predicate struct {
	Field string
	Op    Operator
	// Value is a string for OpEqual and a []string for OpOneOf.
	Value any
}

// Equal builds an equality predicate.
func Equal(field, value string) Predicate {
	return Predicate{Field: field, Op: OpEqual, Value: value}
}

// OneOf builds a membership predicate.
func OneOf(field string, values []string) Predicate {
	return Predicate{Field: field, Op: OpOneOf, Value: values}
}

// Cursor is an opaque continuation token. Empty means "from the start".
type Cursor string

// Query describes one page read.
type Query struct {
	Collection string
	Predicates []Predicate
	// OrderBy names a single field to order by ascending. Empty means
	// document-identity order, the store's stable default.
	OrderBy string
	// StartAfter resumes after the document the cursor points at.
	StartAfter Cursor
	Limit      int
}

// Result is one page of documents.
type Result struct {
	Items []equipment.Record
	// NextCursor continues after the last item. Empty when the store
	// cannot guarantee more documents exist.
	NextCursor Cursor
}

// Reader is the read-side contract the search core depends on.
type Reader interface {
	Query(ctx context.Context, q Query) (Result, error)
}
