package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver for database/sql

	"github.com/kikidoko/kikidoko-go/internal/apperrors"
	"github.com/kikidoko/kikidoko-go/internal/equipment"
)

// maxQueryLimit caps a single page read.
const maxQueryLimit = 100

// scalarColumns maps queryable scalar fields to their table columns.
var scalarColumns = map[string]string{
	FieldID:              "equipment_id",
	FieldName:            "name",
	FieldOrgName:         "org_name",
	FieldRegion:          "region",
	FieldCategoryGeneral: "category_general",
	FieldExternalUse:     "external_use",
	FieldFeeBand:         "fee_band",
	FieldPrefecture:      "prefecture",
}

// membershipTables maps array fields to their side tables.
var membershipTables = map[string]string{
	FieldSearchTokens:  "equipment_tokens",
	FieldSearchAliases: "equipment_aliases",
}

const schema = `
CREATE TABLE IF NOT EXISTS equipment (
	equipment_id     TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	category_general TEXT NOT NULL DEFAULT '',
	org_name         TEXT NOT NULL DEFAULT '',
	prefecture       TEXT NOT NULL DEFAULT '',
	region           TEXT NOT NULL DEFAULT '',
	external_use     TEXT NOT NULL DEFAULT '',
	fee_band         TEXT NOT NULL DEFAULT '',
	doc              TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS equipment_tokens (
	equipment_id TEXT NOT NULL,
	token        TEXT NOT NULL,
	PRIMARY KEY (equipment_id, token)
);
CREATE INDEX IF NOT EXISTS idx_equipment_tokens_token ON equipment_tokens(token);

CREATE TABLE IF NOT EXISTS equipment_aliases (
	equipment_id TEXT NOT NULL,
	alias        TEXT NOT NULL,
	PRIMARY KEY (equipment_id, alias)
);
CREATE INDEX IF NOT EXISTS idx_equipment_aliases_alias ON equipment_aliases(alias);

CREATE INDEX IF NOT EXISTS idx_equipment_name ON equipment(name);
CREATE INDEX IF NOT EXISTS idx_equipment_org ON equipment(org_name);
`

// SQLiteStore implements Reader on a local SQLite database. It reproduces
// the remote store's contract faithfully, including the missing-index
// failure mode: a query combining filters with an ordering clause is
// rejected unless a matching composite index was declared up front.
type SQLiteStore struct {
	conn *sql.DB
	path string

	mu      sync.RWMutex
	indexes map[string]bool
}

// NewSQLite opens (or creates) the database at path and initializes the
// schema. Use ":memory:" for an in-memory store.
func NewSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &SQLiteStore{
		conn:    conn,
		path:    path,
		indexes: make(map[string]bool),
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Ping verifies the connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

// Ready checks the store can serve queries.
func (s *SQLiteStore) Ready(ctx context.Context) error {
	var one int
	return s.conn.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// DeclareIndex registers a composite index for a filter+order shape.
// Field order within the filter set does not matter.
func (s *SQLiteStore) DeclareIndex(orderBy string, filterFields ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[indexShape(filterFields, orderBy)] = true
}

// indexShape canonicalizes a filter field set plus order field.
func indexShape(filterFields []string, orderBy string) string {
	fields := make([]string, len(filterFields))
	copy(fields, filterFields)
	sort.Strings(fields)
	return strings.Join(fields, ",") + "|order:" + orderBy
}

// hasIndex reports whether a composite index covers the shape.
func (s *SQLiteStore) hasIndex(filterFields []string, orderBy string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexes[indexShape(filterFields, orderBy)]
}

// cursorPayload is the decoded form of an opaque continuation token.
type cursorPayload struct {
	OrderField string `json:"f,omitempty"`
	OrderValue string `json:"o,omitempty"`
	ID         string `json:"id"`
}

func encodeCursor(p cursorPayload) Cursor {
	raw, _ := json.Marshal(p)
	return Cursor(base64.RawURLEncoding.EncodeToString(raw))
}

func decodeCursor(c Cursor) (cursorPayload, error) {
	var p cursorPayload
	raw, err := base64.RawURLEncoding.DecodeString(string(c))
	if err != nil {
		return p, fmt.Errorf("%w: malformed cursor", apperrors.ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("%w: malformed cursor", apperrors.ErrInvalidInput)
	}
	return p, nil
}

// CursorAfter builds a continuation token resuming after the given
// document under the given ordering. This is the analog of a
// start-after-document cursor: callers that trim a fetched page can
// resume after the last item they kept.
func CursorAfter(rec equipment.Record, orderBy string) Cursor {
	p := cursorPayload{OrderField: orderBy, ID: rec.ID}
	switch orderBy {
	case FieldName:
		p.OrderValue = rec.Name
	case FieldOrgName:
		p.OrderValue = rec.OrgName
	case FieldPrefecture:
		p.OrderValue = rec.Prefecture
	case FieldCategoryGeneral:
		p.OrderValue = rec.CategoryGeneral
	case FieldRegion:
		p.OrderValue = rec.Region
	}
	return encodeCursor(p)
}

// Query executes one page read.
func (s *SQLiteStore) Query(ctx context.Context, q Query) (Result, error) {
	if q.Collection != CollectionEquipment {
		return Result{}, fmt.Errorf("%w: unknown collection %q", apperrors.ErrInvalidInput, q.Collection)
	}
	if q.Limit <= 0 || q.Limit > maxQueryLimit {
		return Result{}, fmt.Errorf("%w: limit must be in 1..%d", apperrors.ErrInvalidInput, maxQueryLimit)
	}

	var (
		clauses      []string
		args         []any
		filterFields []string
	)

	for _, p := range q.Predicates {
		filterFields = append(filterFields, p.Field)
		switch p.Op {
		case OpEqual:
			col, ok := scalarColumns[p.Field]
			if !ok {
				return Result{}, fmt.Errorf("%w: field %q does not support equality", apperrors.ErrInvalidInput, p.Field)
			}
			value, ok := p.Value.(string)
			if !ok {
				return Result{}, fmt.Errorf("%w: equality value for %q must be a string", apperrors.ErrInvalidInput, p.Field)
			}
			clauses = append(clauses, fmt.Sprintf("e.%s = ?", col))
			args = append(args, value)

		case OpOneOf:
			values, ok := p.Value.([]string)
			if !ok || len(values) == 0 {
				return Result{}, fmt.Errorf("%w: membership value for %q must be a non-empty string list", apperrors.ErrInvalidInput, p.Field)
			}
			if len(values) > MaxOneOfValues {
				return Result{}, fmt.Errorf("%w: membership predicate on %q exceeds %d values", apperrors.ErrInvalidInput, p.Field, MaxOneOfValues)
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
			if table, isArray := membershipTables[p.Field]; isArray {
				valueCol := "token"
				if p.Field == FieldSearchAliases {
					valueCol = "alias"
				}
				clauses = append(clauses, fmt.Sprintf(
					"EXISTS (SELECT 1 FROM %s m WHERE m.equipment_id = e.equipment_id AND m.%s IN (%s))",
					table, valueCol, placeholders))
			} else if col, isScalar := scalarColumns[p.Field]; isScalar {
				clauses = append(clauses, fmt.Sprintf("e.%s IN (%s)", col, placeholders))
			} else {
				return Result{}, fmt.Errorf("%w: field %q does not support membership", apperrors.ErrInvalidInput, p.Field)
			}
			for _, v := range values {
				args = append(args, v)
			}

		default:
			return Result{}, fmt.Errorf("%w: unsupported operator %q", apperrors.ErrInvalidInput, p.Op)
		}
	}

	// The missing-index contract: filtered queries with an explicit
	// ordering clause need a declared composite index. Document-identity
	// order is always available.
	orderCol := ""
	if q.OrderBy != "" {
		col, ok := scalarColumns[q.OrderBy]
		if !ok {
			return Result{}, fmt.Errorf("%w: cannot order by %q", apperrors.ErrInvalidInput, q.OrderBy)
		}
		orderCol = col
		if len(filterFields) > 0 && !s.hasIndex(filterFields, q.OrderBy) {
			return Result{}, apperrors.MissingIndex(indexShape(filterFields, q.OrderBy))
		}
	}

	if q.StartAfter != "" {
		p, err := decodeCursor(q.StartAfter)
		if err != nil {
			return Result{}, err
		}
		if p.OrderField != q.OrderBy {
			return Result{}, fmt.Errorf("%w: cursor does not match query ordering", apperrors.ErrInvalidInput)
		}
		if orderCol != "" {
			clauses = append(clauses, fmt.Sprintf("(e.%s > ? OR (e.%s = ? AND e.equipment_id > ?))", orderCol, orderCol))
			args = append(args, p.OrderValue, p.OrderValue, p.ID)
		} else {
			clauses = append(clauses, "e.equipment_id > ?")
			args = append(args, p.ID)
		}
	}

	query := "SELECT e.doc"
	if orderCol != "" {
		query += ", e." + orderCol
	}
	query += " FROM equipment e"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	if orderCol != "" {
		query += fmt.Sprintf(" ORDER BY e.%s ASC, e.equipment_id ASC", orderCol)
	} else {
		query += " ORDER BY e.equipment_id ASC"
	}
	query += " LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return Result{}, apperrors.Transient(fmt.Errorf("query equipment: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var (
		result    Result
		lastOrder string
	)
	for rows.Next() {
		var doc string
		if orderCol != "" {
			if err := rows.Scan(&doc, &lastOrder); err != nil {
				return Result{}, apperrors.Transient(fmt.Errorf("scan equipment row: %w", err))
			}
		} else if err := rows.Scan(&doc); err != nil {
			return Result{}, apperrors.Transient(fmt.Errorf("scan equipment row: %w", err))
		}

		var rec equipment.Record
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return Result{}, apperrors.Transient(fmt.Errorf("decode equipment doc: %w", err))
		}
		result.Items = append(result.Items, rec)
	}
	if err := rows.Err(); err != nil {
		return Result{}, apperrors.Transient(fmt.Errorf("iterate equipment rows: %w", err))
	}

	if len(result.Items) == q.Limit {
		last := result.Items[len(result.Items)-1]
		result.NextCursor = encodeCursor(cursorPayload{
			OrderField: q.OrderBy,
			OrderValue: lastOrder,
			ID:         last.ID,
		})
	}
	return result, nil
}

// GetByID fetches one record by identity.
func (s *SQLiteStore) GetByID(ctx context.Context, id string) (*equipment.Record, error) {
	var doc string
	err := s.conn.QueryRowContext(ctx, "SELECT doc FROM equipment WHERE equipment_id = ?", id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Transient(fmt.Errorf("get equipment %s: %w", id, err))
	}
	var rec equipment.Record
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, apperrors.Transient(fmt.Errorf("decode equipment doc: %w", err))
	}
	return &rec, nil
}

// Put inserts or replaces one record together with its membership rows.
func (s *SQLiteStore) Put(ctx context.Context, rec *equipment.Record) error {
	return s.PutBatch(ctx, []*equipment.Record{rec})
}

// PutBatch inserts or replaces records in a single transaction.
func (s *SQLiteStore) PutBatch(ctx context.Context, records []*equipment.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("%w: record without id", apperrors.ErrInvalidInput)
		}
		doc, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode equipment %s: %w", rec.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO equipment
				(equipment_id, name, category_general, org_name, prefecture, region, external_use, fee_band, doc)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Name, rec.CategoryGeneral, rec.OrgName,
			rec.Prefecture, rec.Region, rec.ExternalUse, rec.FeeBand, string(doc),
		); err != nil {
			return fmt.Errorf("insert equipment %s: %w", rec.ID, err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM equipment_tokens WHERE equipment_id = ?", rec.ID); err != nil {
			return fmt.Errorf("clear tokens for %s: %w", rec.ID, err)
		}
		for _, token := range rec.SearchTokens {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO equipment_tokens (equipment_id, token) VALUES (?, ?)",
				rec.ID, token); err != nil {
				return fmt.Errorf("insert token for %s: %w", rec.ID, err)
			}
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM equipment_aliases WHERE equipment_id = ?", rec.ID); err != nil {
			return fmt.Errorf("clear aliases for %s: %w", rec.ID, err)
		}
		for _, alias := range rec.SearchAliases {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO equipment_aliases (equipment_id, alias) VALUES (?, ?)",
				rec.ID, alias); err != nil {
				return fmt.Errorf("insert alias for %s: %w", rec.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Count returns the total number of records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM equipment").Scan(&n); err != nil {
		return 0, apperrors.Transient(fmt.Errorf("count equipment: %w", err))
	}
	return n, nil
}

// CountByPrefecture returns known facility counts per prefecture, the
// density signal the recommendation builder ranks regions with.
func (s *SQLiteStore) CountByPrefecture(ctx context.Context) (map[string]int, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT prefecture, COUNT(*) FROM equipment WHERE prefecture != '' GROUP BY prefecture")
	if err != nil {
		return nil, apperrors.Transient(fmt.Errorf("count by prefecture: %w", err))
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var pref string
		var n int
		if err := rows.Scan(&pref, &n); err != nil {
			return nil, apperrors.Transient(fmt.Errorf("scan prefecture count: %w", err))
		}
		counts[pref] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Transient(fmt.Errorf("iterate prefecture counts: %w", err))
	}
	return counts, nil
}

// Compile-time interface check.
var _ Reader = (*SQLiteStore)(nil)
