package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// SQLiteStore implements Store with SQLite. Each collection is a table of
// (id, doc) rows where doc is relaxed Extended JSON, so ObjectIDs and dates
// survive a round trip. Filters on "_id" are pushed into SQL; everything else
// is evaluated with Match.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex

	collections map[string]CollectionSpec
}

// NewSQLiteStore opens a SQLite database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	return NewSQLiteStoreFromDB(db), nil
}

// NewSQLiteStoreFromDB creates a SQLite store from an existing connection.
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:          db,
		collections: make(map[string]CollectionSpec),
	}
}

// Ensure creates the collection table and one expression index per unique field.
func (s *SQLiteStore) Ensure(ctx context.Context, spec CollectionSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	doc TEXT NOT NULL
)`, quoteIdent(spec.Name))
	if _, err := s.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}

	for _, field := range spec.Unique {
		indexSQL := fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (json_extract(doc, '$.%s'))",
			quoteIdent("ux_"+spec.Name+"_"+field),
			quoteIdent(spec.Name),
			field,
		)
		if _, err := s.db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("create index %s.%s: %w", spec.Name, field, err)
		}
	}

	s.collections[spec.Name] = spec
	return nil
}

func (s *SQLiteStore) table(collection string) (string, error) {
	s.mu.RLock()
	_, ok := s.collections[collection]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return quoteIdent(collection), nil
}

// Find returns matching documents.
func (s *SQLiteStore) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) ([]Document, error) {
	candidates, err := s.candidates(ctx, s.db, collection, filter)
	if err != nil {
		return nil, err
	}
	return evaluate(candidates, filter, opts)
}

// Count returns the number of matching documents.
func (s *SQLiteStore) Count(ctx context.Context, collection string, filter Filter) (int64, error) {
	candidates, err := s.candidates(ctx, s.db, collection, filter)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, doc := range candidates {
		ok, err := Match(doc, filter)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Insert stores doc.
func (s *SQLiteStore) Insert(ctx context.Context, collection string, doc Document) error {
	table, err := s.table(collection)
	if err != nil {
		return err
	}
	id, err := idKey(doc[IDField])
	if err != nil {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (id, doc) VALUES (?, ?)", table)
	if _, err := s.db.ExecContext(ctx, insertSQL, id, data); err != nil {
		return mapSQLiteError("insert", err)
	}
	return nil
}

// Update applies change to every matching document inside one transaction.
func (s *SQLiteStore) Update(ctx context.Context, collection string, filter Filter, change Change) (int64, error) {
	table, err := s.table(collection)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	matched, err := s.matching(ctx, tx, collection, filter)
	if err != nil {
		return 0, err
	}
	if change.Empty() {
		return int64(len(matched)), nil
	}

	updateSQL := fmt.Sprintf("UPDATE %s SET doc = ? WHERE id = ?", table)
	for _, doc := range matched {
		if err := ApplyChange(doc, change); err != nil {
			return 0, err
		}
		id, err := idKey(doc[IDField])
		if err != nil {
			return 0, err
		}
		data, err := encodeDocument(doc)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, updateSQL, data, id); err != nil {
			return 0, mapSQLiteError("update", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int64(len(matched)), nil
}

// Delete removes every matching document inside one transaction.
func (s *SQLiteStore) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	table, err := s.table(collection)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	matched, err := s.matching(ctx, tx, collection, filter)
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}

	ids := make([]any, 0, len(matched))
	for _, doc := range matched {
		id, err := idKey(doc[IDField])
		if err != nil {
			return 0, err
		}
		ids = append(ids, id)
	}

	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE id IN (%s)", table, placeholders(len(ids)))
	result, err := tx.ExecContext(ctx, deleteSQL, ids...)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	affected, _ := result.RowsAffected()
	return affected, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) matching(ctx context.Context, q queryer, collection string, filter Filter) ([]Document, error) {
	candidates, err := s.candidates(ctx, q, collection, filter)
	if err != nil {
		return nil, err
	}
	var out []Document
	for _, doc := range candidates {
		ok, err := Match(doc, filter)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// candidates loads the rows that could match filter, narrowing by primary
// key when the filter pins "_id".
func (s *SQLiteStore) candidates(ctx context.Context, q queryer, collection string, filter Filter) ([]Document, error) {
	table, err := s.table(collection)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT doc FROM %s", table)
	where, args := idClause(filter[IDField])
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY rowid"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		doc, err := decodeDocument([]byte(data))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// idClause translates an "_id" equality or $in condition into SQL.
func idClause(cond any) (string, []any) {
	if cond == nil {
		return "", nil
	}
	if id, err := idKey(cond); err == nil {
		return "id = ?", []any{id}
	}
	ops, ok := operatorMap(cond)
	if !ok || len(ops) != 1 {
		return "", nil
	}
	in, ok := ops["$in"]
	if !ok {
		return "", nil
	}
	items, ok := toSlice(in)
	if !ok {
		return "", nil
	}
	if len(items) == 0 {
		return "0 = 1", nil
	}
	args := make([]any, 0, len(items))
	for _, item := range items {
		id, err := idKey(item)
		if err != nil {
			return "", nil
		}
		args = append(args, id)
	}
	return "id IN (" + placeholders(len(args)) + ")", args
}

func idKey(v any) (string, error) {
	switch id := v.(type) {
	case bson.ObjectID:
		return id.Hex(), nil
	case string:
		if id == "" {
			return "", errors.New("empty _id")
		}
		return id, nil
	}
	return "", fmt.Errorf("unsupported _id type %T", v)
}

func encodeDocument(doc Document) (string, error) {
	data, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return "", fmt.Errorf("encode document: %w", err)
	}
	return string(data), nil
}

func decodeDocument(data []byte) (Document, error) {
	var m bson.M
	if err := bson.UnmarshalExtJSON(data, false, &m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return normalizeMap(m), nil
}

func mapSQLiteError(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
