package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/brandmig/pkg/brand"
	_ "modernc.org/sqlite"
)

func init() {
	Register("sqlite", openSQLite)
	Register("file", openSQLite)
}

// SQLiteCollection stores documents as JSON rows in a SQLite table named after
// the collection. Insertion order is kept by an autoincrement sequence.
type SQLiteCollection struct {
	db        *sql.DB
	table     string
	validator *brand.Validator
	opts      Options
}

var _ Collection = (*SQLiteCollection)(nil)

func openSQLite(ctx context.Context, u *url.URL, opts Options) (Collection, error) {
	path := uriPath(u)
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return OpenSQLite(ctx, path, opts)
}

// OpenSQLite opens (or creates) the SQLite database at path and ensures the
// collection table exists. path may be ":memory:". A path carrying its own
// query string keeps it in place of the default pragmas.
func OpenSQLite(ctx context.Context, path string, opts Options) (*SQLiteCollection, error) {
	if err := opts.check(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("open sqlite store: empty path")
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// One connection keeps :memory: databases alive and writes serialized.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		id         TEXT NOT NULL UNIQUE,
		doc        TEXT NOT NULL CHECK (json_valid(doc)),
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`, opts.Collection)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create %s table: %w", opts.Collection, err)
	}

	return &SQLiteCollection{db: db, table: opts.Collection, validator: opts.Validator, opts: opts}, nil
}

// Close closes the SQLite connection.
func (s *SQLiteCollection) Close() error {
	return s.db.Close()
}

// Clear deletes every row of the collection.
func (s *SQLiteCollection) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q`, s.table))
	if err != nil {
		return 0, fmt.Errorf("clear %s: %w", s.table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// InsertMany inserts documents in one transaction and stamps their
// timestamps. A duplicate id aborts the whole batch.
func (s *SQLiteCollection) InsertMany(ctx context.Context, docs []Document) error {
	if err := checkIDs(docs); err != nil {
		return err
	}
	now := s.opts.now()
	for i := range docs {
		docs[i].CreatedAt, docs[i].UpdatedAt = now, now
	}
	return s.insert(ctx, docs)
}

// InsertCanonical validates every record, then inserts them under new ids.
func (s *SQLiteCollection) InsertCanonical(ctx context.Context, recs []brand.Record) ([]Document, error) {
	if err := validateAll(s.validator, recs); err != nil {
		return nil, err
	}
	now := s.opts.now()
	docs := make([]Document, len(recs))
	for i, rec := range recs {
		docs[i] = Document{ID: NewID(), Fields: rec.Fields(), CreatedAt: now, UpdatedAt: now}
	}
	if err := s.insert(ctx, docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *SQLiteCollection) insert(ctx context.Context, docs []Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	var exists int
	probe := fmt.Sprintf(`SELECT COUNT(*) FROM %q WHERE id = ?`, s.table)
	q := fmt.Sprintf(`INSERT INTO %q (id, doc, created_at, updated_at) VALUES (?, ?, ?, ?)`, s.table)
	for _, d := range docs {
		if err := tx.QueryRowContext(ctx, probe, d.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check id %s: %w", d.ID, err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
		}

		body, err := json.Marshal(d.Fields)
		if err != nil {
			return fmt.Errorf("encode %s: %w", d.ID, err)
		}
		if _, err := tx.ExecContext(ctx, q, d.ID, string(body), d.CreatedAt.UnixMilli(), d.UpdatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert %s: %w", d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// FindAll returns every document ordered by insertion.
func (s *SQLiteCollection) FindAll(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, doc, created_at, updated_at FROM %q ORDER BY seq`, s.table))
	if err != nil {
		return nil, fmt.Errorf("find all in %s: %w", s.table, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d                Document
			body             string
			created, updated int64
		)
		if err := rows.Scan(&d.ID, &body, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &d.Fields); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.ID, err)
		}
		d.CreatedAt = time.UnixMilli(created).UTC()
		d.UpdatedAt = time.UnixMilli(updated).UTC()
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// ReplaceCanonical validates rec and overwrites the fields of document id.
func (s *SQLiteCollection) ReplaceCanonical(ctx context.Context, id string, rec brand.Record) error {
	if err := validateOne(s.validator, id, rec); err != nil {
		return err
	}

	body, err := json.Marshal(rec.Fields())
	if err != nil {
		return fmt.Errorf("encode %s: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %q SET doc = ?, updated_at = ? WHERE id = ?`, s.table),
		string(body), s.opts.now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("replace %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("replace %s: %w", id, ErrNotFound)
	}
	return nil
}
