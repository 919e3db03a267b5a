// Package sqlite persists documents as JSON rows in a single SQLite table,
// one row per document, keyed by collection and identifier.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"docsession/internal/infra/persistence/jsondoc"
	"docsession/pkg/document"
)

// Compile-time contract assertion.
var _ document.Store = (*Store)(nil)

// Store is a SQLite-backed document store.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the database file at path. An empty
// path defaults to ./docsession.db.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "docsession.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (collection, id)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Collection returns the handle for a named collection.
func (s *Store) Collection(name string) document.Collection {
	return &Collection{store: s, name: name}
}

// Begin starts a database transaction.
func (s *Store) Begin(ctx context.Context) (document.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin sqlite tx: %w", err)
	}
	return &Tx{tx: tx, active: true}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Tx wraps a sql.Tx.
type Tx struct {
	tx     *sql.Tx
	active bool
}

// Commit commits the transaction.
func (t *Tx) Commit(_ context.Context) error {
	t.active = false
	return t.tx.Commit()
}

// Abort rolls the transaction back.
func (t *Tx) Abort(_ context.Context) error {
	t.active = false
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// InTransaction reports whether the transaction is still in flight.
func (t *Tx) InTransaction() bool { return t.active }

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Collection implements document.Collection over the documents table.
type Collection struct {
	store *Store
	name  string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) runner(tx document.Tx) querier {
	if t, ok := tx.(*Tx); ok && t.active {
		return t.tx
	}
	return c.store.db
}

// InsertOne stores doc under a freshly assigned identifier.
func (c *Collection) InsertOne(ctx context.Context, tx document.Tx, doc document.D) (document.ID, error) {
	payload, err := jsondoc.Encode(doc)
	if err != nil {
		return "", err
	}
	id := document.NewID()
	if _, err := c.runner(tx).ExecContext(ctx,
		`INSERT INTO documents (collection, id, payload) VALUES (?, ?, ?)`,
		c.name, id.String(), payload); err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

// UpdateByID merges set into the stored payload.
func (c *Collection) UpdateByID(ctx context.Context, tx document.Tx, id document.ID, set document.D) error {
	run := c.runner(tx)
	var payload []byte
	err := run.QueryRowContext(ctx,
		`SELECT payload FROM documents WHERE collection = ? AND id = ?`,
		c.name, id.String()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return document.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select document: %w", err)
	}
	merged, err := jsondoc.Merge(payload, set)
	if err != nil {
		return err
	}
	if _, err := run.ExecContext(ctx,
		`UPDATE documents SET payload = ? WHERE collection = ? AND id = ?`,
		merged, c.name, id.String()); err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

// DeleteByID removes a document.
func (c *Collection) DeleteByID(ctx context.Context, tx document.Tx, id document.ID) error {
	res, err := c.runner(tx).ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`,
		c.name, id.String())
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return document.ErrNotFound
	}
	return nil
}

// FindByID returns the identified document, IDField included.
func (c *Collection) FindByID(ctx context.Context, tx document.Tx, id document.ID) (document.D, error) {
	var payload []byte
	err := c.runner(tx).QueryRowContext(ctx,
		`SELECT payload FROM documents WHERE collection = ? AND id = ?`,
		c.name, id.String()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, document.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select document: %w", err)
	}
	doc, err := jsondoc.Decode(payload)
	if err != nil {
		return nil, err
	}
	doc[document.IDField] = id.String()
	return doc, nil
}

// Find returns all documents matching the equality filter.
func (c *Collection) Find(ctx context.Context, tx document.Tx, filter document.D) ([]document.D, error) {
	rows, err := c.runner(tx).QueryContext(ctx,
		`SELECT id, payload FROM documents WHERE collection = ? ORDER BY id`,
		c.name)
	if err != nil {
		return nil, fmt.Errorf("select documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []document.D
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc, err := jsondoc.Decode(payload)
		if err != nil {
			return nil, err
		}
		ok, err := c.matchRow(id, doc, filter)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		doc[document.IDField] = id
		out = append(out, doc)
	}
	return out, rows.Err()
}

// Count returns the number of documents matching the equality filter.
func (c *Collection) Count(ctx context.Context, tx document.Tx, filter document.D) (int64, error) {
	if len(filter) == 0 {
		var n int64
		err := c.runner(tx).QueryRowContext(ctx,
			`SELECT COUNT(*) FROM documents WHERE collection = ?`, c.name).Scan(&n)
		return n, err
	}
	docs, err := c.Find(ctx, tx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (c *Collection) matchRow(id string, doc document.D, filter document.D) (bool, error) {
	if want, ok := filter[document.IDField]; ok {
		if fmt.Sprint(want) != id {
			return false, nil
		}
	}
	return jsondoc.Matches(doc, filter)
}

// BulkWrite executes ops in order; with ordered set, the first failure stops
// the batch and is returned.
func (c *Collection) BulkWrite(ctx context.Context, tx document.Tx, ops []document.WriteOp, ordered bool) (document.BulkResult, error) {
	var res document.BulkResult
	var firstErr error
	for _, op := range ops {
		var err error
		switch op.Kind {
		case document.OpInsert:
			_, err = c.InsertOne(ctx, tx, op.Document)
			if err == nil {
				res.Inserted++
			}
		case document.OpUpdate:
			err = c.UpdateByID(ctx, tx, op.ID, op.Set)
			if err == nil {
				res.Matched++
				res.Modified++
			}
		case document.OpDelete:
			err = c.DeleteByID(ctx, tx, op.ID)
			if err == nil {
				res.Deleted++
			}
		}
		if err != nil {
			if ordered {
				return res, err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return res, firstErr
}
