// Package badger persists documents in a Badger key-value store. Each
// document is one JSON value under the key doc/<collection>/<id>.
package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"

	"docsession/internal/infra/persistence/jsondoc"
	"docsession/pkg/document"
)

// Compile-time contract assertion.
var _ document.Store = (*Store)(nil)

const keyPrefix = "doc/"

// Store is a Badger-backed document store.
type Store struct {
	db *badgerdb.DB
}

// NewStore opens the Badger database at path. An empty path opens an
// in-memory database.
func NewStore(path string) (*Store, error) {
	var opts badgerdb.Options
	if path == "" {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badgerdb.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Collection returns the handle for a named collection.
func (s *Store) Collection(name string) document.Collection {
	return &Collection{store: s, name: name}
}

// Begin starts a read-write Badger transaction.
func (s *Store) Begin(_ context.Context) (document.Tx, error) {
	return &Tx{txn: s.db.NewTransaction(true), active: true}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Tx wraps a Badger transaction.
type Tx struct {
	txn    *badgerdb.Txn
	active bool
}

// Commit commits the transaction.
func (t *Tx) Commit(_ context.Context) error {
	t.active = false
	return t.txn.Commit()
}

// Abort discards the transaction.
func (t *Tx) Abort(_ context.Context) error {
	t.active = false
	t.txn.Discard()
	return nil
}

// InTransaction reports whether the transaction is still in flight.
func (t *Tx) InTransaction() bool { return t.active }

// Collection implements document.Collection over a key range of the store.
type Collection struct {
	store *Store
	name  string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

func (c *Collection) key(id document.ID) []byte {
	return []byte(keyPrefix + c.name + "/" + id.String())
}

// update runs fn inside the caller's transaction when one is active,
// otherwise in a fresh one committed immediately.
func (c *Collection) update(tx document.Tx, fn func(txn *badgerdb.Txn) error) error {
	if t, ok := tx.(*Tx); ok && t.active {
		return fn(t.txn)
	}
	return c.store.db.Update(fn)
}

func (c *Collection) view(tx document.Tx, fn func(txn *badgerdb.Txn) error) error {
	if t, ok := tx.(*Tx); ok && t.active {
		return fn(t.txn)
	}
	return c.store.db.View(fn)
}

// InsertOne stores doc under a freshly assigned identifier.
func (c *Collection) InsertOne(_ context.Context, tx document.Tx, doc document.D) (document.ID, error) {
	payload, err := jsondoc.Encode(doc)
	if err != nil {
		return "", err
	}
	id := document.NewID()
	err = c.update(tx, func(txn *badgerdb.Txn) error {
		return txn.Set(c.key(id), payload)
	})
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

// UpdateByID merges set into the stored payload.
func (c *Collection) UpdateByID(_ context.Context, tx document.Tx, id document.ID, set document.D) error {
	return c.update(tx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get(c.key(id))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return document.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get document: %w", err)
		}
		payload, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		merged, err := jsondoc.Merge(payload, set)
		if err != nil {
			return err
		}
		return txn.Set(c.key(id), merged)
	})
}

// DeleteByID removes a document.
func (c *Collection) DeleteByID(_ context.Context, tx document.Tx, id document.ID) error {
	return c.update(tx, func(txn *badgerdb.Txn) error {
		if _, err := txn.Get(c.key(id)); errors.Is(err, badgerdb.ErrKeyNotFound) {
			return document.ErrNotFound
		} else if err != nil {
			return fmt.Errorf("get document: %w", err)
		}
		return txn.Delete(c.key(id))
	})
}

// FindByID returns the identified document, IDField included.
func (c *Collection) FindByID(_ context.Context, tx document.Tx, id document.ID) (document.D, error) {
	var doc document.D
	err := c.view(tx, func(txn *badgerdb.Txn) error {
		item, err := txn.Get(c.key(id))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return document.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get document: %w", err)
		}
		payload, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		doc, err = jsondoc.Decode(payload)
		return err
	})
	if err != nil {
		return nil, err
	}
	doc[document.IDField] = id.String()
	return doc, nil
}

// Find returns all documents matching the equality filter.
func (c *Collection) Find(_ context.Context, tx document.Tx, filter document.D) ([]document.D, error) {
	var out []document.D
	prefix := []byte(keyPrefix + c.name + "/")
	err := c.view(tx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), string(prefix))
			payload, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			doc, err := jsondoc.Decode(payload)
			if err != nil {
				return err
			}
			if want, ok := filter[document.IDField]; ok && fmt.Sprint(want) != id {
				continue
			}
			ok, err := jsondoc.Matches(doc, filter)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			doc[document.IDField] = id
			out = append(out, doc)
		}
		return nil
	})
	return out, err
}

// Count returns the number of documents matching the equality filter.
func (c *Collection) Count(ctx context.Context, tx document.Tx, filter document.D) (int64, error) {
	docs, err := c.Find(ctx, tx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
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
