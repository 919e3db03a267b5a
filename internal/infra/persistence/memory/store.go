// Package memory provides an in-memory document store used for tests and
// ephemeral environments. Transactions are implemented by snapshotting the
// whole state on Begin and restoring it on Abort.
package memory

import (
	"context"
	"reflect"
	"sync"

	"docsession/pkg/document"
)

// Compile-time contract assertion.
var _ document.Store = (*Store)(nil)

// Store holds collections of documents keyed by identifier. Every document
// crossing the store boundary is cloned, in both directions.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[document.ID]document.D
	tx          *Tx
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{collections: make(map[string]map[document.ID]document.D)}
}

// Collection returns the handle for a named collection, creating the bucket
// lazily on first write.
func (s *Store) Collection(name string) document.Collection {
	return &Collection{store: s, name: name}
}

// Begin starts a transaction. The memory store supports one transaction at a
// time; a second Begin while one is active fails with document.ErrTxActive.
func (s *Store) Begin(_ context.Context) (document.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil && s.tx.active {
		return nil, document.ErrTxActive
	}
	tx := &Tx{store: s, backup: s.cloneStateLocked(), active: true}
	s.tx = tx
	return tx, nil
}

// Close releases the store. The memory implementation has nothing to free.
func (s *Store) Close() error { return nil }

func (s *Store) cloneStateLocked() map[string]map[document.ID]document.D {
	out := make(map[string]map[document.ID]document.D, len(s.collections))
	for name, bucket := range s.collections {
		cp := make(map[document.ID]document.D, len(bucket))
		for id, doc := range bucket {
			cp[id] = doc.Clone()
		}
		out[name] = cp
	}
	return out
}

func (s *Store) bucketLocked(name string, create bool) map[document.ID]document.D {
	b, ok := s.collections[name]
	if !ok && create {
		b = make(map[document.ID]document.D)
		s.collections[name] = b
	}
	return b
}

// Tx is a snapshot-restore transaction over the whole store state.
type Tx struct {
	store  *Store
	backup map[string]map[document.ID]document.D
	active bool
}

// Commit makes all writes since Begin permanent.
func (t *Tx) Commit(_ context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.active = false
	t.backup = nil
	return nil
}

// Abort restores the state captured at Begin.
func (t *Tx) Abort(_ context.Context) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.active {
		t.store.collections = t.backup
	}
	t.active = false
	t.backup = nil
	return nil
}

// InTransaction reports whether the transaction is still in flight.
func (t *Tx) InTransaction() bool { return t.active }

// Collection implements document.Collection over the store's buckets. Writes
// apply to live state immediately; the active transaction's snapshot makes
// them revertible.
type Collection struct {
	store *Store
	name  string
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// InsertOne stores doc under a freshly assigned identifier.
func (c *Collection) InsertOne(_ context.Context, _ document.Tx, doc document.D) (document.ID, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	id := document.NewID()
	stored := doc.Clone()
	delete(stored, document.IDField)
	c.store.bucketLocked(c.name, true)[id] = stored
	return id, nil
}

// UpdateByID overwrites the fields present in set.
func (c *Collection) UpdateByID(_ context.Context, _ document.Tx, id document.ID, set document.D) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	bucket := c.store.bucketLocked(c.name, false)
	doc, ok := bucket[id]
	if !ok {
		return document.ErrNotFound
	}
	for k, v := range set.Clone() {
		if k == document.IDField {
			continue
		}
		doc[k] = v
	}
	return nil
}

// DeleteByID removes a document.
func (c *Collection) DeleteByID(_ context.Context, _ document.Tx, id document.ID) error {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	bucket := c.store.bucketLocked(c.name, false)
	if _, ok := bucket[id]; !ok {
		return document.ErrNotFound
	}
	delete(bucket, id)
	return nil
}

// FindByID returns a copy of the identified document, IDField included.
func (c *Collection) FindByID(_ context.Context, _ document.Tx, id document.ID) (document.D, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	bucket := c.store.bucketLocked(c.name, false)
	doc, ok := bucket[id]
	if !ok {
		return nil, document.ErrNotFound
	}
	out := doc.Clone()
	out[document.IDField] = id.String()
	return out, nil
}

// Find returns copies of all documents matching the equality filter. A nil
// filter matches everything.
func (c *Collection) Find(_ context.Context, _ document.Tx, filter document.D) ([]document.D, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	var out []document.D
	for id, doc := range c.store.bucketLocked(c.name, false) {
		if !matches(id, doc, filter) {
			continue
		}
		cp := doc.Clone()
		cp[document.IDField] = id.String()
		out = append(out, cp)
	}
	return out, nil
}

// Count returns the number of documents matching the equality filter.
func (c *Collection) Count(_ context.Context, _ document.Tx, filter document.D) (int64, error) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()
	var n int64
	for id, doc := range c.store.bucketLocked(c.name, false) {
		if matches(id, doc, filter) {
			n++
		}
	}
	return n, nil
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

func matches(id document.ID, doc document.D, filter document.D) bool {
	for k, want := range filter {
		if k == document.IDField {
			if id.String() != want {
				return false
			}
			continue
		}
		got, ok := doc[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}
