package document

import (
	"context"
	"errors"
)

// ErrNotFound indicates a document lookup or update that matched nothing.
var ErrNotFound = errors.New("document: not found")

// ErrTxActive indicates an attempt to begin a transaction while another one
// is still in flight on a store that supports only one at a time.
var ErrTxActive = errors.New("document: transaction already active")

// OpKind discriminates bulk write operations.
type OpKind int

const (
	// OpInsert inserts Document as a new record.
	OpInsert OpKind = iota
	// OpUpdate applies Set to the document identified by ID.
	OpUpdate
	// OpDelete removes the document identified by ID.
	OpDelete
)

// WriteOp is a single entry in a bulk write.
type WriteOp struct {
	Kind     OpKind
	ID       ID
	Document D // insert payload, identifier omitted
	Set      D // update fields, partial
}

// BulkResult summarizes an executed bulk write.
type BulkResult struct {
	Inserted int
	Matched  int
	Modified int
	Deleted  int
}

// Tx is a transaction handle. It is created and owned by the caller; the
// unit of work only drives Commit and Abort on it.
type Tx interface {
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
	InTransaction() bool
}

// Collection is a handle to one named collection of documents. A nil Tx on
// any operation means "execute outside any transaction".
type Collection interface {
	Name() string

	// InsertOne stores doc as a new document and returns the store-assigned
	// identifier. Any IDField key present in doc is ignored.
	InsertOne(ctx context.Context, tx Tx, doc D) (ID, error)

	// UpdateByID overwrites only the fields present in set on the document
	// with the given identifier. Returns ErrNotFound if no document matches.
	UpdateByID(ctx context.Context, tx Tx, id ID, set D) error

	// DeleteByID removes a document. Returns ErrNotFound if absent.
	DeleteByID(ctx context.Context, tx Tx, id ID) error

	// FindByID returns a copy of the identified document including IDField.
	FindByID(ctx context.Context, tx Tx, id ID) (D, error)

	// Find returns copies of all documents matching the equality filter.
	// A nil or empty filter matches everything. Ordering is unspecified.
	Find(ctx context.Context, tx Tx, filter D) ([]D, error)

	// Count returns the number of documents matching the equality filter.
	Count(ctx context.Context, tx Tx, filter D) (int64, error)

	// BulkWrite executes ops in order. When ordered is true, the first
	// failure aborts the remainder and is returned; earlier operations in
	// the batch stay applied (detectable partial application within a
	// collection, per the unit-of-work contract).
	BulkWrite(ctx context.Context, tx Tx, ops []WriteOp, ordered bool) (BulkResult, error)
}

// Store is a document store exposing named collections and transactions.
type Store interface {
	Collection(name string) Collection
	Begin(ctx context.Context) (Tx, error)
	Close() error
}
