package memory

import (
	"context"
	"errors"
	"testing"

	"docsession/pkg/document"
)

func TestCollectionCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	coll := store.Collection("specimens")

	id, err := coll.InsertOne(ctx, nil, document.D{"name": "frog", "legs": 4})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	if id.IsZero() {
		t.Fatal("insert must assign an identifier")
	}

	doc, err := coll.FindByID(ctx, nil, id)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if doc["name"] != "frog" || doc[document.IDField] != id.String() {
		t.Fatalf("doc = %v", doc)
	}

	if err := coll.UpdateByID(ctx, nil, id, document.D{"legs": 3}); err != nil {
		t.Fatalf("UpdateByID: %v", err)
	}
	doc, _ = coll.FindByID(ctx, nil, id)
	if doc["legs"] != 3 || doc["name"] != "frog" {
		t.Fatalf("partial update wrong: %v", doc)
	}

	n, err := coll.Count(ctx, nil, document.D{"name": "frog"})
	if err != nil || n != 1 {
		t.Fatalf("Count = %d, %v", n, err)
	}

	if err := coll.DeleteByID(ctx, nil, id); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	if _, err := coll.FindByID(ctx, nil, id); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := coll.DeleteByID(ctx, nil, id); !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("double delete = %v", err)
	}
}

func TestDocumentsAreClonedAtTheBoundary(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	coll := store.Collection("specimens")

	in := document.D{"tags": []any{"a"}}
	id, err := coll.InsertOne(ctx, nil, in)
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	in["tags"].([]any)[0] = "mutated"

	out, err := coll.FindByID(ctx, nil, id)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if out["tags"].([]any)[0] != "a" {
		t.Fatal("stored document aliased caller state")
	}
	out["tags"].([]any)[0] = "mutated-read"

	again, _ := coll.FindByID(ctx, nil, id)
	if again["tags"].([]any)[0] != "a" {
		t.Fatal("returned document aliased stored state")
	}
}

func TestTransactionAbortRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	coll := store.Collection("specimens")

	keep, err := coll.InsertOne(ctx, nil, document.D{"name": "kept"})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := store.Begin(ctx); !errors.Is(err, document.ErrTxActive) {
		t.Fatalf("second Begin = %v, want ErrTxActive", err)
	}
	if _, err := coll.InsertOne(ctx, tx, document.D{"name": "doomed"}); err != nil {
		t.Fatalf("InsertOne in tx: %v", err)
	}
	if err := coll.UpdateByID(ctx, tx, keep, document.D{"name": "changed"}); err != nil {
		t.Fatalf("UpdateByID in tx: %v", err)
	}
	if err := tx.Abort(ctx); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if tx.InTransaction() {
		t.Fatal("aborted transaction still active")
	}

	n, _ := coll.Count(ctx, nil, nil)
	if n != 1 {
		t.Fatalf("count after abort = %d", n)
	}
	doc, _ := coll.FindByID(ctx, nil, keep)
	if doc["name"] != "kept" {
		t.Fatalf("update survived abort: %v", doc)
	}
}

func TestTransactionCommitKeepsWrites(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	coll := store.Collection("specimens")

	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	id, err := coll.InsertOne(ctx, tx, document.D{"name": "lasting"})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	doc, err := coll.FindByID(ctx, nil, id)
	if err != nil || doc["name"] != "lasting" {
		t.Fatalf("doc = %v, %v", doc, err)
	}

	// A new transaction can start after commit.
	tx2, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin after commit: %v", err)
	}
	_ = tx2.Abort(ctx)
}

func TestBulkWriteOrderedStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	coll := store.Collection("specimens")

	id, _ := coll.InsertOne(ctx, nil, document.D{"n": 1})
	ops := []document.WriteOp{
		{Kind: document.OpUpdate, ID: id, Set: document.D{"n": 2}},
		{Kind: document.OpUpdate, ID: document.NewID(), Set: document.D{"n": 3}},
		{Kind: document.OpInsert, Document: document.D{"n": 4}},
	}
	res, err := coll.BulkWrite(ctx, nil, ops, true)
	if !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("ordered bulk error = %v", err)
	}
	if res.Modified != 1 || res.Inserted != 0 {
		t.Fatalf("result = %+v", res)
	}
	n, _ := coll.Count(ctx, nil, nil)
	if n != 1 {
		t.Fatalf("insert after failure applied, count = %d", n)
	}

	res, err = coll.BulkWrite(ctx, nil, ops, false)
	if !errors.Is(err, document.ErrNotFound) {
		t.Fatalf("unordered bulk error = %v", err)
	}
	if res.Inserted != 1 {
		t.Fatalf("unordered must run past failures: %+v", res)
	}
}

func TestFindWithFilter(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	coll := store.Collection("specimens")

	a, _ := coll.InsertOne(ctx, nil, document.D{"species": "frog", "stage": "adult"})
	_, _ = coll.InsertOne(ctx, nil, document.D{"species": "frog", "stage": "tadpole"})
	_, _ = coll.InsertOne(ctx, nil, document.D{"species": "newt", "stage": "adult"})

	docs, err := coll.Find(ctx, nil, document.D{"species": "frog"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("filtered find = %d docs", len(docs))
	}

	docs, err = coll.Find(ctx, nil, document.D{document.IDField: a.String()})
	if err != nil || len(docs) != 1 || docs[0]["stage"] != "adult" {
		t.Fatalf("find by id = %v, %v", docs, err)
	}

	docs, err = coll.Find(ctx, nil, nil)
	if err != nil || len(docs) != 3 {
		t.Fatalf("unfiltered find = %d docs, %v", len(docs), err)
	}
}
