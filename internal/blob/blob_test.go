package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// The memory and filesystem stores share one behavioral contract.
func stores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	return map[string]Store{
		"memory": NewMemory(),
		"fs":     fsStore,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			payload := []byte(`{"hello":"world"}`)
			info, err := store.Put(ctx, "exports/a.json", bytes.NewReader(payload), PutOptions{
				ContentType: "application/json",
				Metadata:    map[string]string{"origin": "test"},
			})
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if info.Size != int64(len(payload)) || info.ContentType != "application/json" {
				t.Fatalf("info = %+v", info)
			}
			if info.ETag == "" {
				t.Error("etag must be set")
			}

			got, rc, err := store.Get(ctx, "exports/a.json")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			defer func() { _ = rc.Close() }()
			data, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.Equal(data, payload) {
				t.Fatalf("payload = %q", data)
			}
			if got.Metadata["origin"] != "test" {
				t.Fatalf("metadata = %v", got.Metadata)
			}

			head, err := store.Head(ctx, "exports/a.json")
			if err != nil || head.Size != info.Size {
				t.Fatalf("Head = %+v, %v", head, err)
			}
		})
	}
}

func TestPutIsCreateOnly(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Put(ctx, "k", strings.NewReader("one"), PutOptions{}); err != nil {
				t.Fatalf("Put: %v", err)
			}
			_, err := store.Put(ctx, "k", strings.NewReader("two"), PutOptions{})
			if !errors.Is(err, ErrExists) {
				t.Fatalf("second Put = %v, want ErrExists", err)
			}
		})
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Put(ctx, "k", strings.NewReader("x"), PutOptions{}); err != nil {
				t.Fatalf("Put: %v", err)
			}
			ok, err := store.Delete(ctx, "k")
			if err != nil || !ok {
				t.Fatalf("Delete = %v, %v", ok, err)
			}
			ok, err = store.Delete(ctx, "k")
			if err != nil || ok {
				t.Fatalf("second Delete = %v, %v", ok, err)
			}
			if _, _, err := store.Get(ctx, "k"); err == nil {
				t.Fatal("Get after delete must fail")
			}
		})
	}
}

func TestListByPrefixSorted(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, key := range []string{"exports/b", "exports/a", "other/c"} {
				if _, err := store.Put(ctx, key, strings.NewReader("x"), PutOptions{}); err != nil {
					t.Fatalf("Put %s: %v", key, err)
				}
			}
			infos, err := store.List(ctx, "exports/")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(infos) != 2 || infos[0].Key != "exports/a" || infos[1].Key != "exports/b" {
				t.Fatalf("infos = %+v", infos)
			}
			all, err := store.List(ctx, "")
			if err != nil || len(all) != 3 {
				t.Fatalf("unfiltered list = %d, %v", len(all), err)
			}
		})
	}
}

func TestFilesystemRejectsTraversalKeys(t *testing.T) {
	store, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("NewFilesystem: %v", err)
	}
	for _, key := range []string{"", "  ", "../escape", "/absolute", "a/../../b"} {
		if _, err := store.Put(context.Background(), key, strings.NewReader("x"), PutOptions{}); err == nil {
			t.Errorf("key %q accepted", key)
		}
	}
}

func TestDriverIdentity(t *testing.T) {
	for name, store := range stores(t) {
		if string(store.Driver()) != name {
			t.Errorf("driver %q reported %q", name, store.Driver())
		}
	}
}
