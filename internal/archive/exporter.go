// Package archive exports collection snapshots as JSON artifacts into a blob
// store, with an optional audit trail.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"docsession/internal/blob"
	"docsession/pkg/document"
)

// AuditEntry captures audit trail metadata for archive exports.
type AuditEntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Collection string    `json:"collection"`
	Key        string    `json:"key,omitempty"`
	Documents  int       `json:"documents"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditLogger records archive audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// Exporter snapshots collections into timestamped JSON blobs.
type Exporter struct {
	store document.Store
	blobs blob.Store
	log   *slog.Logger
	audit AuditLogger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Exporter) { e.log = l }
}

// WithAudit sets the audit logger. Defaults to none.
func WithAudit(a AuditLogger) Option {
	return func(e *Exporter) { e.audit = a }
}

// NewExporter constructs an exporter over store and blobs.
func NewExporter(store document.Store, blobs blob.Store, opts ...Option) *Exporter {
	e := &Exporter{store: store, blobs: blobs, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export snapshots every document of the named collection into one JSON
// artifact keyed archives/<collection>/<timestamp>-<id>.json and returns the
// stored blob metadata.
func (e *Exporter) Export(ctx context.Context, collection string) (blob.Info, error) {
	docs, err := e.store.Collection(collection).Find(ctx, nil, nil)
	if err != nil {
		return blob.Info{}, e.fail(ctx, collection, fmt.Errorf("read collection %s: %w", collection, err))
	}
	if docs == nil {
		docs = []document.D{}
	}
	payload, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return blob.Info{}, e.fail(ctx, collection, fmt.Errorf("encode archive: %w", err))
	}

	key := fmt.Sprintf("archives/%s/%s-%s.json",
		collection, time.Now().UTC().Format("20060102T150405Z"), uuid.NewString())
	info, err := e.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"collection": collection},
	})
	if err != nil {
		return blob.Info{}, e.fail(ctx, collection, fmt.Errorf("store archive: %w", err))
	}

	e.log.Info("collection archived", "collection", collection, "key", key, "documents", len(docs))
	if e.audit != nil {
		e.audit.Record(ctx, AuditEntry{
			ID:         uuid.NewString(),
			Action:     "archive.export",
			Collection: collection,
			Key:        key,
			Documents:  len(docs),
			OccurredAt: time.Now().UTC(),
		})
	}
	return info, nil
}

// List returns the artifacts archived for a collection, ordered by key. An
// empty collection lists every archive.
func (e *Exporter) List(ctx context.Context, collection string) ([]blob.Info, error) {
	prefix := "archives/"
	if collection != "" {
		prefix += collection + "/"
	}
	return e.blobs.List(ctx, prefix)
}

func (e *Exporter) fail(ctx context.Context, collection string, err error) error {
	e.log.Error("archive export failed", "collection", collection, "error", err)
	if e.audit != nil {
		e.audit.Record(ctx, AuditEntry{
			ID:         uuid.NewString(),
			Action:     "archive.export",
			Collection: collection,
			Error:      err.Error(),
			OccurredAt: time.Now().UTC(),
		})
	}
	return err
}
