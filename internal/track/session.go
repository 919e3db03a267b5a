package track

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"docsession/pkg/document"
)

type sessionPhase int

const (
	phaseOpen sessionPhase = iota
	phaseCommitted
	phaseRolledBack
	phaseClosed
)

// Session is the unit of work: it owns the tracking state of every record
// added to it, decides insert versus update per record, builds partial update
// documents at flush time, and drives commit/rollback on the transaction
// handle the caller passed in. A session serves one logical unit of work from
// one goroutine; it performs I/O only in Flush, Commit and Rollback.
type Session struct {
	registry    *Registry
	store       document.Store
	tx          document.Tx
	collections map[*RecordType]string
	log         *slog.Logger
	metrics     MetricsRecorder
	tracer      Tracer

	phase   sessionPhase
	handles map[any]*Tracked // all records, keyed by pointer identity
	order   []any            // tracked records in add order
	pending []any            // records awaiting their first insert, in add order
}

// Option configures a Session.
type Option func(*Session)

// WithCollection maps a registered record type to its destination collection.
func WithCollection(rt *RecordType, name string) Option {
	return func(s *Session) { s.collections[rt] = name }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithMetrics sets the metrics recorder. Defaults to a no-op.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Session) { s.metrics = m }
}

// WithTracer sets the tracer. Defaults to a no-op.
func WithTracer(tr Tracer) Option {
	return func(s *Session) { s.tracer = tr }
}

// NewSession opens a unit of work against store. tx may be nil when the
// deployment runs without transactions; the session never creates or closes
// the handle, it only drives Commit and Abort on it.
func NewSession(registry *Registry, store document.Store, tx document.Tx, opts ...Option) *Session {
	s := &Session{
		registry:    registry,
		store:       store,
		tx:          tx,
		collections: make(map[*RecordType]string),
		log:         slog.Default(),
		metrics:     noopMetrics{},
		tracer:      noopTracer{},
		handles:     make(map[any]*Tracked),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ensureMutable() error {
	if s.phase != phaseOpen {
		return ErrSessionNotActive
	}
	return nil
}

// Add places a record under session tracking and returns its mutation
// handle. Records without an identifier become pending inserts; records with
// one get an instance state and a serialized baseline. Adding the same
// instance twice returns the existing handle without touching its baseline.
// All container and nested-record fields are deep-copied on first add so two
// records constructed from one shared mutable value stay independent.
func (s *Session) Add(rec any) (*Tracked, error) {
	if err := s.ensureMutable(); err != nil {
		return nil, err
	}
	rt, err := s.registry.typeOf(rec)
	if err != nil {
		return nil, err
	}
	if _, ok := s.collections[rt]; !ok {
		return nil, NoCollectionMappingError{Type: rt.Name()}
	}
	if h, ok := s.handles[rec]; ok {
		return h, nil
	}
	rv := reflect.ValueOf(rec)
	deepCopyFields(rt.info, rv.Elem())

	var h *Tracked
	if id := rv.Elem().Field(rt.info.fields[rt.info.idIndex].index).Interface().(document.ID); id.IsZero() {
		h = newTracked(s, rt, rv, nil)
		s.pending = append(s.pending, rec)
	} else {
		baseline := serializeRecord(rt.info, rv.Elem(), false)
		h = newTracked(s, rt, rv, newInstanceState(baseline))
		s.order = append(s.order, rec)
	}
	s.handles[rec] = h
	s.log.Debug("record added", "type", rt.Name(), "pending", h.Pending())
	return h, nil
}

// Tracked returns the handle of an already added record.
func (s *Session) Tracked(rec any) (*Tracked, bool) {
	h, ok := s.handles[rec]
	return h, ok
}

// updateGroup batches the partial updates of one collection so they execute
// as a single ordered bulk write.
type updateGroup struct {
	name    string
	ops     []document.WriteOp
	handles []*Tracked
	lives   []document.D
}

// Flush persists every pending insert and every changed tracked record.
// Inserts go first, one insert per record with the store-assigned identifier
// written back outside of change tracking; updates are grouped per
// collection into ordered bulk writes. After a successful write the
// instance's baseline advances to its live state. Store and identifier
// errors abort the transaction before propagating.
func (s *Session) Flush(ctx context.Context) error {
	if err := s.ensureMutable(); err != nil {
		return err
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "flush")
	err := s.flush(ctx)
	span.End(err)
	s.metrics.Observe(ctx, "flush", err == nil, time.Since(start))
	return err
}

func (s *Session) flush(ctx context.Context) error {
	inserted, updated := 0, 0

	for _, rec := range s.pending {
		h := s.handles[rec]
		name := s.collections[h.rt]
		doc := serializeRecord(h.rt.info, h.structValue(), false)
		id, err := s.store.Collection(name).InsertOne(ctx, s.tx, doc)
		if err != nil {
			return s.fail(ctx, fmt.Errorf("insert into %s: %w", name, err))
		}
		h.setIdentifier(id)
		h.state = newInstanceState(serializeRecord(h.rt.info, h.structValue(), false))
		s.order = append(s.order, rec)
		inserted++
	}
	s.pending = nil

	var groups []*updateGroup
	index := make(map[string]*updateGroup)
	for _, rec := range s.order {
		h := s.handles[rec]
		st := h.state
		changed := st.ChangedFields()
		if len(changed) == 0 {
			continue
		}
		live := serializeRecord(h.rt.info, h.structValue(), false)
		set := make(document.D)
		for _, f := range changed {
			if !reflect.DeepEqual(live[f], st.BaselineValue(f)) {
				set[f] = live[f]
			}
		}
		if len(set) == 0 {
			// Mutations restored the baseline content; nothing to write.
			st.Reset(live)
			continue
		}
		id := h.identifier()
		if id.IsZero() {
			return s.fail(ctx, MissingIdentifierError{Type: h.rt.Name()})
		}
		if _, err := document.ParseID(id.String()); err != nil {
			return s.fail(ctx, err)
		}
		name := s.collections[h.rt]
		g, ok := index[name]
		if !ok {
			g = &updateGroup{name: name}
			index[name] = g
			groups = append(groups, g)
		}
		g.ops = append(g.ops, document.WriteOp{Kind: document.OpUpdate, ID: id, Set: set})
		g.handles = append(g.handles, h)
		g.lives = append(g.lives, live)
	}

	for _, g := range groups {
		if _, err := s.store.Collection(g.name).BulkWrite(ctx, s.tx, g.ops, true); err != nil {
			return s.fail(ctx, fmt.Errorf("bulk update %s: %w", g.name, err))
		}
		for i, h := range g.handles {
			h.state.Reset(g.lives[i])
		}
		updated += len(g.ops)
	}

	if inserted > 0 || updated > 0 {
		s.log.Info("flush complete", "inserted", inserted, "updated", updated)
	}
	return nil
}

// fail aborts the in-flight transaction, if any, and returns err. Tracking
// state is not assumed consistent afterward; callers retry in a new session.
func (s *Session) fail(ctx context.Context, err error) error {
	if s.tx != nil && s.tx.InTransaction() {
		if aerr := s.tx.Abort(ctx); aerr != nil {
			s.log.Error("transaction abort failed", "error", aerr)
		}
	}
	return err
}

// Commit flushes and commits the underlying transaction. A flush failure has
// already aborted the transaction and propagates as-is. Committing without
// an active transaction is logged and otherwise a no-op.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.ensureMutable(); err != nil {
		return err
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "commit")
	err := s.commit(ctx)
	span.End(err)
	s.metrics.Observe(ctx, "commit", err == nil, time.Since(start))
	return err
}

func (s *Session) commit(ctx context.Context) error {
	if err := s.flush(ctx); err != nil {
		return err
	}
	if s.tx == nil || !s.tx.InTransaction() {
		s.log.Warn("commit without active transaction", "error", ErrNoActiveTransaction)
	} else if err := s.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	s.phase = phaseCommitted
	return nil
}

// Rollback discards all pending inserts and instance states without writing
// anything and aborts the underlying transaction when one is active.
func (s *Session) Rollback(ctx context.Context) error {
	if err := s.ensureMutable(); err != nil {
		return err
	}
	start := time.Now()
	for _, h := range s.handles {
		if h.state != nil {
			h.state.Reset(nil)
		}
	}
	s.pending = nil
	s.order = nil
	s.handles = make(map[any]*Tracked)

	var err error
	if s.tx == nil || !s.tx.InTransaction() {
		s.log.Warn("rollback without active transaction", "error", ErrNoActiveTransaction)
	} else if aerr := s.tx.Abort(ctx); aerr != nil {
		err = fmt.Errorf("abort transaction: %w", aerr)
	}
	s.phase = phaseRolledBack
	s.metrics.Observe(ctx, "rollback", err == nil, time.Since(start))
	return err
}

// Close releases all tracking state. The session is not reusable afterward;
// every later operation fails with ErrSessionNotActive.
func (s *Session) Close() error {
	if s.phase == phaseClosed {
		return ErrSessionNotActive
	}
	s.handles = make(map[any]*Tracked)
	s.order = nil
	s.pending = nil
	s.phase = phaseClosed
	return nil
}
