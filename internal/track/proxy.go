package track

import (
	"fmt"
	"reflect"
	"sort"

	"docsession/pkg/document"
)

// owner links a proxy to its parent. touch walks the chain up to the root
// tracked instance and marks the owning top-level field as changed, however
// many proxy layers deep the mutation happened. touch runs before the real
// mutation so the first-change snapshot captures the pre-mutation value.
type owner interface {
	touch() error
}

// fieldAnchor is the chain root: the link between a proxy tree and the field
// of a tracked instance it grew out of.
type fieldAnchor struct {
	t *Tracked
	f *fieldInfo
}

func (a fieldAnchor) touch() error {
	if err := a.t.session.ensureMutable(); err != nil {
		return err
	}
	if a.t.state != nil {
		fv := a.t.structValue().Field(a.f.index)
		a.t.state.MarkChanged(a.f.name, func() any { return serializeReflect(fv) })
	}
	return nil
}

// Tracked is the handle for a record added to a session. All mutation flows
// through it (or through container proxies obtained from it); plain reads of
// the underlying struct stay untouched.
type Tracked struct {
	session  *Session
	rt       *RecordType
	rec      reflect.Value // pointer to struct
	state    *InstanceState // nil while the record is a pending insert
	children map[string]any
}

func newTracked(s *Session, rt *RecordType, rec reflect.Value, state *InstanceState) *Tracked {
	return &Tracked{session: s, rt: rt, rec: rec, state: state, children: make(map[string]any)}
}

// Record returns the live record pointer.
func (t *Tracked) Record() any { return t.rec.Interface() }

// Pending reports whether the record still awaits its first insert.
func (t *Tracked) Pending() bool { return t.state == nil }

func (t *Tracked) structValue() reflect.Value { return t.rec.Elem() }

func (t *Tracked) field(name string) (*fieldInfo, error) {
	f, ok := t.rt.info.field(name)
	if !ok {
		return nil, UnknownFieldError{Type: t.rt.Name(), Field: name}
	}
	return f, nil
}

// Set assigns a scalar or whole-container value to a top-level field. The
// prior value is snapshotted on the field's first change; container values
// are deep-copied in so later external mutation of the argument cannot leak
// into tracked state. Identifier writes are forwarded without tracking: the
// identifier is the update key, never part of an update document.
func (t *Tracked) Set(name string, v any) error {
	if err := t.session.ensureMutable(); err != nil {
		return err
	}
	f, err := t.field(name)
	if err != nil {
		return err
	}
	fv := t.structValue().Field(f.index)
	cv, err := convertValue(f.typ, v)
	if err != nil {
		return fmt.Errorf("field %s: %w", name, err)
	}
	if f.id {
		fv.Set(cv)
		return nil
	}
	if err := (fieldAnchor{t, f}).touch(); err != nil {
		return err
	}
	if f.kind != kindScalar {
		cv = deepCopyReflect(cv)
	}
	fv.Set(cv)
	delete(t.children, name)
	return nil
}

// Get returns the live value of a top-level field.
func (t *Tracked) Get(name string) (any, error) {
	f, err := t.field(name)
	if err != nil {
		return nil, err
	}
	return t.structValue().Field(f.index).Interface(), nil
}

// List returns the sequence proxy for a slice field. Repeated calls return
// the same proxy.
func (t *Tracked) List(name string) (*List, error) {
	f, err := t.field(name)
	if err != nil {
		return nil, err
	}
	if f.kind != kindSequence {
		return nil, FieldKindError{Type: t.rt.Name(), Field: name, Want: "sequence"}
	}
	if c, ok := t.children[name]; ok {
		return c.(*List), nil
	}
	l := newList(fieldAnchor{t, f}, t.structValue().Field(f.index), nil)
	t.children[name] = l
	return l, nil
}

// Map returns the associative proxy for a map field.
func (t *Tracked) Map(name string) (*Map, error) {
	f, err := t.field(name)
	if err != nil {
		return nil, err
	}
	if f.kind != kindMapping {
		return nil, FieldKindError{Type: t.rt.Name(), Field: name, Want: "mapping"}
	}
	if c, ok := t.children[name]; ok {
		return c.(*Map), nil
	}
	m := newMap(fieldAnchor{t, f}, t.structValue().Field(f.index), nil)
	t.children[name] = m
	return m, nil
}

// Object returns the record proxy for a nested struct field.
func (t *Tracked) Object(name string) (*Object, error) {
	f, err := t.field(name)
	if err != nil {
		return nil, err
	}
	if f.kind != kindRecord {
		return nil, FieldKindError{Type: t.rt.Name(), Field: name, Want: "record"}
	}
	if c, ok := t.children[name]; ok {
		return c.(*Object), nil
	}
	fv := t.structValue().Field(f.index)
	if fv.Kind() == reflect.Pointer {
		if fv.IsNil() {
			return nil, fmt.Errorf("docsession: nested record field %s.%s is nil", t.rt.Name(), name)
		}
		fv = fv.Elem()
	}
	o, err := newObject(fieldAnchor{t, f}, fv, nil)
	if err != nil {
		return nil, err
	}
	t.children[name] = o
	return o, nil
}

// ChangedFields returns a snapshot of the field names with pending changes.
func (t *Tracked) ChangedFields() []string {
	if t.state == nil {
		return nil
	}
	return t.state.ChangedFields()
}

// OriginalValue returns the pre-mutation copy of a changed field.
func (t *Tracked) OriginalValue(name string) (any, bool) {
	if t.state == nil {
		return nil, false
	}
	return t.state.OriginalValue(name)
}

func (t *Tracked) identifier() document.ID {
	return t.structValue().Field(t.rt.info.fields[t.rt.info.idIndex].index).Interface().(document.ID)
}

// setIdentifier writes the store-assigned identifier directly onto the
// instance, bypassing change tracking.
func (t *Tracked) setIdentifier(id document.ID) {
	t.structValue().Field(t.rt.info.fields[t.rt.info.idIndex].index).Set(reflect.ValueOf(id))
}

// addressableCopy places v in a settable cell. The copy is shallow: slice and
// map headers still alias the original backing storage, which is why every
// mutation is followed by a writeback along the proxy chain.
func addressableCopy(v reflect.Value) reflect.Value {
	c := reflect.New(v.Type()).Elem()
	c.Set(v)
	return c
}

// List wraps a live ordered sequence. Every mutating operation notifies the
// owning root field first, performs the real mutation, then writes the value
// back toward the root when the sequence was lifted out of a map or
// interface cell. Mutation is reported unconditionally; flush decides later
// whether content actually differs from the baseline.
type List struct {
	parent    owner
	v         reflect.Value // addressable slice
	writeback func()
	children  map[int]any
}

func newList(parent owner, v reflect.Value, writeback func()) *List {
	return &List{parent: parent, v: v, writeback: writeback, children: make(map[int]any)}
}

func (l *List) propagate() {
	if l.writeback != nil {
		l.writeback()
	}
}

// Len returns the number of elements.
func (l *List) Len() int { return l.v.Len() }

// Value returns the raw element at index i.
func (l *List) Value(i int) (any, error) {
	if err := l.bounds(i); err != nil {
		return nil, err
	}
	return l.v.Index(i).Interface(), nil
}

// Values returns a copy of the raw elements.
func (l *List) Values() []any {
	out := make([]any, l.v.Len())
	for i := range out {
		out[i] = l.v.Index(i).Interface()
	}
	return out
}

func (l *List) bounds(i int) error {
	if i < 0 || i >= l.v.Len() {
		return fmt.Errorf("docsession: index %d out of range [0,%d)", i, l.v.Len())
	}
	return nil
}

// Append adds elements to the end of the sequence.
func (l *List) Append(items ...any) error {
	if err := l.parent.touch(); err != nil {
		return err
	}
	for _, item := range items {
		cv, err := convertValue(l.v.Type().Elem(), item)
		if err != nil {
			return err
		}
		l.v.Set(reflect.Append(l.v, cv))
	}
	l.propagate()
	return nil
}

// Extend appends every element of items.
func (l *List) Extend(items []any) error {
	return l.Append(items...)
}

// Insert places an element at index i, shifting later elements right.
// i == Len() appends.
func (l *List) Insert(i int, item any) error {
	if i < 0 || i > l.v.Len() {
		return fmt.Errorf("docsession: insert index %d out of range [0,%d]", i, l.v.Len())
	}
	if err := l.parent.touch(); err != nil {
		return err
	}
	cv, err := convertValue(l.v.Type().Elem(), item)
	if err != nil {
		return err
	}
	grown := reflect.Append(l.v, reflect.Zero(l.v.Type().Elem()))
	reflect.Copy(grown.Slice(i+1, grown.Len()), grown.Slice(i, grown.Len()-1))
	grown.Index(i).Set(cv)
	l.v.Set(grown)
	l.invalidate()
	l.propagate()
	return nil
}

// Set assigns the element at index i.
func (l *List) Set(i int, item any) error {
	if err := l.bounds(i); err != nil {
		return err
	}
	if err := l.parent.touch(); err != nil {
		return err
	}
	cv, err := convertValue(l.v.Type().Elem(), item)
	if err != nil {
		return err
	}
	l.v.Index(i).Set(cv)
	delete(l.children, i)
	l.propagate()
	return nil
}

// Delete removes the element at index i.
func (l *List) Delete(i int) error {
	if err := l.bounds(i); err != nil {
		return err
	}
	if err := l.parent.touch(); err != nil {
		return err
	}
	l.removeAt(i)
	l.invalidate()
	l.propagate()
	return nil
}

// Remove deletes the first element structurally equal to item.
func (l *List) Remove(item any) error {
	if err := l.parent.touch(); err != nil {
		return err
	}
	want := Serialize(item)
	for i := 0; i < l.v.Len(); i++ {
		if reflect.DeepEqual(serializeReflect(l.v.Index(i)), want) {
			l.removeAt(i)
			l.invalidate()
			l.propagate()
			return nil
		}
	}
	return fmt.Errorf("docsession: value not found in sequence")
}

// Pop removes and returns the element at index i; i == -1 pops the last.
func (l *List) Pop(i int) (any, error) {
	if i == -1 {
		i = l.v.Len() - 1
	}
	if err := l.bounds(i); err != nil {
		return nil, err
	}
	if err := l.parent.touch(); err != nil {
		return nil, err
	}
	out := l.v.Index(i).Interface()
	l.removeAt(i)
	l.invalidate()
	l.propagate()
	return out, nil
}

// Clear removes all elements.
func (l *List) Clear() error {
	if err := l.parent.touch(); err != nil {
		return err
	}
	l.v.Set(l.v.Slice(0, 0))
	l.invalidate()
	l.propagate()
	return nil
}

func (l *List) removeAt(i int) {
	reflect.Copy(l.v.Slice(i, l.v.Len()-1), l.v.Slice(i+1, l.v.Len()))
	l.v.Set(l.v.Slice(0, l.v.Len()-1))
}

// invalidate drops memoized child proxies after a structural change shifted
// indices.
func (l *List) invalidate() {
	l.children = make(map[int]any)
}

// elemSlot lifts element i into a settable cell, unwrapping one interface
// layer when present. Mutations land in a working copy; the writeback
// re-indexes the live sequence on every push so the value reaches the
// current backing array even after an append has reallocated it.
func (l *List) elemSlot(i int) (reflect.Value, func()) {
	ev := l.v.Index(i)
	if ev.Kind() == reflect.Interface && !ev.IsNil() {
		ev = ev.Elem()
	}
	work := addressableCopy(ev)
	return work, func() {
		// The slot can be gone after a structural removal.
		if i < l.v.Len() {
			l.v.Index(i).Set(work)
		}
		l.propagate()
	}
}

// ListAt materializes (and memoizes) the nested sequence proxy at index i.
func (l *List) ListAt(i int) (*List, error) {
	if err := l.bounds(i); err != nil {
		return nil, err
	}
	if c, ok := l.children[i]; ok {
		if nested, ok := c.(*List); ok {
			return nested, nil
		}
	}
	work, wb := l.elemSlot(i)
	if work.Kind() != reflect.Slice {
		return nil, fmt.Errorf("docsession: element %d is not a sequence", i)
	}
	nested := newList(l, work, wb)
	l.children[i] = nested
	return nested, nil
}

// MapAt materializes the nested associative proxy at index i.
func (l *List) MapAt(i int) (*Map, error) {
	if err := l.bounds(i); err != nil {
		return nil, err
	}
	if c, ok := l.children[i]; ok {
		if nested, ok := c.(*Map); ok {
			return nested, nil
		}
	}
	work, wb := l.elemSlot(i)
	if work.Kind() != reflect.Map {
		return nil, fmt.Errorf("docsession: element %d is not a mapping", i)
	}
	nested := newMap(l, work, wb)
	l.children[i] = nested
	return nested, nil
}

// ObjectAt materializes the nested record proxy at index i.
func (l *List) ObjectAt(i int) (*Object, error) {
	if err := l.bounds(i); err != nil {
		return nil, err
	}
	if c, ok := l.children[i]; ok {
		if nested, ok := c.(*Object); ok {
			return nested, nil
		}
	}
	work, wb := l.elemSlot(i)
	if work.Kind() == reflect.Pointer && !work.IsNil() && work.Elem().Kind() == reflect.Struct {
		work = work.Elem()
	}
	if work.Kind() != reflect.Struct {
		return nil, fmt.Errorf("docsession: element %d is not a record", i)
	}
	nested, err := newObject(l, work, wb)
	if err != nil {
		return nil, err
	}
	l.children[i] = nested
	return nested, nil
}

// touch lets nested proxies report through the sequence to the root field.
func (l *List) touch() error { return l.parent.touch() }

// Map wraps a live string-keyed associative container.
type Map struct {
	parent    owner
	v         reflect.Value // addressable map
	writeback func()
	children  map[string]any
}

func newMap(parent owner, v reflect.Value, writeback func()) *Map {
	return &Map{parent: parent, v: v, writeback: writeback, children: make(map[string]any)}
}

func (m *Map) propagate() {
	if m.writeback != nil {
		m.writeback()
	}
}

// Len returns the number of entries.
func (m *Map) Len() int {
	if m.v.IsNil() {
		return 0
	}
	return m.v.Len()
}

// Keys returns the sorted keys.
func (m *Map) Keys() []string {
	if m.v.IsNil() {
		return nil
	}
	out := make([]string, 0, m.v.Len())
	iter := m.v.MapRange()
	for iter.Next() {
		out = append(out, iter.Key().String())
	}
	sort.Strings(out)
	return out
}

// Value returns the raw value stored under key.
func (m *Map) Value(key string) (any, bool) {
	if m.v.IsNil() {
		return nil, false
	}
	mv := m.v.MapIndex(m.key(key))
	if !mv.IsValid() {
		return nil, false
	}
	return mv.Interface(), true
}

func (m *Map) key(key string) reflect.Value {
	return reflect.ValueOf(key).Convert(m.v.Type().Key())
}

// Set stores value under key.
func (m *Map) Set(key string, value any) error {
	if err := m.parent.touch(); err != nil {
		return err
	}
	cv, err := convertValue(m.v.Type().Elem(), value)
	if err != nil {
		return err
	}
	if m.v.IsNil() {
		m.v.Set(reflect.MakeMap(m.v.Type()))
	}
	m.v.SetMapIndex(m.key(key), cv)
	delete(m.children, key)
	m.propagate()
	return nil
}

// Delete removes key.
func (m *Map) Delete(key string) error {
	if err := m.parent.touch(); err != nil {
		return err
	}
	if !m.v.IsNil() {
		m.v.SetMapIndex(m.key(key), reflect.Value{})
	}
	delete(m.children, key)
	m.propagate()
	return nil
}

// Clear removes all entries.
func (m *Map) Clear() error {
	if err := m.parent.touch(); err != nil {
		return err
	}
	m.v.Set(reflect.MakeMap(m.v.Type()))
	m.children = make(map[string]any)
	m.propagate()
	return nil
}

// entrySlot lifts the value under key into a settable cell plus writeback.
func (m *Map) entrySlot(key string) (reflect.Value, func(), error) {
	if m.v.IsNil() {
		return reflect.Value{}, nil, fmt.Errorf("docsession: key %q not present", key)
	}
	kv := m.key(key)
	mv := m.v.MapIndex(kv)
	if !mv.IsValid() {
		return reflect.Value{}, nil, fmt.Errorf("docsession: key %q not present", key)
	}
	if mv.Kind() == reflect.Interface && !mv.IsNil() {
		mv = mv.Elem()
	}
	work := addressableCopy(mv)
	wb := func() {
		m.v.SetMapIndex(kv, work)
		m.propagate()
	}
	return work, wb, nil
}

// ListAt materializes the nested sequence proxy stored under key.
func (m *Map) ListAt(key string) (*List, error) {
	if c, ok := m.children[key]; ok {
		if nested, ok := c.(*List); ok {
			return nested, nil
		}
	}
	work, wb, err := m.entrySlot(key)
	if err != nil {
		return nil, err
	}
	if work.Kind() != reflect.Slice {
		return nil, fmt.Errorf("docsession: value under %q is not a sequence", key)
	}
	nested := newList(m, work, wb)
	m.children[key] = nested
	return nested, nil
}

// MapAt materializes the nested associative proxy stored under key.
func (m *Map) MapAt(key string) (*Map, error) {
	if c, ok := m.children[key]; ok {
		if nested, ok := c.(*Map); ok {
			return nested, nil
		}
	}
	work, wb, err := m.entrySlot(key)
	if err != nil {
		return nil, err
	}
	if work.Kind() != reflect.Map {
		return nil, fmt.Errorf("docsession: value under %q is not a mapping", key)
	}
	nested := newMap(m, work, wb)
	m.children[key] = nested
	return nested, nil
}

// ObjectAt materializes the nested record proxy stored under key.
func (m *Map) ObjectAt(key string) (*Object, error) {
	if c, ok := m.children[key]; ok {
		if nested, ok := c.(*Object); ok {
			return nested, nil
		}
	}
	work, wb, err := m.entrySlot(key)
	if err != nil {
		return nil, err
	}
	if work.Kind() == reflect.Pointer && !work.IsNil() && work.Elem().Kind() == reflect.Struct {
		work = work.Elem()
	}
	if work.Kind() != reflect.Struct {
		return nil, fmt.Errorf("docsession: value under %q is not a record", key)
	}
	nested, err := newObject(m, work, wb)
	if err != nil {
		return nil, err
	}
	m.children[key] = nested
	return nested, nil
}

// touch lets nested proxies report through the mapping to the root field.
func (m *Map) touch() error { return m.parent.touch() }

// Object wraps a live nested record. Attribute writes forward to the wrapped
// struct after the parent chain has marked the owning root field.
type Object struct {
	parent    owner
	info      *structInfo
	v         reflect.Value // addressable struct
	writeback func()
	children  map[string]any
}

func newObject(parent owner, v reflect.Value, writeback func()) (*Object, error) {
	info, err := describeStruct(v.Type())
	if err != nil {
		return nil, err
	}
	return &Object{parent: parent, info: info, v: v, writeback: writeback, children: make(map[string]any)}, nil
}

func (o *Object) propagate() {
	if o.writeback != nil {
		o.writeback()
	}
}

func (o *Object) field(name string) (*fieldInfo, error) {
	f, ok := o.info.field(name)
	if !ok {
		return nil, UnknownFieldError{Type: o.info.typ.Name(), Field: name}
	}
	return f, nil
}

// Set assigns a field of the nested record.
func (o *Object) Set(name string, value any) error {
	f, err := o.field(name)
	if err != nil {
		return err
	}
	if err := o.parent.touch(); err != nil {
		return err
	}
	cv, err := convertValue(f.typ, value)
	if err != nil {
		return fmt.Errorf("field %s: %w", name, err)
	}
	if f.kind != kindScalar {
		cv = deepCopyReflect(cv)
	}
	o.v.Field(f.index).Set(cv)
	delete(o.children, name)
	o.propagate()
	return nil
}

// Value returns the raw value of a field.
func (o *Object) Value(name string) (any, error) {
	f, err := o.field(name)
	if err != nil {
		return nil, err
	}
	return o.v.Field(f.index).Interface(), nil
}

// fieldSlot lifts a field into a settable cell plus writeback. Struct fields
// of an addressable struct are settable in place, so the slot is direct and
// the writeback is the object's own.
func (o *Object) fieldSlot(f *fieldInfo) (reflect.Value, func()) {
	fv := o.v.Field(f.index)
	if fv.Kind() == reflect.Interface && !fv.IsNil() {
		work := addressableCopy(fv.Elem())
		return work, func() {
			fv.Set(work)
			o.propagate()
		}
	}
	return fv, o.writeback
}

// List materializes the sequence proxy for a nested slice field.
func (o *Object) List(name string) (*List, error) {
	f, err := o.field(name)
	if err != nil {
		return nil, err
	}
	if f.kind != kindSequence {
		return nil, FieldKindError{Type: o.info.typ.Name(), Field: name, Want: "sequence"}
	}
	if c, ok := o.children[name]; ok {
		return c.(*List), nil
	}
	work, wb := o.fieldSlot(f)
	nested := newList(o, work, wb)
	o.children[name] = nested
	return nested, nil
}

// Map materializes the associative proxy for a nested map field.
func (o *Object) Map(name string) (*Map, error) {
	f, err := o.field(name)
	if err != nil {
		return nil, err
	}
	if f.kind != kindMapping {
		return nil, FieldKindError{Type: o.info.typ.Name(), Field: name, Want: "mapping"}
	}
	if c, ok := o.children[name]; ok {
		return c.(*Map), nil
	}
	work, wb := o.fieldSlot(f)
	nested := newMap(o, work, wb)
	o.children[name] = nested
	return nested, nil
}

// Object materializes the record proxy for a doubly nested struct field.
func (o *Object) Object(name string) (*Object, error) {
	f, err := o.field(name)
	if err != nil {
		return nil, err
	}
	if f.kind != kindRecord {
		return nil, FieldKindError{Type: o.info.typ.Name(), Field: name, Want: "record"}
	}
	if c, ok := o.children[name]; ok {
		return c.(*Object), nil
	}
	work, wb := o.fieldSlot(f)
	if work.Kind() == reflect.Pointer {
		if work.IsNil() {
			return nil, fmt.Errorf("docsession: nested record field %s.%s is nil", o.info.typ.Name(), name)
		}
		work = work.Elem()
	}
	nested, err := newObject(o, work, wb)
	if err != nil {
		return nil, err
	}
	o.children[name] = nested
	return nested, nil
}

// touch lets nested proxies report through the record to the root field.
func (o *Object) touch() error { return o.parent.touch() }
