// Package track implements a mutation-tracking unit of work over a document
// store. Record types are registered once, instances join a Session, and
// mutations performed through tracked handles are turned into minimal partial
// update operations at flush time.
package track

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"docsession/pkg/document"
)

type fieldKind uint8

const (
	kindScalar fieldKind = iota
	kindSequence
	kindMapping
	kindRecord
)

func (k fieldKind) String() string {
	switch k {
	case kindSequence:
		return "sequence"
	case kindMapping:
		return "mapping"
	case kindRecord:
		return "record"
	default:
		return "scalar"
	}
}

// fieldInfo describes one persisted field of a struct type.
type fieldInfo struct {
	name  string // document key
	index int    // struct field index
	kind  fieldKind
	typ   reflect.Type
	id    bool
}

// structInfo is the reflect-built descriptor shared by the codec and the
// proxies. Descriptors are immutable once built.
type structInfo struct {
	typ     reflect.Type
	fields  []fieldInfo
	byName  map[string]int
	idIndex int // index into fields, -1 when the type has no identifier
}

func (si *structInfo) field(name string) (*fieldInfo, bool) {
	i, ok := si.byName[name]
	if !ok {
		return nil, false
	}
	return &si.fields[i], true
}

var (
	timeType = reflect.TypeOf(time.Time{})
	idType   = reflect.TypeOf(document.ID(""))
)

// descriptors memoizes structInfo per struct type, in the manner of
// encoding/json's field cache. Descriptors carry no per-session state.
var descriptors sync.Map // reflect.Type -> *structInfo

func describeStruct(t reflect.Type) (*structInfo, error) {
	if cached, ok := descriptors.Load(t); ok {
		return cached.(*structInfo), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("docsession: %s is not a struct type", t)
	}
	si := &structInfo{typ: t, byName: make(map[string]int), idIndex: -1}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		tag := sf.Tag.Get("doc")
		if tag == "-" {
			continue
		}
		if tag != "" {
			name = tag
		}
		fi := fieldInfo{name: name, index: i, typ: sf.Type, kind: kindOf(sf.Type)}
		if name == document.IDField {
			if sf.Type != idType {
				return nil, fmt.Errorf("docsession: %s.%s must have type document.ID", t, sf.Name)
			}
			fi.id = true
			fi.kind = kindScalar
			si.idIndex = len(si.fields)
		}
		if fi.kind == kindMapping && sf.Type.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("docsession: %s.%s: map fields need string keys", t, sf.Name)
		}
		if _, dup := si.byName[name]; dup {
			return nil, fmt.Errorf("docsession: %s declares field %q twice", t, name)
		}
		si.byName[name] = len(si.fields)
		si.fields = append(si.fields, fi)
	}
	actual, _ := descriptors.LoadOrStore(t, si)
	return actual.(*structInfo), nil
}

func kindOf(t reflect.Type) fieldKind {
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		if t.Elem().Kind() == reflect.Uint8 {
			return kindScalar // raw bytes travel as an opaque value
		}
		return kindSequence
	case reflect.Map:
		return kindMapping
	case reflect.Struct:
		if t == timeType {
			return kindScalar
		}
		return kindRecord
	case reflect.Pointer:
		if t.Elem().Kind() == reflect.Struct && t.Elem() != timeType {
			return kindRecord
		}
		return kindScalar
	default:
		return kindScalar
	}
}

// RecordType is the capability token returned by Register. Sessions key their
// collection mapping by it.
type RecordType struct {
	info *structInfo
}

// Name returns the Go type name of the record.
func (rt *RecordType) Name() string { return rt.info.typ.Name() }

// FieldNames returns the document keys of all persisted fields, sorted, the
// identifier included.
func (rt *RecordType) FieldNames() []string {
	names := make([]string, 0, len(rt.info.fields))
	for _, f := range rt.info.fields {
		names = append(names, f.name)
	}
	sort.Strings(names)
	return names
}

// Registry maps record types to their descriptors. It is an explicit value
// with no process-global table, so tests can build independent configurations.
type Registry struct {
	mu    sync.RWMutex
	types map[reflect.Type]*RecordType
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[reflect.Type]*RecordType)}
}

// Register makes a record type trackable and returns its capability token.
// The prototype must be a struct or pointer to struct carrying a document.ID
// field tagged `doc:"_id"`. Registering the same type twice fails with
// AlreadyRegisteredError.
func (r *Registry) Register(prototype any) (*RecordType, error) {
	t, err := structTypeOf(prototype)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[t]; ok {
		return nil, AlreadyRegisteredError{Type: t.Name()}
	}
	info, err := describeStruct(t)
	if err != nil {
		return nil, err
	}
	if info.idIndex < 0 {
		return nil, fmt.Errorf("docsession: record type %s has no %s field", t.Name(), document.IDField)
	}
	rt := &RecordType{info: info}
	r.types[t] = rt
	return rt, nil
}

// Registered reports whether the prototype's type has been registered.
func (r *Registry) Registered(prototype any) bool {
	t, err := structTypeOf(prototype)
	if err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[t]
	return ok
}

// typeOf resolves the RecordType for a live record, which must be a pointer
// to a registered struct type.
func (r *Registry) typeOf(rec any) (*RecordType, error) {
	v := reflect.ValueOf(rec)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("docsession: records must be non-nil struct pointers, got %T", rec)
	}
	t := v.Elem().Type()
	r.mu.RLock()
	rt, ok := r.types[t]
	r.mu.RUnlock()
	if !ok {
		return nil, NotRegisteredError{Type: t.Name()}
	}
	return rt, nil
}

func structTypeOf(prototype any) (reflect.Type, error) {
	if prototype == nil {
		return nil, fmt.Errorf("docsession: nil prototype")
	}
	t := reflect.TypeOf(prototype)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("docsession: %s is not a struct type", t)
	}
	return t, nil
}
