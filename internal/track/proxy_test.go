package track

import (
	"context"
	"reflect"
	"testing"

	"docsession/pkg/document"
)

type sensor struct {
	Serial string `doc:"serial"`
	Gain   int    `doc:"gain"`
}

type station struct {
	Name  string         `doc:"name"`
	Codes []string       `doc:"codes"`
	Extra map[string]any `doc:"extra"`
	Power *sensor        `doc:"power"`
}

type survey struct {
	ID      document.ID `doc:"_id"`
	Steps   []string    `doc:"steps"`
	Grid    [][]int     `doc:"grid"`
	Sensors []sensor    `doc:"sensors"`
	Station station     `doc:"station"`
}

func newSurveySession(t *testing.T, store document.Store) *Session {
	t.Helper()
	reg := NewRegistry()
	rt, err := reg.Register(survey{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return NewSession(reg, store, nil, WithCollection(rt, "surveys"))
}

func TestListStructuralOperations(t *testing.T) {
	s := newSurveySession(t, newFakeStore())
	rec := &survey{ID: document.NewID(), Steps: []string{"b", "d"}}
	h, err := s.Add(rec)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	l, err := h.List("steps")
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if err := l.Insert(0, "a"); err != nil {
		t.Fatalf("Insert front: %v", err)
	}
	if err := l.Insert(2, "c"); err != nil {
		t.Fatalf("Insert middle: %v", err)
	}
	if !reflect.DeepEqual(rec.Steps, []string{"a", "b", "c", "d"}) {
		t.Fatalf("after inserts: %v", rec.Steps)
	}

	if err := l.Set(3, "e"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := l.Delete(1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !reflect.DeepEqual(rec.Steps, []string{"a", "c", "e"}) {
		t.Fatalf("after set/delete: %v", rec.Steps)
	}

	if err := l.Remove("c"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	popped, err := l.Pop(-1)
	if err != nil {
		t.Fatalf("Pop: %v", err)
	}
	if popped != "e" || !reflect.DeepEqual(rec.Steps, []string{"a"}) {
		t.Fatalf("popped %v, steps %v", popped, rec.Steps)
	}

	if err := l.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if l.Len() != 0 || len(rec.Steps) != 0 {
		t.Fatalf("after clear: len=%d steps=%v", l.Len(), rec.Steps)
	}
	if got := h.ChangedFields(); !reflect.DeepEqual(got, []string{"steps"}) {
		t.Fatalf("ChangedFields = %v", got)
	}

	if err := l.Insert(1, "x"); err == nil {
		t.Error("Insert past the end must fail")
	}
	if err := l.Delete(0); err == nil {
		t.Error("Delete on empty sequence must fail")
	}
	if err := l.Remove("zz"); err == nil {
		t.Error("Remove of a missing value must fail")
	}
	if _, err := l.Pop(-1); err == nil {
		t.Error("Pop on empty sequence must fail")
	}
}

func TestNestedListSurvivesParentGrowth(t *testing.T) {
	store := newFakeStore()
	s := newSurveySession(t, store)

	rec := &survey{ID: document.NewID(), Grid: [][]int{{1}}}
	h, err := s.Add(rec)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	l, err := h.List("grid")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	nested, err := l.ListAt(0)
	if err != nil {
		t.Fatalf("ListAt: %v", err)
	}

	// Growing the parent reallocates its backing array; the nested proxy
	// obtained beforehand must keep writing into the live record.
	if err := l.Append([]int{2}); err != nil {
		t.Fatalf("parent Append: %v", err)
	}
	if err := nested.Append(9); err != nil {
		t.Fatalf("nested Append: %v", err)
	}
	if !reflect.DeepEqual(rec.Grid, [][]int{{1, 9}, {2}}) {
		t.Fatalf("live record = %v, want [[1 9] [2]]", rec.Grid)
	}

	again, err := l.ListAt(0)
	if err != nil {
		t.Fatalf("ListAt again: %v", err)
	}
	if again != nested {
		t.Error("ListAt must return the memoized proxy")
	}
	if !reflect.DeepEqual(nested.Values(), []any{1, 9}) {
		t.Fatalf("nested Values = %v", nested.Values())
	}

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	op := store.collections["surveys"].bulks[0][0]
	want := document.D{"grid": []any{[]any{1, 9}, []any{2}}}
	if !reflect.DeepEqual(op.Set, want) {
		t.Fatalf("Set = %v, want %v", op.Set, want)
	}
}

func TestRecordElementMutationInList(t *testing.T) {
	store := newFakeStore()
	s := newSurveySession(t, store)

	rec := &survey{ID: document.NewID(), Sensors: []sensor{{Serial: "s1", Gain: 1}}}
	h, err := s.Add(rec)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	l, err := h.List("sensors")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	o, err := l.ObjectAt(0)
	if err != nil {
		t.Fatalf("ObjectAt: %v", err)
	}
	if err := l.Append(sensor{Serial: "s2", Gain: 2}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := o.Set("gain", 7); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if rec.Sensors[0].Gain != 7 || rec.Sensors[0].Serial != "s1" {
		t.Fatalf("live record = %+v", rec.Sensors)
	}
	if got := h.ChangedFields(); !reflect.DeepEqual(got, []string{"sensors"}) {
		t.Fatalf("ChangedFields = %v", got)
	}

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	op := store.collections["surveys"].bulks[0][0]
	want := document.D{"sensors": []any{
		document.D{"serial": "s1", "gain": 7},
		document.D{"serial": "s2", "gain": 2},
	}}
	if !reflect.DeepEqual(op.Set, want) {
		t.Fatalf("Set = %v, want %v", op.Set, want)
	}
}

func TestObjectContainerProxies(t *testing.T) {
	store := newFakeStore()
	s := newSurveySession(t, store)

	rec := &survey{ID: document.NewID(), Station: station{
		Name:  "north",
		Codes: []string{"x"},
		Extra: map[string]any{"volts": 12},
		Power: &sensor{Serial: "p", Gain: 1},
	}}
	h, err := s.Add(rec)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	o, err := h.Object("station")
	if err != nil {
		t.Fatalf("Object: %v", err)
	}

	codes, err := o.List("codes")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if err := codes.Append("y"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	extra, err := o.Map("extra")
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := extra.Set("amps", 3); err != nil {
		t.Fatalf("Map Set: %v", err)
	}
	power, err := o.Object("power")
	if err != nil {
		t.Fatalf("Object power: %v", err)
	}
	if err := power.Set("gain", 4); err != nil {
		t.Fatalf("power Set: %v", err)
	}

	if !reflect.DeepEqual(rec.Station.Codes, []string{"x", "y"}) {
		t.Fatalf("codes = %v", rec.Station.Codes)
	}
	if rec.Station.Extra["amps"] != 3 {
		t.Fatalf("extra = %v", rec.Station.Extra)
	}
	if rec.Station.Power.Gain != 4 {
		t.Fatalf("power = %+v", rec.Station.Power)
	}
	if got := h.ChangedFields(); !reflect.DeepEqual(got, []string{"station"}) {
		t.Fatalf("ChangedFields = %v", got)
	}

	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	op := store.collections["surveys"].bulks[0][0]
	want := document.D{"station": document.D{
		"name":  "north",
		"codes": []any{"x", "y"},
		"extra": document.D{"volts": 12, "amps": 3},
		"power": document.D{"serial": "p", "gain": 4},
	}}
	if !reflect.DeepEqual(op.Set, want) {
		t.Fatalf("Set = %v, want %v", op.Set, want)
	}
}
