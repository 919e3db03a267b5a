package track

import (
	"reflect"
	"testing"

	"docsession/pkg/document"
)

func TestMarkChangedSnapshotsFirstPriorOnly(t *testing.T) {
	st := newInstanceState(document.D{"name": "before"})
	calls := 0
	prior := func() any {
		calls++
		return "before"
	}
	st.MarkChanged("name", prior)
	st.MarkChanged("name", prior)
	st.MarkChanged("name", prior)

	if calls != 1 {
		t.Fatalf("prior evaluated %d times, want 1", calls)
	}
	if !st.Changed("name") || !st.HasChanges() {
		t.Fatal("field should be marked changed")
	}
	orig, ok := st.OriginalValue("name")
	if !ok || orig != "before" {
		t.Fatalf("OriginalValue = %v, %v", orig, ok)
	}
}

func TestChangedFieldsSortedSnapshot(t *testing.T) {
	st := newInstanceState(nil)
	for _, f := range []string{"zeta", "alpha", "mid"} {
		st.MarkChanged(f, func() any { return nil })
	}
	got := st.ChangedFields()
	want := []string{"alpha", "mid", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ChangedFields() = %v, want %v", got, want)
	}
	got[0] = "mutated"
	if again := st.ChangedFields(); !reflect.DeepEqual(again, want) {
		t.Fatal("returned slice must be a copy")
	}
}

func TestResetInstallsNewBaseline(t *testing.T) {
	st := newInstanceState(document.D{"age": 1})
	st.MarkChanged("age", func() any { return 1 })
	if st.BaselineValue("age") != 1 {
		t.Fatalf("BaselineValue = %v", st.BaselineValue("age"))
	}

	st.Reset(document.D{"age": 2})
	if st.HasChanges() {
		t.Fatal("Reset must clear pending changes")
	}
	if _, ok := st.OriginalValue("age"); ok {
		t.Fatal("Reset must drop original values")
	}
	if st.BaselineValue("age") != 2 {
		t.Fatalf("baseline not advanced: %v", st.BaselineValue("age"))
	}
}
