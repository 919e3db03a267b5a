package track

import (
	"sort"

	"docsession/pkg/document"
)

// InstanceState carries the per-instance bookkeeping for one tracked record:
// the set of field names with pending changes, the pre-mutation copy of each
// changed field, and the serialized baseline the next diff runs against.
//
// An InstanceState belongs to exactly one Session and is mutated from the
// session's goroutine only; it carries no locking of its own.
type InstanceState struct {
	changed  map[string]struct{}
	original map[string]any
	baseline document.D
}

func newInstanceState(baseline document.D) *InstanceState {
	return &InstanceState{
		changed:  make(map[string]struct{}),
		original: make(map[string]any),
		baseline: baseline,
	}
}

// MarkChanged records a pending change on field. The first call per field
// evaluates prior and stores its result as the original value; later calls
// before the next Reset are no-ops, so repeated mutation of one field costs
// O(1) bookkeeping. prior must return a structural copy, never live state.
func (s *InstanceState) MarkChanged(field string, prior func() any) {
	if _, ok := s.changed[field]; ok {
		return
	}
	s.changed[field] = struct{}{}
	s.original[field] = prior()
}

// Changed reports whether field has a pending change.
func (s *InstanceState) Changed(field string) bool {
	_, ok := s.changed[field]
	return ok
}

// HasChanges reports whether any field has a pending change.
func (s *InstanceState) HasChanges() bool { return len(s.changed) > 0 }

// ChangedFields returns a sorted snapshot of the pending field names. Callers
// get a copy; mutating it cannot corrupt tracking.
func (s *InstanceState) ChangedFields() []string {
	out := make([]string, 0, len(s.changed))
	for f := range s.changed {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// OriginalValue returns the deep copy of field's value taken before its first
// mutation in the current tracking window.
func (s *InstanceState) OriginalValue(field string) (any, bool) {
	v, ok := s.original[field]
	return v, ok
}

// BaselineValue returns field's value in the serialized baseline.
func (s *InstanceState) BaselineValue(field string) any {
	return s.baseline[field]
}

// Reset clears all pending changes and installs baseline as the new
// comparison point, making subsequent flushes differential.
func (s *InstanceState) Reset(baseline document.D) {
	s.changed = make(map[string]struct{})
	s.original = make(map[string]any)
	s.baseline = baseline
}
