// Package document defines the value model and storage contracts consumed by
// the unit-of-work engine. Implementations of Store live under
// internal/infra/persistence; this package carries no driver code.
package document

// IDField is the reserved document key holding the identifier. It is omitted
// from insert payloads so the store can assign one.
const IDField = "_id"

// D is a plain document: nested maps, slices and scalars only. Values must
// never alias live application state; producers deep-copy before handing a D
// to a store and stores deep-copy before returning one.
type D map[string]any

// Clone returns a structural copy of the document.
func (d D) Clone() D {
	if d == nil {
		return nil
	}
	out := make(D, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case D:
		return t.Clone()
	case map[string]any:
		return D(t).Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
