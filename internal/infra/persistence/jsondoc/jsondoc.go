// Package jsondoc carries the JSON payload handling shared by the durable
// document-store drivers. Documents are stored as one JSON object per row or
// key, identifier kept outside the payload.
package jsondoc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"docsession/pkg/document"
)

// Encode marshals a document for storage, stripping the identifier field.
func Encode(doc document.D) ([]byte, error) {
	cp := doc.Clone()
	delete(cp, document.IDField)
	b, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return b, nil
}

// Decode unmarshals a stored payload.
func Decode(b []byte) (document.D, error) {
	var doc document.D
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// Merge applies a partial update to a stored payload and returns the new
// payload. The update fields pass through a JSON round trip so their types
// match what Decode produces.
func Merge(payload []byte, set document.D) ([]byte, error) {
	doc, err := Decode(payload)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = make(document.D)
	}
	for k, v := range set {
		if k == document.IDField {
			continue
		}
		nv, err := Normalize(v)
		if err != nil {
			return nil, err
		}
		doc[k] = nv
	}
	return json.Marshal(doc)
}

// Normalize passes a value through a JSON round trip, producing the shape a
// decoded payload would carry (numbers as float64, maps as document.D).
func Normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Matches reports whether a decoded document satisfies the equality filter.
// Filter values are normalized before comparison; the identifier key is the
// caller's concern.
func Matches(doc document.D, filter document.D) (bool, error) {
	for k, want := range filter {
		if k == document.IDField {
			continue
		}
		got, ok := doc[k]
		if !ok {
			return false, nil
		}
		nw, err := Normalize(want)
		if err != nil {
			return false, err
		}
		gb, err := json.Marshal(got)
		if err != nil {
			return false, err
		}
		wb, err := json.Marshal(nw)
		if err != nil {
			return false, err
		}
		if !bytes.Equal(gb, wb) {
			return false, nil
		}
	}
	return true, nil
}
