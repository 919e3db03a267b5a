package document

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is a document identifier in canonical UUID string form. The zero value
// means "not yet persisted".
type ID string

// NewID generates a fresh random identifier.
func NewID() ID {
	return ID(uuid.NewString())
}

// ParseID validates and normalizes a string identifier. Malformed input
// surfaces an InvalidIDError.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", InvalidIDError{Value: s, Err: err}
	}
	return ID(u.String()), nil
}

// String returns the identifier as a plain string.
func (id ID) String() string { return string(id) }

// IsZero reports whether the identifier is unset.
func (id ID) IsZero() bool { return id == "" }

// InvalidIDError indicates an identifier that cannot be converted to the
// store's native form.
type InvalidIDError struct {
	Value string
	Err   error
}

func (e InvalidIDError) Error() string {
	return fmt.Sprintf("document: invalid identifier %q: %v", e.Value, e.Err)
}

func (e InvalidIDError) Unwrap() error { return e.Err }
