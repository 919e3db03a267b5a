package track

import (
	"errors"
	"fmt"
)

// ErrSessionNotActive is returned by any session or proxy operation invoked
// after the session left its mutable phase (commit, rollback or close).
var ErrSessionNotActive = errors.New("docsession: session not active")

// ErrNoActiveTransaction marks a commit or rollback issued while no
// transaction is in flight. Sessions log it and carry on; it is a legitimate
// no-op in deployments that run without transactions.
var ErrNoActiveTransaction = errors.New("docsession: no active transaction")

// NotRegisteredError indicates a record type that was never registered.
type NotRegisteredError struct {
	Type string
}

func (e NotRegisteredError) Error() string {
	return fmt.Sprintf("docsession: record type %s is not registered", e.Type)
}

// AlreadyRegisteredError indicates a duplicate registration of a record type.
type AlreadyRegisteredError struct {
	Type string
}

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("docsession: record type %s is already registered", e.Type)
}

// NoCollectionMappingError indicates a registered record type with no
// destination collection configured on the session.
type NoCollectionMappingError struct {
	Type string
}

func (e NoCollectionMappingError) Error() string {
	return fmt.Sprintf("docsession: no collection mapping for record type %s", e.Type)
}

// MissingIdentifierError indicates an update attempted on an instance that is
// logically an insert (identifier still unset).
type MissingIdentifierError struct {
	Type string
}

func (e MissingIdentifierError) Error() string {
	return fmt.Sprintf("docsession: record of type %s has no identifier", e.Type)
}

// UnknownFieldError indicates an access to a field name the record type does
// not declare.
type UnknownFieldError struct {
	Type  string
	Field string
}

func (e UnknownFieldError) Error() string {
	return fmt.Sprintf("docsession: type %s has no field %q", e.Type, e.Field)
}

// FieldKindError indicates a typed proxy accessor used on a field of the
// wrong shape, e.g. List on a scalar field.
type FieldKindError struct {
	Type  string
	Field string
	Want  string
}

func (e FieldKindError) Error() string {
	return fmt.Sprintf("docsession: field %s.%s is not a %s", e.Type, e.Field, e.Want)
}
