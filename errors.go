package tamer

import "errors"

// Usage errors. They point at a programming mistake and are returned at the
// call site; nothing in the engine retries them.
var (
	ErrNumericType          = errors.New("tamer: numeric types use the built-in path, not a serializer")
	ErrRecursiveType        = errors.New("tamer: type contains itself")
	ErrFieldOutsideInstance = errors.New("tamer: field accessor does not point into the instance")
	ErrTypeNameConflict     = errors.New("tamer: type name already registered for a different type")
	ErrReservedTypeName     = errors.New("tamer: reserved type name")
	ErrDuplicateField       = errors.New("tamer: duplicate field name")
	ErrEmptyType            = errors.New("tamer: type declares no fields")
	ErrEmptyArray           = errors.New("tamer: fixed array has no elements")
	ErrUnknownType          = errors.New("tamer: unknown type")
	ErrDuplicateName        = errors.New("tamer: value name already registered")
	ErrInvalidName          = errors.New("tamer: invalid value name")
	ErrNilPointer           = errors.New("tamer: nil value address")
	ErrUnknownBinding       = errors.New("tamer: unknown binding")
)

// Snapshot errors. The channel stays usable after either of them.
var (
	ErrSinkRejected     = errors.New("tamer: sink rejected snapshot")
	ErrSnapshotTooLarge = errors.New("tamer: snapshot exceeds size limit")
)

// Decoding errors.
var (
	ErrShortBuffer  = errors.New("tamer: buffer too short")
	ErrTrailingData = errors.New("tamer: trailing bytes after last field")
	ErrOpaqueType   = errors.New("tamer: type has no field layout to decode with")
)
