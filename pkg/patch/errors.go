package patch

import "errors"

var (
	ErrNilRoot         = errors.New("patch: root is nil")
	ErrNoLeadingSlash  = errors.New("patch: path must start with a slash")
	ErrMissingParent   = errors.New("patch: intermediate path segment does not exist")
	ErrNotContainer    = errors.New("patch: intermediate path segment is not an object")
	ErrUnknownOp       = errors.New("patch: unknown op")
	ErrUnknownValType  = errors.New("patch: unknown valType")
	ErrMalformedValue  = errors.New("patch: value does not match the valType")
	ErrNotPrimitive    = errors.New("patch: set members must be primitives")
	ErrKeyedNotObjects = errors.New("patch: keyed set members must be objects")
)
