package mp4

import "errors"

var (
	// ErrTruncatedInput is returned when a box declares more bytes than remain
	// in the input or its enclosing box.
	ErrTruncatedInput = errors.New("truncated input")
	// ErrInvalidLength is returned when a box declares a size smaller than its
	// own header.
	ErrInvalidLength = errors.New("invalid box length")
	// ErrMalformedBox is returned when a fixed or reserved field holds a value
	// the format does not allow.
	ErrMalformedBox = errors.New("malformed box")
	// ErrUnknownBoxType is returned in strict mode for unregistered box types.
	ErrUnknownBoxType = errors.New("unknown box type")
	// ErrUnsupported marks layouts that are valid but not handled.
	ErrUnsupported = errors.New("unsupported variant")
	// ErrNotFound is returned by tree navigation when no box matches.
	ErrNotFound = errors.New("box not found")
)
