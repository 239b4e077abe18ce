package feed

import "errors"

var (
	// ErrClockSkew is returned when two timestamps cannot be compared
	// safely, either because one carries no zone offset or because it is
	// the zero time.
	ErrClockSkew = errors.New("timestamp comparison is ambiguous")

	// ErrMalformedTimestamp is returned when a timestamp string matches
	// none of the known layouts.
	ErrMalformedTimestamp = errors.New("malformed timestamp")

	// ErrMalformedDescriptor is returned when descriptor text is missing
	// required fields or contains lines that are not key:value pairs.
	ErrMalformedDescriptor = errors.New("malformed descriptor")
)
