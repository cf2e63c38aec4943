package catalog

import "errors"

var (
	// ErrNoData is returned when a ROI has no NDVI product inside its
	// date window and footprint.
	ErrNoData = errors.New("no data")

	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an insert finds an existing row with
	// the same key but different values.
	ErrConflict = errors.New("conflicting row")

	// ErrDuplicateConversion is returned when a gain/offset pair is
	// already recorded under another label.
	ErrDuplicateConversion = errors.New("duplicate unit conversion")

	ErrMalformedRow = errors.New("malformed row")
)
