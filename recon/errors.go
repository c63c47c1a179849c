package recon

import "errors"

// ErrUnknownSource is returned when a single-source query names an id
// absent from the catalog. This is a caller bug, not a transient failure,
// so it is surfaced instead of being folded into a failed envelope.
var ErrUnknownSource = errors.New("recon: unknown source id")

// ErrUnknownCategory is returned when a query's search type is not one of
// the catalog categories.
var ErrUnknownCategory = errors.New("recon: unknown search category")

// ErrNoHandler is returned at construction when the catalog lists enabled
// sources in a category with no registered handler.
var ErrNoHandler = errors.New("recon: no handler registered for category")

// ErrUnknownFormat is returned by Export for unsupported formats.
var ErrUnknownFormat = errors.New("recon: unknown export format")
