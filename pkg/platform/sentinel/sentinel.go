package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and gateways return these
// (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: row or remote resource does not exist
//   - ErrConflict: a unique key (id, fingerprint, tracking id) is already taken
//   - ErrInvalidState: the row is not in the state the write expects
//   - ErrUnavailable: backing service temporarily unavailable
//
// Validation failures use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
