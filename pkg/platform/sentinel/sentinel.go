package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and adapters return these
// (optionally wrapped) so services can translate them into domain errors.
//
// - ErrNotFound: key or record does not exist
// - ErrConflict: record already exists in a state that forbids the write
// - ErrInvalidState: record is in the wrong state for the requested operation
// - ErrUnavailable: store or backend temporarily unavailable
// - ErrCorrupt: stored blob could not be decoded or authenticated
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrCorrupt      = errors.New("corrupt record")
)
