package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers
// return these (optionally wrapped) so services can translate them into
// domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: a uniqueness or state constraint rejected the write
// - ErrExpired: record is past its expiration instant
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrVersionMismatch: compare-and-swap lost to a concurrent writer
// - ErrUnavailable: service or resource temporarily unavailable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors
// directly.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrExpired         = errors.New("expired")
	ErrInvalidState    = errors.New("invalid state")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrUnavailable     = errors.New("unavailable")
)
