package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "gatepass/pkg/domain-errors"
)

// ScanAction is what the guard chose at an entry scan.
type ScanAction string

const (
	ActionApprove ScanAction = "approve"
	ActionReject  ScanAction = "reject"
)

// ParseScanAction resolves the optional action field. An empty action falls
// back to the configured default, historically approve: presenting a valid
// unexpired QR is sufficient for entry unless the guard actively rejects.
func ParseScanAction(raw string, fallback ScanAction) (ScanAction, error) {
	switch ScanAction(raw) {
	case "":
		return fallback, nil
	case ActionApprove:
		return ActionApprove, nil
	case ActionReject:
		return ActionReject, nil
	default:
		return "", dErrors.Newf(dErrors.CodeBadRequest, "invalid scan action %q", raw)
	}
}

// ScanKind is the direction of a scan, stored explicitly rather than derived
// from timestamp comparison against the exit time.
type ScanKind string

const (
	ScanEntry ScanKind = "entry"
	ScanExit  ScanKind = "exit"
)

// ScanEvent is one row of the append-only scan log. Events are written for
// every scan that committed a state transition and are never mutated or
// deleted; once scanned, a visit is retained indefinitely as an audit record.
type ScanEvent struct {
	ID      uuid.UUID `json:"id"`
	VisitID uuid.UUID `json:"visit_id"`
	GuardID uuid.UUID `json:"guard_id"`
	Kind    ScanKind  `json:"kind"`
	// Device is the coarse device fingerprint derived from the scanning
	// client's User-Agent.
	Device string    `json:"device"`
	At     time.Time `json:"at"`
}

// EvidencePhoto references an already-uploaded photo attached to a scan.
// Storage of the bytes is out of scope; the URL is opaque here.
type EvidencePhoto struct {
	ID      uuid.UUID `json:"id"`
	VisitID uuid.UUID `json:"visit_id"`
	Kind    ScanKind  `json:"kind"`
	URL     string    `json:"url"`
	AddedAt time.Time `json:"added_at"`
}
