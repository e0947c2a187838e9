package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "gatepass/pkg/domain-errors"
)

// CreatorKind discriminates who owns a visit.
type CreatorKind string

const (
	CreatorAdmin    CreatorKind = "admin"
	CreatorResident CreatorKind = "resident"
)

func (k CreatorKind) IsValid() bool {
	return k == CreatorAdmin || k == CreatorResident
}

// PlaceholderToken marks a visit whose real token has not been minted yet:
// either the visit id was not known at insert time, or the visit is a
// resident request awaiting administrator approval.
const PlaceholderToken = "pending-issue"

// Visit is the unit of authorization: it ties a visitor to a scheduled entry
// window and a QR token, and carries the lifecycle state guards drive
// forward at the gate.
//
// Invariants:
//   - Exactly one of AdminID/ResidentID is set, matching CreatorKind
//   - QRToken is unique and immutable after the first scan
//   - ExitAt is set only when transitioning into completed
//   - Version increments on every mutation (optimistic concurrency)
type Visit struct {
	ID          uuid.UUID   `json:"id"`
	VisitorID   uuid.UUID   `json:"visitor_id"`
	AdminID     *uuid.UUID  `json:"admin_id,omitempty"`
	ResidentID  *uuid.UUID  `json:"resident_id,omitempty"`
	CreatorKind CreatorKind `json:"creator_kind"`
	GuardID     *uuid.UUID  `json:"guard_id,omitempty"`

	QRToken        string     `json:"qr_token"`
	ScheduledEntry time.Time  `json:"scheduled_entry"`
	QRExpiresAt    time.Time  `json:"qr_expires_at"`
	ExitAt         *time.Time `json:"exit_at,omitempty"`

	State VisitState `json:"state"`
	Notes string     `json:"notes,omitempty"`

	EntryObservation string `json:"entry_observation,omitempty"`
	ExitObservation  string `json:"exit_observation,omitempty"`

	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewVisit constructs a pending visit owned by a single creator. The token
// starts as the placeholder; the service finalizes it once the id exists.
func NewVisit(visitorID uuid.UUID, creatorKind CreatorKind, creatorID uuid.UUID, scheduledEntry time.Time, validity time.Duration, notes string, now time.Time) (*Visit, error) {
	if !creatorKind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "creator kind must be admin or resident")
	}
	if creatorID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "creator reference is required")
	}
	if visitorID == uuid.Nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "visitor reference is required")
	}

	v := &Visit{
		ID:             uuid.New(),
		VisitorID:      visitorID,
		CreatorKind:    creatorKind,
		QRToken:        PlaceholderToken,
		ScheduledEntry: scheduledEntry,
		QRExpiresAt:    scheduledEntry.Add(validity),
		State:          StatePending,
		Notes:          notes,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	switch creatorKind {
	case CreatorAdmin:
		v.AdminID = &creatorID
	case CreatorResident:
		v.ResidentID = &creatorID
	}
	return v, nil
}

// NewVisitRequest constructs a resident-submitted request. It has no real
// token and stays in requested until an administrator approves it.
func NewVisitRequest(visitorID uuid.UUID, residentID uuid.UUID, scheduledEntry time.Time, validity time.Duration, notes string, now time.Time) (*Visit, error) {
	v, err := NewVisit(visitorID, CreatorResident, residentID, scheduledEntry, validity, notes, now)
	if err != nil {
		return nil, err
	}
	v.State = StateRequested
	return v, nil
}

// CreatorID returns the single non-nil creator reference.
func (v *Visit) CreatorID() uuid.UUID {
	if v.AdminID != nil {
		return *v.AdminID
	}
	if v.ResidentID != nil {
		return *v.ResidentID
	}
	return uuid.Nil
}

// Scanned reports whether any guard has acted on this visit.
func (v *Visit) Scanned() bool {
	return v.GuardID != nil
}

// Expired is derived from state and never stored as its own column. The
// original system denormalized this into a flag; here it is a view.
func (v *Visit) Expired() bool {
	return v.State == StateExpired
}

// PastExpiration reports whether the validity window has elapsed at now.
func (v *Visit) PastExpiration(now time.Time) bool {
	return now.After(v.QRExpiresAt)
}

// CanScanEntry validates an entry scan against the current state and returns
// the guard-facing conflict when it is not allowed. Expiration is checked
// separately because it mutates state even on a failed scan.
func (v *Visit) CanScanEntry() error {
	switch v.State {
	case StatePending:
		return nil
	case StateRequested:
		return dErrors.New(dErrors.CodeNotYetApproved, "visit is pending administrator approval")
	case StateApproved:
		return dErrors.New(dErrors.CodeAlreadyProcessed, "QR already scanned and approved for entry")
	case StateRejected:
		return dErrors.New(dErrors.CodeAlreadyProcessed, "QR already scanned and rejected")
	case StateCompleted:
		return dErrors.New(dErrors.CodeAlreadyProcessed, "visit already completed, entry and exit recorded")
	case StateExpired:
		return dErrors.New(dErrors.CodeExpired, "visit has expired")
	default:
		return dErrors.Newf(dErrors.CodeInvariantViolation, "unknown visit state %q", v.State)
	}
}

// ApplyEntryScan moves a pending visit to approved or rejected and stamps the
// acting guard. Call CanScanEntry first.
func (v *Visit) ApplyEntryScan(action ScanAction, guardID uuid.UUID, observation string, now time.Time) error {
	var next VisitState
	switch action {
	case ActionApprove:
		next = StateApproved
	case ActionReject:
		next = StateRejected
	default:
		return dErrors.Newf(dErrors.CodeBadRequest, "invalid scan action %q", action)
	}
	if !v.State.CanTransitionTo(next) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot move %s visit to %s", v.State, next)
	}
	v.State = next
	v.GuardID = &guardID
	if observation != "" {
		v.EntryObservation = observation
	}
	v.UpdatedAt = now
	return nil
}

// CanScanExit validates an exit scan. Only approved visits may exit.
func (v *Visit) CanScanExit() error {
	switch v.State {
	case StateApproved:
		return nil
	case StateCompleted:
		return dErrors.New(dErrors.CodeAlreadyProcessed, "exit already recorded, visit is completed")
	case StateExpired:
		return dErrors.New(dErrors.CodeExpired, "visit has expired")
	default:
		return dErrors.Newf(dErrors.CodeAlreadyProcessed, "cannot record exit for a visit in state %q", v.State)
	}
}

// ApplyExitScan completes the visit and stamps the actual exit time. Call
// CanScanExit first.
func (v *Visit) ApplyExitScan(guardID uuid.UUID, observation string, now time.Time) error {
	if !v.State.CanTransitionTo(StateCompleted) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot complete a %s visit", v.State)
	}
	v.State = StateCompleted
	v.GuardID = &guardID
	exitAt := now
	v.ExitAt = &exitAt
	if observation != "" {
		v.ExitObservation = observation
	}
	v.UpdatedAt = now
	return nil
}

// ApplyExpiration flips an expirable visit to expired. Terminal states are
// left untouched so the sweep and the lazy check can never disagree.
func (v *Visit) ApplyExpiration(now time.Time) bool {
	if !v.State.Expirable() {
		return false
	}
	v.State = StateExpired
	v.UpdatedAt = now
	return true
}

// ApplyApproval moves a requested visit to pending with its freshly minted
// token. The resident stays the creator; the approving administrator is
// recorded on the lifecycle event, not on the visit, so the single-creator
// invariant holds.
func (v *Visit) ApplyApproval(token string, now time.Time) error {
	if v.State != StateRequested {
		return dErrors.Newf(dErrors.CodeInvalidInput, "visit is not awaiting approval, state is %q", v.State)
	}
	v.State = StatePending
	v.QRToken = token
	v.UpdatedAt = now
	return nil
}

// ApplyRequestRejection declines a resident request before any token is
// issued. Only requested visits may be declined this way; guard-side
// rejection of a pending visit goes through ApplyEntryScan.
func (v *Visit) ApplyRequestRejection(now time.Time) error {
	if v.State != StateRequested {
		return dErrors.Newf(dErrors.CodeInvalidInput, "visit is not awaiting approval, state is %q", v.State)
	}
	if !v.State.CanTransitionTo(StateRejected) {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "cannot move %s visit to %s", v.State, StateRejected)
	}
	v.State = StateRejected
	v.UpdatedAt = now
	return nil
}

// Editable reports whether the creator may still modify or delete the visit:
// only while pending and before any guard has scanned it.
func (v *Visit) Editable() bool {
	return v.State == StatePending && !v.Scanned()
}
