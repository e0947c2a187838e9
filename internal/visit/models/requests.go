package models

import "time"

// Request payloads decoded by the HTTP layer. Validation tags are enforced
// with go-playground/validator before anything reaches the service.

// VisitorPayload describes one visitor to authorize.
type VisitorPayload struct {
	Name       string `json:"name" validate:"required,max=150"`
	DocumentID string `json:"document_id" validate:"required,max=50"`
	Phone      string `json:"phone" validate:"omitempty,max=20"`

	VehicleType  string `json:"vehicle_type" validate:"omitempty,max=70"`
	VehicleBrand string `json:"vehicle_brand" validate:"omitempty,max=70"`
	VehicleColor string `json:"vehicle_color" validate:"omitempty,max=40"`
	VehiclePlate string `json:"vehicle_plate" validate:"omitempty,max=30"`
	ChassisPlate string `json:"chassis_plate" validate:"omitempty,max=30"`

	Reason      string `json:"reason" validate:"omitempty,max=150"`
	Destination string `json:"destination" validate:"omitempty,max=150"`

	Companions []string `json:"companions" validate:"omitempty,max=10,dive,required,max=150"`
}

// CreateVisitRequest creates one visit (and QR issuance) per visitor.
type CreateVisitRequest struct {
	Visitors       []VisitorPayload `json:"visitors" validate:"required,min=1,max=20,dive"`
	ScheduledEntry time.Time        `json:"scheduled_entry" validate:"required"`
	Notes          string           `json:"notes" validate:"omitempty,max=500"`
}

// RequestVisitRequest is a resident-submitted request that an administrator
// must approve before a token is issued.
type RequestVisitRequest struct {
	Visitor        VisitorPayload `json:"visitor" validate:"required"`
	ScheduledEntry time.Time      `json:"scheduled_entry" validate:"required"`
	Notes          string         `json:"notes" validate:"omitempty,max=500"`
}

// UpdateVisitRequest edits a pending, unscanned visit. Nil fields are left
// unchanged; rescheduling shifts the token expiration with it.
type UpdateVisitRequest struct {
	ScheduledEntry *time.Time      `json:"scheduled_entry"`
	Notes          *string         `json:"notes" validate:"omitempty,max=500"`
	Visitor        *VisitorPayload `json:"visitor"`
}

// ScanEntryRequest is presented by a guard at the gate.
type ScanEntryRequest struct {
	QR          string   `json:"qr_code" validate:"required"`
	Action      string   `json:"action" validate:"omitempty,oneof=approve reject"`
	Observation string   `json:"observation" validate:"omitempty,max=500"`
	Photos      []string `json:"photos" validate:"omitempty,max=10,dive,required"`
}

// ScanExitRequest records the visitor leaving.
type ScanExitRequest struct {
	QR          string   `json:"qr_code" validate:"required"`
	Observation string   `json:"observation" validate:"omitempty,max=500"`
	Photos      []string `json:"photos" validate:"omitempty,max=10,dive,required"`
}
