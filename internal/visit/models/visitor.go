package models

import (
	"time"

	"github.com/google/uuid"
)

// Visitor is the visited party's identity and vehicle record. Immutable once
// the owning visit has been scanned.
type Visitor struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	DocumentID string    `json:"document_id"`
	Phone      string    `json:"phone,omitempty"`

	VehicleType  string `json:"vehicle_type,omitempty"`
	VehicleBrand string `json:"vehicle_brand,omitempty"`
	VehicleColor string `json:"vehicle_color,omitempty"`
	VehiclePlate string `json:"vehicle_plate,omitempty"`
	ChassisPlate string `json:"chassis_plate,omitempty"`

	Reason      string `json:"reason,omitempty"`
	Destination string `json:"destination,omitempty"`

	// Companions are additional people arriving with the visitor. Names
	// only; they do not get their own tokens.
	Companions []string `json:"companions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
