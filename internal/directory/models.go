package directory

import (
	"github.com/google/uuid"
)

// The directory holds the actor records the authorization core resolves
// against: who a creator or guard is, and which tenant ("residencial") they
// belong to. Account management itself lives outside this service; these are
// read models.

// Tenant is the organizational unit a guard, resident or admin belongs to.
// Scans are only valid within the same tenant as the visit's creator.
type Tenant struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Admin is an administrator account reference.
type Admin struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	// TenantID is nullable on purpose: an admin without an assigned tenant
	// is an operational misconfiguration the scan path must report as such,
	// not as a cross-tenant attempt.
	TenantID *uuid.UUID `json:"tenant_id,omitempty"`
}

// Resident is a resident account reference.
type Resident struct {
	ID       uuid.UUID  `json:"id"`
	Name     string     `json:"name"`
	Unit     string     `json:"unit,omitempty"`
	TenantID *uuid.UUID `json:"tenant_id,omitempty"`
}

// Guard is a gate guard account reference.
type Guard struct {
	ID       uuid.UUID  `json:"id"`
	Name     string     `json:"name"`
	TenantID *uuid.UUID `json:"tenant_id,omitempty"`
}
