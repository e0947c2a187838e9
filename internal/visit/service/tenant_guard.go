package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"gatepass/internal/directory"
	"gatepass/internal/visit/models"
	dErrors "gatepass/pkg/domain-errors"
	"gatepass/pkg/platform/sentinel"
)

// The tenant guard is the cross-cutting check that a guard only acts on
// visits belonging to the same residential complex as the visit's creator.
// It runs before any scan mutation. A missing tenant assignment on either
// side is an operational misconfiguration and must read as such, never as a
// cross-tenant attempt.

func (s *Service) loadGuard(ctx context.Context, guardID uuid.UUID) (*directory.Guard, error) {
	guard, err := s.directory.FindGuard(ctx, guardID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "guard not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve guard")
	}
	return guard, nil
}

// visitTenant follows the creator discriminant to the owning tenant.
func (s *Service) visitTenant(ctx context.Context, visit *models.Visit) (*uuid.UUID, error) {
	switch visit.CreatorKind {
	case models.CreatorAdmin:
		if visit.AdminID == nil {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "admin-created visit has no admin reference")
		}
		admin, err := s.directory.FindAdmin(ctx, *visit.AdminID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeConfiguration, "visit creator (admin) no longer exists")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve visit creator")
		}
		return admin.TenantID, nil
	case models.CreatorResident:
		if visit.ResidentID == nil {
			return nil, dErrors.New(dErrors.CodeInvariantViolation, "resident-created visit has no resident reference")
		}
		resident, err := s.directory.FindResident(ctx, *visit.ResidentID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, dErrors.New(dErrors.CodeConfiguration, "visit creator (resident) no longer exists")
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve visit creator")
		}
		return resident.TenantID, nil
	default:
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "unknown creator kind %q", visit.CreatorKind)
	}
}

// requireSameTenant enforces tenant isolation between a guard and a visit.
func (s *Service) requireSameTenant(ctx context.Context, guard *directory.Guard, visit *models.Visit) error {
	visitTenant, err := s.visitTenant(ctx, visit)
	if err != nil {
		return err
	}
	if guard.TenantID == nil {
		return dErrors.New(dErrors.CodeConfiguration, "guard has no tenant assigned, contact the administrator")
	}
	if visitTenant == nil {
		return dErrors.New(dErrors.CodeConfiguration, "visit creator has no tenant assigned, contact the administrator")
	}
	if *guard.TenantID != *visitTenant {
		return dErrors.New(dErrors.CodeCrossTenant, "guard is not authorized to act on visits of another residential complex")
	}
	return nil
}

// resolveCreatorTenant verifies the creator exists and has a tenant before
// any visit is written under their name.
func (s *Service) resolveCreatorTenant(ctx context.Context, kind models.CreatorKind, creatorID uuid.UUID) error {
	switch kind {
	case models.CreatorAdmin:
		admin, err := s.directory.FindAdmin(ctx, creatorID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "admin not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve admin")
		}
		if admin.TenantID == nil {
			return dErrors.New(dErrors.CodeConfiguration, "admin has no tenant assigned, contact the administrator")
		}
	case models.CreatorResident:
		resident, err := s.directory.FindResident(ctx, creatorID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "resident not found")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve resident")
		}
		if resident.TenantID == nil {
			return dErrors.New(dErrors.CodeConfiguration, "resident has no tenant assigned, contact the administrator")
		}
	default:
		return dErrors.Newf(dErrors.CodeInvariantViolation, "unknown creator kind %q", kind)
	}
	return nil
}
