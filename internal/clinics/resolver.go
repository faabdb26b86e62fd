// Package clinics maps display names found in exports onto persisted clinics,
// creating a clinic the first time a name is seen.
package clinics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	apperrors "clinicledger/internal/errors"
	"clinicledger/internal/storage"
	"clinicledger/pkg/contracts/domain"
)

// Resolver finds or provisions clinics.
type Resolver struct {
	repo   storage.ClinicRepository
	logger *slog.Logger
}

// NewResolver creates a resolver over repo.
func NewResolver(repo storage.ClinicRepository, logger *slog.Logger) *Resolver {
	return &Resolver{
		repo:   repo,
		logger: logger.With(slog.String("component", "clinic_resolver")),
	}
}

// Resolve returns the clinic for name: an exact match, else the first clinic
// whose name contains it ignoring case, else a newly created active clinic.
func (r *Resolver) Resolve(ctx context.Context, name string) (*domain.Clinic, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewValidationError("clinic name is required", nil)
	}

	clinic, err := r.repo.FindByName(ctx, name)
	if err == nil {
		return clinic, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up clinic %q: %w", name, err)
	}

	clinic, err = r.repo.FindContaining(ctx, name)
	if err == nil {
		r.logger.DebugContext(ctx, "clinic matched by containment",
			slog.String("name", name),
			slog.String("clinic", clinic.Name))
		return clinic, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to search clinics for %q: %w", name, err)
	}

	clinic = &domain.Clinic{Name: name, Location: DeriveLocation(name), Active: true}
	if err := r.repo.Create(ctx, clinic); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// created concurrently by another run
			return r.repo.FindByName(ctx, name)
		}
		return nil, fmt.Errorf("failed to create clinic %q: %w", name, err)
	}

	r.logger.InfoContext(ctx, "clinic created",
		slog.String("clinic_id", clinic.ID),
		slog.String("name", clinic.Name),
		slog.String("location", clinic.Location))
	return clinic, nil
}

// DeriveLocation returns the trimmed text after the last hyphen, or the whole
// name when there is none.
func DeriveLocation(name string) string {
	if idx := strings.LastIndex(name, "-"); idx >= 0 {
		if loc := strings.TrimSpace(name[idx+1:]); loc != "" {
			return loc
		}
	}
	return strings.TrimSpace(name)
}
