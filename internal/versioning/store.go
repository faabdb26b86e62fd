// Package versioning keeps the append-only version chain of financial records:
// every overwrite of a live record is preceded by a snapshot of its values, and
// any snapshot can be restored.
package versioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "clinicledger/internal/errors"
	"clinicledger/internal/infrastructure"
	"clinicledger/internal/storage"
	"clinicledger/pkg/contracts/domain"
)

// Store snapshots and restores financial records.
type Store struct {
	store   storage.Store
	locker  *KeyLocker
	metrics *infrastructure.IngestionMetrics
	logger  *slog.Logger
}

// NewStore creates a version store. A nil metrics records nothing.
func NewStore(store storage.Store, locker *KeyLocker, metrics *infrastructure.IngestionMetrics, logger *slog.Logger) *Store {
	if locker == nil {
		locker = NewKeyLocker()
	}
	if metrics == nil {
		metrics = infrastructure.NoopIngestionMetrics()
	}
	return &Store{
		store:   store,
		locker:  locker,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "version_store")),
	}
}

// Snapshot copies the live record for key into a new version. It is a no-op
// returning nil when no live record exists. tx must hold the key lock.
func (s *Store) Snapshot(ctx context.Context, tx storage.KeyTx, key domain.RecordKey, uploadID *string, reason domain.VersionReason) (*domain.DataVersion, error) {
	live, err := tx.Records().Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read live record %s: %w", key, err)
	}

	next := 1
	var previousID *string
	latest, err := tx.Versions().Latest(ctx, key)
	switch {
	case err == nil:
		next = latest.Version + 1
		id := latest.ID
		previousID = &id
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("failed to read latest version of %s: %w", key, err)
	}

	version := &domain.DataVersion{
		ClinicID:          key.ClinicID,
		Year:              key.Year,
		Month:             key.Month,
		Version:           next,
		PreviousVersionID: previousID,
		UploadID:          uploadID,
		Reason:            reason,
		LineItems:         live.LineItems.Clone(),
	}
	if err := tx.Versions().Create(ctx, version); err != nil {
		return nil, fmt.Errorf("failed to create version %d of %s: %w", next, key, err)
	}
	return version, nil
}

// Write snapshots the live record for record's key and then replaces it with
// record, as one unit serialized against every other writer of the key. It
// returns the snapshot taken, or nil when the key had no live record.
func (s *Store) Write(ctx context.Context, record *domain.FinancialRecord) (*domain.DataVersion, error) {
	key := record.Key()
	unlock := s.locker.Lock(key)
	defer unlock()

	var snapshot *domain.DataVersion
	err := s.store.WithKeyLock(ctx, key, func(ctx context.Context, tx storage.KeyTx) error {
		v, err := s.Snapshot(ctx, tx, key, record.UploadID, domain.VersionReasonIngestion)
		if err != nil {
			return err
		}
		if err := tx.Records().Upsert(ctx, record); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", key, err)
		}
		snapshot = v
		return nil
	})
	if err != nil {
		return nil, apperrors.NewPersistenceError(fmt.Sprintf("failed to write record %s", key), err)
	}
	if snapshot != nil {
		s.metrics.VersionCreated(ctx, string(domain.VersionReasonIngestion))
	}
	return snapshot, nil
}

// Rollback restores the live record to the values stored in versionID after
// snapshotting the current live values, so the rollback itself can be undone.
func (s *Store) Rollback(ctx context.Context, versionID string) (*domain.RollbackResult, error) {
	target, err := s.store.Versions().Get(ctx, versionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("version", versionID)
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to load version", err)
	}

	key := target.Key()
	unlock := s.locker.Lock(key)
	defer unlock()

	var snapshot *domain.DataVersion
	err = s.store.WithKeyLock(ctx, key, func(ctx context.Context, tx storage.KeyTx) error {
		v, err := s.Snapshot(ctx, tx, key, nil, domain.VersionReasonRollback)
		if err != nil {
			return err
		}
		snapshot = v

		restored := &domain.FinancialRecord{
			ClinicID:  key.ClinicID,
			Year:      key.Year,
			Month:     key.Month,
			LineItems: target.LineItems.Clone(),
			UploadID:  target.UploadID,
		}
		if err := tx.Records().Upsert(ctx, restored); err != nil {
			return fmt.Errorf("failed to restore %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewPersistenceError(fmt.Sprintf("failed to roll back %s", key), err)
	}

	if snapshot != nil {
		s.metrics.VersionCreated(ctx, string(domain.VersionReasonRollback))
	}
	s.metrics.RollbackPerformed(ctx)

	result := &domain.RollbackResult{
		ClinicID: key.ClinicID,
		Year:     key.Year,
		Month:    key.Month,
		Version:  target.Version,
	}
	if clinic, err := s.store.Clinics().Get(ctx, key.ClinicID); err == nil {
		result.ClinicName = clinic.Name
	}

	s.logger.InfoContext(ctx, "record rolled back",
		slog.String("key", key.String()),
		slog.String("version_id", versionID),
		slog.Int("restored_version", target.Version),
		slog.Bool("snapshot_taken", snapshot != nil))
	return result, nil
}

// Get returns one version.
func (s *Store) Get(ctx context.Context, versionID string) (*domain.DataVersion, error) {
	v, err := s.store.Versions().Get(ctx, versionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("version", versionID)
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to load version", err)
	}
	return v, nil
}

// List returns versions matching filter and the total count.
func (s *Store) List(ctx context.Context, filter storage.VersionFilter) ([]domain.DataVersion, int, error) {
	versions, total, err := s.store.Versions().List(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.NewPersistenceError("failed to list versions", err)
	}
	return versions, total, nil
}
