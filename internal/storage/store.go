package storage

import (
	"context"
	"errors"
	"time"

	"clinicledger/pkg/contracts/domain"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional update finds the row in another state.
	ErrConflict = errors.New("conflict")
)

// ClinicRepository persists clinics.
type ClinicRepository interface {
	Get(ctx context.Context, id string) (*domain.Clinic, error)
	FindByName(ctx context.Context, name string) (*domain.Clinic, error)
	// FindContaining returns the first clinic, by name, whose name contains
	// fragment ignoring case.
	FindContaining(ctx context.Context, fragment string) (*domain.Clinic, error)
	Create(ctx context.Context, clinic *domain.Clinic) error
}

// RecordRepository persists live financial records.
type RecordRepository interface {
	Get(ctx context.Context, key domain.RecordKey) (*domain.FinancialRecord, error)
	// Upsert replaces the full row for the record's key.
	Upsert(ctx context.Context, record *domain.FinancialRecord) error
}

// VersionFilter narrows a version listing.
type VersionFilter struct {
	ClinicID string
	Year     int
	Month    int
	Limit    int
	Offset   int
}

// VersionRepository persists the append-only version chain.
type VersionRepository interface {
	Get(ctx context.Context, id string) (*domain.DataVersion, error)
	Latest(ctx context.Context, key domain.RecordKey) (*domain.DataVersion, error)
	Create(ctx context.Context, version *domain.DataVersion) error
	List(ctx context.Context, filter VersionFilter) ([]domain.DataVersion, int, error)
}

// UploadFilter narrows an upload listing.
type UploadFilter struct {
	Status domain.UploadStatus
	Limit  int
	Offset int
}

// UploadRepository persists upload history, which is also the job record.
type UploadRepository interface {
	Create(ctx context.Context, upload *domain.UploadHistory) error
	Get(ctx context.Context, id string) (*domain.UploadHistory, error)
	List(ctx context.Context, filter UploadFilter) ([]domain.UploadHistory, int, error)
	// Update saves status, progress, counters, errors and timestamps.
	Update(ctx context.Context, upload *domain.UploadHistory) error
	// Claim moves a pending upload to processing. ErrConflict means another
	// worker already owns it or it is no longer pending.
	Claim(ctx context.Context, id string) (*domain.UploadHistory, error)
	// FailProcessing marks every processing upload as failed with message and
	// returns how many were affected.
	FailProcessing(ctx context.Context, message string) (int, error)
	// PendingIDs lists pending uploads created before olderThan, oldest first.
	PendingIDs(ctx context.Context, olderThan time.Time) ([]string, error)
	// MarkDeleted moves a finished upload to deleted. ErrConflict means it is still running.
	MarkDeleted(ctx context.Context, id string) error
}

// KeyTx exposes the repositories bound to one key-locked unit of work.
type KeyTx interface {
	Records() RecordRepository
	Versions() VersionRepository
}

// Store is the complete persistence boundary.
type Store interface {
	Clinics() ClinicRepository
	Records() RecordRepository
	Versions() VersionRepository
	Uploads() UploadRepository
	// WithKeyLock runs fn as one unit of work holding the lock for key. Nothing
	// fn writes is kept when it returns an error.
	WithKeyLock(ctx context.Context, key domain.RecordKey, fn func(ctx context.Context, tx KeyTx) error) error
	Ping(ctx context.Context) error
	Close()
}

// NormalizePage applies the default and maximum page size and clamps offset.
func NormalizePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Page size bounds for list operations.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)
