package http

import (
	"context"

	"clinicledger/internal/ingestion"
	"clinicledger/internal/storage"
	"clinicledger/pkg/contracts/domain"
)

// UploadService is the upload side of the ingestion service.
type UploadService interface {
	BeginUpload(ctx context.Context, files []ingestion.FileUpload, uploadedBy string) (*domain.UploadHistory, error)
	Get(ctx context.Context, id string) (*domain.UploadHistory, error)
	List(ctx context.Context, filter storage.UploadFilter) ([]domain.UploadHistory, int, error)
	Delete(ctx context.Context, id string) error
}

// VersionService is the version history side of the ingestion service.
type VersionService interface {
	Version(ctx context.Context, id string) (*domain.DataVersion, error)
	Versions(ctx context.Context, filter storage.VersionFilter) ([]domain.DataVersion, int, error)
	Rollback(ctx context.Context, versionID string) (*domain.RollbackResult, error)
}
