package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"clinicledger/internal/dataprocessing"
	apperrors "clinicledger/internal/errors"
	"clinicledger/internal/files"
	"clinicledger/internal/operations"
	"clinicledger/internal/storage"
	"clinicledger/internal/versioning"
	"clinicledger/pkg/contracts/domain"
)

// FileUpload is one file received for ingestion.
type FileUpload struct {
	Name    string
	Content []byte
}

// Enqueuer schedules a pending upload for a worker.
type Enqueuer interface {
	Enqueue(id string) error
}

// Service accepts upload batches and exposes upload and version history.
type Service struct {
	uploads  storage.UploadRepository
	files    files.Store
	queue    Enqueuer
	versions *versioning.Store
	logger   *slog.Logger
}

// NewService creates the service. A nil queue leaves uploads pending for the
// caller to run with RunNow.
func NewService(uploads storage.UploadRepository, fileStore files.Store, queue Enqueuer, versions *versioning.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		uploads:  uploads,
		files:    fileStore,
		queue:    queue,
		versions: versions,
		logger:   logger.With(slog.String("component", "upload_service")),
	}
}

// BeginUpload stages files, records a pending upload and enqueues it. The
// outcome of the batch is reported asynchronously.
func (s *Service) BeginUpload(ctx context.Context, uploads []FileUpload, uploadedBy string) (*domain.UploadHistory, error) {
	if len(uploads) == 0 {
		return nil, apperrors.NewValidationError("at least one file is required", nil)
	}
	for _, f := range uploads {
		if !dataprocessing.IsSupported(f.Name) {
			return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported file type: %s", f.Name), nil).
				WithContext("file", f.Name)
		}
	}

	upload := &domain.UploadHistory{
		ID:         uuid.NewString(),
		UploadedBy: strings.TrimSpace(uploadedBy),
		Status:     domain.UploadStatusPending,
		Files:      make([]domain.UploadFile, 0, len(uploads)),
		Errors:     []domain.UploadError{},
		Warnings:   []string{},
	}

	for i, f := range uploads {
		staged, err := files.Stage(ctx, s.files, upload.ID, i, f.Name, dataprocessing.ContentTypeFor(f.Name), f.Content)
		if err != nil {
			s.discard(ctx, upload.Files)
			return nil, apperrors.NewStorageError("failed to stage upload", err)
		}
		upload.Files = append(upload.Files, staged)
	}

	if err := s.uploads.Create(ctx, upload); err != nil {
		s.discard(ctx, upload.Files)
		return nil, apperrors.NewPersistenceError("failed to record upload", err)
	}

	s.logger.InfoContext(ctx, "upload accepted",
		slog.String("upload_id", upload.ID),
		slog.String("uploaded_by", upload.UploadedBy),
		slog.Int("files", len(upload.Files)))

	if s.queue != nil {
		if err := s.queue.Enqueue(upload.ID); err != nil {
			// still pending in the store; the sweep picks it up later
			s.logger.WarnContext(ctx, "upload left pending",
				slog.String("upload_id", upload.ID),
				slog.String("reason", err.Error()))
		}
	}
	return upload, nil
}

// RunNow claims a pending upload and runs it on the calling goroutine.
func (s *Service) RunNow(ctx context.Context, id string, runner operations.Runner) (*domain.UploadHistory, error) {
	upload, err := s.uploads.Claim(ctx, id)
	if errors.Is(err, storage.ErrConflict) {
		return nil, apperrors.NewConflictError("upload is not pending").WithContext("id", id)
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to claim upload", err)
	}
	if err := runner.Run(ctx, upload); err != nil {
		return upload, err
	}
	return upload, nil
}

// Get returns one upload.
func (s *Service) Get(ctx context.Context, id string) (*domain.UploadHistory, error) {
	upload, err := s.uploads.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.NewNotFoundError("upload", id)
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("failed to load upload", err)
	}
	return upload, nil
}

// List returns uploads matching filter and the total count.
func (s *Service) List(ctx context.Context, filter storage.UploadFilter) ([]domain.UploadHistory, int, error) {
	uploads, total, err := s.uploads.List(ctx, filter)
	if err != nil {
		return nil, 0, apperrors.NewPersistenceError("failed to list uploads", err)
	}
	return uploads, total, nil
}

// Delete marks a finished upload deleted and removes any files still staged
// for it. Records it produced are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	upload, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	switch err := s.uploads.MarkDeleted(ctx, id); {
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NewNotFoundError("upload", id)
	case errors.Is(err, storage.ErrConflict):
		return apperrors.NewConflictError("upload is still being processed").WithContext("id", id)
	case err != nil:
		return apperrors.NewPersistenceError("failed to delete upload", err)
	}
	s.discard(ctx, upload.Files)
	s.logger.InfoContext(ctx, "upload deleted", slog.String("upload_id", id))
	return nil
}

// Rollback restores a record to the values of versionID.
func (s *Service) Rollback(ctx context.Context, versionID string) (*domain.RollbackResult, error) {
	return s.versions.Rollback(ctx, versionID)
}

// Version returns one data version.
func (s *Service) Version(ctx context.Context, id string) (*domain.DataVersion, error) {
	return s.versions.Get(ctx, id)
}

// Versions returns data versions matching filter and the total count.
func (s *Service) Versions(ctx context.Context, filter storage.VersionFilter) ([]domain.DataVersion, int, error) {
	return s.versions.List(ctx, filter)
}

func (s *Service) discard(ctx context.Context, staged []domain.UploadFile) {
	for _, f := range staged {
		if err := s.files.Delete(ctx, f.StorageKey); err != nil && !errors.Is(err, files.ErrNotExist) {
			s.logger.WarnContext(ctx, "failed to remove staged file",
				slog.String("key", f.StorageKey),
				slog.String("error", err.Error()))
		}
	}
}
