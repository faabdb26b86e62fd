package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"clinicledger/internal/dataprocessing"
	apperrors "clinicledger/internal/errors"
	"clinicledger/internal/ingestion"
	"clinicledger/internal/middleware"
	"clinicledger/internal/storage"
	api "clinicledger/pkg/contracts/api/v1"
	"clinicledger/pkg/contracts/domain"
)

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to temporary files.
const multipartMemory = 32 << 20

// UploadsHandler serves /api/uploads.
type UploadsHandler struct {
	service        UploadService
	errors         *apperrors.ErrorHandler
	query          *middleware.QueryValidator
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewUploadsHandler creates the handler.
func NewUploadsHandler(service UploadService, errorHandler *apperrors.ErrorHandler, maxUploadBytes int64, logger *slog.Logger) *UploadsHandler {
	return &UploadsHandler{
		service:        service,
		errors:         errorHandler,
		query:          middleware.NewQueryValidator(),
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With(slog.String("handler", "uploads")),
	}
}

// Routes mounts the upload endpoints.
func (h *UploadsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	return r
}

// Create handles POST /api/uploads with multipart files[] and uploaded_by.
func (h *UploadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			h.errors.HandleError(w, r, apperrors.ErrPayloadTooLarge)
			return
		}
		h.errors.HandleError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	uploadedBy := strings.TrimSpace(r.FormValue("uploaded_by"))
	if uploadedBy == "" {
		h.errors.HandleError(w, r, apperrors.ErrValidation("uploaded_by", "uploaded_by is required"))
		return
	}

	headers := append(r.MultipartForm.File["files[]"], r.MultipartForm.File["files"]...)
	if len(headers) == 0 {
		h.errors.HandleError(w, r, apperrors.ErrNoFiles)
		return
	}

	files := make([]ingestion.FileUpload, 0, len(headers))
	for _, fh := range headers {
		if !dataprocessing.IsSupported(fh.Filename) {
			h.errors.HandleError(w, r, apperrors.NewWithDetails(
				apperrors.ErrUnsupportedFile.StatusCode,
				apperrors.ErrUnsupportedFile.ErrorCode,
				apperrors.ErrUnsupportedFile.Message,
				map[string]string{"file": fh.Filename}))
			return
		}
		content, err := readPart(fh)
		if err != nil {
			h.logger.WarnContext(r.Context(), "failed to read multipart file", slog.String("file", fh.Filename), slog.String("error", err.Error()))
			h.errors.HandleError(w, r, apperrors.InvalidRequestWithError(err))
			return
		}
		files = append(files, ingestion.FileUpload{Name: fh.Filename, Content: content})
	}

	upload, err := h.service.BeginUpload(r.Context(), files, uploadedBy)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, api.UploadAcceptedResponse{
		UploadID: upload.ID,
		Status:   upload.Status,
		Files:    upload.Files,
	})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	return content, nil
}

// List handles GET /api/uploads.
func (h *UploadsHandler) List(w http.ResponseWriter, r *http.Request) {
	var req api.ListUploadsRequest
	if err := h.query.ValidateQuery(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	limit, offset := storage.NormalizePage(req.Limit, req.Offset)

	uploads, total, err := h.service.List(r.Context(), storage.UploadFilter{
		Status: domain.UploadStatus(req.Status),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	resp := api.UploadListResponse{
		Uploads: make([]*domain.UploadHistory, len(uploads)),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}
	for i := range uploads {
		resp.Uploads[i] = &uploads[i]
	}
	render.JSON(w, r, resp)
}

// Get handles GET /api/uploads/{id}.
func (h *UploadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	upload, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, upload)
}

// Delete handles DELETE /api/uploads/{id}.
func (h *UploadsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
