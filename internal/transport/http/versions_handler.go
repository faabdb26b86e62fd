package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "clinicledger/internal/errors"
	"clinicledger/internal/middleware"
	"clinicledger/internal/storage"
	api "clinicledger/pkg/contracts/api/v1"
	"clinicledger/pkg/contracts/domain"
)

// VersionsHandler serves /api/versions.
type VersionsHandler struct {
	service VersionService
	errors  *apperrors.ErrorHandler
	query   *middleware.QueryValidator
	logger  *slog.Logger
	now     func() time.Time
}

// NewVersionsHandler creates the handler.
func NewVersionsHandler(service VersionService, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *VersionsHandler {
	return &VersionsHandler{
		service: service,
		errors:  errorHandler,
		query:   middleware.NewQueryValidator(),
		logger:  logger.With(slog.String("handler", "versions")),
		now:     time.Now,
	}
}

// Routes mounts the version endpoints.
func (h *VersionsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/rollback", h.Rollback)
	return r
}

// List handles GET /api/versions.
func (h *VersionsHandler) List(w http.ResponseWriter, r *http.Request) {
	var req api.ListVersionsRequest
	if err := h.query.ValidateQuery(r, &req); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	limit, offset := storage.NormalizePage(req.Limit, req.Offset)

	versions, total, err := h.service.Versions(r.Context(), storage.VersionFilter{
		ClinicID: req.ClinicID,
		Year:     req.Year,
		Month:    req.Month,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	resp := api.VersionListResponse{
		Versions: make([]*domain.DataVersion, len(versions)),
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}
	for i := range versions {
		resp.Versions[i] = &versions[i]
	}
	render.JSON(w, r, resp)
}

// Get handles GET /api/versions/{id}.
func (h *VersionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.service.Version(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, v)
}

// Rollback handles POST /api/versions/{id}/rollback.
func (h *VersionsHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	result, err := h.service.Rollback(r.Context(), id)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "rollback requested",
		slog.String("version_id", id),
		slog.String("clinic", result.ClinicName),
		slog.Int("restored_version", result.Version))
	render.JSON(w, r, api.RollbackResponse{RollbackResult: *result, RolledBackAt: h.now().UTC()})
}
