package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	apperrors "clinicledger/internal/errors"
	contracts "clinicledger/pkg/contracts"
	api "clinicledger/pkg/contracts/api/v1"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checks map[string]Pinger
	errors *apperrors.ErrorHandler
	logger *slog.Logger
}

// NewHealthHandler creates the handler; readiness pings every named check.
func NewHealthHandler(checks map[string]Pinger, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, errors: errorHandler, logger: logger.With(slog.String("handler", "health"))}
}

// Live handles GET /healthz.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, api.HealthResponse{Status: "ok", Version: contracts.Version})
}

// Ready handles GET /readyz.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := api.HealthResponse{Status: "ok", Version: contracts.Version, Checks: make(map[string]string, len(h.checks))}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.WarnContext(ctx, "readiness check failed", slog.String("check", name), slog.String("error", err.Error()))
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			continue
		}
		resp.Checks[name] = "ok"
	}
	if resp.Status != "ok" {
		unavailable := apperrors.ErrServiceUnavailable
		h.errors.HandleError(w, r, apperrors.NewWithDetails(unavailable.StatusCode, unavailable.ErrorCode, unavailable.Message, resp.Checks))
		return
	}
	render.JSON(w, r, resp)
}

// Version handles GET /api/version.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, contracts.GetVersionInfo())
}
