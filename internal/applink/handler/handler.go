package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"peppolrelay/internal/platform/metrics"
	"peppolrelay/internal/platform/middleware"
	"peppolrelay/pkg/domain"
	dErrors "peppolrelay/pkg/domain-errors"
	"peppolrelay/pkg/platform/httputil"
	"peppolrelay/pkg/requestcontext"
)

type Service interface {
	Add(ctx context.Context, peppolID string, uid uuid.UUID) error
	Remove(ctx context.Context, peppolID string, uid uuid.UUID) error
}

// Handler lets a participant grant or revoke an application's access.
type Handler struct {
	logger       *slog.Logger
	links        Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
}

func New(links Service, logger *slog.Logger, metrics *metrics.Metrics, jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		links:        links,
		metrics:      metrics,
		jwtValidator: jwtValidator,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		if h.metrics != nil {
			r.Use(middleware.LatencyMiddleware(h.metrics))
		}
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Post("/sapi/applink/{uid}", h.handleAdd)
		r.Delete("/sapi/applink/{uid}", h.handleRemove)
	})
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "failed to link app", h.links.Add)
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "failed to unlink app", h.links.Remove)
}

func (h *Handler) handle(w http.ResponseWriter, r *http.Request, msg string, op func(context.Context, string, uuid.UUID) error) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	peppolID := requestcontext.ParticipantID(ctx)
	if peppolID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "a participant token is required"))
		return
	}
	uid, err := domain.ParseAppUID(chi.URLParam(r, "uid"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := op(ctx, peppolID, uid); err != nil {
		h.logger.ErrorContext(ctx, msg,
			"peppol_id", peppolID,
			"app_uid", uid,
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
