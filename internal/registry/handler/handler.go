package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"peppolrelay/internal/platform/metrics"
	"peppolrelay/internal/platform/middleware"
	"peppolrelay/internal/registry/models"
	"peppolrelay/pkg/domain"
	dErrors "peppolrelay/pkg/domain-errors"
	"peppolrelay/pkg/platform/httputil"
	"peppolrelay/pkg/requestcontext"
)

// Service defines the registration operations used by the HTTP API.
type Service interface {
	Get(ctx context.Context, peppolID string) (*models.Entry, error)
	Register(ctx context.Context, peppolID string, ap domain.AccessPoint, req models.RegisterRequest) (*models.Entry, error)
	Unregister(ctx context.Context, peppolID string) (*models.Entry, error)
	Remove(ctx context.Context, peppolID string) error
}

// Handler serves /sapi/registry for participant tokens.
type Handler struct {
	logger       *slog.Logger
	registry     Service
	metrics      *metrics.Metrics
	jwtValidator middleware.JWTValidator
	defaultAP    domain.AccessPoint
}

func New(
	registry Service,
	defaultAP domain.AccessPoint,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:       logger,
		registry:     registry,
		metrics:      metrics,
		jwtValidator: jwtValidator,
		defaultAP:    defaultAP,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		if h.metrics != nil {
			r.Use(middleware.LatencyMiddleware(h.metrics))
		}
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Use(middleware.RequireRole(middleware.RoleKYCUser, h.logger))
		r.Get("/sapi/registry", h.handleGet)
		r.Post("/sapi/registry", h.handleRegister)
		r.Put("/sapi/registry/unregister", h.handleUnregister)
		r.Delete("/sapi/registry", h.handleRemove)
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	peppolID, ok := h.participant(w, r)
	if !ok {
		return
	}

	entry, err := h.registry.Get(ctx, peppolID)
	if err != nil {
		h.fail(ctx, w, "failed to load registry entry", peppolID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry.Response())
}

// handleRegister binds the caller to ?accessPoint=, or to the configured
// default when the parameter is absent.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	peppolID, ok := h.participant(w, r)
	if !ok {
		return
	}

	var req models.RegisterRequest
	if r.ContentLength != 0 {
		if req, ok = httputil.Decode[models.RegisterRequest](w, r, h.logger); !ok {
			return
		}
	}

	ap := h.defaultAP
	if raw := r.URL.Query().Get("accessPoint"); raw != "" {
		ap = domain.AccessPoint(raw)
	}

	entry, err := h.registry.Register(ctx, peppolID, ap, req)
	if err != nil {
		h.fail(ctx, w, "failed to register participant", peppolID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry.Response())
}

func (h *Handler) handleUnregister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	peppolID, ok := h.participant(w, r)
	if !ok {
		return
	}

	entry, err := h.registry.Unregister(ctx, peppolID)
	if err != nil {
		h.fail(ctx, w, "failed to unregister participant", peppolID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry.Response())
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	peppolID, ok := h.participant(w, r)
	if !ok {
		return
	}

	if err := h.registry.Remove(ctx, peppolID); err != nil {
		h.fail(ctx, w, "failed to remove participant", peppolID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) participant(w http.ResponseWriter, r *http.Request) (string, bool) {
	peppolID := requestcontext.ParticipantID(r.Context())
	if peppolID == "" {
		h.logger.WarnContext(r.Context(), "registry call without participant",
			"request_id", middleware.GetRequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "a participant token is required"))
		return "", false
	}
	return peppolID, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg, peppolID string, err error) {
	level := slog.LevelWarn
	if code := dErrors.CodeOf(err); code == dErrors.CodeInternal || code == dErrors.CodeBadGateway {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"peppol_id", peppolID,
		"request_id", middleware.GetRequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
