package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"peppolrelay/internal/document/models"
	"peppolrelay/internal/document/ubl"
	"peppolrelay/internal/platform/metrics"
	"peppolrelay/internal/platform/middleware"
	"peppolrelay/pkg/domain"
	dErrors "peppolrelay/pkg/domain-errors"
	"peppolrelay/pkg/platform/httputil"
	"peppolrelay/pkg/requestcontext"
)

const defaultPageSize = 100

// Service defines the document operations used by the HTTP API.
type Service interface {
	Create(ctx context.Context, req models.SendRequest, noArchive bool) (*models.Document, error)
	Update(ctx context.Context, id uuid.UUID, req models.SendRequest, noArchive bool) (*models.Document, error)
	Reschedule(ctx context.Context, id uuid.UUID, ownerID string, scheduledOn *time.Time) (*models.Document, error)
	Cancel(ctx context.Context, id uuid.UUID, ownerID string, noArchive bool) error
	FindByID(ctx context.Context, id uuid.UUID, ownerID string) (*models.Document, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID, ownerID string) ([]*models.Document, error)
	FindAllNew(ctx context.Context, ownerID string, limit int) ([]*models.Document, error)
	FindAllNewByApp(ctx context.Context, appUID uuid.UUID, limit int) ([]*models.Document, error)
	Downloaded(ctx context.Context, ids []uuid.UUID, ownerID string, noArchive bool) error
	DownloadedByApp(ctx context.Context, ids []uuid.UUID, appUID uuid.UUID, noArchive bool) error
	CreateAsReceived(ctx context.Context, in models.ReceivedDocument, afterCommit func(ctx context.Context) error) (*models.Document, error)
}

// Registry answers which access point a participant sends through.
type Registry interface {
	AccessPoint(ctx context.Context, peppolID string) (domain.AccessPoint, error)
}

// Handler serves /sapi/document and the access point push webhook.
type Handler struct {
	logger        *slog.Logger
	documents     Service
	registry      Registry
	metrics       *metrics.Metrics
	jwtValidator  middleware.JWTValidator
	webhookSecret string
}

func New(
	documents Service,
	registry Registry,
	webhookSecret string,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	jwtValidator middleware.JWTValidator) *Handler {
	return &Handler{
		logger:        logger,
		documents:     documents,
		registry:      registry,
		metrics:       metrics,
		jwtValidator:  jwtValidator,
		webhookSecret: webhookSecret,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		if h.metrics != nil {
			r.Use(middleware.LatencyMiddleware(h.metrics))
		}
		r.Use(middleware.RequireAuth(h.jwtValidator, h.logger))
		r.Get("/sapi/document", h.handleListNew)
		r.Post("/sapi/document", h.handleCreate)
		r.Post("/sapi/document/status", h.handleStatus)
		r.Put("/sapi/document/downloaded", h.handleDownloadedBatch)
		r.Get("/sapi/document/{id}", h.handleGet)
		r.Put("/sapi/document/{id}", h.handleUpdate)
		r.Delete("/sapi/document/{id}", h.handleCancel)
		r.Put("/sapi/document/{id}/send", h.handleReschedule)
		r.Put("/sapi/document/{id}/downloaded", h.handleDownloaded)
	})

	// Pushes are authenticated by a shared secret, not a participant token.
	if h.webhookSecret != "" {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			if h.metrics != nil {
				r.Use(middleware.LatencyMiddleware(h.metrics))
			}
			r.Post("/api/e-invoice/webhook", h.handleWebhook)
		})
	}
}

// handleListNew lists undownloaded incoming documents of the participant or,
// for an app token, of every participant linked to the app.
func (h *Handler) handleListNew(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	size, err := intParam(r, "size", defaultPageSize)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var docs []*models.Document
	switch peppolID, appUID := caller(ctx); {
	case peppolID != "":
		docs, err = h.documents.FindAllNew(ctx, peppolID, size)
	case appUID != uuid.Nil:
		docs, err = h.documents.FindAllNewByApp(ctx, appUID, size)
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "a participant or app token is required"))
		return
	}
	if err != nil {
		h.fail(ctx, w, "failed to list new documents", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ToDTOs(docs))
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	peppolID, ok := h.participant(w, r)
	if !ok {
		return
	}
	ids, ok := httputil.Decode[[]uuid.UUID](w, r, h.logger)
	if !ok {
		return
	}

	docs, err := h.documents.FindByIDs(ctx, ids, peppolID)
	if err != nil {
		h.fail(ctx, w, "failed to load document status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ToDTOs(docs))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	peppolID, ok := h.participant(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	doc, err := h.documents.FindByID(ctx, id, peppolID)
	if err != nil {
		h.fail(ctx, w, "failed to load document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ToDTO(doc))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	peppolID, ok := h.participant(w, r)
	if !ok {
		return
	}
	noArchive, err := boolParam(r, "noArchive")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	dto, ok := httputil.Decode[models.DocumentDTO](w, r, h.logger)
	if !ok {
		return
	}
	req, err := h.validateSender(ctx, peppolID, dto)
	if err != nil {
		h.fail(ctx, w, "rejected outgoing document", err)
		return
	}

	doc, err := h.documents.Create(ctx, req, noArchive)
	if err != nil {
		h.fail(ctx, w, "failed to create document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, models.ToDTO(doc))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	peppolID, ok := h.participant(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	noArchive, err := boolParam(r, "noArchive")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	dto, ok := httputil.Decode[models.DocumentDTO](w, r, h.logger)
	if !ok {
		return
	}
	req, err := h.validateSender(ctx, peppolID, dto)
	if err != nil {
		h.fail(ctx, w, "rejected outgoing document", err)
		return
	}

	doc, err := h.documents.Update(ctx, id, req, noArchive)
	if err != nil {
		h.fail(ctx, w, "failed to update document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.ToDTO(doc))
}

func (h *Handler) handleReschedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	peppolID, ok := h.participant(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	dto, ok := httputil.Decode[models.DocumentDTO](w, r, h.logger)
	if !ok {
		return
	}
	if err := h.checkOwner(ctx, peppolID, dto); err != nil {
		h.fail(ctx, w, "rejected reschedule", err)
		return
	}

	doc, err := h.documents.Reschedule(ctx, id, peppolID, dto.ScheduledOn)
	if err != nil {
		h.fail(ctx, w, "failed to reschedule document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, models.ToDTO(doc))
}

func (h *Handler) handleDownloaded(w http.ResponseWriter, r *http.Request) {
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	h.markDownloaded(w, r, []uuid.UUID{id})
}

func (h *Handler) handleDownloadedBatch(w http.ResponseWriter, r *http.Request) {
	ids, ok := httputil.Decode[[]uuid.UUID](w, r, h.logger)
	if !ok {
		return
	}
	h.markDownloaded(w, r, ids)
}

func (h *Handler) markDownloaded(w http.ResponseWriter, r *http.Request, ids []uuid.UUID) {
	ctx := r.Context()
	noArchive, err := boolParam(r, "noArchive")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	switch peppolID, appUID := caller(ctx); {
	case peppolID != "":
		err = h.documents.Downloaded(ctx, ids, peppolID, noArchive)
	case appUID != uuid.Nil:
		err = h.documents.DownloadedByApp(ctx, ids, appUID, noArchive)
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "a participant or app token is required"))
		return
	}
	if err != nil {
		h.fail(ctx, w, "failed to mark documents downloaded", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	peppolID, ok := h.participant(w, r)
	if !ok {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}
	noArchive, err := boolParam(r, "noArchive")
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.documents.Cancel(ctx, id, peppolID, noArchive); err != nil {
		h.fail(ctx, w, "failed to cancel document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validateSender checks that the caller owns the document, that the UBL names
// the caller as supplier and that the caller may send at all.
func (h *Handler) validateSender(ctx context.Context, peppolID string, dto models.DocumentDTO) (models.SendRequest, error) {
	if err := h.checkOwner(ctx, peppolID, dto); err != nil {
		return models.SendRequest{}, err
	}
	req := dto.SendRequest()
	if strings.TrimSpace(req.Payload) == "" {
		return models.SendRequest{}, dErrors.New(dErrors.CodeBadRequest, "missing UBL content")
	}
	header, err := ubl.Parse(req.Payload)
	if err != nil {
		return models.SendRequest{}, err
	}
	if header.Supplier != peppolID {
		return models.SendRequest{}, dErrors.New(dErrors.CodeForbidden, "peppol id is not the supplier of the document")
	}
	if req.Kind == "" {
		req.Kind = header.Kind
	}

	ap, err := h.registry.AccessPoint(ctx, peppolID)
	if err != nil {
		return models.SendRequest{}, err
	}
	if ap.IsNone() {
		return models.SendRequest{}, dErrors.New(dErrors.CodeForbidden, "peppol id is not activated to send")
	}
	return req, nil
}

func (h *Handler) checkOwner(ctx context.Context, peppolID string, dto models.DocumentDTO) error {
	if dto.OwnerPeppolID == peppolID {
		return nil
	}
	h.logger.WarnContext(ctx, "peppol id is not the owner of the document",
		"peppol_id", peppolID,
		"owner_id", dto.OwnerPeppolID,
		"document_id", dto.ID,
	)
	return dErrors.New(dErrors.CodeForbidden, "peppol id is not the owner")
}

func (h *Handler) participant(w http.ResponseWriter, r *http.Request) (string, bool) {
	peppolID := requestcontext.ParticipantID(r.Context())
	if peppolID == "" {
		h.logger.WarnContext(r.Context(), "document call without participant",
			"request_id", middleware.GetRequestID(r.Context()),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "a participant token is required"))
		return "", false
	}
	return peppolID, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	level := slog.LevelWarn
	if code := dErrors.CodeOf(err); code == dErrors.CodeInternal || code == dErrors.CodeBadGateway {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"peppol_id", requestcontext.ParticipantID(ctx),
		"request_id", middleware.GetRequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func caller(ctx context.Context) (string, uuid.UUID) {
	return requestcontext.ParticipantID(ctx), requestcontext.AppUID(ctx)
}

func documentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := domain.ParseDocumentID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return uuid.Nil, false
	}
	return id, true
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, dErrors.New(dErrors.CodeBadRequest, "invalid "+name+" parameter")
	}
	return v, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "invalid "+name+" parameter")
	}
	return v, nil
}
