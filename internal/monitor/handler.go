// Package monitor exposes liveness and the administrative balance top-up.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"peppolrelay/internal/platform/middleware"
	dErrors "peppolrelay/pkg/domain-errors"
	"peppolrelay/pkg/platform/httputil"
)

type Balance interface {
	IncrementBy(ctx context.Context, delta int64) (int64, error)
}

// Check reports whether one backing service answers.
type Check func(ctx context.Context) error

type Handler struct {
	balance   Balance
	tokenHash string
	logger    *slog.Logger
	checks    map[string]Check
}

type Option func(*Handler)

// WithCheck adds a dependency probed by /api/monitor/ready.
func WithCheck(name string, check Check) Option {
	return func(h *Handler) {
		h.checks[name] = check
	}
}

func New(balance Balance, tokenHash string, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{balance: balance, tokenHash: tokenHash, logger: logger, checks: map[string]Check{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/api/monitor", h.handleAlive)
	r.With(middleware.Timeout(3*time.Second)).Get("/api/monitor/ready", h.handleReady)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Use(middleware.RequireAdminToken(h.tokenHash, h.logger))
		r.Get("/api/monitor/{amount}", h.handleTopUp)
	})
}

func (h *Handler) handleAlive(w http.ResponseWriter, _ *http.Request) {
	writeText(w, "ok")
}

// handleReady answers 503 naming the first failing dependency.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "dependency not ready", "dependency", name, "error", err)
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(name + " unavailable"))
			return
		}
	}
	writeText(w, "ready")
}

// handleTopUp adds amount to the balance; negative amounts take credit away.
func (h *Handler) handleTopUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	amount, err := strconv.ParseInt(chi.URLParam(r, "amount"), 10, 64)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "amount must be an integer"))
		return
	}
	balance, err := h.balance.IncrementBy(ctx, amount)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to top up balance",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update balance"))
		return
	}
	h.logger.InfoContext(ctx, "balance topped up", "amount", amount, "balance", balance)
	writeText(w, fmt.Sprintf("balance = %d", balance))
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
