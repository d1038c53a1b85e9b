package middleware

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"peppolrelay/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (v stubValidator) ValidateToken(string) (*JWTClaims, error) {
	return v.claims, v.err
}

type latencyRecorder struct {
	route  string
	status string
}

func (l *latencyRecorder) ObserveRequestLatency(_, route, status string, _ time.Time) {
	l.route = route
	l.status = status
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRequireAuth(t *testing.T) {
	appUID := uuid.New()

	tests := []struct {
		name        string
		header      string
		validator   stubValidator
		wantStatus  int
		participant string
		app         uuid.UUID
	}{
		{
			name:       "missing header",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid token",
			header:     "Bearer nope",
			validator:  stubValidator{err: errors.New("invalid token")},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:        "user token",
			header:      "Bearer ok",
			validator:   stubValidator{claims: &JWTClaims{PeppolID: "0208:0123456789", IsUser: true, Role: "kyc_user"}},
			wantStatus:  http.StatusOK,
			participant: "0208:0123456789",
		},
		{
			name:       "app token",
			header:     "Bearer ok",
			validator:  stubValidator{claims: &JWTClaims{UID: appUID.String(), IsApp: true}},
			wantStatus: http.StatusOK,
			app:        appUID,
		},
		{
			name:       "app token with bad uid",
			header:     "Bearer ok",
			validator:  stubValidator{claims: &JWTClaims{UID: "not-a-uuid", IsApp: true}},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "peppol id ignored for apps",
			header:     "Bearer ok",
			validator:  stubValidator{claims: &JWTClaims{PeppolID: "0208:1", IsApp: true}},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotParticipant string
			var gotApp uuid.UUID
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotParticipant = requestcontext.ParticipantID(r.Context())
				gotApp = requestcontext.AppUID(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/sapi/registry", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			RequireAuth(tt.validator, discardLogger())(next).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.participant, gotParticipant)
			assert.Equal(t, tt.app, gotApp)
		})
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole("service", discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodDelete, "/sapi/registry", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = req.WithContext(requestcontext.WithRole(req.Context(), "service"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireAdminToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("top-up"), bcrypt.MinCost)
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name  string
		hash  string
		token string
		want  int
	}{
		{"valid", string(hash), "top-up", http.StatusOK},
		{"wrong token", string(hash), "guess", http.StatusUnauthorized},
		{"missing token", string(hash), "", http.StatusUnauthorized},
		{"disabled", "", "top-up", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/monitor/10", nil)
			if tt.token != "" {
				req.Header.Set(AdminTokenHeader, tt.token)
			}
			rec := httptest.NewRecorder()
			RequireAdminToken(tt.hash, discardLogger())(ok).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-id", seen)
}

func TestRecovery(t *testing.T) {
	h := Recovery(discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLoggerWritesAccessLine(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	h := ClientMetadata(Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	req := httptest.NewRequest(http.MethodPost, "/sapi/document", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	assert.Contains(t, out, `"status":202`)
	assert.Contains(t, out, `"client_ip":"203.0.113.7"`)
	assert.Contains(t, out, `"ua_name":"Chrome"`)
}

func TestLatencyMiddlewareUsesRoutePattern(t *testing.T) {
	obs := &latencyRecorder{}
	r := chi.NewRouter()
	r.Use(LatencyMiddleware(obs))
	r.Get("/sapi/document/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sapi/document/42", nil))
	assert.Equal(t, "/sapi/document/{id}", obs.route)
	assert.Equal(t, "404", obs.status)
}

func TestClientIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:5555"
	assert.Equal(t, "::1", ClientIPFromRequest(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", ClientIPFromRequest(req))
}
