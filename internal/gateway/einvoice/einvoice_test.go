package einvoice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"peppolrelay/internal/document/models"
	"peppolrelay/internal/gateway"
	"peppolrelay/pkg/domain"
)

type lookupFunc func(ctx context.Context, participantID string) (gateway.Variables, error)

func (f lookupFunc) Variables(ctx context.Context, participantID string) (gateway.Variables, error) {
	return f(ctx, participantID)
}

type EInvoiceSuite struct {
	suite.Suite
	mux   *http.ServeMux
	srv   *httptest.Server
	gw    *Gateway

	mu    sync.Mutex
	calls []string
}

func TestEInvoiceSuite(t *testing.T) {
	suite.Run(t, new(EInvoiceSuite))
}

func (s *EInvoiceSuite) SetupTest() {
	s.calls = nil
	s.mux = http.NewServeMux()
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		s.mux.ServeHTTP(w, r)
	}))
	lookup := lookupFunc(func(_ context.Context, participantID string) (gateway.Variables, error) {
		if participantID == "0208:unknown" {
			return nil, errors.New("not registered")
		}
		return gateway.Variables{"tenantId": "t-1", "keyId": "k-1", "key": "tenant-secret"}, nil
	})
	gw, err := New(Config{BaseURL: s.srv.URL, APIKey: "org-secret"}, lookup,
		WithHTTPClient(s.srv.Client()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
	s.gw = gw
}

func (s *EInvoiceSuite) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *EInvoiceSuite) TearDownTest() {
	s.srv.Close()
}

func (s *EInvoiceSuite) document() *models.Document {
	return &models.Document{
		ID:        uuid.New(),
		Direction: domain.DirectionOutgoing,
		Kind:      domain.DocumentKindInvoice,
		OwnerID:   "0208:0123456789",
		PartnerID: "0208:9876543210",
		Payload:   models.Ptr("<Invoice/>"),
	}
}

func (s *EInvoiceSuite) TestRegister() {
	s.mux.HandleFunc("POST /tenants", func(w http.ResponseWriter, r *http.Request) {
		s.Equal("Bearer org-secret", r.Header.Get("Authorization"))
		var body tenantCreateRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
		s.Equal("0208:0123456789", body.PeppolID)
		s.Equal("ACME", body.Name)
		_, _ = w.Write([]byte(`{"id":"t-1"}`))
	})
	s.mux.HandleFunc("POST /tenants/t-1/api-keys", func(w http.ResponseWriter, r *http.Request) {
		var body apiKeyCreateRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
		s.Equal("LetsPeppol", body.Name)
		_, _ = w.Write([]byte(`{"id":"k-1","key":"tenant-secret"}`))
	})
	s.mux.HandleFunc("POST /tenants/t-1/peppol/register", func(w http.ResponseWriter, r *http.Request) {
		var body registerPeppolRequest
		s.Require().NoError(json.NewDecoder(r.Body).Decode(&body))
		s.Equal("ACME", body.CompanyName)
		_, _ = w.Write([]byte(`{"registered":false,"message":"pending smp"}`))
	})

	vars, err := s.gw.Register(context.Background(), "0208:0123456789", gateway.RegistrationRequest{Name: "ACME"})
	s.Require().NoError(err)
	s.Equal(gateway.Variables{"tenantId": "t-1", "keyId": "k-1", "key": "tenant-secret"}, vars)
}

func (s *EInvoiceSuite) TestRegisterStopsOnFailure() {
	s.mux.HandleFunc("POST /tenants", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	_, err := s.gw.Register(context.Background(), "0208:0123456789", gateway.RegistrationRequest{Name: "ACME"})
	s.Require().Error(err)
	s.Equal(gateway.ErrorAlreadyRegistered, gateway.CategoryOf(err))
	s.Equal([]string{"POST /tenants"}, s.recorded())
}

func (s *EInvoiceSuite) TestUnregister() {
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }
	s.mux.HandleFunc("POST /tenants/t-1/peppol/unregister", ok)
	s.mux.HandleFunc("DELETE /tenants/t-1/api-keys/k-1", ok)
	s.mux.HandleFunc("DELETE /tenants/t-1", ok)

	err := s.gw.Unregister(context.Background(), "0208:0123456789", gateway.Variables{"tenantId": "t-1", "keyId": "k-1"})
	s.Require().NoError(err)
	s.Equal([]string{
		"POST /tenants/t-1/peppol/unregister",
		"DELETE /tenants/t-1/api-keys/k-1",
		"DELETE /tenants/t-1",
	}, s.recorded())
}

func (s *EInvoiceSuite) TestUnregisterWithoutTenant() {
	err := s.gw.Unregister(context.Background(), "0208:0123456789", nil)
	s.Equal(gateway.ErrorBadData, gateway.CategoryOf(err))
	s.Empty(s.recorded())
}

func (s *EInvoiceSuite) TestSendDocumentUsesTenantKey() {
	s.mux.HandleFunc("POST /documents", func(w http.ResponseWriter, r *http.Request) {
		s.Equal("Bearer tenant-secret", r.Header.Get("Authorization"))
		s.Equal("application/xml", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"id":"doc-9"}`))
	})

	id, err := s.gw.SendDocument(context.Background(), s.document())
	s.Require().NoError(err)
	s.Equal("doc-9", id)
}

func (s *EInvoiceSuite) TestSendDocumentRateLimited() {
	s.mux.HandleFunc("POST /documents", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	id, err := s.gw.SendDocument(context.Background(), s.document())
	s.Require().NoError(err)
	s.Empty(id)
}

func (s *EInvoiceSuite) TestSendDocumentWithoutRegistration() {
	doc := s.document()
	doc.OwnerID = "0208:unknown"

	_, err := s.gw.SendDocument(context.Background(), doc)
	s.Require().Error(err)
	s.Empty(s.recorded())
}

func (s *EInvoiceSuite) TestGetStatus() {
	states := map[string]string{
		"d-sent":      `{"state":"SENT"}`,
		"d-delivered": `{"state":"DELIVERED"}`,
		"d-failed":    `{"state":"FAILED","error":"unknown receiver"}`,
		"d-queued":    `{"state":"QUEUED"}`,
	}
	s.mux.HandleFunc("GET /documents/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(states[r.PathValue("id")]))
	})
	status := func(trackingID string) *gateway.StatusReport {
		doc := s.document()
		doc.TrackingID = models.Ptr(trackingID)
		report, err := s.gw.GetStatus(context.Background(), doc)
		s.Require().NoError(err)
		return report
	}

	s.Equal(&gateway.StatusReport{Success: true}, status("d-sent"))
	s.Equal(&gateway.StatusReport{Success: true}, status("d-delivered"))
	s.Equal(&gateway.StatusReport{Message: "FAILED : unknown receiver"}, status("d-failed"))
	s.Nil(status("d-queued"))
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(Config{BaseURL: "http://x"}, nil)
	require.Error(t, err)
	_, err = New(Config{BaseURL: "http://x", APIKey: "k"}, nil)
	assert.Error(t, err)
}
