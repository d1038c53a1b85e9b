package scrada

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"peppolrelay/internal/document/models"
	"peppolrelay/internal/gateway"
	"peppolrelay/pkg/domain"
	dErrors "peppolrelay/pkg/domain-errors"
)

const companyPath = "/v1/company/c-1/peppol"

type fakeIngestor struct {
	mu       sync.Mutex
	received []models.ReceivedDocument
	conflict map[string]bool
}

func (f *fakeIngestor) CreateAsReceived(ctx context.Context, in models.ReceivedDocument, afterCommit func(context.Context) error) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflict[in.TrackingID] {
		if err := afterCommit(ctx); err != nil {
			return nil, err
		}
		return nil, dErrors.New(dErrors.CodeConflict, "document already received")
	}
	f.received = append(f.received, in)
	if err := afterCommit(ctx); err != nil {
		return nil, err
	}
	return &models.Document{ID: uuid.New()}, nil
}

func newTestGateway(t *testing.T, handler http.Handler, ingestor Ingestor) *Gateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	if ingestor == nil {
		ingestor = &fakeIngestor{}
	}
	g, err := New(Config{BaseURL: srv.URL, CompanyID: "c-1", APIKey: "key", Password: "secret"}, ingestor,
		WithHTTPClient(srv.Client()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	return g
}

func outgoing() *models.Document {
	return &models.Document{
		ID:        uuid.New(),
		Direction: domain.DirectionOutgoing,
		Kind:      domain.DocumentKindCreditNote,
		OwnerID:   "0208:0123456789",
		PartnerID: "0208:9876543210",
		Payload:   models.Ptr("<CreditNote/>"),
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{}, &fakeIngestor{})
	require.Error(t, err)

	_, err = New(Config{BaseURL: "http://x", CompanyID: "c"}, nil)
	require.Error(t, err)
}

func TestRegister(t *testing.T) {
	t.Run("returns the registration uuid", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("POST "+companyPath+"/register", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "key", r.Header.Get("X-API-KEY"))
			assert.Equal(t, "secret", r.Header.Get("X-PASSWORD"))

			var body registerRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, ParticipantScheme, body.ParticipantIdentifier.Scheme)
			assert.Equal(t, "0208:0123456789", body.ParticipantIdentifier.Value)
			assert.Equal(t, "ACME", body.BusinessEntity.Name)
			assert.Len(t, body.DocumentTypes, 2)
			assert.Nil(t, body.MigrationKey)

			_, _ = w.Write([]byte(`"a1b2"`))
		})
		g := newTestGateway(t, mux, nil)

		vars, err := g.Register(context.Background(), "0208:0123456789", gateway.RegistrationRequest{Name: "ACME", Language: "nl", Country: "BE"})
		require.NoError(t, err)
		assert.Equal(t, gateway.Variables{"uuid": "a1b2"}, vars)
	})

	errorCases := []struct {
		name     string
		body     string
		category gateway.ErrorCategory
		contains string
	}{
		{
			name:     "registered at another access point",
			body:     `{"errorCode":110554,"parameters":["0208:0123456789","other-ap.example"]}`,
			category: gateway.ErrorAlreadyRegistered,
			contains: "other-ap.example",
		},
		{
			name:     "registered here already",
			body:     `{"errorCode":110552}`,
			category: gateway.ErrorAlreadyRegistered,
			contains: "scrada.be",
		},
		{
			name:     "wrapped error uses the inner error",
			body:     `{"errorCode":100008,"innerErrors":[{"errorCode":100030,"defaultFormat":"down"}]}`,
			category: gateway.ErrorUnavailable,
		},
		{
			name:     "unknown code is rejected",
			body:     `{"errorCode":42}`,
			category: gateway.ErrorRejected,
		},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(tc.body))
			}), nil)

			_, err := g.Register(context.Background(), "0208:0123456789", gateway.RegistrationRequest{})
			require.Error(t, err)
			assert.Equal(t, tc.category, gateway.CategoryOf(err))
			if tc.contains != "" {
				assert.Contains(t, err.Error(), tc.contains)
			}
		})
	}

	t.Run("non json error body falls back to status mapping", func(t *testing.T) {
		g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		}), nil)

		_, err := g.Register(context.Background(), "0208:0123456789", gateway.RegistrationRequest{})
		assert.Equal(t, gateway.ErrorUnavailable, gateway.CategoryOf(err))
		assert.True(t, gateway.IsRetryable(err))
	})
}

func TestUnregister(t *testing.T) {
	var path string
	g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		path = r.URL.Path
		_, _ = w.Write([]byte(`"a1b2"`))
	}), nil)

	err := g.Unregister(context.Background(), "0208:0123456789", gateway.Variables{"uuid": "a1b2"})
	require.NoError(t, err)
	assert.Equal(t, companyPath+"/deregister/iso6523-actorid-upis/0208:0123456789", path)
}

func TestSendDocument(t *testing.T) {
	t.Run("posts the payload with peppol headers", func(t *testing.T) {
		doc := outgoing()
		g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, companyPath+"/outbound/document", r.URL.Path)
			assert.Equal(t, "0208:0123456789", r.Header.Get("x-scrada-peppol-sender-id"))
			assert.Equal(t, "0208:9876543210", r.Header.Get("x-scrada-peppol-receiver-id"))
			assert.Equal(t, CreditNotesValue, r.Header.Get("x-scrada-peppol-document-type-value"))
			assert.Equal(t, "BE", r.Header.Get("x-scrada-peppol-c1-country-code"))
			assert.Equal(t, doc.ID.String(), r.Header.Get("x-scrada-external-reference"))
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "<CreditNote/>", string(body))
			_, _ = w.Write([]byte(`"track-1"`))
		}), nil)

		id, err := g.SendDocument(context.Background(), doc)
		require.NoError(t, err)
		assert.Equal(t, "track-1", id)
	})

	t.Run("rate limit means try later", func(t *testing.T) {
		g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}), nil)

		id, err := g.SendDocument(context.Background(), outgoing())
		require.NoError(t, err)
		assert.Empty(t, id)
	})

	t.Run("rejection is an error", func(t *testing.T) {
		g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("invalid ubl"))
		}), nil)

		_, err := g.SendDocument(context.Background(), outgoing())
		require.Error(t, err)
		assert.Equal(t, gateway.ErrorRejected, gateway.CategoryOf(err))
	})
}

func TestGetStatus(t *testing.T) {
	cases := []struct {
		status string
		body   string
		want   *gateway.StatusReport
	}{
		{status: "Created", body: `{"status":"Created"}`},
		{status: "Retry", body: `{"status":"Retry","attempt":2,"errorMessage":"receiver AP down"}`},
		{status: "Processed", body: `{"status":"Processed"}`, want: &gateway.StatusReport{Success: true}},
		{status: "Error", body: `{"status":"Error","errorMessage":"rejected by receiver"}`, want: &gateway.StatusReport{Message: "Error : rejected by receiver"}},
		{status: "Cancelled", body: `{"status":"Cancelled"}`, want: &gateway.StatusReport{Message: "Cancelled"}},
	}
	for _, tc := range cases {
		t.Run(tc.status, func(t *testing.T) {
			g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, companyPath+"/outbound/document/track-1/info", r.URL.Path)
				_, _ = w.Write([]byte(tc.body))
			}), nil)
			doc := outgoing()
			doc.TrackingID = models.Ptr("track-1")

			report, err := g.GetStatus(context.Background(), doc)
			require.NoError(t, err)
			assert.Equal(t, tc.want, report)
		})
	}

	t.Run("missing tracking id", func(t *testing.T) {
		g := newTestGateway(t, http.NotFoundHandler(), nil)
		_, err := g.GetStatus(context.Background(), outgoing())
		assert.Equal(t, gateway.ErrorBadData, gateway.CategoryOf(err))
	})
}

func TestReceiveDocuments(t *testing.T) {
	var mu sync.Mutex
	confirmed := map[string]bool{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+companyPath+"/inbound/document/unconfirmed", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[
			{"id":"in-1","peppolSenderID":"0208:1","peppolReceiverID":"0208:2","peppolDocumentTypeValue":"` + InvoicesValue + `"},
			{"id":"in-2","peppolSenderID":"0208:3","peppolReceiverID":"0208:2","peppolDocumentTypeValue":"` + CreditNotesValue + `"},
			{"id":"in-3","peppolSenderID":"0208:4","peppolReceiverID":"0208:2","peppolDocumentTypeValue":"` + InvoicesValue + `"},
			{"id":"in-4","peppolSenderID":"0208:5","peppolReceiverID":"0208:2","peppolDocumentTypeValue":"` + InvoicesValue + `"}
		]}`))
	})
	mux.HandleFunc("GET "+companyPath+"/inbound/document/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "in-3" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("<ubl id=\"" + r.PathValue("id") + "\"/>"))
	})
	mux.HandleFunc("PUT "+companyPath+"/inbound/document/{id}/confirm", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		confirmed[r.PathValue("id")] = true
		mu.Unlock()
	})

	ingestor := &fakeIngestor{conflict: map[string]bool{"in-4": true}}
	g := newTestGateway(t, mux, ingestor)

	require.NoError(t, g.ReceiveDocuments(context.Background()))

	require.Len(t, ingestor.received, 2)
	kinds := map[string]domain.DocumentKind{}
	for _, in := range ingestor.received {
		kinds[in.TrackingID] = in.Kind
		assert.Equal(t, domain.AccessPointScrada, in.Gateway)
		assert.Equal(t, "0208:2", in.ReceiverID)
	}
	assert.Equal(t, domain.DocumentKindInvoice, kinds["in-1"])
	assert.Equal(t, domain.DocumentKindCreditNote, kinds["in-2"])

	assert.True(t, confirmed["in-1"])
	assert.True(t, confirmed["in-2"])
	assert.False(t, confirmed["in-3"], "failed download must stay unconfirmed")
	assert.True(t, confirmed["in-4"], "duplicates are confirmed")
}

func TestReceiveDocumentsListFailure(t *testing.T) {
	g := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}), nil)

	err := g.ReceiveDocuments(context.Background())
	require.Error(t, err)
	assert.True(t, gateway.IsRetryable(err))
}
