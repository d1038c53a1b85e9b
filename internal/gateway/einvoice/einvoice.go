// Package einvoice integrates the e-invoice.be access point. Registration runs
// with the organisation key; documents are sent with the per-tenant key kept in
// the owner's registry variables.
package einvoice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"peppolrelay/internal/document/models"
	"peppolrelay/internal/gateway"
	"peppolrelay/pkg/domain"
)

const (
	apiKeyName   = "LetsPeppol"
	maxErrorBody = 2048

	variableTenantID = "tenantId"
	variableKeyID    = "keyId"
	variableKey      = "key"
)

// VariablesLookup returns the registration variables stored for a
// participant.
type VariablesLookup interface {
	Variables(ctx context.Context, participantID string) (gateway.Variables, error)
}

type Config struct {
	BaseURL string
	APIKey  string
}

// Gateway implements gateway.Gateway. Inbound documents arrive through the
// webhook, so it does not poll.
type Gateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	lookup  VariablesLookup
	logger  *slog.Logger
}

type Option func(*Gateway)

func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) {
		g.client = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func New(cfg Config, lookup VariablesLookup, opts ...Option) (*Gateway, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return nil, errors.New("e-invoice url and api key are required")
	}
	if lookup == nil {
		return nil, errors.New("variables lookup is required")
	}
	g := &Gateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		lookup:  lookup,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = gateway.NewHTTPClient(0, 0)
	}
	return g, nil
}

func (g *Gateway) ID() domain.AccessPoint {
	return domain.AccessPointEInvoice
}

type tenantCreateRequest struct {
	PeppolID string `json:"peppol_id"`
	Name     string `json:"name"`
}

type tenantCreateResponse struct {
	ID string `json:"id"`
}

type apiKeyCreateRequest struct {
	Name string `json:"name"`
}

type apiKeyCreateResponse struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

type registerPeppolRequest struct {
	PeppolID    string `json:"peppol_id"`
	CompanyName string `json:"company_name"`
}

type registerPeppolResponse struct {
	Registered bool   `json:"registered"`
	Message    string `json:"message"`
}

type documentCreateResponse struct {
	ID string `json:"id"`
}

type documentResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Error string `json:"error"`
}

func (g *Gateway) Register(ctx context.Context, participantID string, req gateway.RegistrationRequest) (gateway.Variables, error) {
	var tenant tenantCreateResponse
	if err := g.call(ctx, g.apiKey, http.MethodPost, "/tenants", "create tenant",
		tenantCreateRequest{PeppolID: participantID, Name: req.Name}, &tenant); err != nil {
		return nil, err
	}
	if tenant.ID == "" {
		return nil, gateway.NewError(gateway.ErrorBadData, g.ID(), "empty create tenant response", nil)
	}

	var key apiKeyCreateResponse
	if err := g.call(ctx, g.apiKey, http.MethodPost, "/tenants/"+url.PathEscape(tenant.ID)+"/api-keys", "create api key",
		apiKeyCreateRequest{Name: apiKeyName}, &key); err != nil {
		return nil, err
	}

	var registered registerPeppolResponse
	if err := g.call(ctx, g.apiKey, http.MethodPost, "/tenants/"+url.PathEscape(tenant.ID)+"/peppol/register", "register tenant",
		registerPeppolRequest{PeppolID: participantID, CompanyName: req.Name}, &registered); err != nil {
		return nil, err
	}
	if !registered.Registered {
		g.logger.ErrorContext(ctx, "e-invoice did not confirm peppol registration",
			"participant_id", participantID,
			"tenant_id", tenant.ID,
			"message", registered.Message,
		)
	}

	return gateway.Variables{
		variableTenantID: tenant.ID,
		variableKeyID:    key.ID,
		variableKey:      key.Key,
	}, nil
}

func (g *Gateway) Unregister(ctx context.Context, participantID string, vars gateway.Variables) error {
	tenantID := vars[variableTenantID]
	if tenantID == "" {
		return gateway.NewError(gateway.ErrorBadData, g.ID(), "registration has no tenant id", nil)
	}
	tenantPath := "/tenants/" + url.PathEscape(tenantID)
	if err := g.call(ctx, g.apiKey, http.MethodPost, tenantPath+"/peppol/unregister", "unregister tenant", nil, nil); err != nil {
		return err
	}
	if keyID := vars[variableKeyID]; keyID != "" {
		if err := g.call(ctx, g.apiKey, http.MethodDelete, tenantPath+"/api-keys/"+url.PathEscape(keyID), "delete api key", nil, nil); err != nil {
			return err
		}
	}
	return g.call(ctx, g.apiKey, http.MethodDelete, tenantPath, "delete tenant", nil, nil)
}

func (g *Gateway) SendDocument(ctx context.Context, doc *models.Document) (string, error) {
	key, err := g.tenantKey(ctx, doc.OwnerID)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/documents", strings.NewReader(doc.PayloadText()))
	if err != nil {
		return "", gateway.NewError(gateway.ErrorInternal, g.ID(), "build send request", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", gateway.FromTransport(g.ID(), "send document", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		g.logger.InfoContext(ctx, "e-invoice rate limited outbound document", "document_id", doc.ID)
		return "", nil
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", gateway.FromStatus(g.ID(), "send document", resp.StatusCode, string(raw))
	}
	var created documentCreateResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", gateway.NewError(gateway.ErrorBadData, g.ID(), "decode send document", err)
	}
	if created.ID == "" {
		return "", gateway.NewError(gateway.ErrorBadData, g.ID(), "empty send document response", nil)
	}
	return created.ID, nil
}

func (g *Gateway) GetStatus(ctx context.Context, doc *models.Document) (*gateway.StatusReport, error) {
	if doc.TrackingID == nil || *doc.TrackingID == "" {
		return nil, gateway.NewError(gateway.ErrorBadData, g.ID(), "document has no tracking id", nil)
	}
	key, err := g.tenantKey(ctx, doc.OwnerID)
	if err != nil {
		return nil, err
	}

	var out documentResponse
	if err := g.call(ctx, key, http.MethodGet, "/documents/"+url.PathEscape(*doc.TrackingID), "document status", nil, &out); err != nil {
		return nil, err
	}
	switch strings.ToUpper(out.State) {
	case "SENT", "DELIVERED":
		return &gateway.StatusReport{Success: true}, nil
	case "FAILED", "REJECTED":
		msg := out.State
		if out.Error != "" {
			msg += " : " + out.Error
		}
		return &gateway.StatusReport{Message: msg}, nil
	default:
		return nil, nil
	}
}

func (g *Gateway) tenantKey(ctx context.Context, participantID string) (string, error) {
	vars, err := g.lookup.Variables(ctx, participantID)
	if err != nil {
		return "", gateway.NewError(gateway.ErrorInternal, g.ID(), "load registration of "+participantID, err)
	}
	key := vars[variableKey]
	if key == "" {
		return "", gateway.NewError(gateway.ErrorAuthentication, g.ID(), "no tenant key for "+participantID, nil)
	}
	return key, nil
}

// call sends an optional JSON body and decodes an optional JSON response.
func (g *Gateway) call(ctx context.Context, bearer, method, path, op string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return gateway.NewError(gateway.ErrorInternal, g.ID(), "encode "+op, err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return gateway.NewError(gateway.ErrorInternal, g.ID(), "build "+op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := g.client.Do(req)
	if err != nil {
		return gateway.FromTransport(g.ID(), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return gateway.FromStatus(g.ID(), op, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return gateway.NewError(gateway.ErrorBadData, g.ID(), fmt.Sprintf("decode %s", op), err)
	}
	return nil
}
