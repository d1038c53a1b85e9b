// Package scrada integrates the Scrada Peppol access point over its REST/JSON
// API.
package scrada

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

	"golang.org/x/sync/errgroup"

	"peppolrelay/internal/document/models"
	"peppolrelay/internal/gateway"
	"peppolrelay/pkg/domain"
	dErrors "peppolrelay/pkg/domain-errors"
)

const maxErrorBody = 2048

// Config addresses one Scrada company.
type Config struct {
	BaseURL   string
	CompanyID string
	APIKey    string
	Password  string
}

// Ingestor stores documents pulled from the provider. afterCommit runs once
// the document is durable (or immediately for duplicates).
type Ingestor interface {
	CreateAsReceived(ctx context.Context, in models.ReceivedDocument, afterCommit func(ctx context.Context) error) (*models.Document, error)
}

// Gateway implements gateway.Gateway and gateway.Receiver.
type Gateway struct {
	baseURL          string
	apiKey           string
	password         string
	client           *http.Client
	ingestor         Ingestor
	logger           *slog.Logger
	fetchConcurrency int
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

// WithFetchConcurrency bounds parallel inbound downloads.
func WithFetchConcurrency(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.fetchConcurrency = n
		}
	}
}

func New(cfg Config, ingestor Ingestor, opts ...Option) (*Gateway, error) {
	if cfg.BaseURL == "" || cfg.CompanyID == "" {
		return nil, errors.New("scrada url and company id are required")
	}
	if ingestor == nil {
		return nil, errors.New("ingestor is required")
	}
	g := &Gateway{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/") + "/v1/company/" + url.PathEscape(cfg.CompanyID) + "/peppol",
		apiKey:           cfg.APIKey,
		password:         cfg.Password,
		ingestor:         ingestor,
		logger:           slog.Default(),
		fetchConcurrency: 4,
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
	return domain.AccessPointScrada
}

func (g *Gateway) Register(ctx context.Context, participantID string, req gateway.RegistrationRequest) (gateway.Variables, error) {
	body := registerRequest{
		ParticipantIdentifier: participantIdentifier{Scheme: ParticipantScheme, Value: participantID},
		BusinessEntity: businessEntity{
			Name:         req.Name,
			LanguageCode: req.Language,
			CountryCode:  req.Country,
		},
		DocumentTypes: []documentType{
			{Scheme: InvoicesScheme, Value: InvoicesValue, ProcessIdentifier: processIdentifier{Scheme: ProcessScheme, Value: ProcessValue}},
			{Scheme: CreditNotesScheme, Value: CreditNotesValue, ProcessIdentifier: processIdentifier{Scheme: ProcessScheme, Value: ProcessValue}},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, gateway.NewError(gateway.ErrorInternal, g.ID(), "encode register request", err)
	}

	resp, err := g.do(ctx, http.MethodPost, "/register", "application/json", bytes.NewReader(payload), nil)
	if err != nil {
		return nil, gateway.FromTransport(g.ID(), "register", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gateway.FromTransport(g.ID(), "register", err)
	}
	if resp.StatusCode >= 300 {
		var errResp errorResponse
		if jsonErr := json.Unmarshal(raw, &errResp); jsonErr != nil || errResp.ErrorCode == 0 {
			g.logger.ErrorContext(ctx, "scrada register failed",
				"participant_id", participantID,
				"status", resp.StatusCode,
				"body", truncate(raw),
			)
			return nil, gateway.FromStatus(g.ID(), "register", resp.StatusCode, truncate(raw))
		}
		g.logger.WarnContext(ctx, "scrada register rejected",
			"participant_id", participantID,
			"code", errResp.ErrorCode,
			"type", errResp.ErrorType,
			"message", errResp.DefaultFormat,
		)
		return nil, g.mapErrorResponse(errResp)
	}

	uuid := decodeID(raw)
	if uuid == "" {
		return nil, gateway.NewError(gateway.ErrorBadData, g.ID(), "empty register response", nil)
	}
	return gateway.Variables{variableUUID: uuid}, nil
}

func (g *Gateway) mapErrorResponse(e errorResponse) error {
	switch e.ErrorCode {
	case errAlreadyElsewhere:
		owner := "another access point"
		if len(e.Parameters) > 1 {
			owner = e.Parameters[1]
		}
		return gateway.NewError(gateway.ErrorAlreadyRegistered, g.ID(), "already registered at "+owner, nil)
	case errAlreadyHere:
		return gateway.NewError(gateway.ErrorAlreadyRegistered, g.ID(), "already registered at scrada.be", nil)
	case errWrapped:
		if len(e.InnerErrors) > 0 {
			return g.mapErrorResponse(e.InnerErrors[0])
		}
		return gateway.NewError(gateway.ErrorRejected, g.ID(), e.DefaultFormat, nil)
	case errUnavailable:
		return gateway.NewError(gateway.ErrorUnavailable, g.ID(), e.DefaultFormat, nil)
	default:
		return gateway.NewError(gateway.ErrorRejected, g.ID(), fmt.Sprintf("unexpected error code %d", e.ErrorCode), nil)
	}
}

func (g *Gateway) Unregister(ctx context.Context, participantID string, vars gateway.Variables) error {
	path := "/deregister/" + url.PathEscape(ParticipantScheme) + "/" + url.PathEscape(participantID)
	resp, err := g.do(ctx, http.MethodDelete, path, "", nil, nil)
	if err != nil {
		return gateway.FromTransport(g.ID(), "unregister", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gateway.FromTransport(g.ID(), "unregister", err)
	}
	if resp.StatusCode >= 300 {
		return gateway.FromStatus(g.ID(), "unregister", resp.StatusCode, truncate(raw))
	}
	if got := decodeID(raw); got != vars[variableUUID] {
		g.logger.WarnContext(ctx, "scrada unregister returned a different uuid than registration",
			"participant_id", participantID,
			"uuid", got,
			"registered_uuid", vars[variableUUID],
		)
	}
	return nil
}

func (g *Gateway) SendDocument(ctx context.Context, doc *models.Document) (string, error) {
	docScheme, docValue := InvoicesScheme, InvoicesValue
	if doc.Kind == domain.DocumentKindCreditNote {
		docScheme, docValue = CreditNotesScheme, CreditNotesValue
	}
	headers := http.Header{}
	headers.Set("x-scrada-peppol-sender-scheme", ParticipantScheme)
	headers.Set("x-scrada-peppol-sender-id", doc.OwnerID)
	headers.Set("x-scrada-peppol-receiver-scheme", ParticipantScheme)
	headers.Set("x-scrada-peppol-receiver-id", doc.PartnerID)
	headers.Set("x-scrada-peppol-c1-country-code", C1CountryCode)
	headers.Set("x-scrada-peppol-document-type-scheme", docScheme)
	headers.Set("x-scrada-peppol-document-type-value", docValue)
	headers.Set("x-scrada-peppol-process-scheme", ProcessScheme)
	headers.Set("x-scrada-peppol-process-value", ProcessValue)
	headers.Set("x-scrada-external-reference", doc.ID.String())

	resp, err := g.do(ctx, http.MethodPost, "/outbound/document", "application/xml", strings.NewReader(doc.PayloadText()), headers)
	if err != nil {
		return "", gateway.FromTransport(g.ID(), "send document", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", gateway.FromTransport(g.ID(), "send document", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		g.logger.InfoContext(ctx, "scrada rate limited outbound document", "document_id", doc.ID)
		return "", nil
	}
	if resp.StatusCode >= 300 {
		g.logger.ErrorContext(ctx, "scrada outbound document failed",
			"document_id", doc.ID,
			"status", resp.StatusCode,
			"body", truncate(raw),
		)
		return "", gateway.FromStatus(g.ID(), "send document", resp.StatusCode, truncate(raw))
	}

	id := decodeID(raw)
	if id == "" {
		return "", gateway.NewError(gateway.ErrorBadData, g.ID(), "empty send document response", nil)
	}
	return id, nil
}

func (g *Gateway) GetStatus(ctx context.Context, doc *models.Document) (*gateway.StatusReport, error) {
	if doc.TrackingID == nil || *doc.TrackingID == "" {
		return nil, gateway.NewError(gateway.ErrorBadData, g.ID(), "document has no tracking id", nil)
	}
	var out outboundDocument
	if err := g.getJSON(ctx, "/outbound/document/"+url.PathEscape(*doc.TrackingID)+"/info", "document status", &out); err != nil {
		return nil, err
	}

	switch out.Status {
	case "Created":
		return nil, nil
	case "Processed":
		return &gateway.StatusReport{Success: true}, nil
	case "Retry":
		g.logger.InfoContext(ctx, "scrada retrying outbound document",
			"document_id", doc.ID,
			"attempt", out.Attempt,
			"feedback", out.ErrorMessage,
		)
		return nil, nil
	case "Error":
		return &gateway.StatusReport{Message: out.Status + " : " + out.ErrorMessage}, nil
	default:
		return &gateway.StatusReport{Message: out.Status}, nil
	}
}

// ReceiveDocuments pulls every unconfirmed inbound document and confirms it
// once stored. A failing document is logged and retried on the next poll.
func (g *Gateway) ReceiveDocuments(ctx context.Context) error {
	var pending unconfirmedInboundDocuments
	if err := g.getJSON(ctx, "/inbound/document/unconfirmed", "list inbound documents", &pending); err != nil {
		return err
	}
	if len(pending.Results) == 0 {
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.fetchConcurrency)
	for _, in := range pending.Results {
		eg.Go(func() error {
			if err := g.receive(egCtx, in); err != nil {
				g.logger.ErrorContext(egCtx, "scrada inbound document failed",
					"inbound_id", in.ID,
					"sender", in.PeppolSenderID,
					"receiver", in.PeppolReceiverID,
					"error", err,
				)
			}
			return nil
		})
	}
	return eg.Wait()
}

func (g *Gateway) receive(ctx context.Context, in inboundDocument) error {
	g.logger.DebugContext(ctx, "received inbound document",
		"inbound_id", in.ID,
		"sender", in.PeppolSenderID,
		"receiver", in.PeppolReceiverID,
	)
	ubl, err := g.fetchInbound(ctx, in.ID)
	if err != nil {
		return err
	}

	kind := domain.DocumentKindCreditNote
	if in.PeppolDocumentTypeValue == InvoicesValue {
		kind = domain.DocumentKindInvoice
	}
	_, err = g.ingestor.CreateAsReceived(ctx, models.ReceivedDocument{
		Kind:       kind,
		SenderID:   in.PeppolSenderID,
		ReceiverID: in.PeppolReceiverID,
		Payload:    ubl,
		Gateway:    g.ID(),
		TrackingID: in.ID,
	}, func(ctx context.Context) error {
		return g.confirm(ctx, in.ID)
	})
	if dErrors.HasCode(err, dErrors.CodeConflict) {
		g.logger.InfoContext(ctx, "inbound document already stored", "inbound_id", in.ID)
		return nil
	}
	return err
}

func (g *Gateway) fetchInbound(ctx context.Context, id string) (string, error) {
	resp, err := g.do(ctx, http.MethodGet, "/inbound/document/"+url.PathEscape(id), "", nil, nil)
	if err != nil {
		return "", gateway.FromTransport(g.ID(), "get inbound document", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", gateway.FromTransport(g.ID(), "get inbound document", err)
	}
	if resp.StatusCode >= 300 {
		return "", gateway.FromStatus(g.ID(), "get inbound document", resp.StatusCode, truncate(raw))
	}
	if len(raw) == 0 {
		return "", gateway.NewError(gateway.ErrorBadData, g.ID(), "empty inbound document "+id, nil)
	}
	return string(raw), nil
}

func (g *Gateway) confirm(ctx context.Context, id string) error {
	resp, err := g.do(ctx, http.MethodPut, "/inbound/document/"+url.PathEscape(id)+"/confirm", "", nil, nil)
	if err != nil {
		return gateway.FromTransport(g.ID(), "confirm inbound document", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return gateway.FromStatus(g.ID(), "confirm inbound document", resp.StatusCode, string(raw))
	}
	return nil
}

func (g *Gateway) getJSON(ctx context.Context, path, op string, out any) error {
	resp, err := g.do(ctx, http.MethodGet, path, "", nil, nil)
	if err != nil {
		return gateway.FromTransport(g.ID(), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return gateway.FromStatus(g.ID(), op, resp.StatusCode, string(raw))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return gateway.NewError(gateway.ErrorBadData, g.ID(), "decode "+op, err)
	}
	return nil
}

func (g *Gateway) do(ctx context.Context, method, path, contentType string, body io.Reader, headers http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-API-KEY", g.apiKey)
	req.Header.Set("X-PASSWORD", g.password)
	return g.client.Do(req)
}

// decodeID accepts both a JSON string and a bare identifier.
func decodeID(raw []byte) string {
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	return strings.TrimSpace(string(raw))
}

func truncate(raw []byte) string {
	if len(raw) > maxErrorBody {
		return string(raw[:maxErrorBody])
	}
	return string(raw)
}
