package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"peppolrelay/internal/document/models"
	"peppolrelay/pkg/domain"
	dErrors "peppolrelay/pkg/domain-errors"
	"peppolrelay/pkg/platform/httputil"
)

// WebhookSecretHeader carries the secret shared with the e-invoice provider.
const WebhookSecretHeader = "X-Webhook-Secret"

type webhookDocument struct {
	ID           string `json:"id"`
	Sender       string `json:"sender"`
	Receiver     string `json:"receiver"`
	DocumentType string `json:"document_type"`
	UBL          string `json:"ubl"`
}

func (d webhookDocument) kind() domain.DocumentKind {
	if strings.Contains(strings.ToLower(d.DocumentType), "credit") {
		return domain.DocumentKindCreditNote
	}
	return domain.DocumentKindInvoice
}

// handleWebhook ingests a document pushed by the e-invoice access point.
// Replays answer 200 so the provider stops retrying.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	secret := r.Header.Get(WebhookSecretHeader)
	if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.webhookSecret)) != 1 {
		h.logger.WarnContext(ctx, "webhook call with invalid secret")
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid webhook secret"))
		return
	}
	in, ok := httputil.Decode[webhookDocument](w, r, h.logger)
	if !ok {
		return
	}

	doc, err := h.documents.CreateAsReceived(ctx, models.ReceivedDocument{
		Kind:       in.kind(),
		SenderID:   in.Sender,
		ReceiverID: in.Receiver,
		Payload:    in.UBL,
		Gateway:    domain.AccessPointEInvoice,
		TrackingID: in.ID,
	}, nil)
	if dErrors.HasCode(err, dErrors.CodeConflict) {
		h.logger.InfoContext(ctx, "pushed document already stored", "tracking_id", in.ID)
		w.WriteHeader(http.StatusOK)
		return
	}
	if err != nil {
		h.fail(ctx, w, "failed to ingest pushed document", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"id": doc.ID.String()})
}
