package domain

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"

	dErrors "peppolrelay/pkg/domain-errors"
)

// Direction of a relayed document as seen from its owner.
type Direction string

const (
	DirectionOutgoing Direction = "OUTGOING"
	DirectionIncoming Direction = "INCOMING"
)

func (d Direction) String() string {
	return string(d)
}

// DocumentKind is the business document type.
type DocumentKind string

const (
	DocumentKindInvoice    DocumentKind = "INVOICE"
	DocumentKindCreditNote DocumentKind = "CREDIT_NOTE"
)

// ParseDocumentKind validates a kind received from a client or provider.
func ParseDocumentKind(s string) (DocumentKind, error) {
	switch k := DocumentKind(s); k {
	case DocumentKindInvoice, DocumentKindCreditNote:
		return k, nil
	case "":
		return "", dErrors.New(dErrors.CodeInvalidInput, "document type cannot be empty")
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown document type "+s)
	}
}

func (k DocumentKind) String() string {
	return string(k)
}

// Fingerprint is the lowercase hex SHA-256 of the payload.
func Fingerprint(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// ParseDocumentID parses a caller supplied document id.
//
// Errors: returns CodeInvalidInput for malformed or nil UUIDs.
func ParseDocumentID(s string) (uuid.UUID, error) {
	return parseUUID(s, "document id")
}

// ParseAppUID parses an application uid.
func ParseAppUID(s string) (uuid.UUID, error) {
	return parseUUID(s, "app uid")
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+what)
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be nil")
	}
	return id, nil
}
