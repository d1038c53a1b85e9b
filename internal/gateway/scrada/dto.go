package scrada

// Peppol identifiers published with every registration and outbound document.
const (
	ParticipantScheme = "iso6523-actorid-upis"
	InvoicesScheme    = "busdox-docid-qns"
	InvoicesValue     = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2::Invoice##urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:billing:3.0::2.1"
	CreditNotesScheme = "busdox-docid-qns"
	CreditNotesValue  = "urn:oasis:names:specification:ubl:schema:xsd:CreditNote-2::CreditNote##urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:billing:3.0::2.1"
	ProcessScheme     = "cenbii-procid-ubl"
	ProcessValue      = "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0"

	// C1 is always Belgium for this provider.
	C1CountryCode = "BE"
)

const variableUUID = "uuid"

// Scrada error codes with a dedicated meaning.
const (
	errAlreadyElsewhere = 110554
	errAlreadyHere      = 110552
	errWrapped          = 100008
	errUnavailable      = 100030
)

type participantIdentifier struct {
	Scheme string `json:"scheme"`
	Value  string `json:"value"`
}

type businessEntity struct {
	Name         string `json:"name"`
	LanguageCode string `json:"languageCode"`
	CountryCode  string `json:"countryCode"`
}

type processIdentifier struct {
	Scheme string `json:"scheme"`
	Value  string `json:"value"`
}

type documentType struct {
	Scheme            string            `json:"scheme"`
	Value             string            `json:"value"`
	ProcessIdentifier processIdentifier `json:"processIdentifier"`
}

type registerRequest struct {
	ParticipantIdentifier participantIdentifier `json:"participantIdentifier"`
	BusinessEntity        businessEntity        `json:"businessEntity"`
	DocumentTypes         []documentType        `json:"documentTypes"`
	MigrationKey          *string               `json:"migrationKey"`
}

type errorResponse struct {
	ErrorCode     int             `json:"errorCode"`
	ErrorType     int             `json:"errorType"`
	DefaultFormat string          `json:"defaultFormat"`
	Parameters    []string        `json:"parameters"`
	InnerErrors   []errorResponse `json:"innerErrors"`
}

type outboundDocument struct {
	ID                string `json:"id"`
	ExternalReference string `json:"externalReference"`
	Status            string `json:"status"`
	Attempt           int    `json:"attempt"`
	ErrorMessage      string `json:"errorMessage"`
}

type inboundDocument struct {
	ID                      string `json:"id"`
	PeppolSenderID          string `json:"peppolSenderID"`
	PeppolReceiverID        string `json:"peppolReceiverID"`
	PeppolDocumentTypeValue string `json:"peppolDocumentTypeValue"`
}

type unconfirmedInboundDocuments struct {
	Results []inboundDocument `json:"results"`
}
