// Package ubl reads the routing facts of a UBL invoice or credit note: its
// kind and the Peppol endpoints of the supplier and the customer.
package ubl

import (
	"strings"

	"github.com/beevik/etree"

	"peppolrelay/pkg/domain"
	dErrors "peppolrelay/pkg/domain-errors"
)

// Header is what the dispatch engine needs from a UBL payload.
type Header struct {
	Kind     domain.DocumentKind
	Supplier string // scheme:id
	Customer string
}

// Parse extracts the header. Business rule validation is out of scope; only
// a missing root, an unknown root or a missing endpoint is an error.
func Parse(payload string) (*Header, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(payload); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "payload is not well-formed XML")
	}
	root := doc.Root()
	if root == nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "payload has no root element")
	}

	h := &Header{}
	switch root.Tag {
	case "Invoice":
		h.Kind = domain.DocumentKindInvoice
	case "CreditNote":
		h.Kind = domain.DocumentKindCreditNote
	default:
		return nil, dErrors.New(dErrors.CodeBadRequest, "unsupported UBL document "+root.Tag)
	}

	var err error
	if h.Supplier, err = endpoint(root, "AccountingSupplierParty"); err != nil {
		return nil, err
	}
	if h.Customer, err = endpoint(root, "AccountingCustomerParty"); err != nil {
		return nil, err
	}
	return h, nil
}

func endpoint(root *etree.Element, party string) (string, error) {
	el := root.FindElement("./*[local-name()='" + party + "']/*[local-name()='Party']/*[local-name()='EndpointID']")
	if el == nil {
		return "", dErrors.New(dErrors.CodeBadRequest, party+" has no EndpointID")
	}
	id := strings.TrimSpace(el.Text())
	scheme := strings.TrimSpace(el.SelectAttrValue("schemeID", ""))
	if id == "" || scheme == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, party+" EndpointID needs a schemeID and a value")
	}
	return scheme + ":" + id, nil
}
