package domain

import dErrors "peppolrelay/pkg/domain-errors"

// AccessPoint identifies an outbound delivery provider.
// AccessPointNone is the "not registered for sending" sentinel; an absent
// registry entry means the same thing.
type AccessPoint string

const (
	AccessPointNone     AccessPoint = "NONE"
	AccessPointScrada   AccessPoint = "SCRADA"
	AccessPointEInvoice AccessPoint = "E_INVOICE"
	AccessPointLoopback AccessPoint = "LOOPBACK"
)

var validAccessPoints = map[AccessPoint]bool{
	AccessPointNone:     true,
	AccessPointScrada:   true,
	AccessPointEInvoice: true,
	AccessPointLoopback: true,
}

// ParseAccessPoint constructs an AccessPoint from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unknown.
func ParseAccessPoint(s string) (AccessPoint, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "access point cannot be empty")
	}
	ap := AccessPoint(s)
	if !ap.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown access point "+s)
	}
	return ap, nil
}

func (a AccessPoint) IsValid() bool {
	return validAccessPoints[a]
}

// IsNone treats the empty value and NONE alike.
func (a AccessPoint) IsNone() bool {
	return a == "" || a == AccessPointNone
}

func (a AccessPoint) String() string {
	return string(a)
}
