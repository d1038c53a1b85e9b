package jwttoken

import (
	"peppolrelay/internal/platform/middleware"
)

// Validator exposes JWTService to the auth middleware, which only knows the
// flattened middleware.JWTClaims.
type Validator struct {
	service *JWTService
}

func NewValidator(service *JWTService) *Validator {
	return &Validator{service: service}
}

func (v *Validator) ValidateToken(raw string) (*middleware.JWTClaims, error) {
	c, err := v.service.ValidateToken(raw)
	if err != nil {
		return nil, err
	}
	// app tokens carry the app uid; participant tokens carry the peppol id
	return &middleware.JWTClaims{
		PeppolID:    c.PeppolID,
		UID:         c.UID,
		AccountType: c.AccountType,
		Role:        c.Role,
		IsUser:      c.IsUser(),
		IsApp:       c.IsApp(),
	}, nil
}
