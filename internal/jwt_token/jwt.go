package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "peppolrelay/pkg/domain-errors"
)

// Account types carried in the accountType claim.
const (
	AccountAdmin      = "ADMIN"
	AccountUser       = "USER"
	AccountUserDraft  = "USER_DRAFT"
	AccountUserRead   = "USER_READ"
	AccountApp        = "APP"
	AccountAppUser    = "APP_USER"
	AccountAccountant = "ACCOUNTANT"
)

// Roles carried in the role claim.
const (
	RoleService = "service"
	RoleKYCUser = "kyc_user"
)

// Claims are issued by the account service; the relay only validates them.
type Claims struct {
	PeppolID    string `json:"peppolId,omitempty"`
	UID         string `json:"uid,omitempty"`
	AccountType string `json:"accountType,omitempty"`
	Role        string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// IsUser reports whether the token acts for a single participant.
func (c *Claims) IsUser() bool {
	switch c.AccountType {
	case AccountAdmin, AccountUser, AccountUserDraft, AccountUserRead:
		return true
	}
	return false
}

// IsApp reports whether the token acts for an app linked to participants.
func (c *Claims) IsApp() bool {
	return c.AccountType == AccountApp || c.AccountType == AccountAppUser
}

// JWTService validates HS256 tokens shared with the account service.
type JWTService struct {
	signingKey []byte
	issuer     string
}

// NewJWTService builds the validator. An empty issuer accepts any issuer.
func NewJWTService(signingKey string, issuer string) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

// GenerateToken signs claims. The relay never issues tokens to clients; this
// serves operational tooling and tests.
func (s *JWTService) GenerateToken(claims Claims, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		IssuedAt:  jwt.NewNumericDate(now),
		Issuer:    s.issuer,
		ID:        uuid.NewString(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}
