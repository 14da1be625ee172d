package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the bearer token body.
type Claims struct {
	Email          string `json:"email"`
	AppRole        Role   `json:"app_role"`
	OrganizationID string `json:"organization_id,omitempty"`
	// ViewAs carries the token of the impersonation session the bearer
	// entered, if any.
	ViewAs string `json:"view_as,omitempty"`
	jwt.RegisteredClaims
}

// Identity is who a token is minted for.
type Identity struct {
	AccountID      string
	Email          string
	Role           Role
	OrganizationID string
}

// Issuer mints and verifies HS256 bearer tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Mint issues a token for id. A non-empty viewAs binds the token to an
// impersonation session.
func (i *Issuer) Mint(id Identity, viewAs string) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Email:          id.Email,
		AppRole:        id.Role,
		OrganizationID: id.OrganizationID,
		ViewAs:         viewAs,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies the signature and expiry of a token.
func (i *Issuer) Parse(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &claims, nil
}
