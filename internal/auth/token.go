package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tenantstack/tenantstack/internal/model"
)

// Token verification failure kinds. Callers map these onto the credential
// error taxonomy: malformed or bad-signature tokens, expired tokens, and
// everything else.
var (
	ErrTokenInvalid      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenVerification = errors.New("token verification failed")
)

// Claims is the identity payload carried by every issued token: who the user
// is, which tenant they belong to, and what role they hold there.
type Claims struct {
	UserID         string     `json:"user_id"`
	Email          string     `json:"email"`
	Role           model.Role `json:"role"`
	OrganizationID string     `json:"organization_id"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies the short-lived bearer tokens minted at
// login and registration. Tokens are stateless; revocation is impossible
// short of rotating the secret.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer builds an issuer from the configured symmetric secret and
// TTL. An empty secret is a configuration error surfaced at startup.
func NewTokenIssuer(secret string, ttl time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("token secret is not configured")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}, nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue signs the identity claims with HS256, stamping issue time and expiry.
func (t *TokenIssuer) Issue(userID, email string, role model.Role, organizationID string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:         userID,
		Email:          email,
		Role:           role,
		OrganizationID: organizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			Issuer:    "tenantstack",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify validates the signature and expiry and returns the embedded claims.
// Tokens signed with a different algorithm family are rejected outright.
func (t *TokenIssuer) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenInvalid
		default:
			return nil, ErrTokenVerification
		}
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// DecodeUnsafe parses the claims without any signature check. Diagnostics
// only; never use the result for an authorization decision.
func (t *TokenIssuer) DecodeUnsafe(tokenStr string) *Claims {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenStr, claims); err != nil {
		return nil
	}
	return claims
}
