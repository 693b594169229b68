package application

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultAccessTokenTTL is the lifetime of an access token.
const DefaultAccessTokenTTL = 15 * time.Minute

// AccessClaims are the claims carried by an access token.
type AccessClaims struct {
	SessionID string `json:"sid"`
	Role      Role   `json:"role"`
	jwt.RegisteredClaims
}

// AccessTokenIssuer signs and verifies HS256 access tokens bound to a session.
type AccessTokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewAccessTokenIssuer creates an issuer. ttl defaults to DefaultAccessTokenTTL.
func NewAccessTokenIssuer(secret, issuer string, ttl time.Duration, now func() time.Time) (*AccessTokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("access token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultAccessTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &AccessTokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: now}, nil
}

// TTL returns the configured token lifetime.
func (i *AccessTokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for the user and session.
func (i *AccessTokenIssuer) Issue(userID, sessionID string, role Role) (string, time.Time, error) {
	issuedAt := i.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(i.ttl)

	claims := AccessClaims{
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies signature, issuer and expiry. Expired tokens yield
// ErrAccessTokenExpired; anything else unacceptable yields ErrInvalidAccessToken.
func (i *AccessTokenIssuer) Parse(token string) (AccessClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	var claims AccessClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AccessClaims{}, fmt.Errorf("%w: %v", ErrAccessTokenExpired, err)
		}
		return AccessClaims{}, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	if claims.Subject == "" || claims.SessionID == "" || !claims.Role.Valid() {
		return AccessClaims{}, fmt.Errorf("%w: missing subject, session or role", ErrInvalidAccessToken)
	}
	return claims, nil
}
