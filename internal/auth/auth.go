// Package auth resolves handshake tokens into identities.
//
// Tokens are HS256 JWTs whose subject is the user id and whose "role"
// claim is one of model.Role. Resolution is immediate and terminal: there
// are no retries at this layer.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

// Claims is the token body.
type Claims struct {
	jwt.RegisteredClaims
	Role model.Role `json:"role"`
}

// Authenticator validates tokens signed with a shared secret.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithIssuer requires the "iss" claim to equal issuer, and stamps it on
// issued tokens.
func WithIssuer(issuer string) Option {
	return func(a *Authenticator) { a.issuer = issuer }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// New returns an Authenticator for secret. An empty secret is an error.
func New(secret string, opts ...Option) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("auth: empty signing secret")
	}
	a := &Authenticator{secret: []byte(secret), now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Authenticate validates token and returns the identity it carries.
// Any failure is a *model.AuthError.
func (a *Authenticator) Authenticate(token string) (model.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Identity{}, &model.AuthError{Reason: "missing token"}
	}

	popts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		popts = append(popts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, popts...)
	if err != nil {
		return model.Identity{}, &model.AuthError{Reason: reasonFor(err), Err: err}
	}

	if claims.Subject == "" {
		return model.Identity{}, &model.AuthError{Reason: "token has no subject"}
	}
	if !claims.Role.IsValid() {
		return model.Identity{}, &model.AuthError{Reason: fmt.Sprintf("invalid role %q", claims.Role)}
	}
	return model.Identity{UserID: claims.Subject, Role: claims.Role}, nil
}

// Issue signs a token for id that expires after ttl.
func (a *Authenticator) Issue(id model.Identity, ttl time.Duration) (string, error) {
	if id.UserID == "" || !id.Role.IsValid() {
		return "", fmt.Errorf("auth: cannot issue token for %+v", id)
	}
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: id.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad signature"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "wrong issuer"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing required claim"
	default:
		return "invalid token"
	}
}
