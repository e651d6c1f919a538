package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/alfredjeanlab/lendbus/internal/model"
)

func newTestAuth(t *testing.T, opts ...Option) *Authenticator {
	t.Helper()
	a, err := New("test-secret", opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func requireAuthError(t *testing.T, err error, reason string) {
	t.Helper()
	var ae *model.AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *model.AuthError, got %v", err)
	}
	if ae.Reason != reason {
		t.Errorf("reason = %q, want %q", ae.Reason, reason)
	}
}

func TestNew_EmptySecret(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestIssueAuthenticate_RoundTrip(t *testing.T) {
	a := newTestAuth(t, WithIssuer("lendbus"))
	want := model.Identity{UserID: "u-1", Role: model.RoleAdmin}

	tok, err := a.Issue(want, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := a.Authenticate(tok)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got != want {
		t.Errorf("identity = %+v, want %+v", got, want)
	}
}

func TestAuthenticate_Expired(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	issuer := newTestAuth(t, WithClock(func() time.Time { return past }))
	tok, err := issuer.Issue(model.Identity{UserID: "u-1", Role: model.RoleUser}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = newTestAuth(t).Authenticate(tok)
	requireAuthError(t, err, "token expired")
}

func TestAuthenticate_BadSignature(t *testing.T) {
	other, err := New("other-secret")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tok, err := other.Issue(model.Identity{UserID: "u-1", Role: model.RoleUser}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = newTestAuth(t).Authenticate(tok)
	requireAuthError(t, err, "bad signature")
}

func TestAuthenticate_WrongIssuer(t *testing.T) {
	tok, err := newTestAuth(t, WithIssuer("elsewhere")).Issue(model.Identity{UserID: "u-1", Role: model.RoleUser}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = newTestAuth(t, WithIssuer("lendbus")).Authenticate(tok)
	requireAuthError(t, err, "wrong issuer")
}

func TestAuthenticate_Malformed(t *testing.T) {
	a := newTestAuth(t)
	_, err := a.Authenticate("")
	requireAuthError(t, err, "missing token")

	_, err = a.Authenticate("not.a.jwt")
	requireAuthError(t, err, "malformed token")
}

func TestAuthenticate_RejectsBadClaims(t *testing.T) {
	a := newTestAuth(t)
	sign := func(c Claims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte("test-secret"))
		if err != nil {
			t.Fatalf("signing: %v", err)
		}
		return s
	}
	exp := jwt.NewNumericDate(time.Now().Add(time.Hour))

	_, err := a.Authenticate(sign(Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: exp}, Role: model.RoleUser}))
	requireAuthError(t, err, "token has no subject")

	_, err = a.Authenticate(sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1", ExpiresAt: exp}, Role: "root"}))
	requireAuthError(t, err, `invalid role "root"`)

	_, err = a.Authenticate(sign(Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1"}, Role: model.RoleUser}))
	requireAuthError(t, err, "missing required claim")
}

func TestAuthenticate_RejectsOtherAlgorithms(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             model.RoleUser,
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	var ae *model.AuthError
	if _, err := newTestAuth(t).Authenticate(tok); !errors.As(err, &ae) {
		t.Fatalf("expected *model.AuthError for HS512 token, got %v", err)
	}
}
