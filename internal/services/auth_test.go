package services

import (
	"errors"
	"strings"
	"testing"
	"time"

	perrors "github.com/yungbote/autoforge-backend/internal/pkg/errors"
	"github.com/yungbote/autoforge-backend/internal/platform/logger"
)

func newTestAuth(t *testing.T) AuthService {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	svc, err := NewAuthService(log, "test-secret", "admin-pass")
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	return svc
}

func TestLoginRoundTrip(t *testing.T) {
	svc := newTestAuth(t)

	token, err := svc.Login("admin", "admin-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" {
		t.Fatal("Login returned empty token")
	}

	sub, err := svc.UserIDFromToken(token)
	if err != nil {
		t.Fatalf("UserIDFromToken: %v", err)
	}
	if sub != "admin" {
		t.Fatalf("subject = %q, want admin", sub)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestAuth(t)

	cases := []struct {
		name     string
		username string
		password string
	}{
		{name: "wrong password", username: "admin", password: "nope"},
		{name: "wrong username", username: "root", password: "admin-pass"},
		{name: "empty", username: "", password: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Login(tc.username, tc.password)
			if !errors.Is(err, perrors.ErrUnauthorized) {
				t.Fatalf("err = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestUserIDFromTokenRejectsInvalid(t *testing.T) {
	svc := newTestAuth(t)
	good, err := svc.Login("admin", "admin-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Extend the signature segment so it no longer verifies.
	tampered := good + "x"

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	other, err := NewAuthService(log, "different-secret", "admin-pass")
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}

	cases := []struct {
		name  string
		svc   AuthService
		token string
	}{
		{name: "garbage", svc: svc, token: "not-a-token"},
		{name: "tampered signature", svc: svc, token: tampered},
		{name: "wrong secret", svc: other, token: good},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.svc.UserIDFromToken(tc.token)
			if !errors.Is(err, perrors.ErrUnauthorized) {
				t.Fatalf("err = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestTokenFormatAndTTL(t *testing.T) {
	svc := newTestAuth(t)
	token, err := svc.Login("admin", "admin-pass")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if got := len(strings.Split(token, ".")); got != 3 {
		t.Fatalf("token has %d segments, want 3", got)
	}
	if svc.AccessTTL() != 60*time.Minute {
		t.Fatalf("AccessTTL = %v, want 60m", svc.AccessTTL())
	}
}
