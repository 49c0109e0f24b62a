package auth

import (
	"errors"
	"testing"
	"time"

	jwtpkg "live-polling/internal/platform/jwt"
)

func newTestService(t *testing.T, passcode string) *Service {
	t.Helper()
	hash := ""
	if passcode != "" {
		var err error
		hash, err = HashPasscode(passcode)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
	}
	return NewService(hash, jwtpkg.NewManager("test-secret", ""))
}

func TestLogin(t *testing.T) {
	svc := newTestService(t, "letmein")
	if !svc.Enabled() {
		t.Fatalf("service with a hash must be enabled")
	}

	if _, err := svc.Login("wrong"); !errors.Is(err, ErrInvalidPasscode) {
		t.Fatalf("expected ErrInvalidPasscode, got %v", err)
	}
	if _, err := svc.Login(""); !errors.Is(err, ErrPasscodeRequired) {
		t.Fatalf("expected ErrPasscodeRequired, got %v", err)
	}

	token, err := svc.Login("letmein")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := svc.VerifyTeacher(token); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestDisabled(t *testing.T) {
	svc := newTestService(t, "")
	if svc.Enabled() {
		t.Fatalf("no hash means disabled")
	}
	if _, err := svc.Login("anything"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("expected ErrDisabled, got %v", err)
	}
}

func TestVerifyTeacherRejects(t *testing.T) {
	svc := newTestService(t, "letmein")

	other := jwtpkg.NewManager("other-secret", "")
	forged, err := other.Generate("x", RoleTeacher, time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	studentToken, err := jwtpkg.NewManager("test-secret", "").Generate("x", "student", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	expired, err := jwtpkg.NewManager("test-secret", "").Generate("x", RoleTeacher, -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	for name, tok := range map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": forged,
		"wrong role":   studentToken,
		"expired":      expired,
	} {
		if err := svc.VerifyTeacher(tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}
