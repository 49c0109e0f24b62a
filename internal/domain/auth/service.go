package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	jwtpkg "live-polling/internal/platform/jwt"
)

const (
	RoleTeacher = "teacher"
	tokenTTL    = 12 * time.Hour
)

var (
	ErrDisabled         = errors.New("teacher authentication is disabled")
	ErrInvalidPasscode  = errors.New("invalid passcode")
	ErrInvalidToken     = errors.New("invalid teacher token")
	ErrPasscodeRequired = errors.New("passcode is required")
)

// Service exchanges the shared teacher passcode for a signed token. With no
// passcode hash configured it is disabled and the teacher role is open.
type Service struct {
	hash []byte
	jwt  *jwtpkg.Manager
}

func NewService(passcodeHash string, jwt *jwtpkg.Manager) *Service {
	return &Service{hash: []byte(passcodeHash), jwt: jwt}
}

func (s *Service) Enabled() bool {
	return len(s.hash) > 0
}

func (s *Service) Login(passcode string) (string, error) {
	if !s.Enabled() {
		return "", ErrDisabled
	}
	if passcode == "" {
		return "", ErrPasscodeRequired
	}
	if err := bcrypt.CompareHashAndPassword(s.hash, []byte(passcode)); err != nil {
		return "", ErrInvalidPasscode
	}

	token, err := s.jwt.Generate(uuid.NewString(), RoleTeacher, tokenTTL)
	if err != nil {
		return "", fmt.Errorf("could not sign token: %w", err)
	}
	return token, nil
}

func (s *Service) VerifyTeacher(token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	claims, err := s.jwt.Parse(token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Role != RoleTeacher {
		return ErrInvalidToken
	}
	return nil
}

// HashPasscode produces a value for TEACHER_PASSCODE_HASH.
func HashPasscode(passcode string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(passcode), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
