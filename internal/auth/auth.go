package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnauthorized is returned for a missing or invalid credential
	ErrUnauthorized = errors.New("unauthorized")
	// ErrAuthMismatch is returned when a caller acts on another user's data
	ErrAuthMismatch = errors.New("user id does not match credential")
)

// Identity is the verified caller
type Identity struct {
	UserID    string
	Name      string
	Email     string
	Admin     bool
	ExpiresAt time.Time
}

// Verifier resolves a bearer credential to an identity
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Authorize checks that id may act for userID. Admins may act for anyone.
func Authorize(id *Identity, userID string) error {
	if id == nil {
		return ErrUnauthorized
	}
	if id.Admin || id.UserID == userID {
		return nil
	}
	return fmt.Errorf("%w: credential is for %s", ErrAuthMismatch, id.UserID)
}

// ExtractBearer returns the token from an Authorization header value
func ExtractBearer(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", fmt.Errorf("%w: missing bearer token", ErrUnauthorized)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("%w: empty bearer token", ErrUnauthorized)
	}
	return token, nil
}
