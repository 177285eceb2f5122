package auth

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Scheme encodes passwords for storage and verifies them at login.
type Scheme interface {
	Name() string
	Encode(password string) (string, error)
	Verify(password, stored string) bool
}

// PlainScheme stores passwords as given and compares them exactly.
// It exists for compatibility with accounts written by earlier deployments;
// new deployments should use bcrypt.
type PlainScheme struct{}

func (PlainScheme) Name() string { return "plain" }

func (PlainScheme) Encode(password string) (string, error) { return password, nil }

func (PlainScheme) Verify(password, stored string) bool {
	return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
}

// BcryptScheme stores bcrypt hashes.
type BcryptScheme struct {
	Cost int
}

func (BcryptScheme) Name() string { return "bcrypt" }

func (s BcryptScheme) Encode(password string) (string, error) {
	cost := s.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (BcryptScheme) Verify(password, stored string) bool {
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
}

// ParseScheme resolves a scheme by config name. Empty means plain.
func ParseScheme(name string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "plain":
		return PlainScheme{}, nil
	case "bcrypt":
		return BcryptScheme{}, nil
	default:
		return nil, fmt.Errorf("unknown password scheme %q", name)
	}
}
