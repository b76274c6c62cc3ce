package accounts

import (
	"context"
	"errors"
	"strings"

	"github.com/keithlinneman/academy-portal/internal/rbac"
)

var (
	ErrNotFound           = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactive           = errors.New("account inactive")
)

type Account struct {
	ID           string
	Email        string
	Name         string
	Role         rbac.Role
	PasswordHash string
	Active       bool
}

// Directory looks up accounts. Lookups that find nothing return ErrNotFound.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, id string) (Account, error)
	Len() int
}

// NormalizeEmail is the canonical form emails are compared in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
