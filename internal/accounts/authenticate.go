package accounts

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/keithlinneman/academy-portal/internal/xerrors"
)

// dummyHash is compared against when the email is unknown so a miss costs
// about the same as a wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("academy-portal-dummy-password"), bcrypt.DefaultCost)

type Authenticator struct {
	dir Directory
}

func NewAuthenticator(dir Directory) *Authenticator {
	return &Authenticator{dir: dir}
}

// Authenticate returns the account for email if password matches its hash.
// Unknown email and wrong password both return ErrInvalidCredentials.
// ErrInactive is only returned after the password has been verified.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (Account, error) {
	acct, err := a.dir.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, xerrors.Wrap(err, "find account")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, xerrors.Wrapf(err, "compare password hash for account %s", acct.ID)
	}

	if !acct.Active {
		return Account{}, ErrInactive
	}
	return acct, nil
}

// HashPassword returns a bcrypt hash of password for seed files.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", xerrors.Wrap(err, "hash password")
	}
	return string(h), nil
}
