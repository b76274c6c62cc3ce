package accounts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/academy-portal/internal/rbac"
	"github.com/keithlinneman/academy-portal/internal/xerrors"
)

type seedFile struct {
	Accounts []seedAccount `yaml:"accounts"`
}

type seedAccount struct {
	ID           string `yaml:"id"`
	Email        string `yaml:"email"`
	Name         string `yaml:"name"`
	Role         string `yaml:"role"`
	PasswordHash string `yaml:"password_hash"`
	Active       *bool  `yaml:"active"`
}

// MemoryDirectory is an immutable Directory held in memory.
type MemoryDirectory struct {
	byEmail map[string]Account
	byID    map[string]Account
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory validates accts and indexes them. Emails must be unique
// (case-insensitive), ids must be unique, roles must be defined and every
// account needs a bcrypt password hash. Empty ids are filled with a random UUID.
func NewMemoryDirectory(accts []Account) (*MemoryDirectory, error) {
	d := &MemoryDirectory{
		byEmail: make(map[string]Account, len(accts)),
		byID:    make(map[string]Account, len(accts)),
	}

	var errs []error
	for i, a := range accts {
		a.Email = NormalizeEmail(a.Email)
		if a.ID == "" {
			a.ID = uuid.NewString()
		}

		switch {
		case a.Email == "":
			errs = append(errs, fmt.Errorf("account %d: email is required", i))
			continue
		case !strings.Contains(a.Email, "@"):
			errs = append(errs, fmt.Errorf("account %d: invalid email %q", i, a.Email))
			continue
		case !a.Role.Valid():
			errs = append(errs, fmt.Errorf("account %d (%s): unknown role %q", i, a.Email, a.Role))
			continue
		case a.PasswordHash == "":
			errs = append(errs, fmt.Errorf("account %d (%s): password_hash is required", i, a.Email))
			continue
		}
		// a hash bcrypt cannot parse would turn every login for the account into a 500
		if _, err := bcrypt.Cost([]byte(a.PasswordHash)); err != nil {
			errs = append(errs, fmt.Errorf("account %d (%s): invalid password_hash: %w", i, a.Email, err))
			continue
		}
		if _, dup := d.byEmail[a.Email]; dup {
			errs = append(errs, fmt.Errorf("account %d: duplicate email %q", i, a.Email))
			continue
		}
		if _, dup := d.byID[a.ID]; dup {
			errs = append(errs, fmt.Errorf("account %d: duplicate id %q", i, a.ID))
			continue
		}

		d.byEmail[a.Email] = a
		d.byID[a.ID] = a
	}

	if err := errors.Join(errs...); err != nil {
		return nil, xerrors.Wrap(err, "invalid account directory")
	}
	return d, nil
}

// ParseSeed decodes a YAML seed document into a directory. Unknown fields are rejected.
func ParseSeed(data []byte) (*MemoryDirectory, error) {
	var f seedFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, xerrors.Wrap(err, "decode account seed")
	}

	accts := make([]Account, 0, len(f.Accounts))
	var errs []error
	for i, s := range f.Accounts {
		role, ok := rbac.ParseRole(s.Role)
		if !ok {
			errs = append(errs, fmt.Errorf("account %d (%s): unknown role %q", i, s.Email, s.Role))
			continue
		}
		active := true
		if s.Active != nil {
			active = *s.Active
		}
		accts = append(accts, Account{
			ID:           strings.TrimSpace(s.ID),
			Email:        s.Email,
			Name:         strings.TrimSpace(s.Name),
			Role:         role,
			PasswordHash: strings.TrimSpace(s.PasswordHash),
			Active:       active,
		})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, xerrors.Wrap(err, "invalid account seed")
	}
	return NewMemoryDirectory(accts)
}

// LoadFile reads and parses a YAML seed file.
func LoadFile(path string) (*MemoryDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read account seed %s", path)
	}
	d, err := ParseSeed(data)
	if err != nil {
		return nil, xerrors.Wrapf(err, "load account seed %s", path)
	}
	return d, nil
}

func (d *MemoryDirectory) FindByEmail(_ context.Context, email string) (Account, error) {
	a, ok := d.byEmail[NormalizeEmail(email)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (d *MemoryDirectory) FindByID(_ context.Context, id string) (Account, error) {
	a, ok := d.byID[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (d *MemoryDirectory) Len() int { return len(d.byID) }
