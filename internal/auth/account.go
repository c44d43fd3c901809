// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the closed set of account roles. Comparisons go through the typed
// constants; raw strings never reach a comparison site.
type Role string

// Account roles. Manager is the privileged role; chef authors recipes;
// cook executes the daily menu.
const (
	RoleManager Role = "manager"
	RoleChef    Role = "chef"
	RoleCook    Role = "cook"
)

// ParseRole normalizes and validates a role string.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleManager:
		return RoleManager, nil
	case RoleChef:
		return RoleChef, nil
	case RoleCook:
		return RoleCook, nil
	default:
		return "", oops.Code("AUTH_INVALID_ROLE").With("role", s).Wrap(ErrInvalidRole)
	}
}

// Valid reports whether the role is a member of the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleManager, RoleChef, RoleCook:
		return true
	default:
		return false
	}
}

// MinPasswordLength is the minimum accepted password length for the
// change-password and admin provisioning paths.
const MinPasswordLength = 8

// emailRegex is deliberately loose: one @, no whitespace, a dot in the
// domain. Real validation happens when the identity provider emails the user.
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsEmailAddress reports whether s looks like an email address. Usernames
// that look like emails double as the account email on the admin path.
func IsEmailAddress(s string) bool {
	return emailRegex.MatchString(strings.TrimSpace(s))
}

// Account is a provisioned user of the kitchen platform.
// PasswordSalt and PasswordHash are opaque credential material produced by a
// PasswordHasher; they never leave the directory layer in API responses.
type Account struct {
	ID                 ulid.ULID
	Username           string
	Role               Role
	PasswordSalt       []byte
	PasswordHash       []byte
	Email              *string
	ExternalIdentityID *string
	CreatedAt          time.Time
}

// AccountRepository is the persistent account directory.
//
// Uniqueness of username, email, and external identity id is enforced by
// storage-layer constraints; implementations translate violations into the
// field-specific conflict sentinels. Absence is always ErrNotFound wrapped
// with context, never a bare error or a nil-nil return.
type AccountRepository interface {
	// Create stores a new account. Optional email and external identity
	// ride on the Account record; nil pointers persist as NULL and are
	// exempt from uniqueness.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByUsername retrieves an account by username (case-sensitive).
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// GetByEmail retrieves an account by email.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByExternalIdentityID retrieves an account by linked external
	// identity subject id.
	GetByExternalIdentityID(ctx context.Context, externalID string) (*Account, error)

	// AttachExternalIdentity links an external identity to an account only
	// if no identity is linked yet. The check is a conditional UPDATE at
	// the storage layer, so it is safe under concurrent callers. Returns
	// the (possibly unchanged) account.
	AttachExternalIdentity(ctx context.Context, id ulid.ULID, externalID string) (*Account, error)

	// CountByRole returns the number of accounts holding the role.
	CountByRole(ctx context.Context, role Role) (int64, error)

	// UpdatePassword replaces the credential material for an account.
	// Salt and hash are replaced together in a single statement.
	UpdatePassword(ctx context.Context, id ulid.ULID, salt, hash []byte) error

	// List returns all accounts, newest first.
	List(ctx context.Context) ([]*Account, error)
}
