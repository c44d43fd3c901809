// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// BootstrapCredentials are the operator-configured defaults used to create
// the first manager account on a cold store. A first-run convenience, not a
// provisioning mechanism.
type BootstrapCredentials struct {
	Username string
	Password string
}

// Service composes the account directory, password hasher, and (optionally)
// the external identity provider into the authentication operations the HTTP
// surface consumes.
type Service struct {
	accounts  AccountRepository
	hasher    PasswordHasher
	provider  IdentityProvider // nil when no provider is configured
	bootstrap BootstrapCredentials
}

// NewService creates a new Service. The identity provider may be nil, in
// which case external login and upstream provisioning are disabled.
func NewService(accounts AccountRepository, hasher PasswordHasher, provider IdentityProvider, bootstrap BootstrapCredentials) (*Service, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("account repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	}
	return &Service{
		accounts:  accounts,
		hasher:    hasher,
		provider:  provider,
		bootstrap: bootstrap,
	}, nil
}

// Dummy credential material verified when a username does not exist, keeping
// the scrypt cost on the miss path so response time does not reveal whether
// an account exists. All-zero material never matches a real derivation.
var (
	dummySalt = make([]byte, scryptSaltLen)
	dummyHash = make([]byte, scryptKeyLen)
)

// Login authenticates a username/password pair and returns the account.
// Token minting is the caller's concern; the service never sees the secret.
func (s *Service) Login(ctx context.Context, username, password string) (*Account, error) {
	account, lookupErr := s.accounts.GetByUsername(ctx, username)

	salt, hash := dummySalt, dummyHash
	exists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get account by username").
				Wrap(lookupErr)
		}
	} else {
		salt, hash = account.PasswordSalt, account.PasswordHash
		exists = true
	}

	// Always verify, against dummy material on a miss.
	valid, verifyErr := s.hasher.Verify(password, salt, hash)
	if verifyErr != nil {
		if !exists {
			return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}
	if !exists || !valid {
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	return account, nil
}

// ChangePassword verifies the current password and atomically replaces the
// credential material with a fresh salt/hash pair for the new one.
func (s *Service) ChangePassword(ctx context.Context, id ulid.ULID, currentPassword, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return oops.Code("AUTH_WEAK_PASSWORD").
			With("min", MinPasswordLength).
			Wrap(ErrWeakPassword)
	}

	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "get account by id").
			Wrap(err)
	}

	valid, err := s.hasher.Verify(currentPassword, account.PasswordSalt, account.PasswordHash)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "verify current password").
			Wrap(err)
	}
	if !valid {
		return oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	salt, hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "hash new password").
			Wrap(err)
	}

	if err := s.accounts.UpdatePassword(ctx, id, salt, hash); err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
			With("operation", "update credential").
			Wrap(err)
	}
	return nil
}

// ProvisionAccount creates a non-manager account on behalf of a manager.
// A username that looks like an email address doubles as the account email;
// when an identity provider is configured, such accounts are also registered
// upstream and linked at creation so the person can use external login.
// This path can never mint another manager.
func (s *Service) ProvisionAccount(ctx context.Context, username, password, role string) (*Account, error) {
	parsedRole, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	if parsedRole == RoleManager {
		return nil, oops.Code("AUTH_INVALID_ROLE").
			With("role", role).
			Wrap(ErrInvalidRole)
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, oops.Code("AUTH_INVALID_USERNAME").Errorf("username cannot be empty")
	}
	if len(password) < MinPasswordLength {
		return nil, oops.Code("AUTH_WEAK_PASSWORD").
			With("min", MinPasswordLength).
			Wrap(ErrWeakPassword)
	}

	var email *string
	if IsEmailAddress(username) {
		email = &username
	}

	var externalID *string
	if s.provider != nil && email != nil {
		subjectID, err := s.provider.AdminCreateUser(ctx, *email, password, parsedRole)
		if err != nil {
			return nil, oops.Code("AUTH_PROVISION_FAILED").
				With("operation", "register with identity provider").
				Wrap(err)
		}
		if subjectID != "" {
			externalID = &subjectID
		}
	}

	salt, hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_PROVISION_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	account := &Account{
		ID:                 ulid.Make(),
		Username:           username,
		Role:               parsedRole,
		PasswordSalt:       salt,
		PasswordHash:       hash,
		Email:              email,
		ExternalIdentityID: externalID,
		CreatedAt:          time.Now().UTC(),
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, oops.Code("AUTH_PROVISION_FAILED").
			With("operation", "create account").
			With("username", username).
			Wrap(err)
	}
	return account, nil
}

// GetAccount retrieves an account by id.
func (s *Service) GetAccount(ctx context.Context, id ulid.ULID) (*Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, oops.Code("AUTH_GET_ACCOUNT_FAILED").
			With("account_id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// ListAccounts returns all accounts, newest first.
func (s *Service) ListAccounts(ctx context.Context) ([]*Account, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, oops.Code("AUTH_LIST_ACCOUNTS_FAILED").Wrap(err)
	}
	return accounts, nil
}

// EnsureBootstrapManager creates a manager account from the configured
// defaults when no manager exists yet, guaranteeing a usable entry point on
// a cold store. When a manager exists this is a no-op.
//
// The count-then-insert has a window under concurrent cold starts that could
// create more than one manager; no constraint enforces "at most one". This
// is an accepted limitation of a first-run convenience.
func (s *Service) EnsureBootstrapManager(ctx context.Context) error {
	count, err := s.accounts.CountByRole(ctx, RoleManager)
	if err != nil {
		return oops.Code("AUTH_BOOTSTRAP_FAILED").
			With("operation", "count managers").
			Wrap(err)
	}
	if count > 0 {
		return nil
	}

	salt, hash, err := s.hasher.Hash(s.bootstrap.Password)
	if err != nil {
		return oops.Code("AUTH_BOOTSTRAP_FAILED").
			With("operation", "hash bootstrap password").
			Wrap(err)
	}

	account := &Account{
		ID:           ulid.Make(),
		Username:     s.bootstrap.Username,
		Role:         RoleManager,
		PasswordSalt: salt,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.accounts.Create(ctx, account); err != nil {
		return oops.Code("AUTH_BOOTSTRAP_FAILED").
			With("operation", "create bootstrap manager").
			With("username", s.bootstrap.Username).
			Wrap(err)
	}
	return nil
}
