// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

package auth

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// Identity is what the external provider asserts about a validated token.
// Nothing else from the provider is trusted; in particular, any role
// metadata the provider carries is ignored for authorization.
type Identity struct {
	SubjectID string
	Email     string
}

// IdentityProvider validates externally-minted access tokens and registers
// users upstream. Implementations perform network I/O and must bound it
// with a timeout.
type IdentityProvider interface {
	// ValidateAccessToken asks the provider who the access token belongs
	// to. Any rejection, timeout, or transport failure surfaces as
	// ErrInvalidProviderToken.
	ValidateAccessToken(ctx context.Context, accessToken string) (*Identity, error)

	// AdminCreateUser registers a user with the provider so they can use
	// external login. Returns the provider's subject id. A duplicate email
	// surfaces as ErrProviderEmailTaken.
	AdminCreateUser(ctx context.Context, email, password string, role Role) (string, error)
}

// IdentityLinker reconciles an external identity with a local account.
// It looks up or links, and never creates: identity linkage must not
// silently grant access to an unprovisioned person.
type IdentityLinker struct {
	provider IdentityProvider
	accounts AccountRepository
}

// NewIdentityLinker creates a new IdentityLinker.
func NewIdentityLinker(provider IdentityProvider, accounts AccountRepository) (*IdentityLinker, error) {
	if provider == nil {
		return nil, oops.Code("AUTH_LINKER_INVALID").Errorf("identity provider is required")
	}
	if accounts == nil {
		return nil, oops.Code("AUTH_LINKER_INVALID").Errorf("account repository is required")
	}
	return &IdentityLinker{provider: provider, accounts: accounts}, nil
}

// Login resolves an external access token to a local account.
//
// The token is validated upstream, then the account is found by external
// subject id, or by the asserted email — linking the identity to the account
// when no identity is linked yet. An identity with no provisioned account
// fails with ErrNoAccount; nothing is persisted on any failure path.
func (l *IdentityLinker) Login(ctx context.Context, accessToken string) (*Account, error) {
	identity, err := l.provider.ValidateAccessToken(ctx, accessToken)
	if err != nil {
		return nil, oops.Code("AUTH_OAUTH_TOKEN_INVALID").Wrap(err)
	}
	if identity.SubjectID == "" {
		return nil, oops.Code("AUTH_OAUTH_TOKEN_INVALID").Wrap(ErrInvalidProviderToken)
	}

	account, err := l.accounts.GetByExternalIdentityID(ctx, identity.SubjectID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, oops.Code("AUTH_EXTERNAL_LOGIN_FAILED").
			With("operation", "get account by external identity").
			Wrap(err)
	}

	if identity.Email == "" {
		return nil, oops.Code("AUTH_NO_ACCOUNT").Wrap(ErrNoAccount)
	}

	account, err = l.accounts.GetByEmail(ctx, identity.Email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("AUTH_NO_ACCOUNT").Wrap(ErrNoAccount)
		}
		return nil, oops.Code("AUTH_EXTERNAL_LOGIN_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}

	if account.ExternalIdentityID == nil {
		accountID := account.ID
		account, err = l.accounts.AttachExternalIdentity(ctx, accountID, identity.SubjectID)
		if err != nil {
			return nil, oops.Code("AUTH_EXTERNAL_LOGIN_FAILED").
				With("operation", "attach external identity").
				With("account_id", accountID.String()).
				Wrap(err)
		}
	}

	return account, nil
}
