// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested account does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidCredentials is returned for a bad username/password pair.
// Callers must not be able to tell which of the two was wrong.
var ErrInvalidCredentials = errors.New("invalid username or password")

// ErrInvalidToken is returned for any session token that fails verification:
// wrong version, bad signature, malformed payload, or expiry in the past.
// A single sentinel is deliberate; the verifier never explains why.
var ErrInvalidToken = errors.New("invalid session token")

// Conflict sentinels produced by the account directory when a storage-level
// uniqueness constraint fires.
var (
	ErrUsernameTaken         = errors.New("username already taken")
	ErrEmailTaken            = errors.New("email already taken")
	ErrExternalIdentityTaken = errors.New("external identity already linked")
)

// ErrNoAccount is returned by external login when the asserted identity has
// no provisioned local account. External login never creates accounts.
var ErrNoAccount = errors.New("no local account for external identity")

// ErrInvalidProviderToken is returned when the external identity provider
// rejects an access token, is unreachable, or times out.
var ErrInvalidProviderToken = errors.New("invalid identity provider token")

// ErrProviderEmailTaken is returned when the external provider already has a
// user registered for the email being provisioned.
var ErrProviderEmailTaken = errors.New("email already registered with identity provider")

// ErrProviderNotConfigured is returned when external login is attempted but
// no identity provider has been configured.
var ErrProviderNotConfigured = errors.New("identity provider not configured")

// Validation sentinels for the admin provisioning path.
var (
	ErrInvalidRole  = errors.New("invalid role")
	ErrWeakPassword = errors.New("password too short")
)
