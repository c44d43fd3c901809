// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"

	"github.com/samber/oops"
	"golang.org/x/crypto/scrypt"
)

// scrypt parameters. N=32768 with r=8 keeps derivation around 32 MB of
// memory, which is the interactive-login cost class.
const (
	scryptN       = 32768
	scryptR       = 8
	scryptP       = 1
	scryptSaltLen = 16 // salt length in bytes
	scryptKeyLen  = 64 // derived key length in bytes
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher derives and verifies password credential material.
// Implementations store nothing; the caller persists salt and hash.
type PasswordHasher interface {
	// Hash produces a fresh random salt and the scrypt key derived from
	// (password, salt). The key length never depends on the password.
	Hash(password string) (salt, hash []byte, err error)

	// Verify re-derives a key of len(hash) bytes from (password, salt) and
	// compares it to hash in constant time.
	// Returns (true, nil) on match, (false, nil) on mismatch.
	Verify(password string, salt, hash []byte) (bool, error)
}

// ScryptHasher implements PasswordHasher using scrypt.
type ScryptHasher struct{}

// NewScryptHasher creates a new ScryptHasher.
func NewScryptHasher() *ScryptHasher {
	return &ScryptHasher{}
}

// Hash produces a fresh salt and scrypt-derived key for the password.
func (h *ScryptHasher) Hash(password string) ([]byte, []byte, error) {
	if password == "" {
		return nil, nil, ErrEmptyPassword
	}

	salt := make([]byte, scryptSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	hash, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, nil, oops.Code("AUTH_DERIVE_FAILED").Wrap(err)
	}

	return salt, hash, nil
}

// Verify re-derives the key and compares it to the stored hash.
// The derived key is always len(hash) bytes, so the comparison never
// short-circuits on content. A zero-length stored hash can never match.
func (h *ScryptHasher) Verify(password string, salt, hash []byte) (bool, error) {
	if len(salt) == 0 {
		return false, oops.Code("AUTH_INVALID_CREDENTIAL_MATERIAL").Errorf("salt cannot be empty")
	}
	if len(hash) == 0 {
		return false, oops.Code("AUTH_INVALID_CREDENTIAL_MATERIAL").Errorf("hash cannot be empty")
	}

	computed, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, len(hash))
	if err != nil {
		return false, oops.Code("AUTH_DERIVE_FAILED").Wrap(err)
	}

	return subtle.ConstantTimeCompare(computed, hash) == 1, nil
}

// Compile-time interface check.
var _ PasswordHasher = (*ScryptHasher)(nil)
