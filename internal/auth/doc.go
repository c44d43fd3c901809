// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

// Package auth provides the authentication and identity core for Prepline:
// password hashing, signed session tokens, the account directory contract,
// external identity linking, and the bootstrap path that guarantees a
// usable manager account on a cold store.
package auth
