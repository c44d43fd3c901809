// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

package httpapi

import (
	"context"

	"github.com/prepline/prepline/internal/auth"
)

type claimsContextKey struct{}
type accountContextKey struct{}

// withClaims attaches verified session claims to the request context.
func withClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// ClaimsFromContext returns the verified session claims attached by
// requireAuthenticated.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*auth.Claims)
	return claims, ok
}

// withAccount attaches the re-read account to the request context.
func withAccount(ctx context.Context, account *auth.Account) context.Context {
	return context.WithValue(ctx, accountContextKey{}, account)
}

// AccountFromContext returns the current account attached by requireRole.
func AccountFromContext(ctx context.Context) (*auth.Account, bool) {
	account, ok := ctx.Value(accountContextKey{}).(*auth.Account)
	return account, ok
}
