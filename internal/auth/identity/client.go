// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

// Package identity implements the external identity-provider client for a
// GoTrue-style auth API (the kind Supabase exposes). The provider mints the
// OAuth access tokens; this client only validates them and registers users
// on the admin provisioning path.
package identity

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samber/oops"

	"github.com/prepline/prepline/internal/auth"
)

// DefaultTimeout bounds every provider call. The identity provider is the
// only externally-latent dependency of the auth subsystem; a hung call here
// must not hold a login request open indefinitely.
const DefaultTimeout = 10 * time.Second

// Config holds the provider endpoint and service credentials.
type Config struct {
	// BaseURL is the provider root, e.g. "https://xyzcompany.supabase.co".
	BaseURL string
	// ServiceKey authenticates this backend to the provider admin API and
	// doubles as the apikey header on user-token validation.
	ServiceKey string
	// Timeout bounds each request; DefaultTimeout when zero.
	Timeout time.Duration
}

// Configured reports whether enough configuration is present to build a
// client.
func (c Config) Configured() bool {
	return strings.TrimSpace(c.BaseURL) != "" && strings.TrimSpace(c.ServiceKey) != ""
}

// Client talks to the identity provider over HTTP.
type Client struct {
	client     *resty.Client
	serviceKey string
}

// NewClient creates a provider client from config.
func NewClient(cfg Config) (*Client, error) {
	if !cfg.Configured() {
		return nil, oops.Code("IDENTITY_CONFIG_INVALID").Errorf("provider base URL and service key are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cli := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("apikey", cfg.ServiceKey)

	return &Client{client: cli, serviceKey: cfg.ServiceKey}, nil
}

// providerUser is the subset of the provider's user object we consume.
type providerUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// providerError is the provider's error envelope. GoTrue is inconsistent
// about the field name across versions, so both are tried.
type providerError struct {
	Message string `json:"message"`
	Msg     string `json:"msg"`
}

func (e providerError) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Msg
}

// ValidateAccessToken resolves an access token to the identity it was minted
// for. Every failure mode — rejection, timeout, transport error, or a
// response without a subject — maps to auth.ErrInvalidProviderToken so the
// caller makes a single deterministic decision.
func (c *Client) ValidateAccessToken(ctx context.Context, accessToken string) (*auth.Identity, error) {
	var user providerUser
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&user).
		Get("/auth/v1/user")
	if err != nil {
		return nil, oops.Code("IDENTITY_VALIDATE_FAILED").
			With("operation", "get user").
			Wrap(auth.ErrInvalidProviderToken)
	}
	if resp.IsError() || user.ID == "" {
		return nil, oops.Code("IDENTITY_VALIDATE_FAILED").
			With("status", resp.StatusCode()).
			Wrap(auth.ErrInvalidProviderToken)
	}

	return &auth.Identity{
		SubjectID: strings.TrimSpace(user.ID),
		Email:     strings.TrimSpace(user.Email),
	}, nil
}

// AdminCreateUser registers a user with the provider, pre-confirming the
// email so external login works immediately. Returns the provider subject id.
func (c *Client) AdminCreateUser(ctx context.Context, email, password string, role auth.Role) (string, error) {
	var user providerUser
	var provErr providerError
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(c.serviceKey).
		SetBody(map[string]any{
			"email":         email,
			"password":      password,
			"email_confirm": true,
			"user_metadata": map[string]string{"role": string(role)},
		}).
		SetResult(&user).
		SetError(&provErr).
		Post("/auth/v1/admin/users")
	if err != nil {
		return "", oops.Code("IDENTITY_ADMIN_CREATE_FAILED").
			With("operation", "create user").
			Wrap(err)
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusUnprocessableEntity ||
			strings.Contains(strings.ToLower(provErr.text()), "already registered") {
			return "", oops.Code("IDENTITY_EMAIL_TAKEN").
				With("email", email).
				Wrap(auth.ErrProviderEmailTaken)
		}
		return "", oops.Code("IDENTITY_ADMIN_CREATE_FAILED").
			With("status", resp.StatusCode()).
			Errorf("provider rejected user creation")
	}
	if user.ID == "" {
		return "", oops.Code("IDENTITY_ADMIN_CREATE_FAILED").Errorf("provider returned no user id")
	}

	return user.ID, nil
}

// Compile-time interface check.
var _ auth.IdentityProvider = (*Client)(nil)
