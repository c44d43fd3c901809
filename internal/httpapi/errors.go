// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prepline/prepline/internal/auth"
)

// Machine-readable error codes on the wire. Clients switch on these; the
// strings are stable.
const (
	codeInvalidPayload        = "invalid_payload"
	codeInvalidCredentials    = "invalid_credentials"
	codeUnauthorized          = "unauthorized"
	codeForbidden             = "forbidden"
	codeMissingAuthSecret     = "server_missing_auth_secret"
	codeInvalidOAuthToken     = "invalid_oauth_token"
	codeNoAccount             = "no_account"
	codeProviderNotConfigured = "identity_provider_not_configured"
	codeWeakPassword          = "weak_password"
	codeInvalidRole           = "invalid_role"
	codeUsernameTaken         = "username_taken"
	codeIdentityEmailTaken    = "external_identity_email_taken"
	codeServerError           = "server_error"
)

// errorBody is the JSON error envelope: {"error": "<code>"}.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response write failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorBody{Error: code})
}

// provisionStatus maps an admin-provisioning failure to its wire code.
// Unexpected errors collapse to a generic failure with no internal detail.
func provisionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrInvalidRole):
		return http.StatusBadRequest, codeInvalidRole
	case errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest, codeWeakPassword
	case errors.Is(err, auth.ErrUsernameTaken):
		return http.StatusConflict, codeUsernameTaken
	case errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, auth.ErrExternalIdentityTaken),
		errors.Is(err, auth.ErrProviderEmailTaken):
		return http.StatusConflict, codeIdentityEmailTaken
	default:
		return http.StatusInternalServerError, codeServerError
	}
}
