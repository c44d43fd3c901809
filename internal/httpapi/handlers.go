// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/prepline/prepline/internal/auth"
	"github.com/prepline/prepline/pkg/errutil"
)

// userView is the account shape exposed over the wire. Credential material
// never appears here.
type userView struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Role     auth.Role `json:"role"`
	Email    *string   `json:"email,omitempty"`
}

func viewOf(account *auth.Account) userView {
	return userView{
		ID:       account.ID.String(),
		Username: account.Username,
		Role:     account.Role,
		Email:    account.Email,
	}
}

// mintToken signs a session token for the account using the resolved secret.
func (s *Server) mintToken(account *auth.Account) (string, error) {
	secret, err := s.cfg.ResolveAuthSecret()
	if err != nil {
		return "", err
	}
	claims := auth.Claims{
		Subject:  account.ID.String(),
		Role:     account.Role,
		Username: account.Username,
	}
	return auth.SignTokenWithTTL(claims, secret, s.cfg.TokenTTL, time.Now())
}

// handleLogin authenticates a username/password pair and returns a session
// token with the user.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, codeInvalidPayload)
		return
	}

	account, err := s.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.recordLogin("password", "failure")
			writeError(w, http.StatusUnauthorized, codeInvalidCredentials)
			return
		}
		errutil.LogError(s.logger, "login failed", err)
		writeError(w, http.StatusInternalServerError, codeServerError)
		return
	}

	token, err := s.mintToken(account)
	if err != nil {
		errutil.LogError(s.logger, "token minting failed", err)
		writeError(w, http.StatusInternalServerError, codeMissingAuthSecret)
		return
	}

	s.recordLogin("password", "success")
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  viewOf(account),
	})
}

// handleExternalLogin resolves an externally-minted access token to a local
// account and returns a locally-signed session token. External login never
// creates an account.
func (s *Server) handleExternalLogin(w http.ResponseWriter, r *http.Request) {
	if s.linker == nil {
		writeError(w, http.StatusNotImplemented, codeProviderNotConfigured)
		return
	}

	var req struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, codeInvalidPayload)
		return
	}

	account, err := s.linker.Login(r.Context(), req.AccessToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidProviderToken):
			s.recordLogin("external", "failure")
			writeError(w, http.StatusUnauthorized, codeInvalidOAuthToken)
		case errors.Is(err, auth.ErrNoAccount):
			s.recordLogin("external", "failure")
			writeError(w, http.StatusUnauthorized, codeNoAccount)
		default:
			errutil.LogError(s.logger, "external login failed", err)
			writeError(w, http.StatusInternalServerError, codeServerError)
		}
		return
	}

	token, err := s.mintToken(account)
	if err != nil {
		errutil.LogError(s.logger, "token minting failed", err)
		writeError(w, http.StatusInternalServerError, codeMissingAuthSecret)
		return
	}

	s.recordLogin("external", "success")
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user": userView{
			ID:       account.ID.String(),
			Username: account.Username,
			Role:     account.Role,
		},
	})
}

// handleMe resolves the token subject against the directory and returns the
// stored account. A token whose account no longer exists is unauthorized, so
// a deleted user cannot keep a valid session alive.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized)
		return
	}

	id, err := ulid.Parse(claims.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized)
		return
	}

	account, err := s.service.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, codeUnauthorized)
			return
		}
		errutil.LogError(s.logger, "account lookup failed", err)
		writeError(w, http.StatusInternalServerError, codeServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": viewOf(account)})
}

// handleChangePassword verifies the current password and replaces it.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized)
		return
	}

	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, codeInvalidPayload)
		return
	}

	id, err := ulid.Parse(claims.Subject)
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized)
		return
	}

	if err := s.service.ChangePassword(r.Context(), id, req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, codeInvalidPayload)
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, codeInvalidCredentials)
		case errors.Is(err, auth.ErrNotFound):
			writeError(w, http.StatusUnauthorized, codeUnauthorized)
		default:
			errutil.LogError(s.logger, "password change failed", err)
			writeError(w, http.StatusInternalServerError, codeServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleListUsers returns all accounts, newest first. Manager only.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.service.ListAccounts(r.Context())
	if err != nil {
		errutil.LogError(s.logger, "account listing failed", err)
		writeError(w, http.StatusInternalServerError, codeServerError)
		return
	}

	users := make([]userView, 0, len(accounts))
	for _, account := range accounts {
		users = append(users, viewOf(account))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// handleCreateUser provisions a non-manager account. Manager only.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" || req.Role == "" {
		writeError(w, http.StatusBadRequest, codeInvalidPayload)
		return
	}

	account, err := s.service.ProvisionAccount(r.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		status, code := provisionStatus(err)
		if status == http.StatusInternalServerError {
			errutil.LogError(s.logger, "account provisioning failed", err)
		}
		writeError(w, status, code)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"user": viewOf(account)})
}

// recordLogin increments the login counter when metrics are wired.
func (s *Server) recordLogin(method, outcome string) {
	if s.metrics != nil {
		s.metrics.LoginsTotal.WithLabelValues(method, outcome).Inc()
	}
}
