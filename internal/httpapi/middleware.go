// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	"github.com/prepline/prepline/internal/auth"
	"github.com/prepline/prepline/internal/observability"
	"github.com/prepline/prepline/pkg/errutil"
)

// requireAuthenticated extracts and verifies the bearer token, attaching the
// claims to the request context. The gate has exactly four outcomes:
// unauthorized, forbidden (via requireRole), server_missing_auth_secret, and
// pass-through. Internal detail never reaches the client.
func (s *Server) requireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			observability.RecordAuthFailure("missing_token")
			writeError(w, http.StatusUnauthorized, codeUnauthorized)
			return
		}

		secret, err := s.cfg.ResolveAuthSecret()
		if err != nil {
			errutil.LogError(s.logger, "signing secret unresolvable", err)
			writeError(w, http.StatusInternalServerError, codeMissingAuthSecret)
			return
		}

		claims, err := auth.VerifyToken(token, secret)
		if err != nil || claims.Subject == "" {
			observability.RecordAuthFailure("invalid_token")
			writeError(w, http.StatusUnauthorized, codeUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// requireRole re-reads the current account by the subject id and checks its
// role against the allowed set. The token's embedded role is never trusted
// alone: a role change after issuance takes effect here immediately.
// Must run after requireAuthenticated.
func (s *Server) requireRole(allowed ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, codeUnauthorized)
				return
			}

			id, err := ulid.Parse(claims.Subject)
			if err != nil {
				observability.RecordAuthFailure("invalid_subject")
				writeError(w, http.StatusUnauthorized, codeUnauthorized)
				return
			}

			account, err := s.service.GetAccount(r.Context(), id)
			if err != nil {
				if errors.Is(err, auth.ErrNotFound) {
					observability.RecordAuthFailure("account_gone")
					writeError(w, http.StatusUnauthorized, codeUnauthorized)
					return
				}
				errutil.LogError(s.logger, "account lookup failed", err)
				writeError(w, http.StatusInternalServerError, codeServerError)
				return
			}

			for _, role := range allowed {
				if account.Role == role {
					next.ServeHTTP(w, r.WithContext(withAccount(r.Context(), account)))
					return
				}
			}

			writeError(w, http.StatusForbidden, codeForbidden)
		})
	}
}

// requestLogger logs each request and records the route/status counter.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}

		s.logger.Info("request",
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		if s.metrics != nil {
			s.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		}
	})
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
