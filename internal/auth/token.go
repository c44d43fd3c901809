// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Prepline Contributors

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Session token configuration.
const (
	// TokenVersion is the format-version tag carried as the first token
	// segment. The verifier accepts this version only; a future codec can
	// register a new tag without breaking v1 verification.
	TokenVersion = "v1"

	// SessionTokenTTL is the default session lifetime.
	SessionTokenTTL = 8 * time.Hour
)

// ErrEmptySecret is returned when signing or verifying with an empty secret.
var ErrEmptySecret = oops.Code("AUTH_EMPTY_SECRET").Errorf("signing secret cannot be empty")

// Claims is the payload of a session token. Tokens are stateless: the server
// keeps no session table, and expiry is the only invalidation mechanism.
type Claims struct {
	Subject   string `json:"sub"`
	Role      Role   `json:"role"`
	Username  string `json:"username"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// SignToken mints a session token for the claims with the default TTL.
func SignToken(claims Claims, secret string) (string, error) {
	return SignTokenWithTTL(claims, secret, SessionTokenTTL, time.Now())
}

// SignTokenWithTTL mints a session token with an explicit TTL and clock.
// IssuedAt/ExpiresAt on the input claims are overwritten. The wire format is
// "v1." + base64url(payload JSON) + "." + base64url(HMAC-SHA256 signature),
// both segments unpadded. The HMAC covers the encoded payload bytes.
func SignTokenWithTTL(claims Claims, secret string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}

	claims.IssuedAt = now.Unix()
	claims.ExpiresAt = now.Add(ttl).Unix()

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_ENCODE_FAILED").Wrap(err)
	}

	encodedPayload := base64.RawURLEncoding.EncodeToString(payload)
	sig := signPayload(encodedPayload, secret)

	return TokenVersion + "." + encodedPayload + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}

// VerifyToken verifies a session token and returns its claims.
// Every failure mode returns ErrInvalidToken; the verifier never explains
// which check failed.
func VerifyToken(token, secret string) (*Claims, error) {
	return VerifyTokenAt(token, secret, time.Now())
}

// VerifyTokenAt verifies a token against an explicit clock.
// Useful for testing with deterministic time values.
func VerifyTokenAt(token, secret string, now time.Time) (*Claims, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] != TokenVersion || parts[1] == "" || parts[2] == "" {
		return nil, ErrInvalidToken
	}
	encodedPayload, encodedSig := parts[1], parts[2]

	providedSig, err := base64.RawURLEncoding.DecodeString(encodedSig)
	if err != nil {
		return nil, ErrInvalidToken
	}

	expectedSig := signPayload(encodedPayload, secret)
	if len(providedSig) != len(expectedSig) {
		return nil, ErrInvalidToken
	}
	if subtle.ConstantTimeCompare(providedSig, expectedSig) != 1 {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encodedPayload)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}

	// Absent exp unmarshals to zero, which fails the freshness check.
	if claims.ExpiresAt <= now.Unix() {
		return nil, ErrInvalidToken
	}

	return &claims, nil
}

// signPayload computes the HMAC-SHA256 signature over the encoded payload.
func signPayload(encodedPayload, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(encodedPayload))
	return mac.Sum(nil)
}
