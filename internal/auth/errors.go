// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package auth

import "errors"

// Verification error taxonomy. A denied permission check is a false
// decision, never an error; these errors cover identity problems and
// infrastructure failures only.
var (
	// ErrUnauthenticated is returned when no credential is presented.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidToken is returned when a token fails signature,
	// structure, issuer, or audience checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a token is past its expiry,
	// beyond the configured clock skew.
	ErrTokenExpired = errors.New("token expired")

	// ErrKeyNotFound is returned when a token references a signing key
	// id that is absent from the key set after a refresh.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrServiceUnavailable is returned when the key set endpoint
	// cannot be reached and no usable cached key exists.
	ErrServiceUnavailable = errors.New("verification service unavailable")

	// ErrSessionNotFound is returned when a session id does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionRevoked is returned when operating on a revoked
	// session. Revocation is terminal.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrInvalidRefresh is returned when refresh material does not
	// match the stored hash.
	ErrInvalidRefresh = errors.New("invalid refresh token")
)
