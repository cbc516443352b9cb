// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/visdata/gatekeeper/internal/config"
	"github.com/visdata/gatekeeper/internal/metrics"
)

// TokenClaims are the claims extracted from an externally issued
// identity token.
type TokenClaims struct {
	OrgID          string `json:"org_id,omitempty"`
	Role           string `json:"role,omitempty"`
	Name           string `json:"name,omitempty"`
	Email          string `json:"email,omitempty"`
	ServiceAccount bool   `json:"service_account,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier verifies externally issued RS256 tokens against the
// cached signing key set.
type TokenVerifier struct {
	keys       *KeySetCache
	issuer     string
	audience   string
	skew       time.Duration
	defaultOrg string
}

// NewTokenVerifier creates a verifier bound to a key set cache.
func NewTokenVerifier(keys *KeySetCache, cfg *config.KeysetConfig, defaultOrg string) *TokenVerifier {
	return &TokenVerifier{
		keys:       keys,
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		skew:       cfg.ClockSkew,
		defaultOrg: defaultOrg,
	}
}

// Verify checks the token's signature, issuer, audience, and lifetime,
// and returns the subject it identifies. Errors map to the
// verification taxonomy: ErrUnauthenticated for an empty credential,
// ErrTokenExpired, ErrKeyNotFound, ErrServiceUnavailable, and
// ErrInvalidToken for everything else.
func (v *TokenVerifier) Verify(ctx context.Context, tokenString string) (*Subject, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		metrics.RecordVerification("unauthenticated")
		return nil, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithLeeway(v.skew),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, fmt.Errorf("%w: missing kid header", ErrInvalidToken)
		}
		return v.keys.GetKey(ctx, kid)
	}, opts...)
	if err != nil {
		return nil, translateVerifyErr(err)
	}
	if !token.Valid {
		metrics.RecordVerification("invalid")
		return nil, ErrInvalidToken
	}

	if claims.Subject == "" {
		metrics.RecordVerification("invalid")
		return nil, fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}

	orgID := claims.OrgID
	if orgID == "" {
		orgID = v.defaultOrg
	}

	metrics.RecordVerification("ok")
	return &Subject{
		UserID:         claims.Subject,
		OrgID:          orgID,
		Username:       claims.Name,
		Email:          claims.Email,
		RoleHint:       claims.Role,
		ServiceAccount: claims.ServiceAccount,
	}, nil
}

// translateVerifyErr maps jwt and key set failures onto the
// verification taxonomy.
func translateVerifyErr(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		metrics.RecordVerification("expired")
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, ErrKeyNotFound):
		metrics.RecordVerification("key_not_found")
		return err
	case errors.Is(err, ErrServiceUnavailable):
		metrics.RecordVerification("unavailable")
		return err
	case errors.Is(err, ErrInvalidToken):
		metrics.RecordVerification("invalid")
		return err
	default:
		metrics.RecordVerification("invalid")
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
