// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/visdata/gatekeeper/internal/config"
	"github.com/visdata/gatekeeper/internal/logging"
	"github.com/visdata/gatekeeper/internal/metrics"
)

// SessionClaims are the claims carried by locally issued access tokens.
type SessionClaims struct {
	OrgID     string `json:"org_id"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionManager drives the session lifecycle: Init -> Active ->
// Expired -> (refresh into a new session), with Revoked terminal from
// any state. Access tokens are HS256 JWTs bound to a session id;
// refresh secrets are returned to the caller once and stored only as
// bcrypt hashes.
type SessionManager struct {
	store      SessionStore
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewSessionManager creates a session manager. The signing secret must
// be at least 32 characters.
func NewSessionManager(store SessionStore, cfg *config.SessionsConfig) (*SessionManager, error) {
	if len(cfg.SigningSecret) < 32 {
		return nil, fmt.Errorf("SESSION_SIGNING_SECRET must be at least 32 characters")
	}
	return &SessionManager{
		store:      store,
		secret:     []byte(cfg.SigningSecret),
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
	}, nil
}

// Begin creates a session in the Init state and returns it together
// with the one-time refresh secret. The secret is never stored.
func (m *SessionManager) Begin(ctx context.Context, userID, orgID string) (*Session, string, error) {
	session := NewSession(userID, orgID, m.accessTTL, m.refreshTTL)

	secret, hash, err := newRefreshSecret()
	if err != nil {
		metrics.RecordSessionOp("create", "error")
		return nil, "", err
	}
	session.RefreshHash = hash

	if err := m.store.Create(ctx, session); err != nil {
		metrics.RecordSessionOp("create", "error")
		return nil, "", fmt.Errorf("create session: %w", err)
	}

	metrics.RecordSessionOp("create", "ok")
	return session, secret, nil
}

// Activate completes the login flow: Init -> Active, returning the
// first access token.
func (m *SessionManager) Activate(ctx context.Context, sessionID string) (string, error) {
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		metrics.RecordSessionOp("activate", "error")
		return "", err
	}
	if session.State == SessionRevoked {
		metrics.RecordSessionOp("activate", "revoked")
		return "", ErrSessionRevoked
	}
	if err := session.Activate(); err != nil {
		metrics.RecordSessionOp("activate", "error")
		return "", err
	}
	if err := m.store.Update(ctx, session); err != nil {
		metrics.RecordSessionOp("activate", "error")
		return "", fmt.Errorf("update session: %w", err)
	}

	token, err := m.issueAccessToken(session)
	if err != nil {
		return "", err
	}

	metrics.RecordSessionOp("activate", "ok")
	metrics.SessionsActive.Inc()
	logging.Debug().Str("session_id", session.ID).Str("user_id", session.UserID).Msg("Session activated")
	return token, nil
}

// VerifyAccess checks a locally issued access token and the state of
// its backing session. Returns ErrTokenExpired for an Active session
// past its expiry and ErrSessionRevoked for a revoked one.
func (m *SessionManager) VerifyAccess(ctx context.Context, tokenString string) (*Subject, error) {
	if tokenString == "" {
		return nil, ErrUnauthenticated
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	session, err := m.store.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}

	switch session.EffectiveState() {
	case SessionActive:
	case SessionRevoked:
		return nil, ErrSessionRevoked
	case SessionExpired:
		return nil, ErrTokenExpired
	default:
		return nil, fmt.Errorf("%w: session not activated", ErrInvalidToken)
	}

	return &Subject{
		UserID: claims.Subject,
		OrgID:  claims.OrgID,
	}, nil
}

// Refresh exchanges a session and its refresh secret for a new Active
// session with a fresh access token and refresh secret. The old
// session is marked Expired. A revoked session cannot be refreshed.
func (m *SessionManager) Refresh(ctx context.Context, sessionID, refreshSecret string) (*Session, string, string, error) {
	old, err := m.store.Get(ctx, sessionID)
	if err != nil {
		metrics.RecordSessionOp("refresh", "error")
		return nil, "", "", err
	}
	if old.State == SessionRevoked {
		metrics.RecordSessionOp("refresh", "revoked")
		return nil, "", "", ErrSessionRevoked
	}
	if !old.Refreshable() {
		metrics.RecordSessionOp("refresh", "expired")
		return nil, "", "", fmt.Errorf("%w: refresh window elapsed", ErrTokenExpired)
	}
	if err := bcrypt.CompareHashAndPassword(old.RefreshHash, []byte(refreshSecret)); err != nil {
		metrics.RecordSessionOp("refresh", "invalid")
		return nil, "", "", ErrInvalidRefresh
	}

	// Refresh rotates: issue a new session rather than extending the
	// old one, so a leaked refresh secret is single-use.
	next := NewSession(old.UserID, old.OrgID, m.accessTTL, m.refreshTTL)
	next.ParentID = old.ID
	next.State = SessionActive
	now := time.Now().UTC()
	next.ActivatedAt = &now

	secret, hash, err := newRefreshSecret()
	if err != nil {
		metrics.RecordSessionOp("refresh", "error")
		return nil, "", "", err
	}
	next.RefreshHash = hash

	if err := m.store.Create(ctx, next); err != nil {
		metrics.RecordSessionOp("refresh", "error")
		return nil, "", "", fmt.Errorf("create refreshed session: %w", err)
	}

	old.State = SessionExpired
	old.RefreshHash = nil
	if err := m.store.Update(ctx, old); err != nil {
		// The new session exists; losing the old-state write only
		// leaves a stale record for cleanup.
		logging.Warn().Err(err).Str("session_id", old.ID).Msg("Failed to expire replaced session")
	}

	token, err := m.issueAccessToken(next)
	if err != nil {
		return nil, "", "", err
	}

	metrics.RecordSessionOp("refresh", "ok")
	logging.Debug().
		Str("session_id", next.ID).
		Str("parent_id", old.ID).
		Str("user_id", next.UserID).
		Msg("Session refreshed")
	return next, token, secret, nil
}

// Revoke marks a session revoked. Revocation is terminal and
// idempotent.
func (m *SessionManager) Revoke(ctx context.Context, sessionID string) error {
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		metrics.RecordSessionOp("revoke", "error")
		return err
	}
	if session.State == SessionRevoked {
		return nil
	}
	wasActive := session.EffectiveState() == SessionActive
	session.Revoke()
	if err := m.store.Update(ctx, session); err != nil {
		metrics.RecordSessionOp("revoke", "error")
		return fmt.Errorf("update session: %w", err)
	}
	metrics.RecordSessionOp("revoke", "ok")
	if wasActive {
		metrics.SessionsActive.Dec()
	}
	logging.Info().Str("session_id", sessionID).Str("user_id", session.UserID).Msg("Session revoked")
	return nil
}

// RevokeAll revokes every session of a user and returns the number of
// sessions touched.
func (m *SessionManager) RevokeAll(ctx context.Context, userID string) (int, error) {
	sessions, err := m.store.GetByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, session := range sessions {
		if session.State == SessionRevoked {
			continue
		}
		wasActive := session.EffectiveState() == SessionActive
		session.Revoke()
		if err := m.store.Update(ctx, session); err != nil {
			return count, fmt.Errorf("revoke session %s: %w", session.ID, err)
		}
		if wasActive {
			metrics.SessionsActive.Dec()
		}
		count++
	}
	metrics.RecordSessionOp("revoke", "ok")
	logging.Info().Str("user_id", userID).Int("count", count).Msg("All sessions revoked")
	return count, nil
}

// StartCleanupRoutine periodically removes sessions past their refresh
// expiry until the context is cancelled.
func (m *SessionManager) StartCleanupRoutine(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := m.store.CleanupExpired(ctx)
			if err != nil {
				logging.Warn().Err(err).Msg("Session cleanup failed")
				metrics.RecordSessionOp("cleanup", "error")
				continue
			}
			if removed > 0 {
				metrics.RecordSessionOp("cleanup", "ok")
			}
		}
	}
}

func (m *SessionManager) issueAccessToken(session *Session) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		OrgID:     session.OrgID,
		SessionID: session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID,
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// newRefreshSecret generates a random refresh secret and its bcrypt
// hash.
func newRefreshSecret() (string, []byte, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("generate refresh secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hash refresh secret: %w", err)
	}
	return secret, hash, nil
}
