// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	// SessionInit is a created session whose login flow has not
	// completed yet.
	SessionInit SessionState = "init"

	// SessionActive is a usable session.
	SessionActive SessionState = "active"

	// SessionExpired is a session past its access expiry. It can still
	// be refreshed into a new session until the refresh expiry passes.
	SessionExpired SessionState = "expired"

	// SessionRevoked is terminal. A revoked session can never be
	// refreshed or reactivated.
	SessionRevoked SessionState = "revoked"
)

// Session is one authenticated session for a subject. IDs are ULIDs so
// they sort by creation time.
type Session struct {
	ID     string       `json:"id"`
	UserID string       `json:"user_id"`
	OrgID  string       `json:"org_id"`
	State  SessionState `json:"state"`

	// RefreshHash is the bcrypt hash of the refresh secret. The secret
	// itself is returned to the caller once at creation and never
	// stored.
	RefreshHash []byte `json:"refresh_hash"`

	// ParentID links a refreshed session to the session it replaced.
	ParentID string `json:"parent_id,omitempty"`

	CreatedAt        time.Time  `json:"created_at"`
	ActivatedAt      *time.Time `json:"activated_at,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RefreshExpiresAt time.Time  `json:"refresh_expires_at"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
}

// NewSession creates a session in the Init state.
func NewSession(userID, orgID string, accessTTL, refreshTTL time.Duration) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:               NewSessionID(),
		UserID:           userID,
		OrgID:            orgID,
		State:            SessionInit,
		CreatedAt:        now,
		ExpiresAt:        now.Add(accessTTL),
		RefreshExpiresAt: now.Add(refreshTTL),
	}
}

// NewSessionID generates a ULID session id.
func NewSessionID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Activate transitions Init -> Active. Any other source state fails.
func (s *Session) Activate() error {
	if s.State != SessionInit {
		return fmt.Errorf("cannot activate session in state %q", s.State)
	}
	now := time.Now().UTC()
	s.State = SessionActive
	s.ActivatedAt = &now
	return nil
}

// Revoke transitions any non-revoked state to Revoked. Revocation is
// idempotent and terminal.
func (s *Session) Revoke() {
	if s.State == SessionRevoked {
		return
	}
	now := time.Now().UTC()
	s.State = SessionRevoked
	s.RevokedAt = &now
}

// EffectiveState returns the state with expiry applied: an Active
// session past its access expiry reads as Expired.
func (s *Session) EffectiveState() SessionState {
	if s.State == SessionActive && time.Now().After(s.ExpiresAt) {
		return SessionExpired
	}
	return s.State
}

// Refreshable reports whether the session can be exchanged for a new
// one: Active or Expired, within the refresh window, and not revoked.
func (s *Session) Refreshable() bool {
	switch s.EffectiveState() {
	case SessionActive, SessionExpired:
		return time.Now().Before(s.RefreshExpiresAt)
	default:
		return false
	}
}

// SessionStore persists sessions.
type SessionStore interface {
	// Create stores a new session. Duplicate ids fail.
	Create(ctx context.Context, session *Session) error

	// Get retrieves a session by id. Returns ErrSessionNotFound when
	// absent.
	Get(ctx context.Context, id string) (*Session, error)

	// Update overwrites an existing session.
	Update(ctx context.Context, session *Session) error

	// Delete removes a session. Deleting a missing session is a no-op.
	Delete(ctx context.Context, id string) error

	// GetByUserID returns all sessions for a user.
	GetByUserID(ctx context.Context, userID string) ([]*Session, error)

	// DeleteByUserID removes all sessions for a user and returns the
	// number removed.
	DeleteByUserID(ctx context.Context, userID string) (int, error)

	// CleanupExpired removes sessions past their refresh expiry and
	// returns the number removed.
	CleanupExpired(ctx context.Context) (int, error)

	// Close releases store resources.
	Close() error
}

// MemorySessionStore is an in-memory SessionStore for tests and
// single-process deployments.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (s *MemorySessionStore) Create(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	s.sessions[session.ID] = copySession(session)
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return copySession(session), nil
}

func (s *MemorySessionStore) Update(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return ErrSessionNotFound
	}
	s.sessions[session.ID] = copySession(session)
	return nil
}

func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemorySessionStore) GetByUserID(_ context.Context, userID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Session
	for _, session := range s.sessions {
		if session.UserID == userID {
			out = append(out, copySession(session))
		}
	}
	return out, nil
}

func (s *MemorySessionStore) DeleteByUserID(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, session := range s.sessions {
		if session.UserID == userID {
			delete(s.sessions, id)
			count++
		}
	}
	return count, nil
}

func (s *MemorySessionStore) CleanupExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	count := 0
	for id, session := range s.sessions {
		if now.After(session.RefreshExpiresAt) {
			delete(s.sessions, id)
			count++
		}
	}
	return count, nil
}

func (s *MemorySessionStore) Close() error {
	return nil
}

// copySession returns a deep copy so callers cannot mutate stored
// state through the returned pointer.
func copySession(session *Session) *Session {
	dup := *session
	if session.RefreshHash != nil {
		dup.RefreshHash = make([]byte, len(session.RefreshHash))
		copy(dup.RefreshHash, session.RefreshHash)
	}
	if session.ActivatedAt != nil {
		t := *session.ActivatedAt
		dup.ActivatedAt = &t
	}
	if session.RevokedAt != nil {
		t := *session.RevokedAt
		dup.RevokedAt = &t
	}
	return &dup
}
