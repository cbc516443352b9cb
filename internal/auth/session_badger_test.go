// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

// This file contains tests for the Badger-backed session store.
package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newBadgerStore(t *testing.T) *BadgerSessionStore {
	t.Helper()
	store, err := OpenBadgerSessionStore(t.TempDir())
	if err != nil {
		t.Fatalf("open badger store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestBadgerSessionStore tests durable session storage.
func TestBadgerSessionStore(t *testing.T) {
	ctx := context.Background()

	t.Run("create_get_update", func(t *testing.T) {
		store := newBadgerStore(t)
		s := NewSession("alice", "org1", time.Hour, 24*time.Hour)
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}

		got, err := store.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.UserID != "alice" || got.State != SessionInit {
			t.Errorf("unexpected session %+v", got)
		}

		if err := got.Activate(); err != nil {
			t.Fatalf("activate: %v", err)
		}
		if err := store.Update(ctx, got); err != nil {
			t.Fatalf("update: %v", err)
		}

		again, err := store.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if again.State != SessionActive {
			t.Errorf("State = %q, want active", again.State)
		}
	})

	t.Run("duplicate_create_fails", func(t *testing.T) {
		store := newBadgerStore(t)
		s := NewSession("alice", "org1", time.Hour, 24*time.Hour)
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := store.Create(ctx, s); err == nil {
			t.Error("duplicate create should fail")
		}
	})

	t.Run("missing_session", func(t *testing.T) {
		store := newBadgerStore(t)
		if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
		if err := store.Update(ctx, NewSession("x", "org1", time.Hour, time.Hour)); !errors.Is(err, ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
		if err := store.Delete(ctx, "nope"); err != nil {
			t.Errorf("deleting a missing session should be a no-op: %v", err)
		}
	})

	t.Run("user_index", func(t *testing.T) {
		store := newBadgerStore(t)
		for i := 0; i < 3; i++ {
			if err := store.Create(ctx, NewSession("alice", "org1", time.Hour, 24*time.Hour)); err != nil {
				t.Fatalf("create: %v", err)
			}
		}
		if err := store.Create(ctx, NewSession("bob", "org1", time.Hour, 24*time.Hour)); err != nil {
			t.Fatalf("create: %v", err)
		}

		sessions, err := store.GetByUserID(ctx, "alice")
		if err != nil {
			t.Fatalf("get by user: %v", err)
		}
		if len(sessions) != 3 {
			t.Errorf("len = %d, want 3", len(sessions))
		}

		removed, err := store.DeleteByUserID(ctx, "alice")
		if err != nil {
			t.Fatalf("delete by user: %v", err)
		}
		if removed != 3 {
			t.Errorf("removed = %d, want 3", removed)
		}
		if sessions, _ = store.GetByUserID(ctx, "alice"); len(sessions) != 0 {
			t.Errorf("alice sessions after delete = %d, want 0", len(sessions))
		}
		if sessions, _ = store.GetByUserID(ctx, "bob"); len(sessions) != 1 {
			t.Errorf("bob sessions = %d, want 1", len(sessions))
		}
	})

	t.Run("delete_removes_index_entry", func(t *testing.T) {
		store := newBadgerStore(t)
		s := NewSession("alice", "org1", time.Hour, 24*time.Hour)
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := store.Delete(ctx, s.ID); err != nil {
			t.Fatalf("delete: %v", err)
		}
		sessions, err := store.GetByUserID(ctx, "alice")
		if err != nil {
			t.Fatalf("get by user: %v", err)
		}
		if len(sessions) != 0 {
			t.Errorf("len = %d, want 0", len(sessions))
		}
	})

	t.Run("cleanup_expired", func(t *testing.T) {
		store := newBadgerStore(t)
		if err := store.Create(ctx, NewSession("stale", "org1", -2*time.Hour, -time.Hour)); err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := store.Create(ctx, NewSession("fresh", "org1", time.Hour, 24*time.Hour)); err != nil {
			t.Fatalf("create: %v", err)
		}

		removed, err := store.CleanupExpired(ctx)
		if err != nil {
			t.Fatalf("cleanup: %v", err)
		}
		if removed != 1 {
			t.Errorf("removed = %d, want 1", removed)
		}
		if sessions, _ := store.GetByUserID(ctx, "stale"); len(sessions) != 0 {
			t.Error("stale session should be gone")
		}
		if sessions, _ := store.GetByUserID(ctx, "fresh"); len(sessions) != 1 {
			t.Error("fresh session should survive")
		}
	})

	t.Run("refresh_hash_round_trips", func(t *testing.T) {
		store := newBadgerStore(t)
		s := NewSession("alice", "org1", time.Hour, 24*time.Hour)
		s.RefreshHash = []byte("$2a$10$abcdefghijklmnopqrstuv")
		if err := store.Create(ctx, s); err != nil {
			t.Fatalf("create: %v", err)
		}
		got, err := store.Get(ctx, s.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if string(got.RefreshHash) != string(s.RefreshHash) {
			t.Error("refresh hash must round trip")
		}
	})
}
