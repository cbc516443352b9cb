// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

// This file contains tests for verified subjects and context plumbing.
package auth

import (
	"context"
	"testing"
)

// TestSubjectIsRoot tests root hint detection.
func TestSubjectIsRoot(t *testing.T) {
	cases := []struct {
		hint string
		want bool
	}{
		{"root", true},
		{"admin", false},
		{"Root", false},
		{"", false},
	}
	for _, tc := range cases {
		s := &Subject{UserID: "u1", RoleHint: tc.hint}
		if got := s.IsRoot(); got != tc.want {
			t.Errorf("IsRoot() with hint %q = %v, want %v", tc.hint, got, tc.want)
		}
	}
}

// TestSubjectContext tests attaching and retrieving subjects from a
// context.
func TestSubjectContext(t *testing.T) {
	t.Run("round_trip", func(t *testing.T) {
		want := &Subject{UserID: "alice", OrgID: "acme", ServiceAccount: true}
		ctx := ContextWithSubject(context.Background(), want)

		got, ok := SubjectFromContext(ctx)
		if !ok {
			t.Fatal("SubjectFromContext returned ok=false")
		}
		if got != want {
			t.Errorf("got %+v, want the attached subject", got)
		}
	})

	t.Run("absent", func(t *testing.T) {
		if subject, ok := SubjectFromContext(context.Background()); ok || subject != nil {
			t.Errorf("empty context returned %+v, ok=%v", subject, ok)
		}
	})
}
