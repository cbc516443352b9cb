// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

// Package auth provides identity verification: externally issued token
// verification against a cached signing key set, locally issued session
// tokens, and the session lifecycle store.
package auth

import "context"

// Subject is a verified identity extracted from a credential. It is
// the input to permission checks.
type Subject struct {
	UserID   string `json:"user_id"`
	OrgID    string `json:"org_id"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`

	// RoleHint carries a role claim asserted by the token issuer. A
	// hint of "root" short-circuits permission evaluation; any other
	// value is advisory and resolved against the store.
	RoleHint string `json:"role_hint,omitempty"`

	// ServiceAccount marks machine identities. Service accounts follow
	// the same role resolution as users.
	ServiceAccount bool `json:"service_account,omitempty"`
}

// IsRoot reports whether the subject bypasses permission evaluation.
func (s *Subject) IsRoot() bool {
	return s.RoleHint == "root"
}

// Verifier is the interface implemented by credential verifiers.
type Verifier interface {
	// Verify checks a bearer credential and returns the subject it
	// identifies. Returns errors from the verification taxonomy.
	Verify(ctx context.Context, token string) (*Subject, error)
}

type subjectContextKey struct{}

// ContextWithSubject attaches a verified subject to the context.
func ContextWithSubject(ctx context.Context, subject *Subject) context.Context {
	return context.WithValue(ctx, subjectContextKey{}, subject)
}

// SubjectFromContext returns the verified subject, if any.
func SubjectFromContext(ctx context.Context) (*Subject, bool) {
	subject, ok := ctx.Value(subjectContextKey{}).(*Subject)
	return subject, ok
}
