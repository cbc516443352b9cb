// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

// This file contains tests for the decision engine: root bypass,
// caching, wildcard semantics, and the store-unavailable fallback.
package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/visdata/gatekeeper/internal/config"
	"github.com/visdata/gatekeeper/internal/models"
	"github.com/visdata/gatekeeper/internal/store"
)

// fakeRoleSource is an in-memory RoleSource with error injection and
// call counting.
type fakeRoleSource struct {
	direct map[string][]string                 // userID -> role names
	groups map[string][]string                 // userID -> inherited role names
	grants map[string][]models.PermissionGrant // role name -> grants
	err    error

	grantCalls int
}

func (f *fakeRoleSource) DirectRoles(_ context.Context, _, userID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.direct[userID], nil
}

func (f *fakeRoleSource) GroupRoles(_ context.Context, _, userID string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.groups[userID], nil
}

func (f *fakeRoleSource) GrantsForRoles(_ context.Context, _ string, roleNames []string) ([]models.PermissionGrant, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.grantCalls++
	var out []models.PermissionGrant
	for _, name := range roleNames {
		out = append(out, f.grants[name]...)
	}
	return out, nil
}

func newTestEngine(source RoleSource, fallback string, roots ...string) *Engine {
	return NewEngine(source, NewDecisionCache(time.Minute, 100), &config.AuthzConfig{
		Fallback:     fallback,
		RootSubjects: roots,
		DefaultOrg:   "org1",
	})
}

// TestEngineRootBypass tests that root subjects skip evaluation.
func TestEngineRootBypass(t *testing.T) {
	ctx := context.Background()

	t.Run("role_hint_root", func(t *testing.T) {
		src := &fakeRoleSource{err: store.ErrUnavailable}
		e := newTestEngine(src, config.FallbackDeny)

		// Root never touches the store, so the injected failure is
		// irrelevant.
		allowed, err := e.IsAllowed(ctx, "org1", "anyone", "DELETE", "dashboard:sales", models.RoleRoot)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Error("root hint must always allow")
		}
	})

	t.Run("configured_root_subject", func(t *testing.T) {
		src := &fakeRoleSource{}
		e := newTestEngine(src, config.FallbackDeny, "svc-backup")

		allowed, err := e.IsAllowed(ctx, "org1", "svc-backup", "DELETE", "stream:logs", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Error("configured root subject must always allow")
		}
	})

	t.Run("root_decisions_are_not_cached", func(t *testing.T) {
		src := &fakeRoleSource{}
		e := newTestEngine(src, config.FallbackDeny)

		if _, err := e.IsAllowed(ctx, "org1", "alice", "GET", "dashboard:sales", models.RoleRoot); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if e.Cache().Len() != 0 {
			t.Error("root bypass must not populate the cache")
		}
	})
}

// TestEngineDecisions tests evaluated decisions end to end.
func TestEngineDecisions(t *testing.T) {
	ctx := context.Background()

	t.Run("no_roles_is_denied", func(t *testing.T) {
		src := &fakeRoleSource{}
		e := newTestEngine(src, config.FallbackDeny)

		allowed, err := e.IsAllowed(ctx, "org1", "nobody", "GET", "dashboard:sales", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if allowed {
			t.Error("subject with no roles must be denied")
		}
	})

	t.Run("direct_role_grant_allows", func(t *testing.T) {
		src := &fakeRoleSource{
			direct: map[string][]string{"alice": {"editor"}},
			grants: map[string][]models.PermissionGrant{
				"editor": {{ObjectPattern: "dashboard:sales", Permission: models.AllowPut}},
			},
		}
		e := newTestEngine(src, config.FallbackDeny)

		allowed, err := e.IsAllowed(ctx, "org1", "alice", "PUT", "dashboard:sales", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Error("editor grant should allow PUT")
		}
	})

	t.Run("group_inherited_grant_allows", func(t *testing.T) {
		src := &fakeRoleSource{
			groups: map[string][]string{"bob": {"viewer"}},
			grants: map[string][]models.PermissionGrant{
				"viewer": {{ObjectPattern: "stream:_all_org1", Permission: models.AllowGet}},
			},
		}
		e := newTestEngine(src, config.FallbackDeny)

		allowed, err := e.IsAllowed(ctx, "org1", "bob", "GET", "stream:logs", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Error("group-inherited viewer grant should allow GET")
		}
	})

	t.Run("wildcard_allows_every_entity_and_method", func(t *testing.T) {
		src := &fakeRoleSource{
			direct: map[string][]string{"admin1": {"admin"}},
			grants: map[string][]models.PermissionGrant{
				"admin": {{ObjectPattern: "dashboard:_all_org1", Permission: models.AllowAll}},
			},
		}
		e := newTestEngine(src, config.FallbackDeny)

		checks := []CheckPair{
			{Method: "GET", Object: "dashboard:sales"},
			{Method: "PUT", Object: "dashboard:marketing"},
			{Method: "DELETE", Object: "dashboard:ops"},
			{Method: "GET", Object: "dashboard:_all_org1"},
		}
		results, err := e.IsAllowedBatch(ctx, "org1", "admin1", checks, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i, allowed := range results {
			if !allowed {
				t.Errorf("check %d (%s %s) denied, want allow", i, checks[i].Method, checks[i].Object)
			}
		}
	})

	t.Run("wildcard_does_not_leak_across_orgs", func(t *testing.T) {
		src := &fakeRoleSource{
			direct: map[string][]string{"admin1": {"admin"}},
			grants: map[string][]models.PermissionGrant{
				"admin": {{ObjectPattern: "dashboard:_all_org1", Permission: models.AllowAll}},
			},
		}
		e := newTestEngine(src, config.FallbackDeny)

		allowed, err := e.IsAllowed(ctx, "org2", "admin1", "GET", "dashboard:sales", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if allowed {
			t.Error("org1 wildcard must not allow anything in org2")
		}
	})

	t.Run("collection_get_needs_list_grant", func(t *testing.T) {
		src := &fakeRoleSource{
			direct: map[string][]string{"alice": {"reader"}},
			grants: map[string][]models.PermissionGrant{
				"reader": {{ObjectPattern: "dashboard:_all_org1", Permission: models.AllowGet}},
			},
		}
		e := newTestEngine(src, config.FallbackDeny)

		// GET against the wildcard object is collection-shaped and
		// requires AllowList; an AllowGet wildcard does not satisfy it.
		allowed, err := e.IsAllowed(ctx, "org1", "alice", "GET", "dashboard:_all_org1", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if allowed {
			t.Error("AllowGet must not satisfy a collection read")
		}

		// The same grant still covers a single entity.
		allowed, err = e.IsAllowed(ctx, "org1", "alice", "GET", "dashboard:sales", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Error("AllowGet wildcard should cover an entity read")
		}
	})

	t.Run("malformed_object_is_error", func(t *testing.T) {
		e := newTestEngine(&fakeRoleSource{}, config.FallbackDeny)
		if _, err := e.IsAllowed(ctx, "org1", "alice", "GET", "garbage", ""); !errors.Is(err, models.ErrInvalidObject) {
			t.Errorf("expected ErrInvalidObject, got %v", err)
		}
	})

	t.Run("unknown_resource_type_is_denied", func(t *testing.T) {
		src := &fakeRoleSource{
			direct: map[string][]string{"alice": {"editor"}},
			grants: map[string][]models.PermissionGrant{
				"editor": {{ObjectPattern: "spaceship:x1", Permission: models.AllowAll}},
			},
		}
		e := newTestEngine(src, config.FallbackDeny)

		// Even a literal grant cannot allow a type outside the
		// catalog; the check denies before role resolution.
		allowed, err := e.IsAllowed(ctx, "org1", "alice", "GET", "spaceship:x1", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if allowed {
			t.Error("unknown resource type must be denied")
		}
		if src.grantCalls != 0 {
			t.Errorf("grantCalls = %d, want 0 (denied before resolution)", src.grantCalls)
		}
		if e.Cache().Len() != 0 {
			t.Error("unknown-type denial must not populate the cache")
		}
	})

	t.Run("unmapped_method_is_error", func(t *testing.T) {
		e := newTestEngine(&fakeRoleSource{}, config.FallbackDeny)
		if _, err := e.IsAllowed(ctx, "org1", "alice", "TRACE", "dashboard:sales", ""); !errors.Is(err, models.ErrUnmappedMethod) {
			t.Errorf("expected ErrUnmappedMethod, got %v", err)
		}
	})
}

// TestEngineCaching tests that decisions are served from cache and
// that invalidation reaches the next evaluation.
func TestEngineCaching(t *testing.T) {
	ctx := context.Background()

	src := &fakeRoleSource{
		direct: map[string][]string{"alice": {"editor"}},
		grants: map[string][]models.PermissionGrant{
			"editor": {{ObjectPattern: "dashboard:sales", Permission: models.AllowPut}},
		},
	}
	e := newTestEngine(src, config.FallbackDeny)

	for i := 0; i < 3; i++ {
		allowed, err := e.IsAllowed(ctx, "org1", "alice", "PUT", "dashboard:sales", "")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("check %d denied, want allow", i)
		}
	}
	if src.grantCalls != 1 {
		t.Errorf("grant resolution ran %d times, want 1 (cached afterwards)", src.grantCalls)
	}

	// Revoking the grant is not visible until the cached decision is
	// invalidated.
	src.grants["editor"] = nil
	if allowed, _ := e.IsAllowed(ctx, "org1", "alice", "PUT", "dashboard:sales", ""); !allowed {
		t.Error("stale cached allow expected before invalidation")
	}

	e.Cache().InvalidateSubject("alice")
	if allowed, _ := e.IsAllowed(ctx, "org1", "alice", "PUT", "dashboard:sales", ""); allowed {
		t.Error("revocation must be visible after invalidation")
	}
}

// TestEngineFallback tests the store-unavailable fallback policies.
func TestEngineFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("deny", func(t *testing.T) {
		e := newTestEngine(&fakeRoleSource{err: store.ErrUnavailable}, config.FallbackDeny)
		allowed, err := e.IsAllowed(ctx, "org1", "alice", "GET", "dashboard:sales", "")
		if err != nil {
			t.Fatalf("fallback must not surface the outage: %v", err)
		}
		if allowed {
			t.Error("deny policy should deny")
		}
	})

	t.Run("allow", func(t *testing.T) {
		e := newTestEngine(&fakeRoleSource{err: store.ErrUnavailable}, config.FallbackAllow)
		allowed, err := e.IsAllowed(ctx, "org1", "alice", "DELETE", "dashboard:sales", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Error("allow policy should allow")
		}
	})

	t.Run("allow_read_only", func(t *testing.T) {
		e := newTestEngine(&fakeRoleSource{err: store.ErrUnavailable}, config.FallbackAllowReadOnly)

		allowed, err := e.IsAllowed(ctx, "org1", "alice", "GET", "dashboard:sales", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Error("read_only policy should allow GET")
		}

		allowed, err = e.IsAllowed(ctx, "org1", "alice", "DELETE", "dashboard:sales", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if allowed {
			t.Error("read_only policy must deny DELETE")
		}
	})

	t.Run("fallback_outcomes_are_never_cached", func(t *testing.T) {
		src := &fakeRoleSource{err: store.ErrUnavailable}
		e := newTestEngine(src, config.FallbackAllow)

		if _, err := e.IsAllowed(ctx, "org1", "alice", "GET", "dashboard:sales", ""); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if e.Cache().Len() != 0 {
			t.Fatal("fallback decision must not be cached")
		}

		// Once the store recovers the real answer replaces the
		// fallback immediately.
		src.err = nil
		allowed, err := e.IsAllowed(ctx, "org1", "alice", "GET", "dashboard:sales", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if allowed {
			t.Error("recovered store should deny the roleless subject")
		}
	})

	t.Run("other_errors_surface", func(t *testing.T) {
		boom := errors.New("boom")
		e := newTestEngine(&fakeRoleSource{err: boom}, config.FallbackAllow)
		if _, err := e.IsAllowed(ctx, "org1", "alice", "GET", "dashboard:sales", ""); !errors.Is(err, boom) {
			t.Errorf("expected wrapped boom, got %v", err)
		}
	})
}

// TestEngineBatch tests batch semantics.
func TestEngineBatch(t *testing.T) {
	ctx := context.Background()

	src := &fakeRoleSource{
		direct: map[string][]string{"alice": {"viewer"}},
		grants: map[string][]models.PermissionGrant{
			"viewer": {{ObjectPattern: "dashboard:sales", Permission: models.AllowGet}},
		},
	}
	e := newTestEngine(src, config.FallbackDeny)

	t.Run("mixed_results", func(t *testing.T) {
		results, err := e.IsAllowedBatch(ctx, "org1", "alice", []CheckPair{
			{Method: "GET", Object: "dashboard:sales"},
			{Method: "DELETE", Object: "dashboard:sales"},
		}, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !results[0] || results[1] {
			t.Errorf("results = %v, want [true false]", results)
		}
	})

	t.Run("first_error_aborts", func(t *testing.T) {
		_, err := e.IsAllowedBatch(ctx, "org1", "alice", []CheckPair{
			{Method: "GET", Object: "dashboard:sales"},
			{Method: "GET", Object: "garbage"},
		}, "")
		if !errors.Is(err, models.ErrInvalidObject) {
			t.Errorf("expected ErrInvalidObject, got %v", err)
		}
	})
}
