// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

// This file contains tests for the pure permission matcher.
package authz

import (
	"testing"

	"github.com/visdata/gatekeeper/internal/models"
)

func grant(pattern string, kind models.PermissionKind) models.PermissionGrant {
	return models.PermissionGrant{ObjectPattern: pattern, Permission: kind}
}

func target(t *testing.T, object string) models.ObjectRef {
	t.Helper()
	ref, err := models.ParseObject(object)
	if err != nil {
		t.Fatalf("ParseObject(%q): %v", object, err)
	}
	return ref
}

// TestDecide tests grant matching against a target object.
func TestDecide(t *testing.T) {
	t.Run("exact_entity_match", func(t *testing.T) {
		grants := []models.PermissionGrant{grant("dashboard:sales", models.AllowGet)}
		if !Decide(grants, models.AllowGet, target(t, "dashboard:sales"), "org1") {
			t.Error("exact grant should allow")
		}
	})

	t.Run("no_grants_denies", func(t *testing.T) {
		if Decide(nil, models.AllowGet, target(t, "dashboard:sales"), "org1") {
			t.Error("empty grant set must deny")
		}
	})

	t.Run("different_entity_denies", func(t *testing.T) {
		grants := []models.PermissionGrant{grant("dashboard:sales", models.AllowGet)}
		if Decide(grants, models.AllowGet, target(t, "dashboard:marketing"), "org1") {
			t.Error("grant on another entity must not match")
		}
	})

	t.Run("different_resource_type_denies", func(t *testing.T) {
		grants := []models.PermissionGrant{grant("dashboard:sales", models.AllowAll)}
		if Decide(grants, models.AllowGet, target(t, "report:sales"), "org1") {
			t.Error("grant on another resource type must not match")
		}
	})

	t.Run("kind_must_imply_required", func(t *testing.T) {
		grants := []models.PermissionGrant{grant("dashboard:sales", models.AllowGet)}
		if Decide(grants, models.AllowDelete, target(t, "dashboard:sales"), "org1") {
			t.Error("AllowGet must not satisfy AllowDelete")
		}
	})

	t.Run("allow_all_satisfies_any_kind", func(t *testing.T) {
		grants := []models.PermissionGrant{grant("dashboard:sales", models.AllowAll)}
		for _, required := range []models.PermissionKind{
			models.AllowGet, models.AllowPost, models.AllowPut, models.AllowDelete,
		} {
			if !Decide(grants, required, target(t, "dashboard:sales"), "org1") {
				t.Errorf("AllowAll should satisfy %v", required)
			}
		}
	})

	t.Run("org_wildcard_matches_any_entity", func(t *testing.T) {
		grants := []models.PermissionGrant{grant("dashboard:_all_org1", models.AllowAll)}
		for _, object := range []string{"dashboard:sales", "dashboard:marketing", "dashboard:_all_org1"} {
			if !Decide(grants, models.AllowGet, target(t, object), "org1") {
				t.Errorf("wildcard grant should cover %s", object)
			}
		}
	})

	t.Run("wildcard_never_leaks_across_orgs", func(t *testing.T) {
		grants := []models.PermissionGrant{grant("dashboard:_all_org1", models.AllowAll)}
		if Decide(grants, models.AllowGet, target(t, "dashboard:sales"), "org2") {
			t.Error("org1 wildcard must not match in org2")
		}
	})

	t.Run("wildcard_grant_satisfies_list", func(t *testing.T) {
		grants := []models.PermissionGrant{grant("dashboard:_all_org1", models.AllowAll)}
		if !Decide(grants, models.AllowList, target(t, "dashboard:_all_org1"), "org1") {
			t.Error("wildcard AllowAll should satisfy a collection read")
		}
	})

	t.Run("entity_get_does_not_satisfy_list", func(t *testing.T) {
		grants := []models.PermissionGrant{grant("dashboard:sales", models.AllowGet)}
		if Decide(grants, models.AllowList, target(t, "dashboard:_all_org1"), "org1") {
			t.Error("an entity-scoped AllowGet must not satisfy a list")
		}
	})

	t.Run("malformed_grant_is_skipped", func(t *testing.T) {
		grants := []models.PermissionGrant{
			grant("not-an-object", models.AllowAll),
			grant("", models.AllowAll),
			grant("dashboard:", models.AllowAll),
		}
		if Decide(grants, models.AllowGet, target(t, "dashboard:sales"), "org1") {
			t.Error("malformed grants must never widen access")
		}
	})

	t.Run("first_matching_grant_wins", func(t *testing.T) {
		grants := []models.PermissionGrant{
			grant("dashboard:other", models.AllowAll),
			grant("dashboard:sales", models.AllowPut),
		}
		if !Decide(grants, models.AllowPut, target(t, "dashboard:sales"), "org1") {
			t.Error("later grants must still be considered")
		}
	})
}
