// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

// This file contains tests for permission kinds and the method table.
package models

import (
	"errors"
	"testing"
)

// TestParsePermissionKind tests kind parsing in both spellings.
func TestParsePermissionKind(t *testing.T) {
	t.Run("canonical_spellings", func(t *testing.T) {
		cases := map[string]PermissionKind{
			"AllowAll":    AllowAll,
			"AllowList":   AllowList,
			"AllowGet":    AllowGet,
			"AllowPost":   AllowPost,
			"AllowPut":    AllowPut,
			"AllowDelete": AllowDelete,
		}
		for in, want := range cases {
			got, err := ParsePermissionKind(in)
			if err != nil {
				t.Errorf("ParsePermissionKind(%q): unexpected error %v", in, err)
			}
			if got != want {
				t.Errorf("ParsePermissionKind(%q) = %v, want %v", in, got, want)
			}
		}
	})

	t.Run("snake_case_spellings", func(t *testing.T) {
		got, err := ParsePermissionKind("allow_delete")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != AllowDelete {
			t.Errorf("got %v, want AllowDelete", got)
		}
	})

	t.Run("unknown_kind", func(t *testing.T) {
		_, err := ParsePermissionKind("AllowEverything")
		if !errors.Is(err, ErrUnknownPermission) {
			t.Errorf("expected ErrUnknownPermission, got %v", err)
		}
	})

	t.Run("empty_string", func(t *testing.T) {
		_, err := ParsePermissionKind("")
		if !errors.Is(err, ErrUnknownPermission) {
			t.Errorf("expected ErrUnknownPermission, got %v", err)
		}
	})
}

// TestPermissionImplies tests that AllowAll implies everything and
// every other kind implies only itself.
func TestPermissionImplies(t *testing.T) {
	all := []PermissionKind{AllowAll, AllowList, AllowGet, AllowPost, AllowPut, AllowDelete}

	t.Run("allow_all_implies_everything", func(t *testing.T) {
		for _, required := range all {
			if !AllowAll.Implies(required) {
				t.Errorf("AllowAll should imply %v", required)
			}
		}
	})

	t.Run("specific_kinds_imply_only_themselves", func(t *testing.T) {
		for _, kind := range all[1:] {
			for _, required := range all {
				want := kind == required
				if got := kind.Implies(required); got != want {
					t.Errorf("%v.Implies(%v) = %v, want %v", kind, required, got, want)
				}
			}
		}
	})

	t.Run("allow_get_does_not_imply_list", func(t *testing.T) {
		if AllowGet.Implies(AllowList) {
			t.Error("AllowGet must not satisfy a collection read")
		}
	})
}

// TestMethodTable tests method to permission kind resolution.
func TestMethodTable(t *testing.T) {
	table := DefaultMethodTable()

	t.Run("entity_mapping", func(t *testing.T) {
		cases := map[string]PermissionKind{
			"GET":    AllowGet,
			"HEAD":   AllowGet,
			"POST":   AllowPost,
			"PUT":    AllowPut,
			"PATCH":  AllowPut,
			"DELETE": AllowDelete,
		}
		for method, want := range cases {
			got, err := table.Kind(method, false)
			if err != nil {
				t.Errorf("Kind(%q, entity): unexpected error %v", method, err)
			}
			if got != want {
				t.Errorf("Kind(%q, entity) = %v, want %v", method, got, want)
			}
		}
	})

	t.Run("collection_get_requires_list", func(t *testing.T) {
		got, err := table.Kind("GET", true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != AllowList {
			t.Errorf("collection GET = %v, want AllowList", got)
		}
	})

	t.Run("method_case_insensitive", func(t *testing.T) {
		got, err := table.Kind("delete", false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != AllowDelete {
			t.Errorf("got %v, want AllowDelete", got)
		}
	})

	t.Run("unmapped_method_is_error", func(t *testing.T) {
		for _, method := range []string{"OPTIONS", "TRACE", "CONNECT", "BREW"} {
			if _, err := table.Kind(method, false); !errors.Is(err, ErrUnmappedMethod) {
				t.Errorf("Kind(%q): expected ErrUnmappedMethod, got %v", method, err)
			}
		}
	})
}

// TestReadOnlyMethod tests the fallback policy's read classification.
func TestReadOnlyMethod(t *testing.T) {
	reads := []string{"GET", "get", "HEAD"}
	writes := []string{"POST", "PUT", "PATCH", "DELETE", "OPTIONS"}

	for _, method := range reads {
		if !ReadOnlyMethod(method) {
			t.Errorf("ReadOnlyMethod(%q) = false, want true", method)
		}
	}
	for _, method := range writes {
		if ReadOnlyMethod(method) {
			t.Errorf("ReadOnlyMethod(%q) = true, want false", method)
		}
	}
}
