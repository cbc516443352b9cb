// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

// Package models defines the domain types shared across Gatekeeper:
// permission kinds, object patterns, the resource catalog, and the
// role/group/session records persisted by the stores.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// PermissionKind is the closed set of permission grant kinds.
// A grant attaches exactly one kind to one object pattern.
type PermissionKind string

const (
	// AllowAll grants every operation on the matched objects.
	AllowAll PermissionKind = "AllowAll"

	// AllowList grants collection-shaped reads.
	AllowList PermissionKind = "AllowList"

	// AllowGet grants entity-shaped reads.
	AllowGet PermissionKind = "AllowGet"

	// AllowPost grants creation.
	AllowPost PermissionKind = "AllowPost"

	// AllowPut grants updates (PUT and PATCH).
	AllowPut PermissionKind = "AllowPut"

	// AllowDelete grants deletion.
	AllowDelete PermissionKind = "AllowDelete"
)

// ErrUnknownPermission is returned when parsing an unrecognized kind.
var ErrUnknownPermission = errors.New("unknown permission kind")

// ErrUnmappedMethod is returned when a method has no entry in the
// method table. Unmapped methods are a hard error, never a default.
var ErrUnmappedMethod = errors.New("method has no permission mapping")

// ParsePermissionKind converts a string to a PermissionKind.
// Accepts both "AllowGet" and "allow_get" spellings for API compatibility.
func ParsePermissionKind(s string) (PermissionKind, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "allowall":
		return AllowAll, nil
	case "allowlist":
		return AllowList, nil
	case "allowget":
		return AllowGet, nil
	case "allowpost":
		return AllowPost, nil
	case "allowput":
		return AllowPut, nil
	case "allowdelete":
		return AllowDelete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPermission, s)
	}
}

// Valid reports whether k is one of the defined kinds.
func (k PermissionKind) Valid() bool {
	switch k {
	case AllowAll, AllowList, AllowGet, AllowPost, AllowPut, AllowDelete:
		return true
	default:
		return false
	}
}

// Implies reports whether a grant of kind k satisfies a request
// requiring kind other. AllowAll satisfies everything; all other
// kinds satisfy only themselves.
func (k PermissionKind) Implies(other PermissionKind) bool {
	if k == AllowAll {
		return true
	}
	return k == other
}

// String returns the canonical spelling of the kind.
func (k PermissionKind) String() string {
	return string(k)
}

// MethodTable maps request methods to permission kinds. Entity and
// collection-shaped requests may map differently for the same method
// (GET vs. list). The distinction between AllowList and AllowGet for
// collection GETs is deliberately a configuration choice, not a
// hardcoded default.
type MethodTable struct {
	Entity     map[string]PermissionKind
	Collection map[string]PermissionKind
}

// DefaultMethodTable returns the standard method mapping:
// GET resolves to AllowGet for entities and AllowList for collections;
// POST, PUT/PATCH, and DELETE resolve to their matching kinds for both
// shapes. HEAD is treated as GET.
func DefaultMethodTable() MethodTable {
	entity := map[string]PermissionKind{
		"GET":    AllowGet,
		"HEAD":   AllowGet,
		"POST":   AllowPost,
		"PUT":    AllowPut,
		"PATCH":  AllowPut,
		"DELETE": AllowDelete,
	}
	collection := map[string]PermissionKind{
		"GET":    AllowList,
		"HEAD":   AllowList,
		"POST":   AllowPost,
		"PUT":    AllowPut,
		"PATCH":  AllowPut,
		"DELETE": AllowDelete,
	}
	return MethodTable{Entity: entity, Collection: collection}
}

// Kind resolves a method and target shape to a permission kind.
// Returns ErrUnmappedMethod for methods absent from the table.
func (t MethodTable) Kind(method string, isCollection bool) (PermissionKind, error) {
	m := strings.ToUpper(method)
	table := t.Entity
	if isCollection {
		table = t.Collection
	}
	kind, ok := table[m]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnmappedMethod, method)
	}
	return kind, nil
}

// ReadOnlyMethod reports whether a method is read-shaped. Used by the
// AllowReadOnly fallback policy when the durable store is unreachable.
func ReadOnlyMethod(method string) bool {
	switch strings.ToUpper(method) {
	case "GET", "HEAD":
		return true
	default:
		return false
	}
}
