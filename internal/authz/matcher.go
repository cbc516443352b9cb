// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

// Package authz implements the authorization decision engine: role and
// group resolution, pure permission matching, the TTL decision cache,
// the mutation service, and the cross-instance invalidation bus.
package authz

import (
	"github.com/visdata/gatekeeper/internal/models"
)

// Decide evaluates a set of permission grants against a required
// permission kind and a target object. It is pure: no I/O, no clock,
// no state. A grant matches when its object pattern covers the target
// (exact entity match, or the organization-wide wildcard for the same
// resource type) and its kind implies the required kind.
//
// Grants whose object pattern fails to parse are skipped, not treated
// as matches: a malformed grant must never widen access.
func Decide(grants []models.PermissionGrant, required models.PermissionKind, target models.ObjectRef, orgID string) bool {
	for _, grant := range grants {
		pattern, err := models.ParseObject(grant.ObjectPattern)
		if err != nil {
			continue
		}
		if pattern.Type != target.Type {
			continue
		}
		if pattern.Entity != target.Entity && !pattern.IsWildcard(orgID) {
			continue
		}
		if grant.Permission.Implies(required) {
			return true
		}
	}
	return false
}
