// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package authz

import (
	"context"
	"sort"

	"github.com/visdata/gatekeeper/internal/models"
)

// RoleSource supplies role membership and grants for a subject. The
// DuckDB store implements it; tests supply fakes.
type RoleSource interface {
	// DirectRoles returns roles assigned directly to the user.
	DirectRoles(ctx context.Context, orgID, userID string) ([]string, error)

	// GroupRoles returns roles inherited through group membership.
	// Resolution is one level deep: groups link to roles, never to
	// other groups.
	GroupRoles(ctx context.Context, orgID, userID string) ([]string, error)

	// GrantsForRoles returns the union of grants held by the roles.
	GrantsForRoles(ctx context.Context, orgID string, roleNames []string) ([]models.PermissionGrant, error)
}

// Resolver computes the effective roles and grants of a subject.
type Resolver struct {
	source RoleSource
}

// NewResolver creates a resolver over a role source.
func NewResolver(source RoleSource) *Resolver {
	return &Resolver{source: source}
}

// EffectiveRoles returns the deduplicated, sorted union of the user's
// direct roles and group-inherited roles in the organization.
func (r *Resolver) EffectiveRoles(ctx context.Context, orgID, userID string) ([]string, error) {
	direct, err := r.source.DirectRoles(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	inherited, err := r.source.GroupRoles(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(direct)+len(inherited))
	roles := make([]string, 0, len(direct)+len(inherited))
	for _, name := range direct {
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			roles = append(roles, name)
		}
	}
	for _, name := range inherited {
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			roles = append(roles, name)
		}
	}
	sort.Strings(roles)
	return roles, nil
}

// EffectiveGrants returns every grant the user holds through effective
// roles. A user with no roles gets an empty slice, not an error.
func (r *Resolver) EffectiveGrants(ctx context.Context, orgID, userID string) ([]models.PermissionGrant, error) {
	roles, err := r.EffectiveRoles(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return []models.PermissionGrant{}, nil
	}
	return r.source.GrantsForRoles(ctx, orgID, roles)
}
