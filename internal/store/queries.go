// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/visdata/gatekeeper/internal/models"
)

// DirectRoles returns the names of roles assigned directly to the user
// in the organization.
func (db *DB) DirectRoles(ctx context.Context, orgID, userID string) ([]string, error) {
	return db.queryStrings(ctx,
		`SELECT r.name FROM role_assignments ra
		 JOIN roles r ON r.id = ra.role_id
		 WHERE ra.org_id = ? AND ra.user_id = ?
		 ORDER BY r.name`,
		orgID, userID)
}

// GroupRoles returns the names of roles the user inherits through
// group membership in the organization. Groups link to roles one level
// deep; there is no group nesting.
func (db *DB) GroupRoles(ctx context.Context, orgID, userID string) ([]string, error) {
	return db.queryStrings(ctx,
		`SELECT DISTINCT r.name FROM user_group_members gm
		 JOIN user_groups g ON g.id = gm.group_id
		 JOIN user_group_roles gr ON gr.group_id = g.id
		 JOIN roles r ON r.id = gr.role_id
		 WHERE g.org_id = ? AND gm.user_id = ?
		 ORDER BY r.name`,
		orgID, userID)
}

// GrantsForRoles returns the union of permission grants held by the
// named roles in the organization.
func (db *DB) GrantsForRoles(ctx context.Context, orgID string, roleNames []string) ([]models.PermissionGrant, error) {
	if len(roleNames) == 0 {
		return []models.PermissionGrant{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(roleNames)), ",")
	args := make([]interface{}, 0, len(roleNames)+1)
	args = append(args, orgID)
	for _, name := range roleNames {
		args = append(args, name)
	}

	query := fmt.Sprintf(
		`SELECT g.id, g.role_id, g.object_pattern, g.permission, g.created_at
		 FROM role_grants g
		 JOIN roles r ON r.id = g.role_id
		 WHERE r.org_id = ? AND r.name IN (%s)
		 ORDER BY g.object_pattern, g.permission`, placeholders)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapQueryErr("grants for roles", err)
	}
	defer rows.Close()

	grants := []models.PermissionGrant{}
	for rows.Next() {
		var g models.PermissionGrant
		var kind string
		if err := rows.Scan(&g.ID, &g.RoleID, &g.ObjectPattern, &kind, &g.CreatedAt); err != nil {
			return nil, wrapQueryErr("scan grant", err)
		}
		perm, err := models.ParsePermissionKind(kind)
		if err != nil {
			return nil, fmt.Errorf("grant %d: %w", g.ID, err)
		}
		g.Permission = perm
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr("grants for roles", err)
	}
	return grants, nil
}

// SubjectsForRole returns every user who holds the role: directly
// assigned users plus members of groups linked to the role. Used to
// scope cache invalidation after a role mutation.
func (db *DB) SubjectsForRole(ctx context.Context, orgID, roleName string) ([]string, error) {
	role, err := db.getRoleLocked(ctx, orgID, roleName)
	if err != nil {
		return nil, err
	}

	return db.queryStrings(ctx,
		`SELECT user_id FROM role_assignments WHERE role_id = ?
		 UNION
		 SELECT gm.user_id FROM user_group_members gm
		 JOIN user_group_roles gr ON gr.group_id = gm.group_id
		 WHERE gr.role_id = ?
		 ORDER BY user_id`,
		role.ID, role.ID)
}

// SubjectsForGroup returns the members of a group. Used to scope cache
// invalidation after a group mutation.
func (db *DB) SubjectsForGroup(ctx context.Context, orgID, groupName string) ([]string, error) {
	group, err := db.getGroupLocked(ctx, orgID, groupName)
	if err != nil {
		return nil, err
	}
	return db.queryStrings(ctx,
		`SELECT user_id FROM user_group_members WHERE group_id = ? ORDER BY user_id`,
		group.ID)
}
