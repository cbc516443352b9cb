// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/visdata/gatekeeper/internal/models"
)

// CreateRole creates a role in the organization. Duplicate (org, name)
// pairs return ErrDuplicateEntry.
func (db *DB) CreateRole(ctx context.Context, orgID, name string, system bool) (*models.Role, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.getRoleLocked(ctx, orgID, name); err == nil {
		return nil, fmt.Errorf("role %s/%s: %w", orgID, name, ErrDuplicateEntry)
	} else if !errors.Is(err, ErrRoleNotFound) {
		return nil, err
	}

	ts := now()
	role := &models.Role{OrgID: orgID, Name: name, System: system, CreatedAt: ts, UpdatedAt: ts}

	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO roles (id, org_id, name, is_system, created_at, updated_at)
		 VALUES (nextval('seq_roles'), ?, ?, ?, ?, ?) RETURNING id`,
		orgID, name, system, ts, ts,
	).Scan(&role.ID)
	if err != nil {
		return nil, wrapQueryErr("create role", err)
	}
	return role, nil
}

// GetRole returns a role by organization and name.
func (db *DB) GetRole(ctx context.Context, orgID, name string) (*models.Role, error) {
	return db.getRoleLocked(ctx, orgID, name)
}

// getRoleLocked does not itself take the mutex; it is safe for reads
// and is reused inside locked mutation paths.
func (db *DB) getRoleLocked(ctx context.Context, orgID, name string) (*models.Role, error) {
	role := &models.Role{}
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, org_id, name, is_system, created_at, updated_at
		 FROM roles WHERE org_id = ? AND name = ?`,
		orgID, name,
	).Scan(&role.ID, &role.OrgID, &role.Name, &role.System, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("role %s/%s: %w", orgID, name, ErrRoleNotFound)
	}
	if err != nil {
		return nil, wrapQueryErr("get role", err)
	}
	return role, nil
}

// GetRoleDetail returns a role together with its grants and directly
// assigned users.
func (db *DB) GetRoleDetail(ctx context.Context, orgID, name string) (*models.RoleDetail, error) {
	role, err := db.getRoleLocked(ctx, orgID, name)
	if err != nil {
		return nil, err
	}

	detail := &models.RoleDetail{Role: *role, Grants: []models.PermissionGrant{}, Users: []string{}}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, role_id, object_pattern, permission, created_at
		 FROM role_grants WHERE role_id = ? ORDER BY object_pattern, permission`,
		role.ID)
	if err != nil {
		return nil, wrapQueryErr("list grants", err)
	}
	defer rows.Close()
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
		detail.Grants = append(detail.Grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr("list grants", err)
	}

	users, err := db.queryStrings(ctx,
		`SELECT user_id FROM role_assignments WHERE role_id = ? ORDER BY user_id`, role.ID)
	if err != nil {
		return nil, err
	}
	detail.Users = users

	return detail, nil
}

// ListRoles returns all roles in the organization ordered by name.
func (db *DB) ListRoles(ctx context.Context, orgID string) ([]*models.Role, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, org_id, name, is_system, created_at, updated_at
		 FROM roles WHERE org_id = ? ORDER BY name`, orgID)
	if err != nil {
		return nil, wrapQueryErr("list roles", err)
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		role := &models.Role{}
		if err := rows.Scan(&role.ID, &role.OrgID, &role.Name, &role.System, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, wrapQueryErr("scan role", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr("list roles", err)
	}
	return roles, nil
}

// DeleteRole removes a role and, in the same transaction, its grants,
// assignments, and group links. System roles cannot be deleted.
func (db *DB) DeleteRole(ctx context.Context, orgID, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	role, err := db.getRoleLocked(ctx, orgID, name)
	if err != nil {
		return err
	}
	if role.System {
		return fmt.Errorf("role %s/%s is a system role and cannot be deleted", orgID, name)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return wrapQueryErr("begin delete role", err)
	}
	defer rollbackQuietly(tx)

	steps := []struct {
		query string
		args  []interface{}
	}{
		{`DELETE FROM role_grants WHERE role_id = ?`, []interface{}{role.ID}},
		{`DELETE FROM role_assignments WHERE role_id = ?`, []interface{}{role.ID}},
		{`DELETE FROM user_group_roles WHERE role_id = ?`, []interface{}{role.ID}},
		{`DELETE FROM roles WHERE id = ?`, []interface{}{role.ID}},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, step.args...); err != nil {
			return wrapQueryErr("delete role", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapQueryErr("commit delete role", err)
	}
	return nil
}

// UpdateRole applies a grant/user delta to a role atomically. Grant
// adds are idempotent: re-granting an existing (object, permission)
// pair is a no-op, as is re-assigning an existing user.
func (db *DB) UpdateRole(ctx context.Context, orgID, name string, upd models.RoleUpdate) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	role, err := db.getRoleLocked(ctx, orgID, name)
	if err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return wrapQueryErr("begin update role", err)
	}
	defer rollbackQuietly(tx)

	ts := now()
	for _, g := range upd.Add {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_grants (id, role_id, object_pattern, permission, created_at)
			 SELECT nextval('seq_role_grants'), ?, ?, ?, ?
			 WHERE NOT EXISTS (
				SELECT 1 FROM role_grants WHERE role_id = ? AND object_pattern = ? AND permission = ?
			 )`,
			role.ID, g.ObjectPattern, g.Permission.String(), ts,
			role.ID, g.ObjectPattern, g.Permission.String(),
		); err != nil {
			return wrapQueryErr("add grant", err)
		}
	}
	for _, g := range upd.Remove {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM role_grants WHERE role_id = ? AND object_pattern = ? AND permission = ?`,
			role.ID, g.ObjectPattern, g.Permission.String(),
		); err != nil {
			return wrapQueryErr("remove grant", err)
		}
	}
	for _, user := range upd.AddUsers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_assignments (id, org_id, role_id, user_id, created_at)
			 SELECT nextval('seq_role_assignments'), ?, ?, ?, ?
			 WHERE NOT EXISTS (
				SELECT 1 FROM role_assignments WHERE role_id = ? AND user_id = ?
			 )`,
			orgID, role.ID, user, ts, role.ID, user,
		); err != nil {
			return wrapQueryErr("assign user", err)
		}
	}
	for _, user := range upd.RemoveUsers {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM role_assignments WHERE role_id = ? AND user_id = ?`,
			role.ID, user,
		); err != nil {
			return wrapQueryErr("unassign user", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE roles SET updated_at = ? WHERE id = ?`, ts, role.ID); err != nil {
		return wrapQueryErr("touch role", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapQueryErr("commit update role", err)
	}
	return nil
}

// EnsureSystemRoles creates the fixed system roles in the organization
// if they do not exist yet. Called at startup for each known org.
func (db *DB) EnsureSystemRoles(ctx context.Context, orgID string) error {
	for _, name := range models.SystemRoles() {
		_, err := db.CreateRole(ctx, orgID, name, true)
		if err != nil && !errors.Is(err, ErrDuplicateEntry) {
			return err
		}
	}
	return nil
}

func rollbackQuietly(tx *sql.Tx) {
	// Rollback after a successful commit returns sql.ErrTxDone, which
	// is expected.
	_ = tx.Rollback()
}

// queryStrings runs a query returning a single VARCHAR column.
func (db *DB) queryStrings(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapQueryErr("query", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, wrapQueryErr("scan", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr("query", err)
	}
	return out, nil
}
