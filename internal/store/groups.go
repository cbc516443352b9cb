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

// CreateGroup creates a group in the organization. Duplicate
// (org, name) pairs return ErrDuplicateEntry.
func (db *DB) CreateGroup(ctx context.Context, orgID, name, externalID string) (*models.Group, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.getGroupLocked(ctx, orgID, name); err == nil {
		return nil, fmt.Errorf("group %s/%s: %w", orgID, name, ErrDuplicateEntry)
	} else if !errors.Is(err, ErrGroupNotFound) {
		return nil, err
	}

	ts := now()
	group := &models.Group{OrgID: orgID, Name: name, ExternalID: externalID, CreatedAt: ts, UpdatedAt: ts}

	var extArg interface{}
	if externalID != "" {
		extArg = externalID
	}
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO user_groups (id, org_id, name, external_id, created_at, updated_at)
		 VALUES (nextval('seq_user_groups'), ?, ?, ?, ?, ?) RETURNING id`,
		orgID, name, extArg, ts, ts,
	).Scan(&group.ID)
	if err != nil {
		return nil, wrapQueryErr("create group", err)
	}
	return group, nil
}

// GetGroup returns a group by organization and name.
func (db *DB) GetGroup(ctx context.Context, orgID, name string) (*models.Group, error) {
	return db.getGroupLocked(ctx, orgID, name)
}

func (db *DB) getGroupLocked(ctx context.Context, orgID, name string) (*models.Group, error) {
	group := &models.Group{}
	var externalID sql.NullString
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, org_id, name, external_id, created_at, updated_at
		 FROM user_groups WHERE org_id = ? AND name = ?`,
		orgID, name,
	).Scan(&group.ID, &group.OrgID, &group.Name, &externalID, &group.CreatedAt, &group.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("group %s/%s: %w", orgID, name, ErrGroupNotFound)
	}
	if err != nil {
		return nil, wrapQueryErr("get group", err)
	}
	if externalID.Valid {
		group.ExternalID = externalID.String
	}
	return group, nil
}

// GetGroupDetail returns a group with its linked role names and members.
func (db *DB) GetGroupDetail(ctx context.Context, orgID, name string) (*models.GroupDetail, error) {
	group, err := db.getGroupLocked(ctx, orgID, name)
	if err != nil {
		return nil, err
	}

	roles, err := db.queryStrings(ctx,
		`SELECT r.name FROM user_group_roles gr
		 JOIN roles r ON r.id = gr.role_id
		 WHERE gr.group_id = ? ORDER BY r.name`, group.ID)
	if err != nil {
		return nil, err
	}

	users, err := db.queryStrings(ctx,
		`SELECT user_id FROM user_group_members WHERE group_id = ? ORDER BY user_id`, group.ID)
	if err != nil {
		return nil, err
	}

	return &models.GroupDetail{Group: *group, Roles: roles, Users: users}, nil
}

// ListGroups returns all groups in the organization ordered by name.
func (db *DB) ListGroups(ctx context.Context, orgID string) ([]*models.Group, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, org_id, name, external_id, created_at, updated_at
		 FROM user_groups WHERE org_id = ? ORDER BY name`, orgID)
	if err != nil {
		return nil, wrapQueryErr("list groups", err)
	}
	defer rows.Close()

	var groups []*models.Group
	for rows.Next() {
		group := &models.Group{}
		var externalID sql.NullString
		if err := rows.Scan(&group.ID, &group.OrgID, &group.Name, &externalID, &group.CreatedAt, &group.UpdatedAt); err != nil {
			return nil, wrapQueryErr("scan group", err)
		}
		if externalID.Valid {
			group.ExternalID = externalID.String
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr("list groups", err)
	}
	return groups, nil
}

// DeleteGroup removes a group and, in the same transaction, its role
// links and memberships.
func (db *DB) DeleteGroup(ctx context.Context, orgID, name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	group, err := db.getGroupLocked(ctx, orgID, name)
	if err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return wrapQueryErr("begin delete group", err)
	}
	defer rollbackQuietly(tx)

	steps := []string{
		`DELETE FROM user_group_roles WHERE group_id = ?`,
		`DELETE FROM user_group_members WHERE group_id = ?`,
		`DELETE FROM user_groups WHERE id = ?`,
	}
	for _, query := range steps {
		if _, err := tx.ExecContext(ctx, query, group.ID); err != nil {
			return wrapQueryErr("delete group", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapQueryErr("commit delete group", err)
	}
	return nil
}

// UpdateGroup applies a role/member delta to a group atomically. Role
// links reference roles in the same organization; linking an unknown
// role fails the whole update with ErrRoleNotFound.
func (db *DB) UpdateGroup(ctx context.Context, orgID, name string, upd models.GroupUpdate) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	group, err := db.getGroupLocked(ctx, orgID, name)
	if err != nil {
		return err
	}

	// Resolve role names outside the transaction; reads are safe here
	// because mutations hold db.mu.
	addRoleIDs := make([]int64, 0, len(upd.AddRoles))
	for _, roleName := range upd.AddRoles {
		role, err := db.getRoleLocked(ctx, orgID, roleName)
		if err != nil {
			return err
		}
		addRoleIDs = append(addRoleIDs, role.ID)
	}
	removeRoleIDs := make([]int64, 0, len(upd.RemoveRoles))
	for _, roleName := range upd.RemoveRoles {
		role, err := db.getRoleLocked(ctx, orgID, roleName)
		if err != nil {
			return err
		}
		removeRoleIDs = append(removeRoleIDs, role.ID)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return wrapQueryErr("begin update group", err)
	}
	defer rollbackQuietly(tx)

	ts := now()
	for _, roleID := range addRoleIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_group_roles (group_id, role_id, created_at)
			 SELECT ?, ?, ?
			 WHERE NOT EXISTS (
				SELECT 1 FROM user_group_roles WHERE group_id = ? AND role_id = ?
			 )`,
			group.ID, roleID, ts, group.ID, roleID,
		); err != nil {
			return wrapQueryErr("link role", err)
		}
	}
	for _, roleID := range removeRoleIDs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM user_group_roles WHERE group_id = ? AND role_id = ?`,
			group.ID, roleID,
		); err != nil {
			return wrapQueryErr("unlink role", err)
		}
	}
	for _, user := range upd.AddUsers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_group_members (group_id, user_id, created_at)
			 SELECT ?, ?, ?
			 WHERE NOT EXISTS (
				SELECT 1 FROM user_group_members WHERE group_id = ? AND user_id = ?
			 )`,
			group.ID, user, ts, group.ID, user,
		); err != nil {
			return wrapQueryErr("add member", err)
		}
	}
	for _, user := range upd.RemoveUsers {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM user_group_members WHERE group_id = ? AND user_id = ?`,
			group.ID, user,
		); err != nil {
			return wrapQueryErr("remove member", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE user_groups SET updated_at = ? WHERE id = ?`, ts, group.ID); err != nil {
		return wrapQueryErr("touch group", err)
	}

	if err := tx.Commit(); err != nil {
		return wrapQueryErr("commit update group", err)
	}
	return nil
}
