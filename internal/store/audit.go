// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/visdata/gatekeeper/internal/logging"
	"github.com/visdata/gatekeeper/internal/models"
)

// AppendAudit records a committed mutation in the audit log. A missing
// ID or timestamp is filled in.
func (db *DB) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now()
	}

	var detail interface{}
	if entry.Detail != "" {
		detail = entry.Detail
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO rbac_audit_log (id, ts, actor, action, org_id, target, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp, entry.Actor, entry.Action, entry.OrgID, entry.Target, detail)
	if err != nil {
		return wrapQueryErr("append audit", err)
	}

	logging.Debug().
		Str("actor", entry.Actor).
		Str("action", entry.Action).
		Str("target", entry.Target).
		Str("org_id", entry.OrgID).
		Msg("Audit entry recorded")

	return nil
}

// ListAudit returns audit entries for the organization, newest first.
func (db *DB) ListAudit(ctx context.Context, orgID string, limit, offset int) ([]*models.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, ts, actor, action, org_id, target, detail
		 FROM rbac_audit_log WHERE org_id = ?
		 ORDER BY ts DESC LIMIT ? OFFSET ?`,
		orgID, limit, offset)
	if err != nil {
		return nil, wrapQueryErr("list audit", err)
	}
	defer rows.Close()

	entries := []*models.AuditEntry{}
	for rows.Next() {
		entry := &models.AuditEntry{}
		var detail sql.NullString
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Actor, &entry.Action,
			&entry.OrgID, &entry.Target, &detail); err != nil {
			return nil, wrapQueryErr("scan audit", err)
		}
		if detail.Valid {
			entry.Detail = detail.String
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryErr("list audit", err)
	}
	return entries, nil
}
