// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package models

import (
	"strings"
	"time"
)

// System role names. System roles exist in every organization and
// cannot be created or deleted through the mutation service.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"

	// RoleRoot marks the super-administrator. Root bypasses permission
	// evaluation entirely; it is a claim on the identity, not a stored role.
	RoleRoot = "root"
)

// systemRoles are the fixed, non-deletable role names.
var systemRoles = []string{RoleAdmin, RoleEditor, RoleViewer}

// IsSystemRole reports whether name is a reserved system role
// (case-insensitive).
func IsSystemRole(name string) bool {
	for _, r := range systemRoles {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

// SystemRoles returns the reserved role names.
func SystemRoles() []string {
	out := make([]string, len(systemRoles))
	copy(out, systemRoles)
	return out
}

// Role is an organization-scoped named set of permission grants.
type Role struct {
	ID        int64     `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	System    bool      `json:"system"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PermissionGrant attaches one permission kind to one object pattern
// within a role. (role, object_pattern, permission) is unique.
type PermissionGrant struct {
	ID            int64          `json:"id"`
	RoleID        int64          `json:"-"`
	ObjectPattern string         `json:"object"`
	Permission    PermissionKind `json:"permission"`
	CreatedAt     time.Time      `json:"created_at"`
}

// RoleAssignment links a user directly to a role within an organization.
type RoleAssignment struct {
	ID        int64     `json:"id"`
	OrgID     string    `json:"org_id"`
	RoleID    int64     `json:"role_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Group is an organization-scoped collection of users that inherit the
// group's linked roles. ExternalID correlates the group with an
// SSO provider group for membership sync.
type Group struct {
	ID         int64     `json:"id"`
	OrgID      string    `json:"org_id"`
	Name       string    `json:"name"`
	ExternalID string    `json:"external_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RoleDetail is the full view of a role: its grants and assigned users.
type RoleDetail struct {
	Role
	Grants []PermissionGrant `json:"permissions"`
	Users  []string          `json:"users"`
}

// GroupDetail is the full view of a group: its linked roles and members.
type GroupDetail struct {
	Group
	Roles []string `json:"roles"`
	Users []string `json:"users"`
}

// RoleUpdate is the delta applied by the role update operation.
type RoleUpdate struct {
	Add         []PermissionGrant `json:"add,omitempty"`
	Remove      []PermissionGrant `json:"remove,omitempty"`
	AddUsers    []string          `json:"add_users,omitempty"`
	RemoveUsers []string          `json:"remove_users,omitempty"`
}

// GroupUpdate is the delta applied by the group update operation.
// Groups carry roles where roles carry grants.
type GroupUpdate struct {
	AddRoles    []string `json:"add_roles,omitempty"`
	RemoveRoles []string `json:"remove_roles,omitempty"`
	AddUsers    []string `json:"add_users,omitempty"`
	RemoveUsers []string `json:"remove_users,omitempty"`
}

// Mutation audit actions.
const (
	AuditActionCreate   = "create"
	AuditActionDelete   = "delete"
	AuditActionGrant    = "grant"
	AuditActionRevoke   = "revoke"
	AuditActionAssign   = "assign"
	AuditActionUnassign = "unassign"
	AuditActionLink     = "link"
	AuditActionUnlink   = "unlink"
)

// AuditEntry records one committed mutation for the audit trail.
type AuditEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	OrgID     string    `json:"org_id"`
	Target    string    `json:"target"`
	Detail    string    `json:"detail,omitempty"`
}
