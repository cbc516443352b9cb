// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/visdata/gatekeeper/internal/logging"
	"github.com/visdata/gatekeeper/internal/models"
	"github.com/visdata/gatekeeper/internal/validation"
)

// wideInvalidationThreshold caps per-subject invalidation fan-out.
// Above it a mutation clears the whole cache instead of enumerating.
const wideInvalidationThreshold = 500

// MutationStore is the slice of the RBAC store the mutation service
// uses. The DuckDB store implements it; tests supply fakes.
type MutationStore interface {
	CreateRole(ctx context.Context, orgID, name string, system bool) (*models.Role, error)
	GetRoleDetail(ctx context.Context, orgID, name string) (*models.RoleDetail, error)
	ListRoles(ctx context.Context, orgID string) ([]*models.Role, error)
	UpdateRole(ctx context.Context, orgID, name string, upd models.RoleUpdate) error
	DeleteRole(ctx context.Context, orgID, name string) error

	CreateGroup(ctx context.Context, orgID, name, externalID string) (*models.Group, error)
	GetGroupDetail(ctx context.Context, orgID, name string) (*models.GroupDetail, error)
	ListGroups(ctx context.Context, orgID string) ([]*models.Group, error)
	UpdateGroup(ctx context.Context, orgID, name string, upd models.GroupUpdate) error
	DeleteGroup(ctx context.Context, orgID, name string) error

	SubjectsForRole(ctx context.Context, orgID, roleName string) ([]string, error)
	SubjectsForGroup(ctx context.Context, orgID, groupName string) ([]string, error)
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
}

// Mutator applies RBAC mutations with strict commit-then-invalidate
// ordering: the durable write commits first; only then is the local
// cache invalidated and an event published for other replicas. A
// failed write performs no invalidation at all.
type Mutator struct {
	store MutationStore
	cache *DecisionCache
	bus   *InvalidationBus
}

// NewMutator creates the mutation service. bus may be nil for
// single-instance deployments without an event bus.
func NewMutator(store MutationStore, cache *DecisionCache, bus *InvalidationBus) *Mutator {
	return &Mutator{store: store, cache: cache, bus: bus}
}

// CreateRoleRequest creates an empty role.
type CreateRoleRequest struct {
	OrgID string `json:"org_id" validate:"required"`
	Name  string `json:"name" validate:"required,min=1,max=128"`
}

// GrantInput is one grant in wire form.
type GrantInput struct {
	Object     string `json:"object" validate:"required,objectpattern"`
	Permission string `json:"permission" validate:"required,permissionkind"`
}

// UpdateRoleRequest is the delta applied to a role.
type UpdateRoleRequest struct {
	OrgID       string       `json:"org_id" validate:"required"`
	Name        string       `json:"name" validate:"required"`
	Add         []GrantInput `json:"add" validate:"dive"`
	Remove      []GrantInput `json:"remove" validate:"dive"`
	AddUsers    []string     `json:"add_users"`
	RemoveUsers []string     `json:"remove_users"`
}

// CreateGroupRequest creates an empty group.
type CreateGroupRequest struct {
	OrgID      string `json:"org_id" validate:"required"`
	Name       string `json:"name" validate:"required,min=1,max=128"`
	ExternalID string `json:"external_id"`
}

// UpdateGroupRequest is the delta applied to a group.
type UpdateGroupRequest struct {
	OrgID       string   `json:"org_id" validate:"required"`
	Name        string   `json:"name" validate:"required"`
	AddRoles    []string `json:"add_roles"`
	RemoveRoles []string `json:"remove_roles"`
	AddUsers    []string `json:"add_users"`
	RemoveUsers []string `json:"remove_users"`
}

// CreateRole creates a non-system role. Creating a role named after a
// system role is rejected.
func (m *Mutator) CreateRole(ctx context.Context, actor string, req CreateRoleRequest) (*models.Role, error) {
	if err := validation.ValidateStruct(&req); err != nil {
		return nil, err
	}
	if models.IsSystemRole(req.Name) {
		return nil, fmt.Errorf("role name %q is reserved for system roles", req.Name)
	}

	role, err := m.store.CreateRole(ctx, req.OrgID, req.Name, false)
	if err != nil {
		return nil, err
	}

	m.audit(ctx, actor, models.AuditActionCreate, req.OrgID, "role:"+req.Name, "")
	// No invalidation: a fresh role has no holders.
	return role, nil
}

// GetRole returns a role with its grants and assignees.
func (m *Mutator) GetRole(ctx context.Context, orgID, name string) (*models.RoleDetail, error) {
	return m.store.GetRoleDetail(ctx, orgID, name)
}

// ListRoles returns the organization's roles.
func (m *Mutator) ListRoles(ctx context.Context, orgID string) ([]*models.Role, error) {
	return m.store.ListRoles(ctx, orgID)
}

// UpdateRole applies a grant/user delta to a role. Grant and
// assignment adds are idempotent. On commit the cached decisions of
// every subject holding the role (including just-removed users) are
// invalidated and an event is published.
func (m *Mutator) UpdateRole(ctx context.Context, actor string, req UpdateRoleRequest) error {
	if err := validation.ValidateStruct(&req); err != nil {
		return err
	}

	upd := models.RoleUpdate{
		AddUsers:    req.AddUsers,
		RemoveUsers: req.RemoveUsers,
	}
	for _, g := range req.Add {
		kind, err := models.ParsePermissionKind(g.Permission)
		if err != nil {
			return err
		}
		upd.Add = append(upd.Add, models.PermissionGrant{ObjectPattern: g.Object, Permission: kind})
	}
	for _, g := range req.Remove {
		kind, err := models.ParsePermissionKind(g.Permission)
		if err != nil {
			return err
		}
		upd.Remove = append(upd.Remove, models.PermissionGrant{ObjectPattern: g.Object, Permission: kind})
	}

	if err := m.store.UpdateRole(ctx, req.OrgID, req.Name, upd); err != nil {
		return err
	}

	m.audit(ctx, actor, models.AuditActionGrant, req.OrgID, "role:"+req.Name, describeRoleUpdate(req))

	subjects, err := m.store.SubjectsForRole(ctx, req.OrgID, req.Name)
	if err != nil {
		// Enumeration failed after a successful commit; clearing
		// everything keeps the cache consistent.
		logging.Warn().Err(err).Str("role", req.Name).Msg("Subject enumeration failed, clearing decision cache")
		m.invalidateAll(ctx)
		return nil
	}
	subjects = append(subjects, req.RemoveUsers...)
	m.invalidateSubjects(ctx, subjects)
	return nil
}

// DeleteRole removes a non-system role. Subjects are captured before
// the delete so their cached decisions can still be invalidated after
// commit.
func (m *Mutator) DeleteRole(ctx context.Context, actor, orgID, name string) error {
	if models.IsSystemRole(name) {
		return fmt.Errorf("system role %q cannot be deleted", name)
	}

	subjects, err := m.store.SubjectsForRole(ctx, orgID, name)
	if err != nil {
		subjects = nil // fall back to a full clear after commit
	}

	if err := m.store.DeleteRole(ctx, orgID, name); err != nil {
		return err
	}

	m.audit(ctx, actor, models.AuditActionDelete, orgID, "role:"+name, "")

	if subjects == nil {
		m.invalidateAll(ctx)
		return nil
	}
	m.invalidateSubjects(ctx, subjects)
	return nil
}

// CreateGroup creates an empty group.
func (m *Mutator) CreateGroup(ctx context.Context, actor string, req CreateGroupRequest) (*models.Group, error) {
	if err := validation.ValidateStruct(&req); err != nil {
		return nil, err
	}

	group, err := m.store.CreateGroup(ctx, req.OrgID, req.Name, req.ExternalID)
	if err != nil {
		return nil, err
	}

	m.audit(ctx, actor, models.AuditActionCreate, req.OrgID, "group:"+req.Name, "")
	return group, nil
}

// GetGroup returns a group with its linked roles and members.
func (m *Mutator) GetGroup(ctx context.Context, orgID, name string) (*models.GroupDetail, error) {
	return m.store.GetGroupDetail(ctx, orgID, name)
}

// ListGroups returns the organization's groups.
func (m *Mutator) ListGroups(ctx context.Context, orgID string) ([]*models.Group, error) {
	return m.store.ListGroups(ctx, orgID)
}

// UpdateGroup applies a role/member delta to a group, invalidating
// members (including just-removed ones) after commit.
func (m *Mutator) UpdateGroup(ctx context.Context, actor string, req UpdateGroupRequest) error {
	if err := validation.ValidateStruct(&req); err != nil {
		return err
	}

	upd := models.GroupUpdate{
		AddRoles:    req.AddRoles,
		RemoveRoles: req.RemoveRoles,
		AddUsers:    req.AddUsers,
		RemoveUsers: req.RemoveUsers,
	}
	if err := m.store.UpdateGroup(ctx, req.OrgID, req.Name, upd); err != nil {
		return err
	}

	m.audit(ctx, actor, models.AuditActionLink, req.OrgID, "group:"+req.Name, describeGroupUpdate(req))

	subjects, err := m.store.SubjectsForGroup(ctx, req.OrgID, req.Name)
	if err != nil {
		logging.Warn().Err(err).Str("group", req.Name).Msg("Member enumeration failed, clearing decision cache")
		m.invalidateAll(ctx)
		return nil
	}
	subjects = append(subjects, req.RemoveUsers...)
	m.invalidateSubjects(ctx, subjects)
	return nil
}

// DeleteGroup removes a group, invalidating its members after commit.
func (m *Mutator) DeleteGroup(ctx context.Context, actor, orgID, name string) error {
	subjects, err := m.store.SubjectsForGroup(ctx, orgID, name)
	if err != nil {
		subjects = nil
	}

	if err := m.store.DeleteGroup(ctx, orgID, name); err != nil {
		return err
	}

	m.audit(ctx, actor, models.AuditActionDelete, orgID, "group:"+name, "")

	if subjects == nil {
		m.invalidateAll(ctx)
		return nil
	}
	m.invalidateSubjects(ctx, subjects)
	return nil
}

// invalidateSubjects drops cached decisions for the subjects locally
// and publishes one event per subject. Wide fan-outs collapse to a
// full clear.
func (m *Mutator) invalidateSubjects(ctx context.Context, subjects []string) {
	if len(subjects) > wideInvalidationThreshold {
		m.invalidateAll(ctx)
		return
	}

	seen := make(map[string]struct{}, len(subjects))
	for _, subject := range subjects {
		if _, dup := seen[subject]; dup {
			continue
		}
		seen[subject] = struct{}{}

		m.cache.InvalidateSubject(subject)
		m.publish(ctx, ScopeSubject, subject)
	}
}

func (m *Mutator) invalidateAll(ctx context.Context) {
	m.cache.InvalidateAll()
	m.publish(ctx, ScopeAll, "")
}

// publish sends an invalidation event. Publish failures are logged,
// not surfaced: the durable write committed and the local cache is
// already consistent; remote replicas converge when their TTL expires.
func (m *Mutator) publish(ctx context.Context, scope, value string) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, scope, value); err != nil {
		logging.Warn().Err(err).Str("scope", scope).Str("value", value).Msg("Failed to publish invalidation event")
	}
}

// audit records the mutation. Audit failures are logged, not surfaced.
func (m *Mutator) audit(ctx context.Context, actor, action, orgID, target, detail string) {
	entry := &models.AuditEntry{
		Actor:  actor,
		Action: action,
		OrgID:  orgID,
		Target: target,
		Detail: detail,
	}
	if err := m.store.AppendAudit(ctx, entry); err != nil {
		logging.Warn().Err(err).Str("action", action).Str("target", target).Msg("Failed to record audit entry")
	}
}

func describeRoleUpdate(req UpdateRoleRequest) string {
	var parts []string
	if len(req.Add) > 0 {
		parts = append(parts, fmt.Sprintf("add %d grants", len(req.Add)))
	}
	if len(req.Remove) > 0 {
		parts = append(parts, fmt.Sprintf("remove %d grants", len(req.Remove)))
	}
	if len(req.AddUsers) > 0 {
		parts = append(parts, fmt.Sprintf("assign %d users", len(req.AddUsers)))
	}
	if len(req.RemoveUsers) > 0 {
		parts = append(parts, fmt.Sprintf("unassign %d users", len(req.RemoveUsers)))
	}
	return strings.Join(parts, ", ")
}

func describeGroupUpdate(req UpdateGroupRequest) string {
	var parts []string
	if len(req.AddRoles) > 0 {
		parts = append(parts, fmt.Sprintf("link %d roles", len(req.AddRoles)))
	}
	if len(req.RemoveRoles) > 0 {
		parts = append(parts, fmt.Sprintf("unlink %d roles", len(req.RemoveRoles)))
	}
	if len(req.AddUsers) > 0 {
		parts = append(parts, fmt.Sprintf("add %d members", len(req.AddUsers)))
	}
	if len(req.RemoveUsers) > 0 {
		parts = append(parts, fmt.Sprintf("remove %d members", len(req.RemoveUsers)))
	}
	return strings.Join(parts, ", ")
}
