// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package models

import (
	"errors"
	"fmt"
	"strings"
)

// wildcardPrefix marks an entity id as the organization-wide wildcard.
// The full marker is "_all_{org_id}" so a pattern copied between
// organizations can never silently match in the wrong one.
const wildcardPrefix = "_all"

// ErrInvalidObject is returned for object strings that are not in
// "resource_type:entity_id" form.
var ErrInvalidObject = errors.New("invalid object format")

// ObjectRef is a parsed "resource_type:entity_id" reference.
type ObjectRef struct {
	Type   string
	Entity string
}

// ParseObject splits an object string into its resource type and entity id.
func ParseObject(object string) (ObjectRef, error) {
	typ, entity, ok := strings.Cut(object, ":")
	if !ok || typ == "" || entity == "" {
		return ObjectRef{}, fmt.Errorf("%w: %q", ErrInvalidObject, object)
	}
	return ObjectRef{Type: typ, Entity: entity}, nil
}

// String reassembles the canonical object form.
func (o ObjectRef) String() string {
	return o.Type + ":" + o.Entity
}

// IsWildcard reports whether the entity id is an organization-wide
// wildcard for the given organization. Bare "_all" is accepted for
// backward compatibility with older pattern writers.
func (o ObjectRef) IsWildcard(orgID string) bool {
	return o.Entity == wildcardPrefix+"_"+orgID || o.Entity == wildcardPrefix
}

// WildcardObject builds the organization-wide wildcard object for a
// resource type, e.g. WildcardObject("dashboard", "org1") returns
// "dashboard:_all_org1".
func WildcardObject(resourceType, orgID string) string {
	return resourceType + ":" + wildcardPrefix + "_" + orgID
}

// WildcardEntity returns the wildcard entity marker for an organization.
func WildcardEntity(orgID string) string {
	return wildcardPrefix + "_" + orgID
}
