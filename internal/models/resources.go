// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package models

import "sort"

// Resource describes one protectable resource type on the platform.
type Resource struct {
	// Key is the resource type key used in object patterns (e.g. "logs").
	Key string `json:"key"`

	// Label is the display name shown in role editors.
	Label string `json:"display_name"`

	// Parent is the parent resource type key, empty for top-level types.
	Parent string `json:"parent,omitempty"`

	// Order controls display ordering.
	Order int `json:"order"`

	// Visible controls whether the type appears in role editors.
	Visible bool `json:"visible"`

	// TopLevel is true for types without a parent.
	TopLevel bool `json:"top_level"`

	// HasEntities is false for singleton types (settings, org) that
	// only ever match through the wildcard pattern.
	HasEntities bool `json:"has_entities"`
}

func resource(key, label, parent string, order int, visible, hasEntities bool) Resource {
	return Resource{
		Key:         key,
		Label:       label,
		Parent:      parent,
		Order:       order,
		Visible:     visible,
		TopLevel:    parent == "",
		HasEntities: hasEntities,
	}
}

// resourceCatalog holds every resource type the platform protects.
// Adding a type here is all that is needed for the matcher and the
// mutation service to accept grants against it.
var resourceCatalog = map[string]Resource{
	// Core types
	"user":  resource("user", "Users", "", 1, true, true),
	"group": resource("group", "Groups", "", 2, true, true),
	"role":  resource("role", "Roles", "", 3, true, true),
	"org":   resource("org", "Organizations", "", 4, true, false),

	// Stream hierarchy
	"stream":  resource("stream", "Streams", "", 10, false, true),
	"logs":    resource("logs", "Logs", "stream", 11, true, true),
	"metrics": resource("metrics", "Metrics", "stream", 12, true, true),
	"traces":  resource("traces", "Traces", "stream", 13, true, true),
	"index":   resource("index", "Index", "stream", 15, true, true),

	// Dashboard hierarchy
	"dfolder":    resource("dfolder", "Dashboard Folders", "", 20, true, true),
	"dashboard":  resource("dashboard", "Dashboards", "dfolder", 21, true, true),
	"template":   resource("template", "Templates", "", 22, true, true),
	"savedviews": resource("savedviews", "Saved Views", "", 23, true, true),

	// Alerting and reporting
	"afolder":     resource("afolder", "Alert Folders", "", 30, true, true),
	"alert":       resource("alert", "Alerts", "afolder", 31, true, true),
	"destination": resource("destination", "Destinations", "", 32, true, true),
	"rfolder":     resource("rfolder", "Report Folders", "", 40, true, true),
	"report":      resource("report", "Reports", "rfolder", 41, true, true),

	// Processing
	"function": resource("function", "Functions", "", 50, true, true),
	"pipeline": resource("pipeline", "Pipelines", "", 51, true, true),

	// System
	"settings":         resource("settings", "Settings", "", 60, true, false),
	"kv":               resource("kv", "KV Store", "", 61, true, true),
	"enrichment_table": resource("enrichment_table", "Enrichment Tables", "", 62, true, true),

	// Security
	"passcode":         resource("passcode", "Passcodes", "", 70, true, true),
	"service_accounts": resource("service_accounts", "Service Accounts", "", 72, true, true),

	// Misc
	"search_jobs": resource("search_jobs", "Search Jobs", "", 80, true, true),
	"ratelimit":   resource("ratelimit", "Rate Limits", "", 82, true, true),
}

// GetResource returns the resource definition for a type key.
func GetResource(key string) (Resource, bool) {
	r, ok := resourceCatalog[key]
	return r, ok
}

// ValidResourceType reports whether a resource type key is known.
func ValidResourceType(key string) bool {
	_, ok := resourceCatalog[key]
	return ok
}

// VisibleResources returns visible resource types sorted by display order.
func VisibleResources() []Resource {
	out := make([]Resource, 0, len(resourceCatalog))
	for _, r := range resourceCatalog {
		if r.Visible {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// ChildResources returns the visible children of a parent type,
// sorted by display order.
func ChildResources(parentKey string) []Resource {
	var out []Resource
	for _, r := range resourceCatalog {
		if r.Parent == parentKey {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
