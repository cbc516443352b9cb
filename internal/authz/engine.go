// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/visdata/gatekeeper/internal/config"
	"github.com/visdata/gatekeeper/internal/logging"
	"github.com/visdata/gatekeeper/internal/metrics"
	"github.com/visdata/gatekeeper/internal/models"
	"github.com/visdata/gatekeeper/internal/store"
)

// CheckPair is one (method, object) pair for batch checks.
type CheckPair struct {
	Method string `json:"method"`
	Object string `json:"object"`
}

// Engine answers permission checks. Order of evaluation: root bypass,
// cache, role resolution + grant matching, fallback policy when the
// store is unreachable.
type Engine struct {
	resolver *Resolver
	cache    *DecisionCache
	table    models.MethodTable
	fallback string
	roots    map[string]struct{}
}

// NewEngine creates a decision engine over a role source.
func NewEngine(source RoleSource, cache *DecisionCache, cfg *config.AuthzConfig) *Engine {
	roots := make(map[string]struct{}, len(cfg.RootSubjects))
	for _, subject := range cfg.RootSubjects {
		roots[subject] = struct{}{}
	}
	return &Engine{
		resolver: NewResolver(source),
		cache:    cache,
		table:    models.DefaultMethodTable(),
		fallback: cfg.Fallback,
		roots:    roots,
	}
}

// Cache exposes the decision cache for the invalidation subscriber.
func (e *Engine) Cache() *DecisionCache {
	return e.cache
}

// IsAllowed decides whether the subject may perform method on object
// within the organization. A roleHint of "root", or a subject in the
// configured root list, bypasses evaluation entirely and is never
// cached. A denial is (false, nil); errors are reserved for malformed
// input and infrastructure failures not covered by the fallback
// policy.
func (e *Engine) IsAllowed(ctx context.Context, orgID, subject, method, object, roleHint string) (bool, error) {
	start := time.Now()

	if roleHint == models.RoleRoot {
		metrics.RecordDecision("allow", "root", time.Since(start))
		return true, nil
	}
	if _, isRoot := e.roots[subject]; isRoot {
		metrics.RecordDecision("allow", "root", time.Since(start))
		return true, nil
	}

	target, err := models.ParseObject(object)
	if err != nil {
		metrics.RecordDecision("error", "evaluated", time.Since(start))
		return false, err
	}

	// A resource type outside the catalog can never carry a grant, so
	// the check denies without touching the store.
	if !models.ValidResourceType(target.Type) {
		logging.Warn().
			Str("subject", subject).
			Str("object", object).
			Msg("Permission check against unknown resource type")
		metrics.RecordDecision("deny", "evaluated", time.Since(start))
		return false, nil
	}

	// A check against the org wildcard is a collection-shaped request:
	// GET resolves to AllowList there, AllowGet on an entity does not
	// satisfy it.
	required, err := e.table.Kind(method, target.IsWildcard(orgID))
	if err != nil {
		metrics.RecordDecision("error", "evaluated", time.Since(start))
		return false, err
	}

	if allowed, ok := e.cache.Get(subject, method, object, orgID); ok {
		metrics.RecordDecision(outcomeLabel(allowed), "cache", time.Since(start))
		return allowed, nil
	}

	grants, err := e.resolver.EffectiveGrants(ctx, orgID, subject)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			allowed := e.applyFallback(method)
			logging.Warn().
				Err(err).
				Str("subject", subject).
				Str("object", object).
				Str("fallback", e.fallback).
				Bool("allowed", allowed).
				Msg("Permission store unavailable, fallback policy applied")
			metrics.RecordDecision(outcomeLabel(allowed), "fallback", time.Since(start))
			// Fallback outcomes are never cached: they must not outlive
			// the outage.
			return allowed, nil
		}
		metrics.RecordDecision("error", "evaluated", time.Since(start))
		return false, fmt.Errorf("resolve grants: %w", err)
	}

	allowed := Decide(grants, required, target, orgID)
	e.cache.Set(subject, method, object, orgID, allowed)

	metrics.RecordDecision(outcomeLabel(allowed), "evaluated", time.Since(start))
	logging.Debug().
		Str("subject", subject).
		Str("org_id", orgID).
		Str("method", method).
		Str("object", object).
		Str("required", required.String()).
		Bool("allowed", allowed).
		Msg("Permission decision")
	return allowed, nil
}

// IsAllowedBatch decides a list of (method, object) pairs for one
// subject with the same semantics as IsAllowed per pair. The first
// error aborts the batch.
func (e *Engine) IsAllowedBatch(ctx context.Context, orgID, subject string, pairs []CheckPair, roleHint string) ([]bool, error) {
	results := make([]bool, len(pairs))
	for i, pair := range pairs {
		allowed, err := e.IsAllowed(ctx, orgID, subject, pair.Method, pair.Object, roleHint)
		if err != nil {
			return nil, fmt.Errorf("pair %d (%s %s): %w", i, pair.Method, pair.Object, err)
		}
		results[i] = allowed
	}
	return results, nil
}

// applyFallback decides a check while the store is unreachable.
func (e *Engine) applyFallback(method string) bool {
	switch e.fallback {
	case config.FallbackAllow:
		return true
	case config.FallbackAllowReadOnly:
		return models.ReadOnlyMethod(method)
	default:
		return false
	}
}

func outcomeLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}
