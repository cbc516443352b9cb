// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

// This file contains tests for the invalidation bus.
package authz

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
)

func eventMessage(t *testing.T, event InvalidationEvent) *message.Message {
	t.Helper()
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return message.NewMessage(watermill.NewUUID(), data)
}

// TestBusApply tests event application to the local cache.
func TestBusApply(t *testing.T) {
	t.Run("subject_scope", func(t *testing.T) {
		bus := NewGoChannelBus("authz.invalidation")
		cache := seedCache("alice", "bob")

		bus.apply(cache, eventMessage(t, InvalidationEvent{Scope: ScopeSubject, Value: "alice", Origin: "remote"}))

		if cached(cache, "alice") {
			t.Error("alice should be invalidated")
		}
		if !cached(cache, "bob") {
			t.Error("bob should survive")
		}
	})

	t.Run("object_scope", func(t *testing.T) {
		bus := NewGoChannelBus("authz.invalidation")
		cache := NewDecisionCache(time.Minute, 100)
		cache.Set("alice", "GET", "dashboard:sales", "org1", true)
		cache.Set("alice", "GET", "report:q3", "org1", true)

		bus.apply(cache, eventMessage(t, InvalidationEvent{Scope: ScopeObject, Value: "dashboard:sales", Origin: "remote"}))

		if _, ok := cache.Get("alice", "GET", "dashboard:sales", "org1"); ok {
			t.Error("dashboard entry should be invalidated")
		}
		if _, ok := cache.Get("alice", "GET", "report:q3", "org1"); !ok {
			t.Error("report entry should survive")
		}
	})

	t.Run("all_scope", func(t *testing.T) {
		bus := NewGoChannelBus("authz.invalidation")
		cache := seedCache("alice", "bob")

		bus.apply(cache, eventMessage(t, InvalidationEvent{Scope: ScopeAll, Origin: "remote"}))

		if cache.Len() != 0 {
			t.Errorf("Len() = %d, want 0", cache.Len())
		}
	})

	t.Run("own_origin_is_skipped", func(t *testing.T) {
		bus := NewGoChannelBus("authz.invalidation")
		cache := seedCache("alice")

		// The publisher invalidated synchronously at commit time;
		// replaying its own event must be a no-op.
		bus.apply(cache, eventMessage(t, InvalidationEvent{Scope: ScopeAll, Origin: bus.Origin()}))

		if !cached(cache, "alice") {
			t.Error("own-origin event must not touch the cache")
		}
	})

	t.Run("malformed_payload_is_dropped", func(t *testing.T) {
		bus := NewGoChannelBus("authz.invalidation")
		cache := seedCache("alice")

		bus.apply(cache, message.NewMessage(watermill.NewUUID(), []byte("{not json")))

		if !cached(cache, "alice") {
			t.Error("malformed event must not touch the cache")
		}
	})

	t.Run("unknown_scope_is_dropped", func(t *testing.T) {
		bus := NewGoChannelBus("authz.invalidation")
		cache := seedCache("alice")

		bus.apply(cache, eventMessage(t, InvalidationEvent{Scope: "galaxy", Value: "alice", Origin: "remote"}))

		if !cached(cache, "alice") {
			t.Error("unknown scope must not touch the cache")
		}
	})
}

// TestBusRoundTrip tests subscribe-publish-apply through the
// in-process driver.
func TestBusRoundTrip(t *testing.T) {
	bus := NewGoChannelBus("authz.invalidation")
	defer func() { _ = bus.Close() }()

	cache := seedCache("alice")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- bus.Run(ctx, cache) }()

	// Give the subscriber a moment to attach: GoChannel drops events
	// published before any subscription exists.
	time.Sleep(50 * time.Millisecond)

	// Publish a remote-origin event directly; Publish would stamp our
	// own origin and the subscriber would skip it.
	remote := eventMessage(t, InvalidationEvent{Scope: ScopeSubject, Value: "alice", Origin: "remote"})
	if err := bus.publisher.Publish(bus.topic, remote); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for cached(cache, "alice") {
		if time.Now().After(deadline) {
			t.Fatal("event was not applied within 2s")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Run did not stop after cancellation")
	}
}

// TestBusPublish tests origin stamping.
func TestBusPublish(t *testing.T) {
	bus := NewGoChannelBus("authz.invalidation")
	defer func() { _ = bus.Close() }()

	sub, err := bus.subscriber.Subscribe(context.Background(), bus.topic)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := bus.Publish(context.Background(), ScopeSubject, "alice"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub:
		msg.Ack()
		var event InvalidationEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if event.Scope != ScopeSubject || event.Value != "alice" {
			t.Errorf("unexpected event %+v", event)
		}
		if event.Origin != bus.Origin() {
			t.Errorf("origin = %q, want publisher origin %q", event.Origin, bus.Origin())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received within 2s")
	}
}
