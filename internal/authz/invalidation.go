// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/visdata/gatekeeper/internal/config"
	"github.com/visdata/gatekeeper/internal/logging"
	"github.com/visdata/gatekeeper/internal/metrics"
)

// Invalidation event scopes.
const (
	ScopeSubject = "subject"
	ScopeObject  = "object"
	ScopeAll     = "all"
)

// InvalidationEvent tells replicas to drop cached decisions. Origin is
// the publishing instance id; the publisher already invalidated its
// own cache synchronously, so subscribers skip events they originated.
type InvalidationEvent struct {
	Scope  string `json:"scope"`
	Value  string `json:"value,omitempty"`
	Origin string `json:"origin"`
}

// InvalidationBus fans cache invalidation events out to all engine
// replicas over watermill. The GoChannel driver keeps events
// in-process for single-node deployments; the NATS driver uses
// JetStream for multi-replica fan-out.
type InvalidationBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	topic      string
	origin     string
}

// NewGoChannelBus creates an in-process bus.
func NewGoChannelBus(topic string) *InvalidationBus {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	return &InvalidationBus{
		publisher:  pubsub,
		subscriber: pubsub,
		topic:      topic,
		origin:     watermill.NewUUID(),
	}
}

// NewNATSBus creates a JetStream-backed bus for multi-replica
// deployments.
func NewNATSBus(cfg *config.BusConfig) (*InvalidationBus, error) {
	logger := watermill.NewStdLogger(false, false)

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(time.Second),
	}

	publisher, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create invalidation publisher: %w", err)
	}

	// Every replica must see every event, so no queue group.
	subscriber, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Unmarshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.DeliverNew(),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create invalidation subscriber: %w", err)
	}

	return &InvalidationBus{
		publisher:  publisher,
		subscriber: subscriber,
		topic:      cfg.Topic,
		origin:     watermill.NewUUID(),
	}, nil
}

// Origin returns this instance's bus identity.
func (b *InvalidationBus) Origin() string {
	return b.origin
}

// Publish sends one invalidation event. The event's origin is stamped
// with this instance's identity.
func (b *InvalidationBus) Publish(_ context.Context, scope, value string) error {
	event := InvalidationEvent{Scope: scope, Value: value, Origin: b.origin}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal invalidation event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	if err := b.publisher.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("publish invalidation event: %w", err)
	}
	metrics.BusEventsPublished.Inc()
	return nil
}

// Run consumes invalidation events and applies them to the cache until
// the context is cancelled. Events originated by this instance are
// acked and skipped; the local cache was already invalidated
// synchronously at commit time.
func (b *InvalidationBus) Run(ctx context.Context, cache *DecisionCache) error {
	messages, err := b.subscriber.Subscribe(ctx, b.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.topic, err)
	}

	logging.Info().Str("topic", b.topic).Str("origin", b.origin).Msg("Invalidation subscriber started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.apply(cache, msg)
		}
	}
}

func (b *InvalidationBus) apply(cache *DecisionCache, msg *message.Message) {
	defer msg.Ack()

	var event InvalidationEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Malformed invalidation event dropped")
		metrics.BusEventsReceived.WithLabelValues("malformed").Inc()
		return
	}

	if event.Origin == b.origin {
		metrics.BusEventsReceived.WithLabelValues("skipped").Inc()
		return
	}

	switch event.Scope {
	case ScopeSubject:
		cache.InvalidateSubject(event.Value)
	case ScopeObject:
		cache.InvalidateObject(event.Value)
	case ScopeAll:
		cache.InvalidateAll()
	default:
		logging.Warn().Str("scope", event.Scope).Msg("Unknown invalidation scope dropped")
		metrics.BusEventsReceived.WithLabelValues("malformed").Inc()
		return
	}

	metrics.BusEventsReceived.WithLabelValues("applied").Inc()
	logging.Debug().
		Str("scope", event.Scope).
		Str("value", event.Value).
		Str("origin", event.Origin).
		Msg("Invalidation event applied")
}

// Close shuts the bus down.
func (b *InvalidationBus) Close() error {
	var firstErr error
	if err := b.publisher.Close(); err != nil {
		firstErr = err
	}
	// GoChannel is a single pub/sub instance; avoid double close.
	if any(b.subscriber) != any(b.publisher) {
		if err := b.subscriber.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
