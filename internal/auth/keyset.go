// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/visdata/gatekeeper/internal/logging"
	"github.com/visdata/gatekeeper/internal/metrics"
)

// KeySetCache caches the issuer's RSA signing keys by key id with TTL
// support. It is thread-safe; concurrent misses trigger a single
// refresh (double-checked under the write lock) while other callers
// wait. Fetches go through a circuit breaker and a rate limiter so a
// flapping issuer cannot be hammered, and the last successfully
// fetched keys are served while the endpoint is down.
type KeySetCache struct {
	endpoint   string
	httpClient *http.Client
	ttl        time.Duration

	breaker *gobreaker.CircuitBreaker[map[string]*rsa.PublicKey]
	limiter *rate.Limiter

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

// NewKeySetCache creates a key set cache for the given endpoint.
func NewKeySetCache(endpoint string, client *http.Client, ttl time.Duration) *KeySetCache {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	cbName := "keyset-fetch"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	c := &KeySetCache{
		endpoint:   endpoint,
		httpClient: client,
		ttl:        ttl,
		// One fetch per 10s sustained, small burst for startup and
		// kid-miss refreshes.
		limiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
		keys:    make(map[string]*rsa.PublicKey),
	}

	c.breaker = gobreaker.NewCircuitBreaker[map[string]*rsa.PublicKey](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Key set circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})

	return c
}

// GetKey returns the RSA public key for the key id, refreshing the set
// when it is stale or the id is unknown. A stale cached key is still
// served when the endpoint is unreachable.
func (c *KeySetCache) GetKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, ok := c.keys[kid]
	stale := time.Since(c.fetched) > c.ttl
	c.mu.RUnlock()

	if ok && !stale {
		return key, nil
	}

	keys, err := c.refresh(ctx, kid)
	if err != nil {
		// Last known good: a previously cached key stays usable while
		// the endpoint is down.
		if ok {
			logging.Warn().Err(err).Str("kid", kid).Msg("Key set refresh failed, serving cached key")
			return key, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	key, ok = keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

// refresh fetches and caches all keys from the endpoint. Concurrent
// callers serialize on the write lock; the first one through performs
// the fetch and the rest see the fresh set on the recheck.
func (c *KeySetCache) refresh(ctx context.Context, kid string) (map[string]*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Another goroutine may have refreshed while we waited. The fresh
	// set only settles the matter when it holds the wanted kid: a
	// rotated issuer publishes new kids before their tokens arrive,
	// so an unknown kid forces a fetch even inside the TTL. The rate
	// limiter bounds how often bogus kids can trigger one.
	if time.Since(c.fetched) < c.ttl && len(c.keys) > 0 {
		if _, ok := c.keys[kid]; ok {
			return c.keys, nil
		}
	}

	if !c.limiter.Allow() {
		metrics.KeysetRefreshes.WithLabelValues("throttled").Inc()
		if len(c.keys) > 0 {
			return c.keys, nil
		}
		return nil, fmt.Errorf("key set fetch rate limited")
	}

	keys, err := c.breaker.Execute(func() (map[string]*rsa.PublicKey, error) {
		return c.fetch(ctx)
	})
	if err != nil {
		metrics.KeysetRefreshes.WithLabelValues("failure").Inc()
		return nil, err
	}

	c.keys = keys
	c.fetched = time.Now()
	metrics.KeysetRefreshes.WithLabelValues("success").Inc()
	metrics.KeysetKeys.Set(float64(len(keys)))

	logging.Debug().Int("keys", len(keys)).Msg("Key set refreshed")
	return c.keys, nil
}

// fetch retrieves the key set document and parses its RSA keys.
func (c *KeySetCache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key set fetch failed with status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			Alg string `json:"alg"`
			Use string `json:"use"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode key set: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, key := range doc.Keys {
		if key.Kty != "RSA" {
			continue
		}
		if key.Use != "" && key.Use != "sig" {
			continue
		}

		nBytes, err := base64URLDecode(key.N)
		if err != nil {
			continue
		}
		eBytes, err := base64URLDecode(key.E)
		if err != nil {
			continue
		}

		n := new(big.Int).SetBytes(nBytes)
		e := 0
		for _, b := range eBytes {
			e = e<<8 + int(b)
		}

		keys[key.Kid] = &rsa.PublicKey{N: n, E: e}
	}

	if len(keys) == 0 {
		return nil, fmt.Errorf("key set document contained no usable RSA keys")
	}
	return keys, nil
}

// Endpoint returns the key set endpoint URL.
func (c *KeySetCache) Endpoint() string {
	return c.endpoint
}

// base64URLDecode decodes a base64url string, adding padding if needed.
func base64URLDecode(s string) ([]byte, error) {
	switch len(s) % 4 {
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	return base64.URLEncoding.DecodeString(s)
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
