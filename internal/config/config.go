// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

// Package config loads and validates the Gatekeeper configuration from
// layered sources: built-in defaults, an optional YAML file, and
// environment variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Gatekeeper service.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Sessions SessionsConfig `koanf:"sessions"`
	Keyset   KeysetConfig   `koanf:"keyset"`
	Cache    CacheConfig    `koanf:"cache"`
	Bus      BusConfig      `koanf:"bus"`
	Authz    AuthzConfig    `koanf:"authz"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig controls the operational HTTP listener (health and
// metrics endpoints only).
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// DatabaseConfig controls the embedded DuckDB store holding roles,
// grants, assignments, groups, and the audit log.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = use runtime.NumCPU()
}

// SessionsConfig controls the Badger-backed session store.
type SessionsConfig struct {
	Path            string        `koanf:"path"`
	AccessTokenTTL  time.Duration `koanf:"access_token_ttl"`
	RefreshTokenTTL time.Duration `koanf:"refresh_token_ttl"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	SigningSecret   string        `koanf:"signing_secret"`
}

// KeysetConfig controls verification of externally issued tokens:
// where to fetch the signing key set from and which issuer and
// audience values to require.
type KeysetConfig struct {
	Endpoint        string        `koanf:"endpoint"`
	Issuer          string        `koanf:"issuer"`
	Audience        string        `koanf:"audience"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	FetchTimeout    time.Duration `koanf:"fetch_timeout"`
	ClockSkew       time.Duration `koanf:"clock_skew"`
}

// CacheConfig controls the authorization decision cache.
type CacheConfig struct {
	TTL             time.Duration `koanf:"ttl"`
	MaxEntries      int           `koanf:"max_entries"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// BusConfig controls the cross-instance cache invalidation bus.
// Driver "gochannel" keeps invalidation in-process for single-node
// deployments; "nats" fans events out over JetStream.
type BusConfig struct {
	Driver string `koanf:"driver"`
	URL    string `koanf:"url"`
	Topic  string `koanf:"topic"`
}

// AuthzConfig controls decision engine behavior.
type AuthzConfig struct {
	// Fallback decides check outcomes while the permission store is
	// unreachable: "deny", "allow", or "allow_read_only".
	Fallback     string   `koanf:"fallback"`
	RootSubjects []string `koanf:"root_subjects"`
	DefaultOrg   string   `koanf:"default_org"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Fallback policy values accepted by AuthzConfig.Fallback.
const (
	FallbackDeny          = "deny"
	FallbackAllow         = "allow"
	FallbackAllowReadOnly = "allow_read_only"
)

// Bus driver values accepted by BusConfig.Driver.
const (
	BusDriverGoChannel = "gochannel"
	BusDriverNATS      = "nats"
)

// Validate checks the configuration for internal consistency.
// It returns the first error encountered.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateDatabase,
		c.validateSessions,
		c.validateKeyset,
		c.validateCache,
		c.validateBus,
		c.validateAuthz,
		c.validateLogging,
	}

	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive, got %s", c.Server.Timeout)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("DUCKDB_PATH must not be empty")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must be >= 0, got %d", c.Database.Threads)
	}
	return nil
}

func (c *Config) validateSessions() error {
	if c.Sessions.Path == "" {
		return fmt.Errorf("SESSION_STORE_PATH must not be empty")
	}
	if c.Sessions.AccessTokenTTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive, got %s", c.Sessions.AccessTokenTTL)
	}
	if c.Sessions.RefreshTokenTTL <= c.Sessions.AccessTokenTTL {
		return fmt.Errorf("REFRESH_TOKEN_TTL (%s) must exceed the access token TTL (%s)",
			c.Sessions.RefreshTokenTTL, c.Sessions.AccessTokenTTL)
	}
	if c.Sessions.CleanupInterval <= 0 {
		return fmt.Errorf("SESSION_CLEANUP must be positive, got %s", c.Sessions.CleanupInterval)
	}
	if len(c.Sessions.SigningSecret) > 0 && len(c.Sessions.SigningSecret) < 32 {
		return fmt.Errorf("SESSION_SIGNING_SECRET must be at least 32 characters, got %d", len(c.Sessions.SigningSecret))
	}
	return nil
}

func (c *Config) validateKeyset() error {
	if c.Keyset.Endpoint == "" {
		// External token verification is optional. When disabled only
		// locally issued session tokens are accepted.
		return nil
	}
	if c.Keyset.Issuer == "" {
		return fmt.Errorf("KEYSET_ISSUER is required when KEYSET_ENDPOINT is set")
	}
	if c.Keyset.RefreshInterval < time.Second {
		return fmt.Errorf("KEYSET_REFRESH must be at least 1s, got %s", c.Keyset.RefreshInterval)
	}
	if c.Keyset.FetchTimeout <= 0 {
		return fmt.Errorf("KEYSET_FETCH_TIMEOUT must be positive, got %s", c.Keyset.FetchTimeout)
	}
	if c.Keyset.ClockSkew < 0 {
		return fmt.Errorf("KEYSET_CLOCK_SKEW must be >= 0, got %s", c.Keyset.ClockSkew)
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %s", c.Cache.TTL)
	}
	if c.Cache.MaxEntries < 1 {
		return fmt.Errorf("CACHE_MAX_ENTRIES must be at least 1, got %d", c.Cache.MaxEntries)
	}
	if c.Cache.CleanupInterval <= 0 {
		return fmt.Errorf("CACHE_CLEANUP must be positive, got %s", c.Cache.CleanupInterval)
	}
	return nil
}

func (c *Config) validateBus() error {
	switch c.Bus.Driver {
	case BusDriverGoChannel:
	case BusDriverNATS:
		if c.Bus.URL == "" {
			return fmt.Errorf("BUS_URL is required when BUS_DRIVER=nats")
		}
	default:
		return fmt.Errorf("BUS_DRIVER must be %q or %q, got %q",
			BusDriverGoChannel, BusDriverNATS, c.Bus.Driver)
	}
	if c.Bus.Topic == "" {
		return fmt.Errorf("BUS_TOPIC must not be empty")
	}
	return nil
}

func (c *Config) validateAuthz() error {
	switch c.Authz.Fallback {
	case FallbackDeny, FallbackAllow, FallbackAllowReadOnly:
	default:
		return fmt.Errorf("AUTHZ_FALLBACK must be one of %q, %q, %q, got %q",
			FallbackDeny, FallbackAllow, FallbackAllowReadOnly, c.Authz.Fallback)
	}
	if c.Authz.DefaultOrg == "" {
		return fmt.Errorf("AUTHZ_DEFAULT_ORG must not be empty")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// Addr returns the listen address for the operational HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
