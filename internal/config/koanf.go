// Gatekeeper - Multi-Tenant Authorization Decision Engine
// Copyright 2026 VisData Inc.
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/visdata/gatekeeper

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/gatekeeper/config.yaml",
	"/etc/gatekeeper/config.yml",
}

// ConfigPathEnvVar overrides the config file search.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8087,
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/gatekeeper.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Sessions: SessionsConfig{
			Path:            "/data/sessions",
			AccessTokenTTL:  15 * time.Minute,
			RefreshTokenTTL: 720 * time.Hour,
			CleanupInterval: 5 * time.Minute,
			SigningSecret:   "",
		},
		Keyset: KeysetConfig{
			Endpoint:        "",
			Issuer:          "",
			Audience:        "",
			RefreshInterval: 5 * time.Minute,
			FetchTimeout:    10 * time.Second,
			ClockSkew:       30 * time.Second,
		},
		Cache: CacheConfig{
			TTL:             5 * time.Minute,
			MaxEntries:      10000,
			CleanupInterval: time.Minute,
		},
		Bus: BusConfig{
			Driver: BusDriverGoChannel,
			URL:    "nats://127.0.0.1:4222",
			Topic:  "authz.invalidation",
		},
		Authz: AuthzConfig{
			Fallback:     FallbackDeny,
			RootSubjects: []string{},
			DefaultOrg:   "default",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file
//  3. Environment variables: highest priority
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the path to the first config file found, or
// empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths are parsed as
// comma-separated slices when supplied via environment variables.
var sliceConfigPaths = []string{
	"authz.root_subjects",
}

// processSliceFields converts comma-separated string values to slices
// for known slice fields. Env vars come in as strings but the config
// expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML file or defaults), skip.
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config
// paths. Unmapped variables are skipped so random env vars cannot
// pollute the configuration.
//
// Examples:
//   - DUCKDB_PATH -> database.path
//   - KEYSET_ENDPOINT -> keyset.endpoint
//   - CACHE_TTL -> cache.ttl
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server mappings
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Session store mappings
		"session_store_path":     "sessions.path",
		"access_token_ttl":       "sessions.access_token_ttl",
		"refresh_token_ttl":      "sessions.refresh_token_ttl",
		"session_cleanup":        "sessions.cleanup_interval",
		"session_signing_secret": "sessions.signing_secret",

		// Key set mappings
		"keyset_endpoint":      "keyset.endpoint",
		"keyset_issuer":        "keyset.issuer",
		"keyset_audience":      "keyset.audience",
		"keyset_refresh":       "keyset.refresh_interval",
		"keyset_fetch_timeout": "keyset.fetch_timeout",
		"keyset_clock_skew":    "keyset.clock_skew",

		// Decision cache mappings
		"cache_ttl":         "cache.ttl",
		"cache_max_entries": "cache.max_entries",
		"cache_cleanup":     "cache.cleanup_interval",

		// Invalidation bus mappings
		"bus_driver": "bus.driver",
		"bus_url":    "bus.url",
		"bus_topic":  "bus.topic",

		// Authorization mappings
		"authz_fallback":      "authz.fallback",
		"authz_root_subjects": "authz.root_subjects",
		"authz_default_org":   "authz.default_org",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	return ""
}
