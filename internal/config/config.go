// Package config loads the process's environment-variable configuration.
// Environment loading is deliberately the only configuration surface: no
// flag parsing, no config files, no remote config service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultSyncThreads   = 1
	defaultTickInterval  = 5 * time.Second
	defaultMaxConnection = 5
)

// Config holds every setting the process reads from its environment.
type Config struct {
	PrimaryURL     string
	ReplicaURL     string
	RedisURL       string
	SyncThreads    int
	TickInterval   time.Duration
	MaxConnections int
}

// Load reads and validates the environment. It fails fast: a missing
// required variable or identical primary/replica URLs is returned as an
// error rather than discovered later as a connection failure.
func Load() (*Config, error) {
	cfg := &Config{
		SyncThreads:    defaultSyncThreads,
		TickInterval:   defaultTickInterval,
		MaxConnections: defaultMaxConnection,
	}

	var missing []string
	cfg.PrimaryURL = os.Getenv("MSSQL_PRIMARY_URL")
	if cfg.PrimaryURL == "" {
		missing = append(missing, "MSSQL_PRIMARY_URL")
	}
	cfg.ReplicaURL = os.Getenv("MSSQL_REPLICA_URL")
	if cfg.ReplicaURL == "" {
		missing = append(missing, "MSSQL_REPLICA_URL")
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if cfg.PrimaryURL == cfg.ReplicaURL {
		return nil, fmt.Errorf("MSSQL_PRIMARY_URL and MSSQL_REPLICA_URL must not be equal")
	}

	if v := os.Getenv("SYNC_THREADS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("SYNC_THREADS must be a positive integer, got %q", v)
		}
		cfg.SyncThreads = n
	}

	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("TICK_INTERVAL must be a positive duration, got %q", v)
		}
		cfg.TickInterval = d
	}

	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("MAX_CONNECTIONS must be a positive integer, got %q", v)
		}
		cfg.MaxConnections = n
	}

	return cfg, nil
}

// SanitizeURL strips any credentials embedded between "://" and "@" so the
// result is safe to publish to the state store for an external UI.
func SanitizeURL(raw string) string {
	schemeSep := strings.Index(raw, "://")
	if schemeSep == -1 {
		return raw
	}
	rest := raw[schemeSep+3:]
	at := strings.Index(rest, "@")
	if at == -1 {
		return raw
	}
	return raw[:schemeSep+3] + rest[at+1:]
}
