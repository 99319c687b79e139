// Package config loads service configuration from the environment.
// All variables share the AUTHGATE_ prefix; loading fails fast on
// malformed or missing required values.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Authority holds the configuration of the token authority service.
type Authority struct {
	// Listen address of the HTTP server.
	Addr string
	// PostgreSQL DSN. Empty selects the in-memory store.
	PGDSN string
	// Shared HMAC secret for token signing. Required.
	JWTSecret string
	// Access token lifetime.
	AccessTTL time.Duration
	// Refresh token lifetime.
	RefreshTTL time.Duration
	// Role granted to new accounts when none is requested.
	DefaultRole string
	// How often expired refresh tokens are swept from storage.
	SweepInterval time.Duration
	// Per-client request budget on the public endpoints, per second.
	RateLimitPerSec int
	// Graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// Gateway holds the configuration of the edge gateway service.
type Gateway struct {
	// Listen address of the HTTP server.
	Addr string
	// Base URL of the token authority, e.g. http://authority:8080.
	AuthorityURL string
	// Upstream service routes as name=url pairs, comma separated.
	Upstreams map[string]*url.URL
	// Timeout for the delegated verification call.
	VerifyTimeout time.Duration
	// Graceful shutdown timeout.
	ShutdownTimeout time.Duration
}

// LoadAuthority reads the authority configuration from the environment.
func LoadAuthority() (*Authority, error) {
	cfg := &Authority{}
	var err error

	cfg.Addr = getEnvDefault("AUTHGATE_ADDR", ":8080")
	cfg.PGDSN = os.Getenv("AUTHGATE_PG_DSN")

	cfg.JWTSecret, err = getEnvRequired("AUTHGATE_JWT_SECRET")
	if err != nil {
		return nil, err
	}
	// HS384 keys shorter than the hash output weaken the MAC.
	if len(cfg.JWTSecret) < 48 {
		return nil, fmt.Errorf("AUTHGATE_JWT_SECRET: must be at least 48 bytes, got %d", len(cfg.JWTSecret))
	}

	cfg.AccessTTL, err = getEnvDuration("AUTHGATE_ACCESS_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AUTHGATE_ACCESS_TTL: %w", err)
	}
	cfg.RefreshTTL, err = getEnvDuration("AUTHGATE_REFRESH_TTL", 168*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("AUTHGATE_REFRESH_TTL: %w", err)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, fmt.Errorf("token lifetimes must be positive")
	}

	cfg.DefaultRole = getEnvDefault("AUTHGATE_DEFAULT_ROLE", "user")

	cfg.SweepInterval, err = getEnvDuration("AUTHGATE_SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("AUTHGATE_SWEEP_INTERVAL: %w", err)
	}
	cfg.RateLimitPerSec, err = getEnvInt("AUTHGATE_RATE_LIMIT", 20)
	if err != nil {
		return nil, fmt.Errorf("AUTHGATE_RATE_LIMIT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("AUTHGATE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AUTHGATE_SHUTDOWN_TIMEOUT: %w", err)
	}
	return cfg, nil
}

// LoadGateway reads the gateway configuration from the environment.
func LoadGateway() (*Gateway, error) {
	cfg := &Gateway{}
	var err error

	cfg.Addr = getEnvDefault("AUTHGATE_GATEWAY_ADDR", ":8081")

	cfg.AuthorityURL, err = getEnvRequired("AUTHGATE_AUTHORITY_URL")
	if err != nil {
		return nil, err
	}
	cfg.AuthorityURL = strings.TrimRight(cfg.AuthorityURL, "/")
	if _, err := url.Parse(cfg.AuthorityURL); err != nil {
		return nil, fmt.Errorf("AUTHGATE_AUTHORITY_URL: %w", err)
	}

	cfg.Upstreams, err = parseUpstreams(os.Getenv("AUTHGATE_UPSTREAMS"))
	if err != nil {
		return nil, fmt.Errorf("AUTHGATE_UPSTREAMS: %w", err)
	}

	cfg.VerifyTimeout, err = getEnvDuration("AUTHGATE_VERIFY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AUTHGATE_VERIFY_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("AUTHGATE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AUTHGATE_SHUTDOWN_TIMEOUT: %w", err)
	}
	return cfg, nil
}

// parseUpstreams parses "name=url,name=url" into a route table.
func parseUpstreams(raw string) (map[string]*url.URL, error) {
	routes := make(map[string]*url.URL)
	if strings.TrimSpace(raw) == "" {
		return routes, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, target, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		target = strings.TrimSpace(target)
		if !ok || name == "" || target == "" {
			return nil, fmt.Errorf("malformed route %q, want name=url", pair)
		}
		u, err := url.Parse(target)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("route %q: invalid url %q", name, target)
		}
		if _, dup := routes[name]; dup {
			return nil, fmt.Errorf("duplicate route %q", name)
		}
		routes[name] = u
	}
	return routes, nil
}

func getEnvRequired(key string) (string, error) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return "", fmt.Errorf("%s: required environment variable is not set", key)
	}
	return val, nil
}

func getEnvDefault(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", val)
	}
	return d, nil
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", val)
	}
	return n, nil
}
