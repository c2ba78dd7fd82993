package config

import (
	"context"
	"os"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the messenger service.
type Config struct {
	// Mode controls security behavior: "prod" (default) or "testing".
	// In testing mode, the X-Client-ID header is accepted and API key
	// validation is relaxed.
	Mode string

	// Database
	DBURL string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// Datastore backend type: "postgres" or "memory".
	DatastoreType string

	// Membership source backend type: "postgres" or "memory". The postgres
	// source reads the application/team-assignment tables of the main
	// application's database.
	MembershipType string

	// Cache backend type: "redis" or "none".
	CacheType string

	// Redis
	RedisURL string

	// TTL for cached last-message previews. Unread counts are never cached.
	PreviewCacheTTL time.Duration

	// Maximum stored length of a message preview.
	PreviewMaxLength int

	// OIDC
	OIDCIssuer       string
	OIDCDiscoveryURL string // Internal URL for OIDC discovery (when issuer URL is not reachable)

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	// Defaults to "service=messenger-service".
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port (or
	// MESSENGER_SERVICE_MANAGEMENT_PORT) was explicitly provided. When false,
	// management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for management endpoints
	// (/health, /ready, /metrics). Disabled by default to suppress
	// high-frequency probe noise from the access log.
	ManagementAccessLog bool
	CORSEnabled         bool
	CORSOrigins         string

	// Security
	// APIKeys maps API key values to client IDs
	// (MESSENGER_SERVICE_API_KEYS_<CLIENT_ID>=<key>).
	APIKeys       map[string]string // key value → clientId
	AdminOIDCRole string
	AdminUsers    string
	AdminClients  string

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Admin
	RequireJustification bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DatastoreType:           "postgres",
		DatastoreMigrateAtStart: true,
		MembershipType:          "postgres",
		CacheType:               "none",
		PreviewCacheTTL:         10 * time.Minute,
		PreviewMaxLength:        160,
		Listener: ListenerConfig{
			Port:              8080,
			EnablePlainText:   true,
			EnableTLS:         true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		ManagementListener: ListenerConfig{
			EnablePlainText: true,
			EnableTLS:       true,
		},
		MaxBodySize:    1 * 1024 * 1024,
		DrainTimeout:   30,
		DBMaxOpenConns: 25,
		DBMaxIdleConns: 5,
		AdminOIDCRole:  "admin",
	}
}

const apiKeyEnvPrefix = "MESSENGER_SERVICE_API_KEYS_"

// ApplyAPIKeysFromEnv collects MESSENGER_SERVICE_API_KEYS_<CLIENT_ID>=<key>
// variables into the APIKeys map (key value → lowercased client ID).
func (c *Config) ApplyAPIKeysFromEnv() {
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, apiKeyEnvPrefix) || value == "" {
			continue
		}
		clientID := strings.ToLower(strings.TrimPrefix(name, apiKeyEnvPrefix))
		if clientID == "" {
			continue
		}
		if c.APIKeys == nil {
			c.APIKeys = map[string]string{}
		}
		c.APIKeys[value] = clientID
	}
}
