// Package config holds the broker's runtime configuration: flags with
// environment fallback.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBind           = "127.0.0.1:9666"
	DefaultMongoURL       = "mongodb://localhost"
	DefaultDatabase       = "lichess"
	DefaultAcquireTimeout = 10 * time.Second
	DefaultSessionMaxAge  = 30 * time.Minute
	DefaultRegistryTTL    = 10 * time.Second

	// Acquire polls shorter than this defeat long-polling; longer ones
	// risk being severed by intermediate proxies.
	minAcquireTimeout = 2 * time.Second
	maxAcquireTimeout = 60 * time.Second
)

// Config is the broker daemon's configuration.
type Config struct {
	Bind           string
	TLSCert        string
	TLSKey         string
	MongoURL       string
	Database       string
	LogLevel       slog.Level
	AcquireTimeout time.Duration
	MaxSessions    int
	SessionMaxAge  time.Duration
	RegistryTTL    time.Duration
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Bind:           DefaultBind,
		MongoURL:       DefaultMongoURL,
		Database:       DefaultDatabase,
		LogLevel:       slog.LevelInfo,
		AcquireTimeout: DefaultAcquireTimeout,
		SessionMaxAge:  DefaultSessionMaxAge,
		RegistryTTL:    DefaultRegistryTTL,
	}
}

// FromFlags parses args (without the program name) over the defaults, with
// environment variables as the fallback layer between the two.
func FromFlags(args []string) (Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("broker", flag.ContinueOnError)
	bind := fs.String("bind", envOr("BROKER_BIND", cfg.Bind), "Binding address")
	tlsCert := fs.String("tls-cert", envOr("BROKER_TLS_CERT", ""), "TLS certificate path (plaintext when empty)")
	tlsKey := fs.String("tls-key", envOr("BROKER_TLS_KEY", ""), "TLS key path")
	mongoURL := fs.String("mongodb", envOr("BROKER_MONGODB", cfg.MongoURL), "Document store connection string")
	database := fs.String("db", envOr("BROKER_DB", cfg.Database), "Document store database name")
	logLevel := fs.String("log-level", envOr("BROKER_LOG", "info"), "Log filter: debug, info, warn, error")
	acquireTimeout := fs.Duration("acquire-timeout", envOrDuration("BROKER_ACQUIRE_TIMEOUT", cfg.AcquireTimeout), "Provider long-poll ceiling")
	maxSessions := fs.Int("max-sessions", envOrInt("BROKER_MAX_SESSIONS", 0), "Active session cap (0 = unlimited)")
	sessionMaxAge := fs.Duration("session-max-age", envOrDuration("BROKER_SESSION_MAX_AGE", cfg.SessionMaxAge), "Idle age before a session is expired")
	registryTTL := fs.Duration("registry-ttl", envOrDuration("BROKER_REGISTRY_TTL", cfg.RegistryTTL), "Registration cache TTL")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.Bind = *bind
	cfg.TLSCert = *tlsCert
	cfg.TLSKey = *tlsKey
	cfg.MongoURL = *mongoURL
	cfg.Database = *database
	cfg.AcquireTimeout = *acquireTimeout
	cfg.MaxSessions = *maxSessions
	cfg.SessionMaxAge = *sessionMaxAge
	cfg.RegistryTTL = *registryTTL

	level, err := ParseLevel(*logLevel)
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	cfg.clamp()
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Bind == "" {
		return fmt.Errorf("bind address must not be empty")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls-cert and tls-key must be set together")
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("max-sessions must not be negative")
	}
	return nil
}

func (c *Config) clamp() {
	if c.AcquireTimeout < minAcquireTimeout {
		c.AcquireTimeout = minAcquireTimeout
	}
	if c.AcquireTimeout > maxAcquireTimeout {
		c.AcquireTimeout = maxAcquireTimeout
	}
}

// TLSEnabled reports whether a certificate pair is configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// ParseLevel resolves a log filter string to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
