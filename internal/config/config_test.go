package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFlagsDefaults(t *testing.T) {
	cfg, err := FromFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultBind, cfg.Bind)
	assert.Equal(t, DefaultMongoURL, cfg.MongoURL)
	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, DefaultAcquireTimeout, cfg.AcquireTimeout)
	assert.Equal(t, 0, cfg.MaxSessions)
	assert.False(t, cfg.TLSEnabled())
}

func TestFromFlagsOverrides(t *testing.T) {
	cfg, err := FromFlags([]string{
		"-bind", "0.0.0.0:9000",
		"-mongodb", "mongodb://db.internal",
		"-db", "engines",
		"-log-level", "debug",
		"-max-sessions", "500",
		"-acquire-timeout", "20s",
	})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Bind)
	assert.Equal(t, "mongodb://db.internal", cfg.MongoURL)
	assert.Equal(t, "engines", cfg.Database)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 500, cfg.MaxSessions)
	assert.Equal(t, 20*time.Second, cfg.AcquireTimeout)
}

func TestFromFlagsEnvFallback(t *testing.T) {
	t.Setenv("BROKER_BIND", "10.0.0.1:9666")
	t.Setenv("BROKER_MAX_SESSIONS", "32")
	t.Setenv("BROKER_ACQUIRE_TIMEOUT", "15s")

	cfg, err := FromFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9666", cfg.Bind)
	assert.Equal(t, 32, cfg.MaxSessions)
	assert.Equal(t, 15*time.Second, cfg.AcquireTimeout)

	// Explicit flags beat the environment.
	cfg, err = FromFlags([]string{"-bind", "127.0.0.1:1234"})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:1234", cfg.Bind)
}

func TestFromFlagsClampsAcquireTimeout(t *testing.T) {
	cfg, err := FromFlags([]string{"-acquire-timeout", "100ms"})
	require.NoError(t, err)
	assert.Equal(t, minAcquireTimeout, cfg.AcquireTimeout)

	cfg, err = FromFlags([]string{"-acquire-timeout", "10m"})
	require.NoError(t, err)
	assert.Equal(t, maxAcquireTimeout, cfg.AcquireTimeout)
}

func TestFromFlagsTLSPair(t *testing.T) {
	_, err := FromFlags([]string{"-tls-cert", "/etc/cert.pem"})
	assert.Error(t, err)

	cfg, err := FromFlags([]string{"-tls-cert", "/etc/cert.pem", "-tls-key", "/etc/key.pem"})
	require.NoError(t, err)
	assert.True(t, cfg.TLSEnabled())
}

func TestFromFlagsBadLogLevel(t *testing.T) {
	_, err := FromFlags([]string{"-log-level", "verbose"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got)
	}
}
