package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(nil, envOf(nil))
	require.NoError(t, err)
	assert.Equal(t, Default().Addr, cfg.Addr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, time.Second, cfg.SweepInterval)
	assert.Empty(t, cfg.OriginAllowlist)
}

func TestEnvironmentThenFlags(t *testing.T) {
	env := envOf(map[string]string{
		"ADDR":             ":9000",
		"STORE":            "redis",
		"REDIS_URL":        "redis://localhost:6379/0",
		"AI_MOVE_DELAY":    "0s",
		"ORIGIN_ALLOWLIST": "http://a.test, http://b.test,",
		"LOG_LEVEL":        "debug",
	})
	cfg, err := Load([]string{"-addr", ":9100", "-dev"}, env)
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, time.Duration(0), cfg.AIMoveDelay)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.OriginAllowlist)
	assert.True(t, cfg.Dev)

	log, err := cfg.Logger()
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown store":     {"STORE": "mongo"},
		"redis without url": {"STORE": "redis"},
		"postgres no dsn":   {"STORE": "postgres"},
		"bad duration":      {"AI_MOVE_DELAY": "soon"},
		"bad level":         {"LOG_LEVEL": "loud"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(nil, envOf(env))
			assert.Error(t, err)
		})
	}

	_, err := Load([]string{"-issue-token", "alice"}, envOf(nil))
	assert.Error(t, err)
}
