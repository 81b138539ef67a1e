package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/balance-engine/config"
	"github.com/warp/balance-engine/engine"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, engine.Forward, cfg.Strategy())
	assert.Equal(t, time.Hour, cfg.Sync.Interval)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "balance-engine.yaml")
	cfg := config.Default()
	cfg.Server.Port = 9090
	cfg.Sync.Interval = 15 * time.Minute
	cfg.Sync.DefaultStrategy = "reverse"

	require.NoError(t, config.Save(path, cfg))
	loaded, err := config.Load(path)

	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
	assert.Equal(t, engine.Reverse, loaded.Strategy())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	// GIVEN: a file that only sets the database path
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: /tmp/x.db\nsync:\n  interval: 30s\n"), 0o644))

	// WHEN
	cfg, err := config.Load(path)

	// THEN: everything else stays at its default
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Sync.Concurrency)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := config.Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [not a map"), 0o644))
	_, err = config.Load(bad)
	assert.Error(t, err)
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*config.Config){
		"strategy":    func(c *config.Config) { c.Sync.DefaultStrategy = "sideways" },
		"concurrency": func(c *config.Config) { c.Sync.Concurrency = 0 },
		"interval":    func(c *config.Config) { c.Sync.Interval = -time.Second },
		"log level":   func(c *config.Config) { c.Log.Level = "loud" },
		"port":        func(c *config.Config) { c.Server.Port = 70000 },
		"db path":     func(c *config.Config) { c.Database.Path = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestStrategy_RejectedValueFallsBackToForward(t *testing.T) {
	cfg := config.Default()
	cfg.Sync.DefaultStrategy = "sideways"

	assert.Equal(t, engine.Forward, cfg.Strategy())
	assert.ErrorIs(t, cfg.Validate(), engine.ErrInvalidDirection)
}

func TestZerologLevel(t *testing.T) {
	lvl, err := config.LogConfig{Level: "debug"}.ZerologLevel()
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)

	lvl, err = config.LogConfig{}.ZerologLevel()
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, lvl)
}
