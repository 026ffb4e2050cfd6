package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/n17-labs/transferwatch/internal/watcher"
)

func chTempDir(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chTempDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "transferwatch.db", cfg.Store.DSN)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.InDelta(t, 90, cfg.Reliability.OfficialFloor, 0.001)
	assert.InDelta(t, 70, cfg.Reliability.Bases[2], 0.001)
	assert.InDelta(t, 5, cfg.Status.MinAdvanceDelta, 0.001)
	assert.InDelta(t, 40, cfg.Status.DenialThreshold, 0.001)
	assert.Equal(t, 48, cfg.Merge.DedupWindowHours)
	assert.Equal(t, 24, cfg.Sweep.IntervalHours)
	assert.Equal(t, 30, cfg.Sweep.RumorAfterDays)
	assert.Equal(t, 7, cfg.Sweep.HereWeGoAfterDays)
	assert.InDelta(t, 0.82, cfg.Resolve.MinSimilarity, 0.001)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Classifier.Model)
	assert.Contains(t, cfg.Classifier.ExcludedJournalists, "Fabrizio Romano")
	assert.Empty(t, cfg.Watchers)
}

func TestLoadFromYAML(t *testing.T) {
	chTempDir(t)

	yaml := `
store:
  backend: postgres
  dsn: postgres://localhost/transferwatch
log:
  level: debug
  format: console
status:
  denial_threshold: 55
watchers:
  - name: bbc
    kind: rss
    url: https://example.com/feed.xml
    tier: 2
  - name: coys
    kind: reddit
    url: https://www.reddit.com/r/coys/new.json
    tier: 4
    flair_tiers:
      Official: 0
      "Tier 1": 1
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.InDelta(t, 55, cfg.Status.DenialThreshold, 0.001)
	require.Len(t, cfg.Watchers, 2)
	assert.Equal(t, "rss", cfg.Watchers[0].Kind)
	assert.Equal(t, 0, cfg.Watchers[1].FlairTiers["Official"])
	assert.Equal(t, 1, cfg.Watchers[1].FlairTiers["Tier 1"])
	// Defaults still apply for unset values
	assert.Equal(t, 48, cfg.Merge.DedupWindowHours)
	assert.InDelta(t, 90, cfg.Reliability.Bases[1], 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chTempDir(t)

	yaml := `
store:
  backend: sqlite
log:
  level: debug
`
	dir, _ := os.Getwd()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("TRANSFERWATCH_STORE_BACKEND", "postgres")
	t.Setenv("TRANSFERWATCH_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chTempDir(t)

	t.Setenv("TRANSFERWATCH_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validConfig returns a Config that passes every mode-independent check.
func validConfig(t *testing.T) *Config {
	t.Helper()
	chTempDir(t)
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func watcherSource(name, kind string) watcher.SourceConfig {
	return watcher.SourceConfig{Name: name, Kind: kind, URL: "https://example.com/feed", Tier: 3}
}

func TestValidateWatch(t *testing.T) {
	cfg := validConfig(t)
	cfg.Classifier.APIKey = "sk-ant-key"
	cfg.Watchers = append(cfg.Watchers, watcherSource("bbc", "rss"))

	assert.NoError(t, cfg.Validate("watch"))
}

func TestValidateWatch_Missing(t *testing.T) {
	cfg := validConfig(t)

	err := cfg.Validate("watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classifier.api_key is required")
	assert.Contains(t, err.Error(), "at least one watcher is required")
}

func TestValidateWatch_BadKind(t *testing.T) {
	cfg := validConfig(t)
	cfg.Classifier.APIKey = "sk-ant-key"
	cfg.Watchers = append(cfg.Watchers, watcherSource("pigeon", "carrier-pigeon"))

	err := cfg.Validate("watch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind must be rss or reddit")
}

func TestValidateIngest_NeedsAPIKey(t *testing.T) {
	cfg := validConfig(t)

	err := cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classifier.api_key is required")

	cfg.Classifier.APIKey = "sk-ant-key"
	assert.NoError(t, cfg.Validate("ingest"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validConfig(t)
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateBadBackend(t *testing.T) {
	cfg := validConfig(t)
	cfg.Store.Backend = "mysql"

	err := cfg.Validate("sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend must be sqlite or postgres")
}

func TestValidateThresholdBounds(t *testing.T) {
	cfg := validConfig(t)

	cfg.Status.DenialThreshold = 101
	err := cfg.Validate("sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denial_threshold")

	cfg.Status.DenialThreshold = 40
	cfg.Resolve.MinSimilarity = 1.5
	err = cfg.Validate("sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_similarity")

	cfg.Resolve.MinSimilarity = 0.82
	cfg.Merge.DedupWindowHours = 0
	err = cfg.Validate("sweep")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dedup_window_hours")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validConfig(t)
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
