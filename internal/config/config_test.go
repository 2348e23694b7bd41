package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "order-parser.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.InDelta(t, 0.6, cfg.Pipeline.ConfidenceThreshold, 0.001)
	assert.Empty(t, cfg.Pipeline.ParserVersion)
	assert.Equal(t, "generic", cfg.Pipeline.FallbackModel)
	assert.Equal(t, "config/models.yaml", cfg.Pipeline.ModelsPath)
	assert.True(t, cfg.Pipeline.ValidateSchema)
	assert.False(t, cfg.OCR.Enabled)
	assert.Equal(t, "local", cfg.OCR.Provider)
	assert.Equal(t, 50, cfg.OCR.MinChars)
	assert.Equal(t, 4, cfg.Batch.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.FTP.Timeout)
	assert.Equal(t, "order-parser", cfg.Temporal.TaskQueue)
	assert.Equal(t, int64(4096), cfg.Anthropic.MaxTokens)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/orders
log:
  level: debug
  format: console
pipeline:
  confidence_threshold: 0.75
  models_path: models.yaml
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/orders", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.InDelta(t, 0.75, cfg.Pipeline.ConfidenceThreshold, 0.001)
	assert.Equal(t, "models.yaml", cfg.Pipeline.ModelsPath)
	// Defaults still apply for unset values
	assert.Empty(t, cfg.Pipeline.ParserVersion)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	yaml := `
pipeline:
  parser_version: v2
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("ORDER_PIPELINE_PARSER_VERSION", "v3")
	t.Setenv("ORDER_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "v3", cfg.Pipeline.ParserVersion)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	t.Setenv("ORDER_PIPELINE_CONFIDENCE_THRESHOLD", "0.3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.InDelta(t, 0.3, cfg.Pipeline.ConfidenceThreshold, 0.001)
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

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = "test.db"
	cfg.Pipeline.ConfidenceThreshold = 0.6
	cfg.OCR.Provider = "local"
	cfg.Batch.Concurrency = 4
	cfg.Server.Port = 8000
	cfg.Temporal.HostPort = "localhost:7233"
	cfg.Temporal.TaskQueue = "order-parser"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{"", "parse", "serve", "batch", "worker"} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidate_BadStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("parse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidate_ThresholdRange(t *testing.T) {
	cfg := validDefaults()
	cfg.Pipeline.ConfidenceThreshold = 1.5

	err := cfg.Validate("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence_threshold")
}

func TestValidate_MistralNeedsKey(t *testing.T) {
	cfg := validDefaults()
	cfg.OCR.Enabled = true
	cfg.OCR.Provider = "mistral"

	err := cfg.Validate("parse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral_api_key")

	cfg.OCR.MistralKey = "key"
	assert.NoError(t, cfg.Validate("parse"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidateBatch_Concurrency(t *testing.T) {
	cfg := validDefaults()
	cfg.Batch.Concurrency = 0

	err := cfg.Validate("batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.concurrency")
}

func TestValidateWorker_MissingTemporal(t *testing.T) {
	cfg := validDefaults()
	cfg.Temporal.HostPort = ""
	cfg.Temporal.TaskQueue = ""

	err := cfg.Validate("worker")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temporal.host_port is required")
	assert.Contains(t, err.Error(), "temporal.task_queue is required")
}
