package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/lessonweave-backend/internal/data/db"
	"github.com/yungbote/lessonweave-backend/internal/generation"
	"github.com/yungbote/lessonweave-backend/internal/platform/logger"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CONFIG_FILE", "APP_ENV", "ADDR", "SHUTDOWN_TIMEOUT", "CORS_ALLOWED_ORIGINS",
		"DB_DRIVER", "POSTGRES_HOST", "SQLITE_PATH", "REDIS_ADDR", "REDIS_SSE_CHANNEL",
		"GENERATION_PROVIDER", "GENERATION_CONFLICT_POLICY", "GENERATION_ACK_TIMEOUT",
		"GENERATION_USE_LEASE", "OPENAI_MODEL", "OTEL_ENABLED",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig(logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "postgres", cfg.DB.Driver)
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, generation.PolicyReject, cfg.Generation.Policy)
	assert.Equal(t, 5*time.Second, cfg.Generation.AckTimeout)
	assert.Equal(t, "lessonweave:sse", cfg.SSEChannel)
	assert.False(t, cfg.UseLease)
	assert.Equal(t, 1.0, cfg.Otel.SampleRatio)
}

func TestLoadConfigFileOverlayAndEnvPrecedence(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
addr: ":9090"
allowed_origins: ["https://a.example"]
database:
  driver: sqlite
  sqlite_path: /tmp/x.db
generation:
  provider: eino
  conflict_policy: replace
  ack_timeout: 2s
  use_lease: true
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("ADDR", ":7070")

	cfg, err := LoadConfig(logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, []string{"https://a.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, "/tmp/x.db", cfg.DB.SQLitePath)
	assert.Equal(t, "eino", cfg.Provider)
	assert.Equal(t, generation.PolicyReplace, cfg.Generation.Policy)
	assert.Equal(t, 2*time.Second, cfg.Generation.AckTimeout)
	assert.True(t, cfg.UseLease)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("GENERATION_PROVIDER", "carrier-pigeon")
	_, err := LoadConfig(logger.Nop())
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("GENERATION_CONFLICT_POLICY", "queue")
	_, err = LoadConfig(logger.Nop())
	assert.Error(t, err)

	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = LoadConfig(logger.Nop())
	assert.Error(t, err)
}

func TestNewWithConfigServesHealth(t *testing.T) {
	cfg := Config{
		Addr:            "127.0.0.1:0",
		ShutdownTimeout: 2 * time.Second,
		DB: db.Config{
			Driver:       "sqlite",
			SQLitePath:   filepath.Join(t.TempDir(), "app.db"),
			MaxOpenConns: 1,
		},
		Provider:   "openai",
		OpenAI:     generation.OpenAIConfig{APIKey: "test-key"},
		Generation: generation.Config{Policy: generation.PolicyReject},
	}

	a, err := NewWithConfig(context.Background(), logger.Nop(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.shutdown() })

	for _, path := range []string{"/healthcheck", "/readyz"} {
		w := httptest.NewRecorder()
		a.Server.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	a.Server.Engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/modules?workspace_id=not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
