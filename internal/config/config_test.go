package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearKeys keeps the developer's environment out of the loader tests.
func clearKeys(t *testing.T) {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
}

// --- Schema Tests ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 25, cfg.Session.MaxTurns)
	assert.Equal(t, 10*time.Minute, cfg.Session.HumanInputTimeout.D())
	assert.Equal(t, 30*time.Minute, cfg.Session.SessionTimeout.D())
	assert.Equal(t, 8, cfg.Session.Workers)
	assert.Equal(t, "mock", cfg.Session.Dispatch)
	assert.Equal(t, "assistant_config.json", filepath.Base(cfg.Admin.RosterPath))
	assert.True(t, cfg.Admin.Watch)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_CamelCaseJSON(t *testing.T) {
	jsonStr := `{
		"server": {"port": 9090, "apiKey": "admin", "allowedOrigins": ["https://app.example.com"]},
		"llm": {"model": "anthropic/claude-sonnet-4-5", "maxTokens": 2048},
		"session": {"humanInputTimeout": "90s", "maxTurns": 10, "selection": "round_robin"},
		"admin": {"watch": false}
	}`

	cfg := DefaultConfig()
	require.NoError(t, json.Unmarshal([]byte(jsonStr), &cfg))

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "admin", cfg.Server.APIKey)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "anthropic/claude-sonnet-4-5", cfg.LLM.Model)
	assert.Equal(t, 90*time.Second, cfg.Session.HumanInputTimeout.D())
	assert.Equal(t, 10, cfg.Session.MaxTurns)
	assert.Equal(t, "round_robin", cfg.Session.Selection)
	assert.False(t, cfg.Admin.Watch)
	// untouched defaults survive
	assert.Equal(t, 8, cfg.Session.Workers)
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.D())

	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m30s", string(b))

	assert.Error(t, d.UnmarshalText([]byte("ten minutes")))
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 0
	cfg.Session.Dispatch = "grpc"
	cfg.Session.Selection = "random"
	cfg.Session.Workers = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "server.port")
	assert.ErrorContains(t, err, "session.dispatch")
	assert.ErrorContains(t, err, "session.selection")
	assert.ErrorContains(t, err, "session.workers")
}

// --- Loader Tests ---

func TestLoad_FileNotExist(t *testing.T) {
	clearKeys(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_ValidFile(t *testing.T) {
	clearKeys(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"llm": {"model": "deepseek/deepseek-chat", "maxTokens": 512}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "deepseek/deepseek-chat", cfg.LLM.Model)
	assert.Equal(t, 512, cfg.LLM.MaxTokens)
	// Defaults should be preserved for unset fields
	assert.Equal(t, 0.2, cfg.LLM.Temperature)
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{invalid json}"), 0o644))

	cfg, err := Load(path)
	assert.Error(t, err)
	// Should return defaults on error
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearKeys(t)
	t.Setenv("ASKRELAY_SERVER_PORT", "9999")
	t.Setenv("ASKRELAY_SERVER_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("ASKRELAY_SESSION_HUMAN_INPUT_TIMEOUT", "2m")
	t.Setenv("ASKRELAY_REDIS_URL", "redis://cache:6379/0")
	t.Setenv("ASKRELAY_LLM_API_KEY", "sk-main")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 2*time.Minute, cfg.Session.HumanInputTimeout.D())
	assert.Equal(t, "redis://cache:6379/0", cfg.Redis.URL)

	// router and embedding keys fall back to the main key
	assert.Equal(t, "sk-main", cfg.Router.APIKey)
	assert.Equal(t, "sk-main", cfg.RAG.EmbeddingAPIKey)
}

func TestLoad_OpenAIKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("ASKRELAY_ROUTER_API_KEY", "sk-router")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, "sk-router", cfg.Router.APIKey)
}

func TestLoad_BadEnvValue(t *testing.T) {
	clearKeys(t)
	t.Setenv("ASKRELAY_SESSION_WORKERS", "many")
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "environment overrides")
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("ASKRELAY_DOTENV_PROBE=from-file\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("ASKRELAY_DOTENV_PROBE") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "absent.env")))
	assert.Equal(t, "from-file", os.Getenv("ASKRELAY_DOTENV_PROBE"))
}

func TestSave_And_Load_RoundTrip(t *testing.T) {
	clearKeys(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.json")

	cfg := DefaultConfig()
	cfg.LLM.Model = "openai/gpt-4o"
	cfg.Session.Retention = Duration(time.Hour)
	cfg.Admin.Watch = false

	require.NoError(t, Save(cfg, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"retention": "1h0m0s"`)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", loaded.LLM.Model)
	assert.Equal(t, time.Hour, loaded.Session.Retention.D())
	assert.False(t, loaded.Admin.Watch)
}

func TestSave_CreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "config.json")

	require.NoError(t, Save(DefaultConfig(), path))

	_, err := os.Stat(path)
	assert.NoError(t, err)
}
