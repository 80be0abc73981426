package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dayuer/askrelay/internal/utils"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ASKRELAY_"

// GetConfigPath returns the default config file path (~/.askrelay/config.json).
func GetConfigPath() string {
	return filepath.Join(utils.DataPath(), "config.json")
}

// Load reads configuration from a JSON file, then applies .env and
// environment overrides.
// If path is empty, uses the default config path.
// If the file doesn't exist, starts from DefaultConfig().
func Load(path string) (Config, error) {
	if path == "" {
		path = GetConfigPath()
	}

	cfg := DefaultConfig() // start with defaults so zero-value fields get filled
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return DefaultConfig(), fmt.Errorf("parse %s: %w", path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return DefaultConfig(), err
	}

	if err := LoadDotEnv(); err != nil {
		return DefaultConfig(), err
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return DefaultConfig(), fmt.Errorf("environment overrides: %w", err)
	}
	applyKeyFallbacks(&cfg)

	cfg.RAG.KnowledgeDir = utils.ExpandHome(cfg.RAG.KnowledgeDir)
	cfg.Admin.ProfilePath = utils.ExpandHome(cfg.Admin.ProfilePath)
	cfg.Admin.RosterPath = utils.ExpandHome(cfg.Admin.RosterPath)
	cfg.Store.QueryLogPath = utils.ExpandHome(cfg.Store.QueryLogPath)
	cfg.Store.TranscriptsDir = utils.ExpandHome(cfg.Store.TranscriptsDir)
	return cfg, nil
}

// LoadDotEnv loads the given .env files (default ".env") into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// applyKeyFallbacks fills unset keys from OPENAI_API_KEY, and the router
// and embedding keys from the main LLM key.
func applyKeyFallbacks(cfg *Config) {
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Router.APIKey == "" {
		cfg.Router.APIKey = cfg.LLM.APIKey
	}
	if cfg.RAG.EmbeddingAPIKey == "" {
		cfg.RAG.EmbeddingAPIKey = cfg.LLM.APIKey
	}
}

// Validate checks values that would otherwise fail at runtime.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Session.MaxTurns <= 0 {
		errs = append(errs, errors.New("session.maxTurns must be positive"))
	}
	if c.Session.Workers <= 0 {
		errs = append(errs, errors.New("session.workers must be positive"))
	}
	if c.Session.HumanInputTimeout <= 0 {
		errs = append(errs, errors.New("session.humanInputTimeout must be positive"))
	}
	if !slices.Contains([]string{"llm", "round_robin"}, c.Session.Selection) {
		errs = append(errs, fmt.Errorf("session.selection %q must be llm or round_robin", c.Session.Selection))
	}
	if !slices.Contains([]string{"mock", "http"}, c.Session.Dispatch) {
		errs = append(errs, fmt.Errorf("session.dispatch %q must be mock or http", c.Session.Dispatch))
	}
	return errors.Join(errs...)
}

// Save writes configuration to a JSON file.
// If path is empty, uses the default config path.
func Save(cfg Config, path string) error {
	if path == "" {
		path = GetConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
