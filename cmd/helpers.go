package cmd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dayuer/askrelay/internal/config"
	"github.com/dayuer/askrelay/internal/logging"
	"github.com/dayuer/askrelay/internal/providers"
	"github.com/dayuer/askrelay/internal/tools"
)

// loadConfig reads the config named by --config and validates it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// makeProvider creates the LLM provider for baseline answers and agents.
// With no explicit provider the model name and key decide (see providers.New).
func makeProvider(c config.LLMConfig) providers.LLMProvider {
	apiBase := c.APIBase
	name := c.Provider
	if apiBase == "" && strings.HasPrefix(c.APIKey, "sk-or-") {
		apiBase = "https://openrouter.ai/api/v1"
		name = "openrouter"
	}
	return providers.New(providers.Settings{
		Provider: name,
		APIKey:   c.APIKey,
		APIBase:  apiBase,
		Model:    c.Model,
	})
}

// providerLabel names the backend the LLM settings resolve to.
func providerLabel(c config.LLMConfig) string {
	spec := providers.FindGateway(c.Provider, c.APIKey, c.APIBase)
	if spec == nil && c.Provider != "" {
		spec = providers.FindByName(c.Provider)
	}
	if spec == nil {
		spec = providers.FindByModel(c.Model)
	}
	if spec == nil {
		return "unknown"
	}
	return spec.Label()
}

// makeDispatcher picks how task calls reach their endpoints.
func makeDispatcher(c config.SessionConfig) tools.Dispatcher {
	if c.Dispatch == "http" {
		return tools.NewHTTPDispatcher(c.DispatchTimeout.D())
	}
	return tools.MockDispatcher{Logger: logging.Named("tools")}
}

// serverURL is the base URL commands use to reach a running server.
func serverURL(cfg config.Config, override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
}

// authorize adds the admin bearer key when one is configured.
func authorize(req *http.Request, apiKey string) {
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
