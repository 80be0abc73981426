// Package config handles configuration loading, saving, and schema definition.
package config

import (
	"path/filepath"
	"time"

	"github.com/dayuer/askrelay/internal/utils"
)

// Config is the top-level askrelay configuration.
// Uses json tags in camelCase to match the JSON config file format.
// Every field can be overridden from the environment as ASKRELAY_<SECTION>_<FIELD>.
type Config struct {
	Server  ServerConfig  `json:"server" envPrefix:"SERVER_"`
	LLM     LLMConfig     `json:"llm" envPrefix:"LLM_"`
	Router  RouterConfig  `json:"router" envPrefix:"ROUTER_"`
	Session SessionConfig `json:"session" envPrefix:"SESSION_"`
	RAG     RAGConfig     `json:"rag" envPrefix:"RAG_"`
	Admin   AdminConfig   `json:"admin" envPrefix:"ADMIN_"`
	Store   StoreConfig   `json:"store" envPrefix:"STORE_"`
	Redis   RedisConfig   `json:"redis" envPrefix:"REDIS_"`
	Log     LogConfig     `json:"log" envPrefix:"LOG_"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host           string   `json:"host,omitempty" env:"HOST"`
	Port           int      `json:"port,omitempty" env:"PORT"`
	APIKey         string   `json:"apiKey,omitempty" env:"API_KEY"` // bearer key for admin routes; empty disables auth
	AllowedOrigins []string `json:"allowedOrigins,omitempty" env:"ALLOWED_ORIGINS" envSeparator:","`
}

// LLMConfig configures the model used for baseline answers and agents.
type LLMConfig struct {
	Provider    string  `json:"provider,omitempty" env:"PROVIDER"`
	Model       string  `json:"model,omitempty" env:"MODEL"`
	APIKey      string  `json:"apiKey,omitempty" env:"API_KEY"`
	APIBase     string  `json:"apiBase,omitempty" env:"API_BASE"`
	Temperature float64 `json:"temperature,omitempty" env:"TEMPERATURE"`
	MaxTokens   int     `json:"maxTokens,omitempty" env:"MAX_TOKENS"`
}

// RouterConfig configures the routing classifier.
type RouterConfig struct {
	Model    string   `json:"model,omitempty" env:"MODEL"`
	APIKey   string   `json:"apiKey,omitempty" env:"API_KEY"`
	APIBase  string   `json:"apiBase,omitempty" env:"API_BASE"`
	CacheTTL Duration `json:"cacheTTL,omitempty" env:"CACHE_TTL"` // negative disables the decision cache
}

// SessionConfig configures interactive sessions.
type SessionConfig struct {
	MaxTurns          int      `json:"maxTurns,omitempty" env:"MAX_TURNS"`
	HumanInputTimeout Duration `json:"humanInputTimeout,omitempty" env:"HUMAN_INPUT_TIMEOUT"`
	SessionTimeout    Duration `json:"sessionTimeout,omitempty" env:"TIMEOUT"`
	Retention         Duration `json:"retention,omitempty" env:"RETENTION"`
	Workers           int      `json:"workers,omitempty" env:"WORKERS"`
	Selection         string   `json:"selection,omitempty" env:"SELECTION"` // llm | round_robin
	Dispatch          string   `json:"dispatch,omitempty" env:"DISPATCH"`   // mock | http
	DispatchTimeout   Duration `json:"dispatchTimeout,omitempty" env:"DISPATCH_TIMEOUT"`
}

// RAGConfig configures the knowledge store.
type RAGConfig struct {
	ChromaURL        string `json:"chromaURL,omitempty" env:"CHROMA_URL"`
	Collection       string `json:"collection,omitempty" env:"COLLECTION"`
	EmbeddingModel   string `json:"embeddingModel,omitempty" env:"EMBEDDING_MODEL"`
	EmbeddingAPIKey  string `json:"embeddingApiKey,omitempty" env:"EMBEDDING_API_KEY"`
	EmbeddingBaseURL string `json:"embeddingBaseURL,omitempty" env:"EMBEDDING_BASE_URL"`
	TopK             int    `json:"topK,omitempty" env:"TOP_K"`
	KnowledgeDir     string `json:"knowledgeDir,omitempty" env:"KNOWLEDGE_DIR"`
}

// AdminConfig locates the admin-managed supervisor profile and roster.
type AdminConfig struct {
	ProfilePath string `json:"profilePath,omitempty" env:"PROFILE_PATH"`
	RosterPath  string `json:"rosterPath,omitempty" env:"ROSTER_PATH"`
	Watch       bool   `json:"watch" env:"WATCH"`
}

// StoreConfig locates persistent state.
type StoreConfig struct {
	QueryLogPath   string `json:"queryLogPath,omitempty" env:"QUERY_LOG_PATH"`
	TranscriptsDir string `json:"transcriptsDir,omitempty" env:"TRANSCRIPTS_DIR"`
}

// RedisConfig holds optional Redis settings. An empty URL disables Redis.
type RedisConfig struct {
	URL      string `json:"url,omitempty" env:"URL"`
	Password string `json:"password,omitempty" env:"PASSWORD"`
	DB       int    `json:"db,omitempty" env:"DB"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level       string `json:"level,omitempty" env:"LEVEL"`
	Development bool   `json:"development" env:"DEVELOPMENT"`
}

// Duration is a time.Duration written as "10m" in JSON and env values.
type Duration time.Duration

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	data := utils.DataPath()
	return Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			AllowedOrigins: []string{"*"},
		},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   1024,
		},
		Router: RouterConfig{
			Model:    "gpt-4o",
			CacheTTL: Duration(5 * time.Minute),
		},
		Session: SessionConfig{
			MaxTurns:          25,
			HumanInputTimeout: Duration(10 * time.Minute),
			SessionTimeout:    Duration(30 * time.Minute),
			Retention:         Duration(15 * time.Minute),
			Workers:           8,
			Selection:         "llm",
			Dispatch:          "mock",
			DispatchTimeout:   Duration(15 * time.Second),
		},
		RAG: RAGConfig{
			ChromaURL:        "http://localhost:8000",
			Collection:       "knowledge",
			EmbeddingModel:   "text-embedding-3-small",
			EmbeddingBaseURL: "https://api.openai.com/v1",
			TopK:             4,
			KnowledgeDir:     filepath.Join(data, "knowledge_base"),
		},
		Admin: AdminConfig{
			ProfilePath: filepath.Join(data, "supervisor_profile.json"),
			RosterPath:  filepath.Join(data, "assistant_config.json"),
			Watch:       true,
		},
		Store: StoreConfig{
			QueryLogPath:   filepath.Join(data, "queries.db"),
			TranscriptsDir: filepath.Join(data, "transcripts"),
		},
		Log: LogConfig{Level: "info"},
	}
}
