package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Log        LogConfig
	Model      ModelConfig
	Ollama     OllamaConfig
	OpenRouter OpenRouterConfig
	Gemini     GeminiConfig
	Governance GovernanceConfig
	Search     SearchConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

// ModelConfig selects the completion backend: ollama, openrouter or gemini.
type ModelConfig struct {
	Backend string
	Name    string
}

type OllamaConfig struct {
	BaseURL string
}

type OpenRouterConfig struct {
	APIKey string
}

type GeminiConfig struct {
	APIKey string
}

type GovernanceConfig struct {
	CacheTTL  time.Duration
	RulesFile string
}

type SearchConfig struct {
	Enabled    bool
	MaxResults int
}

func defaults() Config {
	return Config{
		Server:     ServerConfig{Port: 4100},
		Storage:    StorageConfig{DataDir: defaultDataDir()},
		Log:        LogConfig{Level: "info"},
		Model:      ModelConfig{Backend: "ollama", Name: "llama3.2"},
		Ollama:     OllamaConfig{BaseURL: "http://localhost:11434"},
		Governance: GovernanceConfig{CacheTTL: time.Minute, RulesFile: filepath.Join(configDir(), "rules.yaml")},
		Search:     SearchConfig{Enabled: false, MaxResults: 5},
	}
}

// Load reads configuration in order of increasing precedence: defaults, the
// JSON file at $XDG_CONFIG_HOME/pachai/config.json, a .env file in the
// working directory or the config directory, then PACHAI_* environment
// variables. API keys missing from the environment are read from the secrets
// file in the data directory.
func Load() (Config, error) {
	if err := loadDotEnv(".env", filepath.Join(configDir(), ".env")); err != nil {
		return Config{}, err
	}
	return loadWith(newFileBackend(FilePath()), defaultSecrets())
}

// loadDotEnv loads every existing file; variables already set win.
func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch strings.ToLower(c.Model.Backend) {
	case "ollama":
	case "openrouter":
		if c.OpenRouter.APIKey == "" {
			return fmt.Errorf("missing required config: OpenRouter API key. Set it via environment variable PACHAI_OPENROUTER_API_KEY")
		}
	case "gemini":
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("missing required config: Gemini API key. Set it via environment variable PACHAI_GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("invalid model.backend %q: want ollama, openrouter or gemini", c.Model.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Governance.CacheTTL <= 0 {
		return fmt.Errorf("governance.cache_ttl must be positive")
	}
	return nil
}
