package config

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

const (
	// ProviderOpenRouter selects the hosted OpenRouter API for generation.
	ProviderOpenRouter = "openrouter"
	// ProviderOllama selects the local Ollama server for generation.
	ProviderOllama = "ollama"

	secretService        = "bookforge"
	openRouterKeyAccount = "openrouter_api_key"
)

type Config struct {
	Server     ServerConfig
	Generation GenerationConfig
	Ollama     OllamaConfig
	Storage    StorageConfig
	Scraper    ScraperConfig
	Speech     SpeechConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
}

type GenerationConfig struct {
	Provider            string
	Model               string
	WriterTemperature   float64
	ReviewerTemperature float64
	MaxOutputTokens     int
	Timeout             time.Duration
	StageDelay          time.Duration
	OpenRouterAPIKey    string
}

type OllamaConfig struct {
	BaseURL    string
	ChatModel  string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type ScraperConfig struct {
	UserAgent       string
	Timeout         time.Duration
	BrowserFallback bool
	Format          string
}

type SpeechConfig struct {
	Command string
	Rate    int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Generation: GenerationConfig{
			Provider:            ProviderOpenRouter,
			Model:               "google/gemini-flash-1.5",
			WriterTemperature:   0.8,
			ReviewerTemperature: 0.3,
			MaxOutputTokens:     4096,
			Timeout:             120 * time.Second,
			StageDelay:          time.Second,
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			ChatModel:  "mistral-nemo",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Scraper: ScraperConfig{
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			Timeout:         30 * time.Second,
			BrowserFallback: true,
			Format:          "text",
		},
		Speech: SpeechConfig{
			Command: "espeak",
			Rate:    150,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the TOML file, environment variables and
// the platform secret store.
//
// The file lives at $XDG_CONFIG_HOME/bookforge/config.toml. Environment
// variables (BOOKFORGE_*) override file values. Secrets not set in the
// environment are read from the macOS Keychain on darwin and from
// secrets.json under the data home elsewhere.
//
// No key is required at load time: a missing OpenRouter key surfaces on the
// first generation call.
func Load() (Config, error) {
	return loadWith(newFileBackend(ConfigFilePath()), NewKeychain())
}

// SecretStore abstracts Keychain access for testing.
type SecretStore interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadFromPath(path string, kc SecretStore) (Config, error) {
	return loadWith(newFileBackend(path), kc)
}

func loadWith(b ConfigBackend, kc SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	applySecrets(&cfg, kc)

	return cfg, nil
}

// SlogLevel maps log.level onto a slog level; unknown names mean Info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// StatePath is the learning state file inside the data directory.
func (c Config) StatePath(name string) string {
	return filepath.Join(c.Storage.DataDir, name)
}
