package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // secret store account for secret keys
	allowed []string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "BOOKFORGE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "generation.provider", typ: kString, env: "BOOKFORGE_GENERATION_PROVIDER",
		allowed: []string{ProviderOpenRouter, ProviderOllama},
		apply:   func(cfg *Config, v any) { cfg.Generation.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Provider },
	},
	{
		key: "generation.model", typ: kString, env: "BOOKFORGE_GENERATION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generation.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Model },
	},
	{
		key: "generation.writer_temperature", typ: kFloat, env: "BOOKFORGE_GENERATION_WRITER_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Generation.WriterTemperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.WriterTemperature },
	},
	{
		key: "generation.reviewer_temperature", typ: kFloat, env: "BOOKFORGE_GENERATION_REVIEWER_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Generation.ReviewerTemperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.ReviewerTemperature },
	},
	{
		key: "generation.max_output_tokens", typ: kInt, env: "BOOKFORGE_GENERATION_MAX_OUTPUT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Generation.MaxOutputTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Generation.MaxOutputTokens },
	},
	{
		key: "generation.timeout", typ: kDuration, env: "BOOKFORGE_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.Timeout },
	},
	{
		key: "generation.stage_delay", typ: kDuration, env: "BOOKFORGE_GENERATION_STAGE_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Generation.StageDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.StageDelay },
	},
	{
		key: "generation.openrouter_api_key", typ: kString, env: "BOOKFORGE_OPENROUTER_API_KEY",
		secret: true, account: openRouterKeyAccount,
		apply:   func(cfg *Config, v any) { cfg.Generation.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.OpenRouterAPIKey },
	},
	{
		key: "ollama.base_url", typ: kString, env: "BOOKFORGE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.chat_model", typ: kString, env: "BOOKFORGE_OLLAMA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ChatModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.ChatModel },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "BOOKFORGE_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "BOOKFORGE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "scraper.user_agent", typ: kString, env: "BOOKFORGE_SCRAPER_USER_AGENT",
		apply:   func(cfg *Config, v any) { cfg.Scraper.UserAgent = v.(string) },
		extract: func(cfg Config) any { return cfg.Scraper.UserAgent },
	},
	{
		key: "scraper.timeout", typ: kDuration, env: "BOOKFORGE_SCRAPER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Scraper.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scraper.Timeout },
	},
	{
		key: "scraper.browser_fallback", typ: kBool, env: "BOOKFORGE_SCRAPER_BROWSER_FALLBACK",
		apply:   func(cfg *Config, v any) { cfg.Scraper.BrowserFallback = v.(bool) },
		extract: func(cfg Config) any { return cfg.Scraper.BrowserFallback },
	},
	{
		key: "scraper.format", typ: kString, env: "BOOKFORGE_SCRAPER_FORMAT",
		allowed: []string{"text", "markdown"},
		apply:   func(cfg *Config, v any) { cfg.Scraper.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Scraper.Format },
	},
	{
		key: "speech.command", typ: kString, env: "BOOKFORGE_SPEECH_COMMAND",
		apply:   func(cfg *Config, v any) { cfg.Speech.Command = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.Command },
	},
	{
		key: "speech.rate", typ: kInt, env: "BOOKFORGE_SPEECH_RATE",
		apply:   func(cfg *Config, v any) { cfg.Speech.Rate = v.(int) },
		extract: func(cfg Config) any { return cfg.Speech.Rate },
	},
	{
		key: "log.level", typ: kString, env: "BOOKFORGE_LOG_LEVEL",
		allowed: []string{"debug", "info", "warn", "error"},
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parse converts raw to the key's type and checks allowed values.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err == nil && d < 0 {
			err = fmt.Errorf("negative duration")
		}
		return d, err
	}
	if len(s.allowed) > 0 {
		for _, a := range s.allowed {
			if raw == a {
				return raw, nil
			}
		}
		return nil, fmt.Errorf("must be one of %v", s.allowed)
	}
	return raw, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
