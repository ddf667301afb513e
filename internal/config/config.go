package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the PostGen server. It is built once
// at startup and only read afterwards.
type Config struct {
	Port       int              `koanf:"port"`
	Version    string           `koanf:"version"`
	Log        LogConfig        `koanf:"log"`
	LLM        LLMConfig        `koanf:"llm"`
	Facts      FactsConfig      `koanf:"facts"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	Store      StoreConfig      `koanf:"store"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Generation GenerationConfig `koanf:"generation"`
	CORS       CORSConfig       `koanf:"cors"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // console, json
}

type LLMConfig struct {
	Provider        string        `koanf:"provider"` // gemini, openai
	Model           string        `koanf:"model"`
	APIKey          string        `koanf:"api_key"`
	BaseURL         string        `koanf:"base_url"`
	Timeout         time.Duration `koanf:"timeout"`
	MaxOutputTokens int           `koanf:"max_output_tokens"`
	// RatePerToken overrides the built-in USD rate for the configured model.
	RatePerToken float64 `koanf:"rate_per_token"`
	DefaultRate  float64 `koanf:"default_rate"`
	// KeyCacheSize bounds the per-key client cache used for bring-your-own-key.
	KeyCacheSize int `koanf:"key_cache_size"`
}

type FactsConfig struct {
	Enabled            bool          `koanf:"enabled"`
	SearchURL          string        `koanf:"search_url"`
	SearchLimit        int           `koanf:"search_limit"`
	SummarizeTop       int           `koanf:"summarize_top"`
	MinParagraphLength int           `koanf:"min_paragraph_length"`
	MaxParagraphs      int           `koanf:"max_paragraphs"`
	MaxSummaryLength   int           `koanf:"max_summary_length"`
	UserAgent          string        `koanf:"user_agent"`
	Timeout            time.Duration `koanf:"timeout"`
	Concurrency        int           `koanf:"concurrency"`
	CacheSize          int           `koanf:"cache_size"`
	CacheTTL           time.Duration `koanf:"cache_ttl"`
}

type RateLimitConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Requests   int           `koanf:"requests"`
	Window     time.Duration `koanf:"window"`
	MaxClients int           `koanf:"max_clients"`
}

type StoreConfig struct {
	Driver  string `koanf:"driver"` // memory, sqlite, postgres
	Path    string `koanf:"path"`
	URL     string `koanf:"url"` // postgres connection string
	DataDir string `koanf:"data_dir"`
	// Retention of zero keeps usage records forever.
	Retention     time.Duration `koanf:"retention"`
	PruneInterval time.Duration `koanf:"prune_interval"`
	// ArchiveDir, when set, receives expired records as JSONL before they
	// are pruned.
	ArchiveDir      string `koanf:"archive_dir"`
	ArchiveCompress bool   `koanf:"archive_compress"`
}

type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	Exporter     string `koanf:"exporter"` // otlp, stdout
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	ServiceName  string `koanf:"service_name"`
}

// GenerationConfig holds the request defaults applied during validation.
type GenerationConfig struct {
	PostCount    int     `koanf:"post_count"`
	HashtagLimit int     `koanf:"hashtag_limit"`
	Temperature  float64 `koanf:"temperature"`
	Tone         string  `koanf:"tone"`
	Audience     string  `koanf:"audience"`
	Language     string  `koanf:"language"`
	ReadingLevel string  `koanf:"reading_level"`
	CTAStyle     string  `koanf:"cta_style"`
	TargetLength string  `koanf:"target_length"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// defaults are applied for every key the file and environment leave unset.
var defaults = map[string]any{
	"port":                       8080,
	"version":                    "0.1.0",
	"log.level":                  "info",
	"log.format":                 "console",
	"llm.provider":               "gemini",
	"llm.model":                  "gemini-2.5-flash-lite",
	"llm.api_key":                "${GEMINI_API_KEY}",
	"llm.timeout":                "45s",
	"llm.max_output_tokens":      8192,
	"llm.default_rate":           0.000002,
	"llm.key_cache_size":         64,
	"facts.enabled":              true,
	"facts.search_url":           "https://html.duckduckgo.com/html/",
	"facts.search_limit":         5,
	"facts.summarize_top":        3,
	"facts.min_paragraph_length": 50,
	"facts.max_paragraphs":       5,
	"facts.max_summary_length":   500,
	"facts.user_agent":           "Mozilla/5.0 (PostGen/1.0)",
	"facts.timeout":              "10s",
	"facts.concurrency":          3,
	"facts.cache_size":           256,
	"facts.cache_ttl":            "1h",
	"rate_limit.enabled":         true,
	"rate_limit.requests":        10,
	"rate_limit.window":          "60s",
	"rate_limit.max_clients":     10000,
	"store.driver":               "memory",
	"store.path":                 "postgen.db",
	"store.retention":            "720h",
	"store.prune_interval":       "1h",
	"store.archive_compress":     true,
	"telemetry.enabled":          false,
	"telemetry.exporter":         "otlp",
	"telemetry.otlp_endpoint":    "localhost:4317",
	"telemetry.service_name":     "postgen",
	"generation.post_count":      3,
	"generation.hashtag_limit":   5,
	"generation.temperature":     0.6,
	"generation.tone":            "Startup Founder",
	"generation.audience":        "general professionals",
	"generation.language":        "English",
	"generation.reading_level":   "Professional",
	"generation.cta_style":       "Question",
	"generation.target_length":   "medium",
	"cors.allowed_origins":       []string{"*"},
}

// Load reads postgen.yaml (or the file named by POSTGEN_CONFIG), then
// POSTGEN_* environment variables, then fills defaults. A double underscore
// in a variable name separates nested keys: POSTGEN_LLM__API_KEY.
func Load() (*Config, error) {
	k := koanf.New(".")

	path := os.Getenv("POSTGEN_CONFIG")
	if path == "" {
		path = "postgen.yaml"
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("POSTGEN_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "POSTGEN_")), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	// The OpenAI provider reads its own key variable unless one was given.
	if !k.Exists("llm.api_key") && k.String("llm.provider") == "openai" {
		k.Set("llm.api_key", "${OPENAI_API_KEY}")
		if !k.Exists("llm.model") {
			k.Set("llm.model", "gpt-4o-mini")
		}
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.LLM.APIKey = substituteEnvVars(cfg.LLM.APIKey)
	cfg.LLM.BaseURL = substituteEnvVars(cfg.LLM.BaseURL)
	cfg.Store.URL = substituteEnvVars(cfg.Store.URL)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("llm.provider: unsupported provider %q", c.LLM.Provider)
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Store.URL == "" {
			return errors.New("store.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver: unsupported driver %q", c.Store.Driver)
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return errors.New("rate_limit: requests and window must be positive")
	}
	return nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
