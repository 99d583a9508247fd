// Package config loads storyflow engine configuration from TOML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type ProviderConfig struct {
	Text   string `toml:"text"`
	Vision string `toml:"vision"`
}

type OpenAIConfig struct {
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
	ChatModel  string `toml:"chat_model"`
	ImageModel string `toml:"image_model"`
}

type GeminiConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

type AnthropicConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
	Model   string `toml:"model"`
}

type StudioConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

type EngineConfig struct {
	// PollIntervalMS is the resolver's fallback re-check interval.
	PollIntervalMS int `toml:"poll_interval_ms"`
	// BatchDelayMS is the fixed inter-call delay for batch cell extraction.
	BatchDelayMS int `toml:"batch_delay_ms"`
	// ProxyBase routes cross-origin image fetches; empty disables the
	// proxy step of the normalization chain.
	ProxyBase string `toml:"proxy_base"`
}

type GridConfig struct {
	CellCount   int    `toml:"cell_count"`
	Resolution  string `toml:"resolution"`
	AspectRatio string `toml:"aspect_ratio"`
}

type RetryConfig struct {
	MaxAttempts    int     `toml:"max_attempts"`
	InitialDelayMS int     `toml:"initial_delay_ms"`
	MaxDelayMS     int     `toml:"max_delay_ms"`
	Multiplier     float64 `toml:"multiplier"`
}

type Config struct {
	Providers ProviderConfig  `toml:"providers"`
	OpenAI    OpenAIConfig    `toml:"openai"`
	Gemini    GeminiConfig    `toml:"gemini"`
	Anthropic AnthropicConfig `toml:"anthropic"`
	Studio    StudioConfig    `toml:"studio"`
	Engine    EngineConfig    `toml:"engine"`
	Grid      GridConfig      `toml:"grid"`
	Retry     RetryConfig     `toml:"retry"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			PollIntervalMS: 500,
			BatchDelayMS:   500,
		},
		Grid: GridConfig{
			CellCount:   4,
			AspectRatio: "1:1",
		},
	}
}

// Load reads and parses a TOML configuration file, filling unset engine
// fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Engine.PollIntervalMS <= 0 {
		c.Engine.PollIntervalMS = 500
	}
	if c.Engine.BatchDelayMS <= 0 {
		c.Engine.BatchDelayMS = 500
	}
	if c.Grid.CellCount == 0 {
		c.Grid.CellCount = 4
	}
	if c.Grid.AspectRatio == "" {
		c.Grid.AspectRatio = "1:1"
	}
}

// PollInterval returns the resolver poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Engine.PollIntervalMS) * time.Millisecond
}

// BatchDelay returns the batch extraction delay as a duration.
func (c *Config) BatchDelay() time.Duration {
	return time.Duration(c.Engine.BatchDelayMS) * time.Millisecond
}

// FillFromEnv overlays API keys from the environment where the file left
// them empty.
func (c *Config) FillFromEnv() {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	fill(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	fill(&c.Gemini.APIKey, "GEMINI_API_KEY")
	fill(&c.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	fill(&c.Studio.APIKey, "STUDIO_API_KEY")
	fill(&c.Studio.BaseURL, "STUDIO_BASE_URL")
}
