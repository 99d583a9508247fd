package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.PollInterval())
	}
	if cfg.BatchDelay() != 500*time.Millisecond {
		t.Errorf("batch delay = %v", cfg.BatchDelay())
	}
	if cfg.Grid.CellCount != 4 || cfg.Grid.AspectRatio != "1:1" {
		t.Errorf("grid defaults = %+v", cfg.Grid)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
[providers]
text = "gemini"
vision = "openai"

[openai]
api_key = "sk-test"
chat_model = "gpt-4o"

[studio]
base_url = "https://studio.example"

[engine]
poll_interval_ms = 250
proxy_base = "https://proxy.example/fetch"

[retry]
max_attempts = 3
initial_delay_ms = 100
multiplier = 2.0
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Text != "gemini" || cfg.Providers.Vision != "openai" {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.OpenAI.APIKey != "sk-test" || cfg.OpenAI.ChatModel != "gpt-4o" {
		t.Errorf("openai = %+v", cfg.OpenAI)
	}
	if cfg.PollInterval() != 250*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.PollInterval())
	}
	if cfg.Engine.ProxyBase != "https://proxy.example/fetch" {
		t.Errorf("proxy base = %q", cfg.Engine.ProxyBase)
	}
	// Fields the file leaves out keep their defaults.
	if cfg.BatchDelay() != 500*time.Millisecond {
		t.Errorf("batch delay = %v", cfg.BatchDelay())
	}
	if cfg.Grid.CellCount != 4 {
		t.Errorf("cell count = %d", cfg.Grid.CellCount)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.Multiplier != 2.0 {
		t.Errorf("retry = %+v", cfg.Retry)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
			t.Error("expected an error for a missing file")
		}
	})

	t.Run("malformed toml", func(t *testing.T) {
		path := writeConfig(t, "providers = not valid toml [")
		if _, err := Load(path); err == nil {
			t.Error("expected a parse error")
		}
	})
}

func TestFillFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-openai")
	t.Setenv("GEMINI_API_KEY", "env-gemini")
	t.Setenv("STUDIO_BASE_URL", "https://env.example")

	cfg := Default()
	cfg.OpenAI.APIKey = "from-file"
	cfg.FillFromEnv()

	// The file value wins; the environment fills blanks only.
	if cfg.OpenAI.APIKey != "from-file" {
		t.Errorf("openai key = %q, want the file value kept", cfg.OpenAI.APIKey)
	}
	if cfg.Gemini.APIKey != "env-gemini" {
		t.Errorf("gemini key = %q", cfg.Gemini.APIKey)
	}
	if cfg.Studio.BaseURL != "https://env.example" {
		t.Errorf("studio base url = %q", cfg.Studio.BaseURL)
	}
}
