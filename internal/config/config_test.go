package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsAfterValidate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_API_BASE", "")
	path := writeConfig(t, `
[openai]
api_key = "sk-file"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if cfg.OpenAI.APIKey != "sk-file" || cfg.OpenAI.BaseURL != DefaultBaseURL || cfg.OpenAI.RealtimeWebsocketPath != "/v1/realtime" {
		t.Fatalf("openai = %+v", cfg.OpenAI)
	}
	r := cfg.Realtime
	if r.ConnectTimeout() != 15*time.Second || r.KeepAliveInterval() != 30*time.Second {
		t.Fatalf("timeouts = %v, %v", r.ConnectTimeout(), r.KeepAliveInterval())
	}
	if r.ReconnectInitialDelayMs != 1000 || r.ReconnectMaxDelayMs != 30000 || r.ReconnectMaxAttempts != 5 {
		t.Fatalf("reconnect = %d/%d/%d", r.ReconnectInitialDelayMs, r.ReconnectMaxDelayMs, r.ReconnectMaxAttempts)
	}
	if r.TurnDetectionType != "server_vad" || r.ManualTurns() || !r.RespondAfterCalls() {
		t.Fatalf("realtime = %+v", r)
	}
	if r.Temperature == nil || *r.Temperature != 0.8 {
		t.Fatalf("temperature = %v, want 0.8", r.Temperature)
	}
	if r.Instructions != DefaultInstructions {
		t.Fatalf("instructions = %q, want the default template", r.Instructions)
	}
	a := cfg.Audio
	if a.SampleRate != 24000 || a.ChunkSamples != 2048 || a.CaptureStrategy != "auto" {
		t.Fatalf("audio = %+v", a)
	}
	if !*a.EchoCancellation || !*a.NoiseSuppression || !*a.AutoGainControl {
		t.Fatalf("capture constraints should default to true")
	}
	if cfg.Storage.Backend != "memory" || cfg.Storage.DefaultList != "Today" || len(cfg.Storage.SeedLists) != 1 {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestLoad_ExplicitValuesKept(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_API_BASE", "")
	path := writeConfig(t, `
[realtime]
turn_detection_type = "none"
respond_after_function_calls = false
temperature = 0

[audio]
capture_strategy = "inline"
echo_cancellation = false

[storage]
backend = "sqlite"
default_list = "Work"
seed_lists = ["Today", "Work"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !cfg.Realtime.ManualTurns() || cfg.Realtime.RespondAfterCalls() {
		t.Fatalf("realtime = %+v", cfg.Realtime)
	}
	if tmp := cfg.Realtime.Temperature; tmp == nil || *tmp != 0 {
		t.Fatalf("explicit temperature 0 was not kept: %v", tmp)
	}
	if cfg.Audio.CaptureStrategy != "inline" || *cfg.Audio.EchoCancellation {
		t.Fatalf("audio = %+v", cfg.Audio)
	}
	if cfg.Storage.SQLitePath == "" || cfg.Storage.DefaultList != "Work" || len(cfg.Storage.SeedLists) != 2 {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("OPENAI_API_BASE", "http://localhost:9000")
	path := writeConfig(t, `
[openai]
api_key = "sk-file"
base_url = "https://api.openai.com"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-env" || cfg.OpenAI.BaseURL != "http://localhost:9000" {
		t.Fatalf("openai = %+v", cfg.OpenAI)
	}
}

func TestValidate_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }, "server port"},
		{"backend", func(c *Config) { c.Storage.Backend = "postgres" }, "storage backend"},
		{"sample rate", func(c *Config) { c.Audio.SampleRate = -1 }, "sample_rate"},
		{"capture strategy", func(c *Config) { c.Audio.CaptureStrategy = "gpu" }, "capture_strategy"},
		{"turn detection", func(c *Config) { c.Realtime.TurnDetectionType = "semantic" }, "turn_detection_type"},
		{"temperature", func(c *Config) { c.Realtime.Temperature = floatPtr(2.5) }, "temperature"},
		{"reconnect delays", func(c *Config) {
			c.Realtime.ReconnectInitialDelayMs = 5000
			c.Realtime.ReconnectMaxDelayMs = 1000
		}, "reconnect delays"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoadWithFallback_NoFile(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	if _, err := LoadWithFallback(filepath.Join(dir, "missing.toml")); err == nil {
		t.Fatalf("LoadWithFallback() error = nil, want not found")
	}

	os.WriteFile("config.toml", []byte("[server]\nport = 9090\n"), 0o644)
	cfg, err := LoadWithFallback("")
	if err != nil {
		t.Fatalf("LoadWithFallback() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("port = %d, want 9090", cfg.Server.Port)
	}
}
