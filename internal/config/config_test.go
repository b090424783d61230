package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{`"15m"`, 15 * time.Minute},
		{`"90s"`, 90 * time.Second},
		{`180000`, 3 * time.Minute}, // raw milliseconds
	}
	for _, tt := range tests {
		var d Duration
		if err := json.Unmarshal([]byte(tt.in), &d); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		if d.Std() != tt.want {
			t.Errorf("unmarshal %s = %v, want %v", tt.in, d.Std(), tt.want)
		}
	}

	var d Duration
	if err := json.Unmarshal([]byte(`"banana"`), &d); err == nil {
		t.Error("expected error for a non-duration string")
	}
	if err := json.Unmarshal([]byte(`true`), &d); err == nil {
		t.Error("expected error for a boolean")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Handoff.AgentTimeout.Std() != 15*time.Minute {
		t.Errorf("AgentTimeout = %v", cfg.Handoff.AgentTimeout.Std())
	}
	if cfg.Handoff.ConsecutiveThreshold != 3 {
		t.Errorf("ConsecutiveThreshold = %d", cfg.Handoff.ConsecutiveThreshold)
	}
}

func TestLoadFileAndEnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	content := `{
		// comments are fine in json5
		rocketchat: {url: "wss://file.example/websocket", username: "filebot"},
		handoff: {agent_timeout: "10m", consecutive_threshold: 5},
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ROCKETCHAT_URL", "wss://env.example/websocket")
	t.Setenv("ROCKETCHAT_PASSWORD", "env-secret")
	t.Setenv("LIVEGATE_HTTP_PORT", "8080")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// Env beats file, file beats defaults.
	if cfg.RocketChat.URL != "wss://env.example/websocket" {
		t.Errorf("URL = %q", cfg.RocketChat.URL)
	}
	if cfg.RocketChat.Username != "filebot" {
		t.Errorf("Username = %q", cfg.RocketChat.Username)
	}
	if cfg.RocketChat.Password != "env-secret" {
		t.Errorf("Password = %q", cfg.RocketChat.Password)
	}
	if cfg.Handoff.AgentTimeout.Std() != 10*time.Minute {
		t.Errorf("AgentTimeout = %v", cfg.Handoff.AgentTimeout.Std())
	}
	if cfg.Handoff.ConsecutiveThreshold != 5 {
		t.Errorf("ConsecutiveThreshold = %d", cfg.Handoff.ConsecutiveThreshold)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("HTTP.Port = %d", cfg.HTTP.Port)
	}
}

func TestValidateReportsEverythingMissing(t *testing.T) {
	cfg := Default()
	cfg.RocketChat.Username = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing settings")
	}
	for _, want := range []string{"ROCKETCHAT_URL", "ROCKETCHAT_USER", "ROCKETCHAT_PASSWORD", "DEEPSEEK_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestValidateThresholds(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.RocketChat.URL = "wss://x/websocket"
		cfg.RocketChat.Password = "p"
		cfg.Provider.APIKey = "k"
		return cfg
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := base()
	cfg.Handoff.ConsecutiveThreshold = 0
	if err := cfg.Validate(); err == nil {
		t.Error("threshold 0 accepted")
	}

	cfg = base()
	cfg.Handoff.AgentTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero agent timeout accepted")
	}

	cfg = base()
	cfg.Handoff.BotSilence = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero bot silence accepted")
	}
}

func TestSecretsNeverMarshalled(t *testing.T) {
	cfg := Default()
	cfg.RocketChat.Password = "hunter2"
	cfg.Provider.APIKey = "sk-secret"

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "hunter2") || strings.Contains(string(data), "sk-secret") {
		t.Errorf("secret leaked into marshalled config: %s", data)
	}
}
