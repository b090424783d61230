package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults plus env are enough for a
// minimal deployment.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values. The Rocket.Chat and provider
// variables keep the names the original deployment used, so existing .env
// files keep working.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("ROCKETCHAT_URL", &c.RocketChat.URL)
	envStr("ROCKETCHAT_USER", &c.RocketChat.Username)
	envStr("ROCKETCHAT_PASSWORD", &c.RocketChat.Password)

	envStr("DEEPSEEK_API_KEY", &c.Provider.APIKey)
	envStr("LIVEGATE_PROVIDER_API_KEY", &c.Provider.APIKey)
	envStr("LIVEGATE_PROVIDER_API_BASE", &c.Provider.APIBase)
	envStr("LIVEGATE_PROVIDER_MODEL", &c.Provider.Model)

	envStr("LIVEGATE_SQLITE_PATH", &c.Store.SQLitePath)
	envStr("LIVEGATE_REDIS_ADDR", &c.Cache.RedisAddr)

	if v := os.Getenv("LIVEGATE_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = port
		}
	}
}
