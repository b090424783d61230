package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration accepts both Go duration strings ("15m") and raw milliseconds
// in JSON, matching the mixed formats found in older deployments.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %w", err)
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration for the LiveGate gateway.
type Config struct {
	RocketChat RocketChatConfig `json:"rocketchat"`
	Provider   ProviderConfig   `json:"provider"`
	Handoff    HandoffConfig    `json:"handoff"`
	Cache      CacheConfig      `json:"cache"`
	Store      StoreConfig      `json:"store"`
	Documents  DocumentsConfig  `json:"documents"`
	Assistant  AssistantConfig  `json:"assistant"`
	HTTP       HTTPConfig       `json:"http"`
}

// RocketChatConfig holds the connection settings for the Rocket.Chat
// realtime API. Password comes from env only, never from the config file.
type RocketChatConfig struct {
	URL      string `json:"url"` // e.g. "wss://chat.example.com/websocket"
	Username string `json:"username"`
	Password string `json:"-"` // from env ROCKETCHAT_PASSWORD only
	BotID    string `json:"bot_id,omitempty"`
}

// ProviderConfig configures the LLM collaborator.
// APIKey comes from env only (DEEPSEEK_API_KEY / LIVEGATE_PROVIDER_API_KEY).
type ProviderConfig struct {
	Name    string   `json:"name"`     // provider label for logs, e.g. "deepseek"
	APIBase string   `json:"api_base"` // OpenAI-compatible endpoint base
	APIKey  string   `json:"-"`
	Model   string   `json:"model"`
	Timeout Duration `json:"timeout,omitempty"`
}

// HandoffConfig is the configuration surface of the handoff state machine.
// All detection lists and thresholds are externally supplied so operators can
// tune them without a rebuild.
type HandoffConfig struct {
	AgentUsernames       []string `json:"agent_usernames"`        // exact allow-list
	AgentNamePatterns    []string `json:"agent_name_patterns"`    // regexes on display name
	AgentRoles           []string `json:"agent_roles"`            // platform role names
	AgentIntroPatterns   []string `json:"agent_intro_patterns"`   // self-introduction phrasings
	EscalationKeywords   []string `json:"escalation_keywords"`    // substring matched, case-insensitive
	ConsecutiveThreshold int      `json:"consecutive_threshold"`  // consecutive user messages before escalation
	AgentTimeout         Duration `json:"agent_timeout"`          // inactivity before control returns to the bot
	BotSilence           Duration `json:"bot_silence"`            // silence window after an escalation
	ConversationTTL      Duration `json:"conversation_ttl"`       // reap conversations idle longer than this
}

// CacheConfig configures the assistant response cache.
type CacheConfig struct {
	TTL           Duration `json:"ttl"`
	SweepInterval Duration `json:"sweep_interval"`
	RedisAddr     string   `json:"redis_addr,omitempty"` // empty = in-memory cache
}

// StoreConfig configures conversation state persistence.
type StoreConfig struct {
	SQLitePath string `json:"sqlite_path"` // empty = in-memory store
}

// DocumentsConfig configures the document store used for grounded answers.
type DocumentsConfig struct {
	MaxChunkSize     int      `json:"max_chunk_size"`
	SupportedFormats []string `json:"supported_formats"`
}

// AssistantConfig configures the response pipeline.
type AssistantConfig struct {
	RateLimitMax    int      `json:"rate_limit_max"`    // calls per user per window, 0 disables
	RateLimitWindow Duration `json:"rate_limit_window"`
	Placeholder     bool     `json:"placeholder"` // send a "processing" notice before the LLM call
}

// HTTPConfig configures the introspection HTTP API.
type HTTPConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"` // 0 disables the HTTP listener
}

// Default returns a Config with the canonical thresholds.
func Default() *Config {
	return &Config{
		RocketChat: RocketChatConfig{
			Username: "hubot",
		},
		Provider: ProviderConfig{
			Name:    "deepseek",
			APIBase: "https://api.deepseek.com",
			Model:   "deepseek-chat",
			Timeout: Duration(30 * time.Second),
		},
		Handoff: HandoffConfig{
			AgentUsernames: []string{},
			AgentNamePatterns: []string{
				`(?i)^agent\.`,
				`(?i)^support\.`,
				`(?i)^help\.`,
				`(?i)^agente\.`,
				`(?i)^soporte\.`,
			},
			AgentRoles: []string{
				"livechat-agent",
				"livechat-manager",
				"omnichannel-agent",
			},
			AgentIntroPatterns: []string{
				`(?i)hola.*soy.*agente`,
				`(?i)mi nombre es.*equipo`,
				`(?i)gracias por contactar.*soporte`,
				`(?i)te voy a ayudar.*especialista`,
			},
			EscalationKeywords: []string{
				"problema técnico",
				"no funciona",
				"error",
				"falla",
				"bug",
				"reclamo",
				"queja",
				"cancelar",
				"reembolso",
				"supervisor",
				"gerente",
				"urgente",
				"crítico",
				"hablar con persona",
				"agente humano",
				"representante",
			},
			ConsecutiveThreshold: 3,
			AgentTimeout:         Duration(15 * time.Minute),
			BotSilence:           Duration(3 * time.Minute),
			ConversationTTL:      Duration(7 * 24 * time.Hour),
		},
		Cache: CacheConfig{
			TTL:           Duration(30 * time.Minute),
			SweepInterval: Duration(15 * time.Minute),
		},
		Store: StoreConfig{
			SQLitePath: "livegate.db",
		},
		Documents: DocumentsConfig{
			MaxChunkSize:     1000,
			SupportedFormats: []string{".txt", ".md", ".json"},
		},
		Assistant: AssistantConfig{
			RateLimitMax:    10,
			RateLimitWindow: Duration(60 * time.Second),
			Placeholder:     true,
		},
		HTTP: HTTPConfig{
			Host: "127.0.0.1",
			Port: 3001,
		},
	}
}

// Validate checks for the settings the gateway cannot run without.
// Failures here are fatal at startup, before any traffic is accepted.
func (c *Config) Validate() error {
	var missing []string
	if c.RocketChat.URL == "" {
		missing = append(missing, "rocketchat.url (ROCKETCHAT_URL)")
	}
	if c.RocketChat.Username == "" {
		missing = append(missing, "rocketchat.username (ROCKETCHAT_USER)")
	}
	if c.RocketChat.Password == "" {
		missing = append(missing, "ROCKETCHAT_PASSWORD")
	}
	if c.Provider.APIKey == "" {
		missing = append(missing, "DEEPSEEK_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	if c.Handoff.ConsecutiveThreshold < 1 {
		return fmt.Errorf("handoff.consecutive_threshold must be >= 1, got %d", c.Handoff.ConsecutiveThreshold)
	}
	if c.Handoff.AgentTimeout.Std() <= 0 {
		return fmt.Errorf("handoff.agent_timeout must be positive")
	}
	if c.Handoff.BotSilence.Std() <= 0 {
		return fmt.Errorf("handoff.bot_silence must be positive")
	}
	return nil
}
