package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/linder3hs/livegate/internal/assistant"
	"github.com/linder3hs/livegate/internal/bus"
	"github.com/linder3hs/livegate/internal/cache"
	"github.com/linder3hs/livegate/internal/channels"
	"github.com/linder3hs/livegate/internal/channels/rocketchat"
	"github.com/linder3hs/livegate/internal/config"
	"github.com/linder3hs/livegate/internal/documents"
	"github.com/linder3hs/livegate/internal/gateway"
	"github.com/linder3hs/livegate/internal/handoff"
	"github.com/linder3hs/livegate/internal/providers"
	"github.com/linder3hs/livegate/internal/store"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	// Secrets come from the environment; .env is a convenience for local runs.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env")
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Conversation state store.
	var conversations store.Conversations
	if cfg.Store.SQLitePath != "" {
		sqlStore, err := store.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			slog.Error("failed to open conversation store", "path", cfg.Store.SQLitePath, "error", err)
			os.Exit(1)
		}
		conversations = sqlStore
		slog.Info("conversation store", "backend", "sqlite", "path", cfg.Store.SQLitePath)
	} else {
		conversations = store.NewMemoryConversations()
		slog.Info("conversation store", "backend", "memory")
	}
	defer conversations.Close()

	// Response cache.
	var responses cache.Responses
	if cfg.Cache.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		responses = cache.NewRedis(client, cfg.Cache.TTL.Std())
		slog.Info("response cache", "backend", "redis", "addr", cfg.Cache.RedisAddr)
	} else {
		responses = cache.NewMemory(cfg.Cache.TTL.Std())
		slog.Info("response cache", "backend", "memory")
	}
	defer responses.Close()

	msgBus := bus.New()

	manager := channels.NewManager(msgBus)
	rcChannel := rocketchat.New(cfg.RocketChat, msgBus)
	manager.Register(rcChannel)

	// Notices and operator replies publish straight to the outbound queue;
	// only assistant answers go through the gated reply path.
	notify := func(roomID, text string) {
		if !msgBus.PublishOutbound(bus.OutboundMessage{RoomID: roomID, Text: text}) {
			slog.Warn("outbound queue full, notice dropped", "room", roomID)
		}
	}

	agents, err := handoff.NewAgentDetector(cfg.Handoff)
	if err != nil {
		slog.Error("invalid agent detection config", "error", err)
		os.Exit(1)
	}
	machine := handoff.New(handoff.Options{
		Conversations: conversations,
		Agents:        agents,
		Escalation:    handoff.NewEscalationDetector(cfg.Handoff),
		Notify:        notify,
		BotID:         cfg.RocketChat.BotID,
		BotName:       cfg.RocketChat.Username,
		AgentTimeout:  cfg.Handoff.AgentTimeout.Std(),
		BotSilence:    cfg.Handoff.BotSilence.Std(),
	})

	docs := documents.NewStore(cfg.Documents)

	provider := providers.NewOpenAIProvider(
		cfg.Provider.Name,
		cfg.Provider.APIKey,
		cfg.Provider.APIBase,
		cfg.Provider.Model,
		cfg.Provider.Timeout.Std(),
	)
	slog.Info("llm provider", "name", provider.Name(), "model", cfg.Provider.Model)

	pipeline := assistant.New(assistant.Options{
		Provider:    provider,
		Cache:       responses,
		Documents:   docs,
		Limiter:     assistant.NewRateLimiter(cfg.Assistant.RateLimitMax, cfg.Assistant.RateLimitWindow.Std()),
		Notify:      notify,
		CallTimeout: cfg.Provider.Timeout.Std(),
		Placeholder: cfg.Assistant.Placeholder,
	})

	gw := gateway.New(gateway.Options{
		Config:        cfg,
		Bus:           msgBus,
		Machine:       machine,
		Pipeline:      pipeline,
		Documents:     docs,
		Conversations: conversations,
		Cache:         responses,
		Channels:      manager,
		SelfID:        rcChannel.BotUserID,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("livegate starting", "version", Version)
	if err := gw.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("gateway exited", "error", err)
		os.Exit(1)
	}
	slog.Info("livegate stopped")
}
