// Package rocketchat implements the Rocket.Chat channel over the realtime
// (DDP/websocket) API: login, a firehose subscription for incoming
// messages, and sendMessage for replies.
package rocketchat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/linder3hs/livegate/internal/bus"
	"github.com/linder3hs/livegate/internal/config"
)

const (
	streamAllMessages = "__my_messages__"
	reconnectMin      = 2 * time.Second
	reconnectMax      = 60 * time.Second
)

// Channel connects one Rocket.Chat server to the message bus.
type Channel struct {
	cfg     config.RocketChatConfig
	bus     *bus.MessageBus
	running atomic.Bool

	mu     sync.RWMutex
	client *ddpClient
	userID string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the Rocket.Chat channel.
func New(cfg config.RocketChatConfig, msgBus *bus.MessageBus) *Channel {
	return &Channel{cfg: cfg, bus: msgBus}
}

func (c *Channel) Name() string { return "rocketchat" }

// BotUserID returns the logged-in bot account's user ID, or the configured
// override before the first login completes.
func (c *Channel) BotUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.userID != "" {
		return c.userID
	}
	return c.cfg.BotID
}

func (c *Channel) IsRunning() bool { return c.running.Load() }

// Start launches the connect/reconnect loop. Non-blocking.
func (c *Channel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runLoop(runCtx)
	}()
	return nil
}

// Stop shuts the channel down and waits for the run loop to exit.
func (c *Channel) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	if c.client != nil {
		c.client.close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}

// Send delivers a text message to a room via the realtime API.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("rocketchat: not connected")
	}

	_, err := client.call(ctx, "sendMessage", map[string]any{
		"_id": uuid.NewString(),
		"rid": msg.RoomID,
		"msg": msg.Text,
	})
	return err
}

// runLoop keeps one live session against the server, reconnecting with
// exponential backoff until the context is cancelled.
func (c *Channel) runLoop(ctx context.Context) {
	backoff := reconnectMin
	for {
		if ctx.Err() != nil {
			c.running.Store(false)
			return
		}

		err := c.session(ctx)
		c.running.Store(false)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("rocketchat session ended, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, reconnectMax)
	}
}

// session dials, logs in, subscribes and then blocks until the connection
// drops or the context is cancelled.
func (c *Channel) session(ctx context.Context) error {
	client, err := dialDDP(ctx, c.cfg.URL, c.handleChanged)
	if err != nil {
		return err
	}
	defer client.close()

	userID, err := login(ctx, client, c.cfg.Username, c.cfg.Password)
	if err != nil {
		return err
	}

	if err := client.subscribe("stream-room-messages", streamAllMessages, false); err != nil {
		return err
	}

	c.mu.Lock()
	c.client = client
	c.userID = userID
	c.mu.Unlock()
	c.running.Store(true)

	slog.Info("rocketchat connected", "user", c.cfg.Username, "user_id", userID)

	select {
	case <-client.done():
		return fmt.Errorf("connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// login authenticates with a hashed password, the way the realtime API
// expects it, and returns the bot account's user ID.
func login(ctx context.Context, client *ddpClient, username, password string) (string, error) {
	digest := sha256.Sum256([]byte(password))
	result, err := client.call(ctx, "login", map[string]any{
		"user": map[string]any{"username": username},
		"password": map[string]any{
			"digest":    hex.EncodeToString(digest[:]),
			"algorithm": "sha-256",
		},
	})
	if err != nil {
		return "", err
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", fmt.Errorf("rocketchat: parse login result: %w", err)
	}
	return parsed.ID, nil
}

// handleChanged translates stream-room-messages events into inbound bus
// messages. Malformed events are skipped: they must never crash the shared
// process or corrupt other rooms' handling.
func (c *Channel) handleChanged(collection string, fields json.RawMessage) {
	if collection != "stream-room-messages" {
		return
	}
	msg, ok := parseStreamEvent(fields)
	if !ok {
		slog.Debug("rocketchat: skipping malformed or system stream event")
		return
	}
	if !c.bus.PublishInbound(msg) {
		slog.Warn("rocketchat: inbound queue full, dropping message", "room", msg.RoomID)
	}
}

// streamEvent mirrors the fields payload of a stream-room-messages event:
// args[0] is the message document, args[1] room metadata.
type streamEvent struct {
	EventName string            `json:"eventName"`
	Args      []json.RawMessage `json:"args"`
}

type messageDoc struct {
	ID    string   `json:"_id"`
	RID   string   `json:"rid"`
	Msg   string   `json:"msg"`
	Type  string   `json:"t,omitempty"` // non-empty for system messages
	Roles []string `json:"roles,omitempty"`
	U     struct {
		ID       string   `json:"_id"`
		Username string   `json:"username"`
		Name     string   `json:"name,omitempty"`
		Roles    []string `json:"roles,omitempty"`
	} `json:"u"`
}

type roomMeta struct {
	RoomType string `json:"roomType"`
}

// parseStreamEvent extracts an inbound message from a stream event.
// Returns false for system messages (join/leave markers etc.) and events
// missing required fields.
func parseStreamEvent(fields json.RawMessage) (bus.InboundMessage, bool) {
	var event streamEvent
	if err := json.Unmarshal(fields, &event); err != nil || len(event.Args) == 0 {
		return bus.InboundMessage{}, false
	}

	var doc messageDoc
	if err := json.Unmarshal(event.Args[0], &doc); err != nil {
		return bus.InboundMessage{}, false
	}
	if doc.Type != "" || doc.RID == "" || doc.U.ID == "" {
		return bus.InboundMessage{}, false
	}

	var meta roomMeta
	if len(event.Args) > 1 {
		_ = json.Unmarshal(event.Args[1], &meta)
	}

	displayName := doc.U.Username
	if displayName == "" {
		displayName = doc.U.Name
	}

	roles := doc.U.Roles
	if len(roles) == 0 {
		roles = doc.Roles
	}

	return bus.InboundMessage{
		Sender: bus.Sender{
			ID:          doc.U.ID,
			DisplayName: displayName,
			Roles:       roles,
		},
		Text:     doc.Msg,
		RoomID:   doc.RID,
		RoomType: meta.RoomType,
	}, true
}
