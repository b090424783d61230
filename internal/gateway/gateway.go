// Package gateway wires the channel layer, the handoff state machine and
// the assistant pipeline together. Every inbound message flows through one
// consumer loop, and every assistant reply leaves through one gated send
// path, so no feature can bypass the handoff decision.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/linder3hs/livegate/internal/assistant"
	"github.com/linder3hs/livegate/internal/bus"
	"github.com/linder3hs/livegate/internal/cache"
	"github.com/linder3hs/livegate/internal/channels"
	"github.com/linder3hs/livegate/internal/config"
	"github.com/linder3hs/livegate/internal/documents"
	"github.com/linder3hs/livegate/internal/handoff"
	"github.com/linder3hs/livegate/internal/store"
)

// Options carries the collaborators the gateway coordinates.
type Options struct {
	Config        *config.Config
	Bus           *bus.MessageBus
	Machine       *handoff.Machine
	Pipeline      *assistant.Pipeline
	Documents     *documents.Store
	Conversations store.Conversations
	Cache         cache.Responses
	Channels      *channels.Manager

	// SelfID resolves the bot's platform user ID, which is only known
	// after the channel logs in.
	SelfID func() string
}

// Gateway is the top-level message processor.
type Gateway struct {
	cfg           *config.Config
	bus           *bus.MessageBus
	machine       *handoff.Machine
	pipeline      *assistant.Pipeline
	docs          *documents.Store
	conversations store.Conversations
	cache         cache.Responses
	channels      *channels.Manager
	selfID        func() string
	commands      []command
}

// New creates the gateway.
func New(opts Options) *Gateway {
	g := &Gateway{
		cfg:           opts.Config,
		bus:           opts.Bus,
		machine:       opts.Machine,
		pipeline:      opts.Pipeline,
		docs:          opts.Documents,
		conversations: opts.Conversations,
		cache:         opts.Cache,
		channels:      opts.Channels,
		selfID:        opts.SelfID,
	}
	if g.selfID == nil {
		g.selfID = func() string { return "" }
	}
	g.commands = buildCommands()
	return g
}

// Run starts the channels, the consumer loop, the background sweeper and
// the introspection HTTP server, and blocks until the context is
// cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.channels.StartAll(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.channels.StopAll(stopCtx)
	}()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { g.consume(egCtx); return nil })
	eg.Go(func() error { g.sweep(egCtx); return nil })
	if g.cfg.HTTP.Port > 0 {
		eg.Go(func() error { return g.serveHTTP(egCtx) })
	}
	return eg.Wait()
}

// consume is the single inbound processing loop.
func (g *Gateway) consume(ctx context.Context) {
	slog.Info("inbound consumer started")
	for {
		msg, ok := g.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		g.handle(ctx, msg)
	}
}

// handle processes one inbound message. State transitions run
// synchronously so each room sees its messages in order; the LLM call runs
// in its own goroutine so a slow upstream never blocks other rooms.
func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	// Malformed events skip processing; they must not take the process down.
	if msg.RoomID == "" || msg.Sender.ID == "" || msg.Text == "" {
		slog.Debug("skipping malformed message", "room", msg.RoomID)
		return
	}
	if g.isSelf(msg.Sender) {
		return
	}

	slog.Debug("inbound message",
		"room", msg.RoomID,
		"room_type", msg.RoomType,
		"sender", msg.Sender.DisplayName,
	)

	if g.dispatchCommand(ctx, msg) {
		return
	}

	if err := g.machine.HandleMessage(ctx, msg); err != nil {
		// The transition did not happen; replying now could violate the
		// handoff contract, so the message is dropped.
		slog.Error("handoff transition failed", "room", msg.RoomID, "error", err)
		return
	}

	// Unprefixed auto-replies only happen in live-support rooms; regular
	// channels talk to the bot through explicit commands.
	if !msg.IsLiveChat() {
		return
	}

	// Cheap precheck before spending an LLM call. The authoritative check
	// happens again in reply(), right before sending.
	if allowed, err := g.machine.MayRespond(ctx, msg.RoomID); err != nil || !allowed {
		if err != nil {
			slog.Error("gate check failed", "room", msg.RoomID, "error", err)
		}
		return
	}

	if !shouldAutoRespond(msg.Text) {
		slog.Debug("message below auto-response threshold", "room", msg.RoomID)
		return
	}

	go func() {
		text := g.pipeline.Respond(ctx, assistant.Request{
			RoomID:  msg.RoomID,
			UserID:  msg.Sender.ID,
			Query:   msg.Text,
			Persona: assistant.Support,
		})
		g.reply(ctx, msg.RoomID, text)
	}()
}

// reply is the response gate: the single choke point every assistant
// message passes through. If the handoff machine says the bot may not
// speak in the room right now, the send is suppressed entirely.
func (g *Gateway) reply(ctx context.Context, roomID, text string) {
	if text == "" {
		return
	}
	allowed, err := g.machine.MayRespond(ctx, roomID)
	if err != nil {
		slog.Error("gate check failed, suppressing reply", "room", roomID, "error", err)
		return
	}
	if !allowed {
		slog.Debug("reply suppressed by handoff gate", "room", roomID)
		return
	}
	if !g.bus.PublishOutbound(bus.OutboundMessage{RoomID: roomID, Text: text}) {
		slog.Warn("outbound queue full, reply dropped", "room", roomID)
	}
}

// send publishes without consulting the gate. Used for state-machine
// notices and operator command responses, which must go out even while
// the assistant is silenced.
func (g *Gateway) send(roomID, text string) {
	if !g.bus.PublishOutbound(bus.OutboundMessage{RoomID: roomID, Text: text}) {
		slog.Warn("outbound queue full, message dropped", "room", roomID)
	}
}

func (g *Gateway) isSelf(s bus.Sender) bool {
	if id := g.selfID(); id != "" && s.ID == id {
		return true
	}
	return s.DisplayName == g.cfg.RocketChat.Username
}

// sweep runs the periodic cache and conversation cleanup. Best-effort:
// correctness comes from lazy TTL checks, this just bounds memory and
// storage.
func (g *Gateway) sweep(ctx context.Context) {
	interval := g.cfg.Cache.SweepInterval.Std()
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if purged := g.cache.Sweep(ctx); purged > 0 {
				slog.Info("cache sweep", "purged", purged)
			}
			cutoff := time.Now().Add(-g.cfg.Handoff.ConversationTTL.Std())
			if reaped, err := g.conversations.Reap(ctx, cutoff); err != nil {
				slog.Warn("conversation reap failed", "error", err)
			} else if reaped > 0 {
				slog.Info("conversation reap", "reaped", reaped)
			}
			if dropped := g.machine.ReapLocks(cutoff); dropped > 0 {
				slog.Debug("room lock reap", "dropped", dropped)
			}
		}
	}
}
