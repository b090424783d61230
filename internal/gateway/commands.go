package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/linder3hs/livegate/internal/assistant"
	"github.com/linder3hs/livegate/internal/bus"
	"github.com/linder3hs/livegate/internal/handoff"
)

// Operator command responses. Spanish first because that is the language
// the support teams using this gateway work in.
const (
	replyLiveChatOnly  = "Este comando solo funciona en chats de Livechat."
	replyDocLoaded     = "Documento cargado."
	replyDocLoadFailed = "No pude cargar el documento."
	replyDocRemoved    = "Documento eliminado."
	replyDocNotFound   = "No encontré el documento."
	replyNoDocuments   = "Sin documentos cargados."
	replyPong          = "PONG"
)

const helpText = `Comandos disponibles:
- tomar control | take control: el agente toma la conversación
- devolver bot | resume bot: el asistente vuelve a responder
- estado chat | chat status: estado actual de la conversación
- pregunta <texto>: consulta al asistente
- cargar documento <ruta> como <nombre>
- consultar documento <nombre> sobre <texto>
- consultar documentos sobre <texto>
- documentos: lista los documentos cargados
- eliminar documento <nombre>
- ping`

// command is one addressed operator command. Patterns match against the
// message text after the bot-name prefix has been stripped.
type command struct {
	pattern      *regexp.Regexp
	livechatOnly bool
	handle       func(ctx context.Context, g *Gateway, msg bus.InboundMessage, args []string)
}

func buildCommands() []command {
	return []command{
		{
			pattern:      regexp.MustCompile(`(?i)^(tomar control|take control)$`),
			livechatOnly: true,
			handle: func(ctx context.Context, g *Gateway, msg bus.InboundMessage, _ []string) {
				if err := g.machine.TakeControl(ctx, msg.RoomID, msg.Sender); err != nil {
					slog.Error("take control failed", "room", msg.RoomID, "error", err)
					return
				}
				g.send(msg.RoomID, handoff.NoticeTakeControl)
			},
		},
		{
			pattern:      regexp.MustCompile(`(?i)^(devolver bot|resume bot)$`),
			livechatOnly: true,
			handle: func(ctx context.Context, g *Gateway, msg bus.InboundMessage, _ []string) {
				if err := g.machine.ResumeBot(ctx, msg.RoomID); err != nil {
					slog.Error("resume bot failed", "room", msg.RoomID, "error", err)
					return
				}
				g.send(msg.RoomID, handoff.NoticeResumeBot)
			},
		},
		{
			pattern:      regexp.MustCompile(`(?i)^(estado chat|chat status)$`),
			livechatOnly: true,
			handle: func(ctx context.Context, g *Gateway, msg bus.InboundMessage, _ []string) {
				g.send(msg.RoomID, g.statusText(ctx, msg.RoomID))
			},
		},
		{
			pattern: regexp.MustCompile(`(?i)^(?:pregunta|ai|asistente)\s+(.+)$`),
			handle: func(ctx context.Context, g *Gateway, msg bus.InboundMessage, args []string) {
				query := args[1]
				go func() {
					text := g.pipeline.Respond(ctx, assistant.Request{
						RoomID:  msg.RoomID,
						UserID:  msg.Sender.ID,
						Query:   query,
						Persona: assistant.General,
					})
					g.reply(ctx, msg.RoomID, text)
				}()
			},
		},
		{
			pattern: regexp.MustCompile(`(?i)^cargar documento\s+(\S+)\s+como\s+(\S+)$`),
			handle: func(_ context.Context, g *Gateway, msg bus.InboundMessage, args []string) {
				if err := g.docs.Load(args[1], args[2]); err != nil {
					slog.Warn("document load failed", "path", args[1], "error", err)
					g.send(msg.RoomID, replyDocLoadFailed)
					return
				}
				g.send(msg.RoomID, replyDocLoaded)
			},
		},
		{
			pattern: regexp.MustCompile(`(?i)^consultar documento\s+(\S+)\s+sobre\s+(.+)$`),
			handle: func(ctx context.Context, g *Gateway, msg bus.InboundMessage, args []string) {
				g.askGrounded(ctx, msg, args[2], args[1])
			},
		},
		{
			pattern: regexp.MustCompile(`(?i)^consultar documentos\s+sobre\s+(.+)$`),
			handle: func(ctx context.Context, g *Gateway, msg bus.InboundMessage, args []string) {
				g.askGrounded(ctx, msg, args[1], "")
			},
		},
		{
			pattern: regexp.MustCompile(`(?i)^documentos$`),
			handle: func(_ context.Context, g *Gateway, msg bus.InboundMessage, _ []string) {
				g.send(msg.RoomID, g.documentListText())
			},
		},
		{
			pattern: regexp.MustCompile(`(?i)^eliminar documento\s+(\S+)$`),
			handle: func(_ context.Context, g *Gateway, msg bus.InboundMessage, args []string) {
				if g.docs.Remove(args[1]) {
					g.send(msg.RoomID, replyDocRemoved)
				} else {
					g.send(msg.RoomID, replyDocNotFound)
				}
			},
		},
		{
			pattern: regexp.MustCompile(`(?i)^(ayuda|help)$`),
			handle: func(_ context.Context, g *Gateway, msg bus.InboundMessage, _ []string) {
				g.send(msg.RoomID, helpText)
			},
		},
		{
			pattern: regexp.MustCompile(`(?i)^ping$`),
			handle: func(_ context.Context, g *Gateway, msg bus.InboundMessage, _ []string) {
				g.send(msg.RoomID, replyPong)
			},
		},
	}
}

// dispatchCommand runs the message through the command table if it is
// addressed to the bot. Returns true when a command consumed the message,
// in which case it must not reach the handoff machine or the assistant.
func (g *Gateway) dispatchCommand(ctx context.Context, msg bus.InboundMessage) bool {
	body, addressed := stripAddress(msg.Text, g.cfg.RocketChat.Username)
	if !addressed {
		return false
	}
	for _, cmd := range g.commands {
		args := cmd.pattern.FindStringSubmatch(body)
		if args == nil {
			continue
		}
		if cmd.livechatOnly && !msg.IsLiveChat() {
			g.send(msg.RoomID, replyLiveChatOnly)
			return true
		}
		slog.Info("command", "room", msg.RoomID, "sender", msg.Sender.DisplayName, "text", body)
		cmd.handle(ctx, g, msg, args)
		return true
	}
	// Addressed but unrecognized: stay silent rather than guessing, the
	// message still flows to the handoff machine as a regular message.
	return false
}

// stripAddress removes a leading bot mention ("@livegate", "livegate:",
// "livegate,") and reports whether the message was addressed to the bot.
// The mention must be followed by a separator so names sharing the prefix
// do not match.
func stripAddress(text, botName string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	name := strings.ToLower(botName)
	for _, prefix := range []string{"@" + name, name} {
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		rest := trimmed[len(prefix):]
		if rest == "" || !strings.ContainsRune(":, ", rune(rest[0])) {
			continue
		}
		rest = strings.TrimSpace(strings.TrimLeft(rest, ":, "))
		if rest == "" {
			return "", false
		}
		return rest, true
	}
	return trimmed, false
}

func (g *Gateway) askGrounded(ctx context.Context, msg bus.InboundMessage, query, docName string) {
	go func() {
		text := g.pipeline.RespondGrounded(ctx, assistant.Request{
			RoomID:  msg.RoomID,
			UserID:  msg.Sender.ID,
			Query:   query,
			Persona: assistant.Support,
		}, docName)
		g.reply(ctx, msg.RoomID, text)
	}()
}

// statusText renders the room's conversation state. Uses MayRespond
// rather than Peek so an expired agent session is cleaned up the moment
// someone asks about it.
func (g *Gateway) statusText(ctx context.Context, roomID string) string {
	allowed, err := g.machine.MayRespond(ctx, roomID)
	if err != nil {
		slog.Error("status check failed", "room", roomID, "error", err)
		return "No pude consultar el estado del chat."
	}
	state, err := g.machine.Snapshot(ctx, roomID)
	if err != nil {
		slog.Error("status snapshot failed", "room", roomID, "error", err)
		return "No pude consultar el estado del chat."
	}

	var b strings.Builder
	b.WriteString("📊 **Estado del Chat:**\n")
	fmt.Fprintf(&b, "- Estado: %s\n", state.Status)
	if allowed {
		b.WriteString("- Bot puede responder: ✅ Sí\n")
	} else {
		b.WriteString("- Bot puede responder: ❌ No\n")
	}
	if state.AgentName != "" {
		fmt.Fprintf(&b, "- Agente: %s\n", state.AgentName)
	}
	fmt.Fprintf(&b, "- Mensajes en conversación: %d\n", state.MessageCount)
	fmt.Fprintf(&b, "- Mensajes consecutivos del usuario: %d", state.UserConsecutiveMessages)
	return b.String()
}

func (g *Gateway) documentListText() string {
	infos := g.docs.List()
	if len(infos) == 0 {
		return replyNoDocuments
	}
	var b strings.Builder
	b.WriteString("Documentos cargados:\n")
	for _, info := range infos {
		fmt.Fprintf(&b, "- %s (%d bytes)\n", info.Name, info.Size)
	}
	return strings.TrimRight(b.String(), "\n")
}
