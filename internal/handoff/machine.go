package handoff

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linder3hs/livegate/internal/bus"
	"github.com/linder3hs/livegate/internal/store"
)

// User-facing notices emitted by the state machine.
const (
	NoticeSpecialistJoined = "Un especialista se ha unido al chat para ayudarte mejor."
	NoticeEscalation       = "Veo que necesitas ayuda especializada. He notificado a nuestro equipo de soporte. Un agente humano te contactará en breve."
	NoticeTakeControl      = "Control transferido manualmente. El bot permanecerá silenciado."
	NoticeResumeBot        = "El bot ha reanudado sus funciones en este chat."
)

// Notifier delivers a state-machine notice to a room. Send-side effect,
// not state; the machine never waits on delivery.
type Notifier func(roomID, text string)

// Options configures a Machine.
type Options struct {
	Conversations store.Conversations
	Agents        *AgentDetector
	Escalation    *EscalationDetector
	Notify        Notifier
	BotID         string
	BotName       string
	AgentTimeout  time.Duration
	BotSilence    time.Duration
}

// Machine is the single authority over conversation ownership. Every
// inbound live-support message passes through HandleMessage, and every
// outbound assistant reply is gated by MayRespond. Transitions are
// room-scoped: a per-room lock makes each get-modify-persist atomic
// without serializing unrelated rooms.
type Machine struct {
	conversations store.Conversations
	agents        *AgentDetector
	escalation    *EscalationDetector
	notify        Notifier
	botID         string
	botName       string
	agentTimeout  time.Duration
	botSilence    time.Duration

	now   func() time.Time
	locks sync.Map // roomID → *roomLock
}

// roomLock pairs a room's mutex with the time it was last acquired, so
// locks for long-idle rooms can be reaped along with their state.
type roomLock struct {
	mu      sync.Mutex
	touched atomic.Int64 // unix nanoseconds
}

// New creates the handoff state machine.
func New(opts Options) *Machine {
	m := &Machine{
		conversations: opts.Conversations,
		agents:        opts.Agents,
		escalation:    opts.Escalation,
		notify:        opts.Notify,
		botID:         opts.BotID,
		botName:       opts.BotName,
		agentTimeout:  opts.AgentTimeout,
		botSilence:    opts.BotSilence,
		now:           time.Now,
	}
	if m.notify == nil {
		m.notify = func(string, string) {}
	}
	return m
}

// SetClock overrides the time source. Test hook.
func (m *Machine) SetClock(now func() time.Time) { m.now = now }

func (m *Machine) lockRoom(roomID string) func() {
	v, _ := m.locks.LoadOrStore(roomID, &roomLock{})
	l := v.(*roomLock)
	l.mu.Lock()
	l.touched.Store(m.now().UnixNano())
	return l.mu.Unlock
}

// ReapLocks drops per-room locks not acquired since the cutoff, keeping
// the lock map bounded after conversation records are reaped. A lock that
// is currently held is skipped. Reaped rooms have been idle past the
// conversation TTL, so a caller racing the delete is not expected.
func (m *Machine) ReapLocks(olderThan time.Time) int {
	reaped := 0
	m.locks.Range(func(key, value any) bool {
		l := value.(*roomLock)
		if l.touched.Load() >= olderThan.UnixNano() {
			return true
		}
		if !l.mu.TryLock() {
			return true
		}
		m.locks.Delete(key)
		l.mu.Unlock()
		reaped++
		return true
	})
	return reaped
}

// isSelf reports whether the sender is the bot itself.
func (m *Machine) isSelf(s bus.Sender) bool {
	return (m.botID != "" && s.ID == m.botID) || (m.botName != "" && s.DisplayName == m.botName)
}

// HandleMessage advances the room's conversation state for one inbound
// message. Outside live-support rooms it is a no-op. A storage failure
// means the transition did not happen and is returned to the caller.
func (m *Machine) HandleMessage(ctx context.Context, msg bus.InboundMessage) error {
	if !msg.IsLiveChat() || m.isSelf(msg.Sender) {
		return nil
	}

	unlock := m.lockRoom(msg.RoomID)
	defer unlock()

	state, err := m.conversations.Get(ctx, msg.RoomID)
	if err != nil {
		return fmt.Errorf("handoff: load state: %w", err)
	}

	if det := m.agents.Detect(msg); det.IsAgent {
		return m.onAgentMessage(ctx, msg, state, det)
	}

	if state.Status == store.StatusAgentActive {
		return m.onMessageDuringAgent(ctx, msg, state)
	}

	return m.onCustomerMessage(ctx, msg, state)
}

// onAgentMessage handles a message whose sender was classified as an
// agent: take over the room, refresh activity, and announce the takeover
// exactly once.
func (m *Machine) onAgentMessage(ctx context.Context, msg bus.InboundMessage, state *store.ConversationState, det AgentDetection) error {
	newTakeover := state.Status != store.StatusAgentActive || state.AgentID != msg.Sender.ID

	now := m.now()
	_, err := m.conversations.Merge(ctx, msg.RoomID, store.Update{
		Status:                  store.StatusPtr(store.StatusAgentActive),
		AgentID:                 store.String(msg.Sender.ID),
		AgentName:               store.String(msg.Sender.DisplayName),
		LastAgentActivity:       store.Time(now),
		MessageCount:            store.Int(state.MessageCount + 1),
		UserConsecutiveMessages: store.Int(0),
	})
	if err != nil {
		return fmt.Errorf("handoff: agent takeover: %w", err)
	}

	if newTakeover {
		slog.Info("agent detected, handing off",
			"room", msg.RoomID,
			"agent", msg.Sender.DisplayName,
			"method", det.Method,
			"confidence", det.Confidence,
		)
		m.notify(msg.RoomID, NoticeSpecialistJoined)
	}
	return nil
}

// onMessageDuringAgent handles non-agent-classified traffic while an agent
// holds the room. The recorded agent refreshes their activity; customer
// messages just accumulate counters without changing ownership.
func (m *Machine) onMessageDuringAgent(ctx context.Context, msg bus.InboundMessage, state *store.ConversationState) error {
	if msg.Sender.ID == state.AgentID {
		_, err := m.conversations.Merge(ctx, msg.RoomID, store.Update{
			LastAgentActivity: store.Time(m.now()),
		})
		if err != nil {
			return fmt.Errorf("handoff: refresh agent activity: %w", err)
		}
		return nil
	}

	_, err := m.conversations.Merge(ctx, msg.RoomID, store.Update{
		MessageCount:            store.Int(state.MessageCount + 1),
		UserConsecutiveMessages: store.Int(state.UserConsecutiveMessages + 1),
	})
	if err != nil {
		return fmt.Errorf("handoff: count customer message: %w", err)
	}
	return nil
}

// onCustomerMessage handles customer traffic while the bot owns the room
// (bot_active or escalation_pending).
func (m *Machine) onCustomerMessage(ctx context.Context, msg bus.InboundMessage, state *store.ConversationState) error {
	if state.Status != store.StatusEscalationPending && m.escalation.ShouldEscalate(msg.Text, state) {
		now := m.now()
		_, err := m.conversations.Merge(ctx, msg.RoomID, store.Update{
			Status:                  store.StatusPtr(store.StatusEscalationPending),
			BotSilencedUntil:        store.Time(now.Add(m.botSilence)),
			MessageCount:            store.Int(state.MessageCount + 1),
			UserConsecutiveMessages: store.Int(0),
		})
		if err != nil {
			return fmt.Errorf("handoff: escalate: %w", err)
		}
		slog.Info("escalation triggered", "room", msg.RoomID, "silenced_until", now.Add(m.botSilence))
		m.notify(msg.RoomID, NoticeEscalation)
		return nil
	}

	_, err := m.conversations.Merge(ctx, msg.RoomID, store.Update{
		MessageCount:            store.Int(state.MessageCount + 1),
		UserConsecutiveMessages: store.Int(state.UserConsecutiveMessages + 1),
	})
	if err != nil {
		return fmt.Errorf("handoff: count message: %w", err)
	}
	return nil
}

// MayRespond reports whether the assistant may reply in the room right
// now. Agent-timeout recovery happens here, lazily, so the system stays
// correct without any background scheduler: the first gate check after the
// timeout flips the room back to bot_active.
func (m *Machine) MayRespond(ctx context.Context, roomID string) (bool, error) {
	unlock := m.lockRoom(roomID)
	defer unlock()

	state, err := m.conversations.Get(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("handoff: load state: %w", err)
	}

	now := m.now()

	if state.Status == store.StatusAgentActive {
		if !state.LastAgentActivity.IsZero() && now.Sub(state.LastAgentActivity) > m.agentTimeout {
			_, err := m.conversations.Merge(ctx, roomID, store.Update{
				Status:            store.StatusPtr(store.StatusBotActive),
				AgentID:           store.String(""),
				AgentName:         store.String(""),
				LastAgentActivity: store.Time(time.Time{}),
			})
			if err != nil {
				return false, fmt.Errorf("handoff: agent timeout recovery: %w", err)
			}
			slog.Info("agent timed out, control returned to bot", "room", roomID)
			return true, nil
		}
		return false, nil
	}

	if !state.BotSilencedUntil.IsZero() && now.Before(state.BotSilencedUntil) {
		return false, nil
	}
	return true, nil
}

// TakeControl forces agent_active with the issuer as the active agent.
// Manual commands always win over automatic detection.
func (m *Machine) TakeControl(ctx context.Context, roomID string, issuer bus.Sender) error {
	unlock := m.lockRoom(roomID)
	defer unlock()

	_, err := m.conversations.Merge(ctx, roomID, store.Update{
		Status:                  store.StatusPtr(store.StatusAgentActive),
		AgentID:                 store.String(issuer.ID),
		AgentName:               store.String(issuer.DisplayName),
		LastAgentActivity:       store.Time(m.now()),
		UserConsecutiveMessages: store.Int(0),
	})
	if err != nil {
		return fmt.Errorf("handoff: take control: %w", err)
	}
	slog.Info("manual takeover", "room", roomID, "agent", issuer.DisplayName)
	return nil
}

// ResumeBot forces bot_active and clears all agent and silence fields,
// unconditionally, regardless of current state.
func (m *Machine) ResumeBot(ctx context.Context, roomID string) error {
	unlock := m.lockRoom(roomID)
	defer unlock()

	_, err := m.conversations.Merge(ctx, roomID, store.Update{
		Status:                  store.StatusPtr(store.StatusBotActive),
		AgentID:                 store.String(""),
		AgentName:               store.String(""),
		LastAgentActivity:       store.Time(time.Time{}),
		BotSilencedUntil:        store.Time(time.Time{}),
		UserConsecutiveMessages: store.Int(0),
	})
	if err != nil {
		return fmt.Errorf("handoff: resume bot: %w", err)
	}
	slog.Info("control returned to bot", "room", roomID)
	return nil
}

// Snapshot returns a read-only copy of the room's state. No side effects.
func (m *Machine) Snapshot(ctx context.Context, roomID string) (*store.ConversationState, error) {
	return m.conversations.Get(ctx, roomID)
}

// Peek returns the room's state plus what MayRespond would answer, without
// performing the timeout transition. Used by read-only introspection
// surfaces that must not mutate state.
func (m *Machine) Peek(ctx context.Context, roomID string) (*store.ConversationState, bool, error) {
	state, err := m.conversations.Get(ctx, roomID)
	if err != nil {
		return nil, false, fmt.Errorf("handoff: load state: %w", err)
	}

	now := m.now()
	switch {
	case state.Status == store.StatusAgentActive:
		timedOut := !state.LastAgentActivity.IsZero() && now.Sub(state.LastAgentActivity) > m.agentTimeout
		return state, timedOut, nil
	case !state.BotSilencedUntil.IsZero() && now.Before(state.BotSilencedUntil):
		return state, false, nil
	default:
		return state, true, nil
	}
}
