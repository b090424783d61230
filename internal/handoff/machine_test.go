package handoff

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/linder3hs/livegate/internal/bus"
	"github.com/linder3hs/livegate/internal/config"
	"github.com/linder3hs/livegate/internal/store"
)

type noticeRecorder struct {
	mu      sync.Mutex
	notices []string
}

func (r *noticeRecorder) record(roomID, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, text)
}

func (r *noticeRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

type machineFixture struct {
	machine *Machine
	store   *store.MemoryConversations
	notices *noticeRecorder
	now     time.Time
	advance func(d time.Duration)
}

func newFixture(t *testing.T) *machineFixture {
	t.Helper()
	cfg := config.Default().Handoff

	agents, err := NewAgentDetector(cfg)
	if err != nil {
		t.Fatalf("NewAgentDetector: %v", err)
	}

	f := &machineFixture{
		store:   store.NewMemoryConversations(),
		notices: &noticeRecorder{},
		now:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	f.store.SetClock(clock)
	f.advance = func(d time.Duration) { f.now = f.now.Add(d) }

	f.machine = New(Options{
		Conversations: f.store,
		Agents:        agents,
		Escalation:    NewEscalationDetector(cfg),
		Notify:        f.notices.record,
		BotID:         "bot-id",
		BotName:       "hubot",
		AgentTimeout:  cfg.AgentTimeout.Std(),
		BotSilence:    cfg.BotSilence.Std(),
	})
	f.machine.SetClock(clock)
	return f
}

func livechatMsg(roomID string, sender bus.Sender, text string) bus.InboundMessage {
	return bus.InboundMessage{
		Sender:   sender,
		Text:     text,
		RoomID:   roomID,
		RoomType: bus.RoomTypeLiveChat,
	}
}

var (
	customer = bus.Sender{ID: "cust-1", DisplayName: "Cliente"}
	agent    = bus.Sender{ID: "ag-1", DisplayName: "Carla", Roles: []string{"livechat-agent"}}
)

func mustHandle(t *testing.T, f *machineFixture, msg bus.InboundMessage) {
	t.Helper()
	if err := f.machine.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
}

func mustMayRespond(t *testing.T, f *machineFixture, roomID string) bool {
	t.Helper()
	ok, err := f.machine.MayRespond(context.Background(), roomID)
	if err != nil {
		t.Fatalf("MayRespond: %v", err)
	}
	return ok
}

func snapshot(t *testing.T, f *machineFixture, roomID string) *store.ConversationState {
	t.Helper()
	s, err := f.machine.Snapshot(context.Background(), roomID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return s
}

func TestAgentTakeoverSilencesBot(t *testing.T) {
	f := newFixture(t)
	room := "room-1"

	if !mustMayRespond(t, f, room) {
		t.Fatal("bot should respond in a fresh room")
	}

	mustHandle(t, f, livechatMsg(room, agent, "Hola, ¿en qué puedo ayudar?"))

	s := snapshot(t, f, room)
	if s.Status != store.StatusAgentActive {
		t.Fatalf("status = %s, want agent_active", s.Status)
	}
	if s.AgentID != agent.ID || s.AgentName != agent.DisplayName {
		t.Errorf("agent = %s/%s, want %s/%s", s.AgentID, s.AgentName, agent.ID, agent.DisplayName)
	}
	if mustMayRespond(t, f, room) {
		t.Error("bot must stay silent while an agent is active")
	}
	if got := f.notices.all(); len(got) != 1 || got[0] != NoticeSpecialistJoined {
		t.Errorf("notices = %v, want exactly one specialist notice", got)
	}

	// A second message from the same agent refreshes activity without
	// repeating the notice.
	f.advance(time.Minute)
	mustHandle(t, f, livechatMsg(room, agent, "Reviso tu caso"))
	if got := f.notices.all(); len(got) != 1 {
		t.Errorf("notices after repeat = %v, want still one", got)
	}
	if s := snapshot(t, f, room); !s.LastAgentActivity.Equal(f.now) {
		t.Errorf("LastAgentActivity = %v, want %v", s.LastAgentActivity, f.now)
	}
}

func TestCustomerDuringAgentKeepsOwnership(t *testing.T) {
	f := newFixture(t)
	room := "room-1"

	mustHandle(t, f, livechatMsg(room, agent, "Hola"))
	mustHandle(t, f, livechatMsg(room, customer, "es urgente, tengo un problema técnico"))

	s := snapshot(t, f, room)
	if s.Status != store.StatusAgentActive {
		t.Fatalf("status = %s, keywords must not escalate while an agent holds the room", s.Status)
	}
	if s.UserConsecutiveMessages != 1 {
		t.Errorf("UserConsecutiveMessages = %d, want 1", s.UserConsecutiveMessages)
	}
	if got := f.notices.all(); len(got) != 1 {
		t.Errorf("notices = %v, want no escalation notice", got)
	}
}

func TestAgentTimeoutRecoversLazily(t *testing.T) {
	f := newFixture(t)
	room := "room-1"

	mustHandle(t, f, livechatMsg(room, agent, "Hola"))
	if mustMayRespond(t, f, room) {
		t.Fatal("gate open right after takeover")
	}

	// Just inside the timeout: still silenced.
	f.advance(15 * time.Minute)
	if mustMayRespond(t, f, room) {
		t.Fatal("gate open exactly at the timeout boundary")
	}

	// Past the timeout: the gate check itself performs the recovery.
	f.advance(time.Second)
	if !mustMayRespond(t, f, room) {
		t.Fatal("gate closed after agent timeout")
	}
	s := snapshot(t, f, room)
	if s.Status != store.StatusBotActive {
		t.Errorf("status = %s, want bot_active after recovery", s.Status)
	}
	if s.AgentID != "" || s.AgentName != "" || !s.LastAgentActivity.IsZero() {
		t.Errorf("agent fields not cleared: %+v", s)
	}
}

func TestKeywordEscalation(t *testing.T) {
	f := newFixture(t)
	room := "room-1"

	mustHandle(t, f, livechatMsg(room, customer, "necesito hablar con un supervisor"))

	s := snapshot(t, f, room)
	if s.Status != store.StatusEscalationPending {
		t.Fatalf("status = %s, want escalation_pending", s.Status)
	}
	if want := f.now.Add(3 * time.Minute); !s.BotSilencedUntil.Equal(want) {
		t.Errorf("BotSilencedUntil = %v, want %v", s.BotSilencedUntil, want)
	}
	if got := f.notices.all(); len(got) != 1 || got[0] != NoticeEscalation {
		t.Errorf("notices = %v, want one escalation notice", got)
	}
	if mustMayRespond(t, f, room) {
		t.Error("bot must stay silent during the escalation window")
	}

	// Another keyword while already pending must not re-notify.
	mustHandle(t, f, livechatMsg(room, customer, "sigue siendo urgente"))
	if got := f.notices.all(); len(got) != 1 {
		t.Errorf("notices = %v, escalation must fire once", got)
	}

	// Silence window elapses: the bot may speak again even though no
	// agent ever showed up.
	f.advance(3*time.Minute + time.Second)
	if !mustMayRespond(t, f, room) {
		t.Error("gate closed after the silence window expired")
	}
}

func TestConsecutiveMessageEscalation(t *testing.T) {
	f := newFixture(t)
	room := "room-1"

	mustHandle(t, f, livechatMsg(room, customer, "hola"))
	mustHandle(t, f, livechatMsg(room, customer, "sigo aquí"))
	if s := snapshot(t, f, room); s.Status != store.StatusBotActive {
		t.Fatalf("status = %s before the threshold, want bot_active", s.Status)
	}

	mustHandle(t, f, livechatMsg(room, customer, "hay alguien"))
	s := snapshot(t, f, room)
	if s.Status != store.StatusEscalationPending {
		t.Fatalf("status = %s, want escalation_pending on the third consecutive message", s.Status)
	}
	if s.UserConsecutiveMessages != 0 {
		t.Errorf("UserConsecutiveMessages = %d, want reset to 0", s.UserConsecutiveMessages)
	}
}

func TestAgentMessageResetsConsecutiveRun(t *testing.T) {
	f := newFixture(t)
	room := "room-1"

	mustHandle(t, f, livechatMsg(room, customer, "hola"))
	mustHandle(t, f, livechatMsg(room, customer, "sigo aquí"))
	mustHandle(t, f, livechatMsg(room, agent, "Hola, te ayudo yo"))

	if s := snapshot(t, f, room); s.UserConsecutiveMessages != 0 {
		t.Errorf("UserConsecutiveMessages = %d, want 0 after agent message", s.UserConsecutiveMessages)
	}
}

func TestManualOverrides(t *testing.T) {
	f := newFixture(t)
	room := "room-1"
	operator := bus.Sender{ID: "op-1", DisplayName: "Admin"}

	if err := f.machine.TakeControl(context.Background(), room, operator); err != nil {
		t.Fatalf("TakeControl: %v", err)
	}
	s := snapshot(t, f, room)
	if s.Status != store.StatusAgentActive || s.AgentID != operator.ID {
		t.Fatalf("state after TakeControl = %+v", s)
	}
	if mustMayRespond(t, f, room) {
		t.Error("gate open after manual takeover")
	}

	if err := f.machine.ResumeBot(context.Background(), room); err != nil {
		t.Fatalf("ResumeBot: %v", err)
	}
	s = snapshot(t, f, room)
	if s.Status != store.StatusBotActive || s.AgentID != "" || !s.BotSilencedUntil.IsZero() {
		t.Fatalf("state after ResumeBot = %+v", s)
	}
	if !mustMayRespond(t, f, room) {
		t.Error("gate closed after ResumeBot")
	}
}

func TestResumeBotClearsEscalationSilence(t *testing.T) {
	f := newFixture(t)
	room := "room-1"

	mustHandle(t, f, livechatMsg(room, customer, "urgente"))
	if mustMayRespond(t, f, room) {
		t.Fatal("gate open during silence window")
	}
	if err := f.machine.ResumeBot(context.Background(), room); err != nil {
		t.Fatalf("ResumeBot: %v", err)
	}
	if !mustMayRespond(t, f, room) {
		t.Error("ResumeBot must clear the silence window immediately")
	}
}

func TestNonLiveChatIsUntracked(t *testing.T) {
	f := newFixture(t)

	msg := bus.InboundMessage{
		Sender:   agent,
		Text:     "Hola, soy agente",
		RoomID:   "general",
		RoomType: bus.RoomTypeChannel,
	}
	mustHandle(t, f, msg)

	if f.store.Len() != 0 {
		t.Errorf("tracked rooms = %d, channel messages must not create state", f.store.Len())
	}
}

func TestBotOwnMessagesIgnored(t *testing.T) {
	f := newFixture(t)
	room := "room-1"

	mustHandle(t, f, livechatMsg(room, bus.Sender{ID: "bot-id", DisplayName: "hubot"}, "respuesta del bot"))
	if f.store.Len() != 0 {
		t.Errorf("tracked rooms = %d, bot traffic must not create state", f.store.Len())
	}
}

func TestRoomIsolation(t *testing.T) {
	f := newFixture(t)

	mustHandle(t, f, livechatMsg("room-a", agent, "Hola"))
	mustHandle(t, f, livechatMsg("room-b", customer, "hola"))

	if mustMayRespond(t, f, "room-a") {
		t.Error("room-a gate open while its agent is active")
	}
	if !mustMayRespond(t, f, "room-b") {
		t.Error("room-b gate closed by room-a's agent")
	}
}

func TestPeekDoesNotMutate(t *testing.T) {
	f := newFixture(t)
	room := "room-1"

	mustHandle(t, f, livechatMsg(room, agent, "Hola"))
	f.advance(16 * time.Minute)

	state, mayRespond, err := f.machine.Peek(context.Background(), room)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if !mayRespond {
		t.Error("Peek should report the gate would open after the timeout")
	}
	if state.Status != store.StatusAgentActive {
		t.Errorf("Peek state = %s, want the untouched agent_active", state.Status)
	}
	// The stored record must still show the stale agent session.
	if s := snapshot(t, f, room); s.Status != store.StatusAgentActive {
		t.Errorf("Peek mutated stored state to %s", s.Status)
	}
}

func lockCount(m *Machine) int {
	n := 0
	m.locks.Range(func(any, any) bool { n++; return true })
	return n
}

func TestReapLocksDropsIdleRooms(t *testing.T) {
	f := newFixture(t)

	mustHandle(t, f, livechatMsg("stale-room", customer, "hola"))
	f.advance(8 * 24 * time.Hour)
	mustHandle(t, f, livechatMsg("fresh-room", customer, "hola"))

	cutoff := f.now.Add(-7 * 24 * time.Hour)
	if reaped := f.machine.ReapLocks(cutoff); reaped != 1 {
		t.Fatalf("ReapLocks = %d, want 1", reaped)
	}
	if n := lockCount(f.machine); n != 1 {
		t.Errorf("lock entries = %d after reap, want 1", n)
	}

	// A reaped room gets a fresh lock on its next message.
	mustHandle(t, f, livechatMsg("stale-room", customer, "hola de nuevo"))
	if n := lockCount(f.machine); n != 2 {
		t.Errorf("lock entries = %d after revisit, want 2", n)
	}
}

func TestReapLocksSkipsHeldLock(t *testing.T) {
	f := newFixture(t)
	mustHandle(t, f, livechatMsg("room-1", customer, "hola"))

	unlock := f.machine.lockRoom("room-1")
	defer unlock()

	if reaped := f.machine.ReapLocks(f.now.Add(time.Hour)); reaped != 0 {
		t.Errorf("ReapLocks = %d, want 0 while the lock is held", reaped)
	}
	if n := lockCount(f.machine); n != 1 {
		t.Errorf("lock entries = %d, held lock must survive", n)
	}
}
