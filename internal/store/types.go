// Package store persists per-room conversation state for the handoff
// system. Two backends exist: a durable sqlite store for deployments and
// a mutex-guarded in-memory store for tests and ephemeral runs.
package store

import (
	"context"
	"errors"
	"time"
)

// Status is the ownership state of a conversation. Exactly one value
// holds for any room at any instant.
type Status string

const (
	StatusBotActive         Status = "bot_active"
	StatusAgentActive       Status = "agent_active"
	StatusEscalationPending Status = "escalation_pending"
)

// Valid reports whether s is one of the three enumerated states.
func (s Status) Valid() bool {
	switch s {
	case StatusBotActive, StatusAgentActive, StatusEscalationPending:
		return true
	}
	return false
}

// ConversationState is the per-room handoff record. Zero time values mean
// "unset"; AgentID/AgentName are empty unless status is agent_active.
type ConversationState struct {
	RoomID                  string    `json:"room_id"`
	Status                  Status    `json:"status"`
	AgentID                 string    `json:"agent_id,omitempty"`
	AgentName               string    `json:"agent_name,omitempty"`
	LastAgentActivity       time.Time `json:"last_agent_activity,omitzero"`
	BotSilencedUntil        time.Time `json:"bot_silenced_until,omitzero"`
	MessageCount            int       `json:"message_count"`
	UserConsecutiveMessages int       `json:"user_consecutive_messages"`
	ConversationStarted     time.Time `json:"conversation_started"`
	LastUpdated             time.Time `json:"last_updated"`
}

// NewConversationState returns the default record for a room that has no
// persisted state yet.
func NewConversationState(roomID string, now time.Time) *ConversationState {
	return &ConversationState{
		RoomID:              roomID,
		Status:              StatusBotActive,
		ConversationStarted: now,
		LastUpdated:         now,
	}
}

// Clone returns a copy so callers cannot mutate stored state.
func (s *ConversationState) Clone() *ConversationState {
	c := *s
	return &c
}

// Update is a partial state change applied by Merge. Nil fields are left
// untouched; an empty string or zero time explicitly clears the field.
type Update struct {
	Status                  *Status
	AgentID                 *string
	AgentName               *string
	LastAgentActivity       *time.Time
	BotSilencedUntil        *time.Time
	MessageCount            *int
	UserConsecutiveMessages *int
}

func (u Update) apply(s *ConversationState, now time.Time) {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.AgentID != nil {
		s.AgentID = *u.AgentID
	}
	if u.AgentName != nil {
		s.AgentName = *u.AgentName
	}
	if u.LastAgentActivity != nil {
		s.LastAgentActivity = *u.LastAgentActivity
	}
	if u.BotSilencedUntil != nil {
		s.BotSilencedUntil = *u.BotSilencedUntil
	}
	if u.MessageCount != nil {
		s.MessageCount = *u.MessageCount
	}
	if u.UserConsecutiveMessages != nil {
		s.UserConsecutiveMessages = *u.UserConsecutiveMessages
	}
	s.LastUpdated = now
}

// Pointer helpers for building Updates.
func StatusPtr(s Status) *Status  { return &s }
func String(s string) *string     { return &s }
func Int(i int) *int              { return &i }
func Time(t time.Time) *time.Time { return &t }

// ErrInvalidRoom is returned when a room identifier is empty.
var ErrInvalidRoom = errors.New("store: empty room id")

// Conversations is the conversation state store contract.
//
// Get returns the default record for unknown rooms without persisting it.
// Merge shallow-merges the update, stamps LastUpdated, persists
// synchronously and returns the full merged record; a persistence failure
// means the update did not happen.
type Conversations interface {
	Get(ctx context.Context, roomID string) (*ConversationState, error)
	Merge(ctx context.Context, roomID string, update Update) (*ConversationState, error)

	// Reap deletes records not updated since the cutoff, bounding storage
	// for a contract that has no explicit delete. Best-effort.
	Reap(ctx context.Context, olderThan time.Time) (int, error)

	Close() error
}
