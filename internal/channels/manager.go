package channels

import (
	"context"
	"log/slog"
	"sync"

	"github.com/linder3hs/livegate/internal/bus"
)

// Manager manages registered channels, handling their lifecycle and
// dispatching outbound messages from the bus to every running channel.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.MessageBus
	cancel   context.CancelFunc
}

// NewManager creates a channel manager. Channels are registered
// externally via Register.
func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
	}
}

// Register adds a channel. Must be called before StartAll.
func (m *Manager) Register(c Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[c.Name()] = c
}

// StartAll starts all registered channels and the outbound dispatch loop.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.dispatchOutbound(dispatchCtx)

	if len(m.channels) == 0 {
		slog.Warn("no channels registered")
		return nil
	}

	for name, channel := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := channel.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
		}
	}
	return nil
}

// StopAll stops the dispatch loop and all channels.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	for name, channel := range m.channels {
		if err := channel.Stop(ctx); err != nil {
			slog.Warn("channel stop failed", "channel", name, "error", err)
		}
	}
	return nil
}

// Status reports each registered channel's running state.
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]bool, len(m.channels))
	for name, c := range m.channels {
		status[name] = c.IsRunning()
	}
	return status
}

// dispatchOutbound drains the outbound queue and delivers each message to
// every running channel. Delivery failure is the platform's concern: it is
// logged and the message dropped, never retried into a reordering.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}

		m.mu.RLock()
		targets := make([]Channel, 0, len(m.channels))
		for _, c := range m.channels {
			targets = append(targets, c)
		}
		m.mu.RUnlock()

		for _, c := range targets {
			if !c.IsRunning() {
				continue
			}
			if err := c.Send(ctx, msg); err != nil {
				slog.Warn("outbound send failed", "channel", c.Name(), "room", msg.RoomID, "error", err)
			}
		}
	}
}
