package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/linder3hs/livegate/internal/store"
)

// roomStatus is the JSON view of one room's handoff state.
type roomStatus struct {
	RoomID                  string       `json:"room_id"`
	Status                  store.Status `json:"status"`
	BotMayRespond           bool         `json:"bot_may_respond"`
	AgentName               string       `json:"agent_name,omitempty"`
	LastAgentActivity       time.Time    `json:"last_agent_activity,omitzero"`
	BotSilencedUntil        time.Time    `json:"bot_silenced_until,omitzero"`
	MessageCount            int          `json:"message_count"`
	UserConsecutiveMessages int          `json:"user_consecutive_messages"`
	LastUpdated             time.Time    `json:"last_updated,omitzero"`
}

// serveHTTP runs the read-only introspection API until the context is
// cancelled. It binds to localhost by default; operators put it behind
// their own proxy if they want it reachable.
func (g *Gateway) serveHTTP(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", g.handleHealthz)
	r.Get("/rooms/{roomID}/status", g.handleRoomStatus)
	r.Get("/documents", g.handleDocuments)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", g.cfg.HTTP.Host, g.cfg.HTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("http listener started", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listener: %w", err)
	}
	return nil
}

func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"channels": g.channels.Status(),
	})
}

// handleRoomStatus uses Peek rather than MayRespond so polling the API
// never mutates conversation state.
func (g *Gateway) handleRoomStatus(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if roomID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing room id"})
		return
	}
	state, mayRespond, err := g.machine.Peek(r.Context(), roomID)
	if err != nil {
		slog.Error("room status lookup failed", "room", roomID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, roomStatus{
		RoomID:                  roomID,
		Status:                  state.Status,
		BotMayRespond:           mayRespond,
		AgentName:               state.AgentName,
		LastAgentActivity:       state.LastAgentActivity,
		BotSilencedUntil:        state.BotSilencedUntil,
		MessageCount:            state.MessageCount,
		UserConsecutiveMessages: state.UserConsecutiveMessages,
		LastUpdated:             state.LastUpdated,
	})
}

func (g *Gateway) handleDocuments(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, g.docs.List())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("json encode failed", "error", err)
	}
}
