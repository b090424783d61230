package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteConversations is the durable Conversations implementation.
// A single mutex serializes writers; sqlite allows one writer at a time
// anyway and the per-room mutation rate is low.
type SQLiteConversations struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the conversation database and
// applies pending migrations.
func OpenSQLite(path string) (*SQLiteConversations, error) {
	if err := Migrate(path, 0); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	return &SQLiteConversations{db: db, now: time.Now}, nil
}

// Migrate applies schema migrations for the database at path.
// steps == 0 migrates all the way up; negative steps roll back.
func Migrate(path string, steps int) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+path)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	defer m.Close()

	if steps == 0 {
		err = m.Up()
	} else {
		err = m.Steps(steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// MigrationVersion reports the schema version of the database at path.
func MigrationVersion(path string) (uint, bool, error) {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, false, fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, "sqlite://"+path)
	if err != nil {
		return 0, false, fmt.Errorf("init migrator: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// SetClock overrides the time source. Test hook.
func (s *SQLiteConversations) SetClock(now func() time.Time) { s.now = now }

func (s *SQLiteConversations) Get(ctx context.Context, roomID string) (*ConversationState, error) {
	if roomID == "" {
		return nil, ErrInvalidRoom
	}
	state, err := s.scanRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return NewConversationState(roomID, s.now()), nil
	}
	return state, nil
}

func (s *SQLiteConversations) Merge(ctx context.Context, roomID string, update Update) (*ConversationState, error) {
	if roomID == "" {
		return nil, ErrInvalidRoom
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.scanRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = NewConversationState(roomID, s.now())
	}
	update.apply(state, s.now())

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (
			room_id, status, agent_id, agent_name,
			last_agent_activity, bot_silenced_until,
			message_count, user_consecutive_messages,
			conversation_started, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			status = excluded.status,
			agent_id = excluded.agent_id,
			agent_name = excluded.agent_name,
			last_agent_activity = excluded.last_agent_activity,
			bot_silenced_until = excluded.bot_silenced_until,
			message_count = excluded.message_count,
			user_consecutive_messages = excluded.user_consecutive_messages,
			last_updated = excluded.last_updated`,
		state.RoomID, string(state.Status), state.AgentID, state.AgentName,
		nullTime(state.LastAgentActivity), nullTime(state.BotSilencedUntil),
		state.MessageCount, state.UserConsecutiveMessages,
		state.ConversationStarted.UTC().Format(time.RFC3339Nano),
		state.LastUpdated.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("persist conversation %s: %w", roomID, err)
	}
	return state, nil
}

func (s *SQLiteConversations) Reap(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE last_updated < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("reap conversations: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteConversations) Close() error { return s.db.Close() }

// scanRoom returns nil without error when the room has no persisted row.
func (s *SQLiteConversations) scanRoom(ctx context.Context, roomID string) (*ConversationState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT room_id, status, agent_id, agent_name,
		       last_agent_activity, bot_silenced_until,
		       message_count, user_consecutive_messages,
		       conversation_started, last_updated
		FROM conversations WHERE room_id = ?`, roomID)

	var (
		state                    ConversationState
		status                   string
		lastActivity, silenced   sql.NullString
		started, updated         string
	)
	err := row.Scan(&state.RoomID, &status, &state.AgentID, &state.AgentName,
		&lastActivity, &silenced,
		&state.MessageCount, &state.UserConsecutiveMessages,
		&started, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", roomID, err)
	}

	state.Status = Status(status)
	state.LastAgentActivity = parseTime(lastActivity)
	state.BotSilencedUntil = parseTime(silenced)
	state.ConversationStarted, _ = time.Parse(time.RFC3339Nano, started)
	state.LastUpdated, _ = time.Parse(time.RFC3339Nano, updated)
	return &state, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String)
	return t
}
