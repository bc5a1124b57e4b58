package store

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/paulpham157/ii-agent/internal/bus"
	"github.com/paulpham157/ii-agent/internal/config"
	"github.com/paulpham157/ii-agent/pkg/protocol"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Session is one persisted session row.
type Session struct {
	ID           uuid.UUID `json:"id"`
	WorkspaceDir string    `json:"workspace_dir"`
	CreatedAt    time.Time `json:"created_at"`
	DeviceID     string    `json:"device_id"`
	Name         string    `json:"name"`
	SandboxID    string    `json:"sandbox_id"`
}

// Store persists sessions and events in sqlite or postgres.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the configured database and applies migrations.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	var db *sql.DB
	var err error
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	switch driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		db, err = sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.SQLitePath))
	case "postgres":
		db, err = sql.Open("pgx", cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	var m *migrate.Migrate
	switch s.driver {
	case "sqlite":
		drv, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
		if err != nil {
			return fmt.Errorf("migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "sqlite", drv)
		if err != nil {
			return fmt.Errorf("migrate init: %w", err)
		}
	case "postgres":
		drv, err := migratepgx.WithInstance(s.db, &migratepgx.Config{})
		if err != nil {
			return fmt.Errorf("migrate driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", drv)
		if err != nil {
			return fmt.Errorf("migrate init: %w", err)
		}
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// rebind converts ?-placeholders to $N for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(id uuid.UUID, workspaceDir, deviceID string) error {
	_, err := s.db.Exec(
		s.rebind(`INSERT INTO session (id, workspace_dir, created_at, device_id, name, sandbox_id) VALUES (?, ?, ?, ?, '', '')`),
		id.String(), workspaceDir, time.Now().UTC(), deviceID,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession fetches a session by id. Returns (nil, nil) when missing.
func (s *Store) GetSession(id uuid.UUID) (*Session, error) {
	row := s.db.QueryRow(
		s.rebind(`SELECT id, workspace_dir, created_at, device_id, name, sandbox_id FROM session WHERE id = ?`),
		id.String(),
	)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var rawID string
	var deviceID, name, sandboxID sql.NullString
	err := row.Scan(&rawID, &sess.WorkspaceDir, &sess.CreatedAt, &deviceID, &name, &sandboxID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	sess.ID, err = uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	sess.DeviceID = deviceID.String
	sess.Name = name.String
	sess.SandboxID = sandboxID.String
	return &sess, nil
}

// UpdateSessionName sets the human-readable session name.
func (s *Store) UpdateSessionName(id uuid.UUID, name string) error {
	_, err := s.db.Exec(s.rebind(`UPDATE session SET name = ? WHERE id = ?`), name, id.String())
	return err
}

// UpdateSessionSandboxID persists the sandbox id assigned to a session.
func (s *Store) UpdateSessionSandboxID(id uuid.UUID, sandboxID string) error {
	_, err := s.db.Exec(s.rebind(`UPDATE session SET sandbox_id = ? WHERE id = ?`), sandboxID, id.String())
	return err
}

// SessionsByDeviceID lists sessions for a device, newest first.
func (s *Store) SessionsByDeviceID(deviceID string) ([]Session, error) {
	rows, err := s.db.Query(
		s.rebind(`SELECT id, workspace_dir, created_at, device_id, name, sandbox_id FROM session WHERE device_id = ? ORDER BY created_at DESC`),
		deviceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var rawID string
		var devID, name, sandboxID sql.NullString
		if err := rows.Scan(&rawID, &sess.WorkspaceDir, &sess.CreatedAt, &devID, &name, &sandboxID); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.ID, err = uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("parse session id: %w", err)
		}
		sess.DeviceID = devID.String
		sess.Name = name.String
		sess.SandboxID = sandboxID.String
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SaveEvent appends one event to the session's log.
func (s *Store) SaveEvent(ev bus.Event) error {
	payload, err := json.Marshal(ev.Content)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.db.Exec(
		s.rebind(`INSERT INTO event (id, session_id, timestamp, event_type, event_payload) VALUES (?, ?, ?, ?, ?)`),
		ev.ID.String(), ev.SessionID.String(), ev.Timestamp, ev.Type, string(payload),
	)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

// SessionEvents returns all events for a session ordered by timestamp.
func (s *Store) SessionEvents(sessionID uuid.UUID) ([]bus.Event, error) {
	rows, err := s.db.Query(
		s.rebind(`SELECT id, session_id, timestamp, event_type, event_payload FROM event WHERE session_id = ? ORDER BY timestamp ASC`),
		sessionID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []bus.Event
	for rows.Next() {
		var ev bus.Event
		var rawID, rawSession, payload string
		if err := rows.Scan(&rawID, &rawSession, &ev.Timestamp, &ev.Type, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("parse event id: %w", err)
		}
		if ev.SessionID, err = uuid.Parse(rawSession); err != nil {
			return nil, fmt.Errorf("parse event session id: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &ev.Content); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteEventsFromLastToUserMessage deletes events from the most recent
// event backwards through the last user_message event (inclusive),
// preserving the conversation before it. With no user_message present,
// all events for the session are deleted.
func (s *Store) DeleteEventsFromLastToUserMessage(sessionID uuid.UUID) error {
	row := s.db.QueryRow(
		s.rebind(`SELECT timestamp FROM event WHERE session_id = ? AND event_type = ? ORDER BY timestamp DESC LIMIT 1`),
		sessionID.String(), protocol.EventUserMessage,
	)
	var ts time.Time
	err := row.Scan(&ts)
	if err == sql.ErrNoRows {
		_, err = s.db.Exec(s.rebind(`DELETE FROM event WHERE session_id = ?`), sessionID.String())
		return err
	}
	if err != nil {
		return fmt.Errorf("find last user message: %w", err)
	}
	_, err = s.db.Exec(
		s.rebind(`DELETE FROM event WHERE session_id = ? AND timestamp >= ?`),
		sessionID.String(), ts,
	)
	return err
}
