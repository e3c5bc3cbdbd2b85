// Package persistence provides SQLite-based storage for the agent pool,
// the session position and the event log, plus a compressed event journal.
package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/conclave/internal/agents"
	"github.com/talgya/conclave/internal/engine"
	"github.com/talgya/conclave/internal/world"
)

// DB wraps a SQLite connection for floor state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		state TEXT NOT NULL,
		pos_x REAL NOT NULL,
		pos_y REAL NOT NULL,
		health INTEGER NOT NULL,
		influence INTEGER NOT NULL,
		piety INTEGER NOT NULL,
		schemer INTEGER NOT NULL,
		active INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		tick INTEGER NOT NULL,
		sim_time TEXT NOT NULL,
		category TEXT NOT NULL,
		description TEXT NOT NULL,
		agent_id INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS session_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_events_agent ON events(agent_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type agentRow struct {
	ID        uint64  `db:"id"`
	Name      string  `db:"name"`
	Kind      string  `db:"kind"`
	State     string  `db:"state"`
	PosX      float64 `db:"pos_x"`
	PosY      float64 `db:"pos_y"`
	Health    int     `db:"health"`
	Influence int     `db:"influence"`
	Piety     int     `db:"piety"`
	Schemer   bool    `db:"schemer"`
	Active    bool    `db:"active"`
}

type eventRow struct {
	Seq         uint64 `db:"seq"`
	Tick        uint64 `db:"tick"`
	Time        string `db:"sim_time"`
	Category    string `db:"category"`
	Description string `db:"description"`
	Agent       uint64 `db:"agent_id"`
}

// SaveAgents writes all agents to the database (full replace).
func (db *DB) SaveAgents(views []engine.AgentView) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM agents"); err != nil {
		return err
	}

	stmt, err := tx.PrepareNamed(`INSERT INTO agents
		(id, name, kind, state, pos_x, pos_y, health, influence, piety, schemer, active)
		VALUES (:id, :name, :kind, :state, :pos_x, :pos_y, :health, :influence, :piety, :schemer, :active)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, v := range views {
		row := agentRow{
			ID:        uint64(v.ID),
			Name:      v.Name,
			Kind:      v.Kind,
			State:     v.State,
			PosX:      v.Position.X,
			PosY:      v.Position.Y,
			Health:    v.Stats.Health,
			Influence: v.Stats.Influence,
			Piety:     v.Stats.Piety,
			Schemer:   v.Schemer,
			Active:    v.Active,
		}
		if _, err := stmt.Exec(row); err != nil {
			return fmt.Errorf("insert agent %d: %w", v.ID, err)
		}
	}

	return tx.Commit()
}

// LoadAgents reads the saved pool in ID order.
func (db *DB) LoadAgents() ([]engine.AgentView, error) {
	var rows []agentRow
	if err := db.conn.Select(&rows, "SELECT * FROM agents ORDER BY id"); err != nil {
		return nil, fmt.Errorf("select agents: %w", err)
	}
	views := make([]engine.AgentView, 0, len(rows))
	for _, r := range rows {
		views = append(views, engine.AgentView{
			ID:       agents.AgentID(r.ID),
			Name:     r.Name,
			Kind:     r.Kind,
			State:    r.State,
			Position: world.V(r.PosX, r.PosY),
			Stats:    agents.Stats{Health: r.Health, Influence: r.Influence, Piety: r.Piety},
			Active:   r.Active,
			Schemer:  r.Schemer,
		})
	}
	return views, nil
}

// SaveEvents appends events to the database.
func (db *DB) SaveEvents(sessionID string, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		_, err := tx.Exec(
			`INSERT INTO events (session_id, seq, tick, sim_time, category, description, agent_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sessionID, e.Seq, e.Tick, e.Time, e.Category, e.Description, uint64(e.Agent),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecentEvents returns the most recent N events, newest first.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var rows []eventRow
	err := db.conn.Select(&rows,
		"SELECT seq, tick, sim_time, category, description, agent_id FROM events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	events := make([]engine.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, engine.Event{
			Seq:         r.Seq,
			Tick:        r.Tick,
			Time:        r.Time,
			Category:    r.Category,
			Description: r.Description,
			Agent:       agents.AgentID(r.Agent),
		})
	}
	return events, nil
}

// SaveMeta stores a key-value pair in session metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO session_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM session_meta WHERE key = ?", key)
	return value, err
}

// HasState reports whether a previous run saved its pool.
func (db *DB) HasState() bool {
	var n int
	if err := db.conn.Get(&n, "SELECT COUNT(*) FROM agents"); err != nil {
		return false
	}
	return n > 0
}

// LoadSession returns the saved day and period.
func (db *DB) LoadSession() (day int, period string, err error) {
	dayStr, err := db.GetMeta("day")
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 1, "dawn", nil
		}
		return 0, "", fmt.Errorf("get day: %w", err)
	}
	day, err = strconv.Atoi(dayStr)
	if err != nil {
		return 0, "", fmt.Errorf("parse day %q: %w", dayStr, err)
	}
	period, err = db.GetMeta("period")
	if err != nil {
		return 0, "", fmt.Errorf("get period: %w", err)
	}
	return day, period, nil
}

// SaveSnapshot performs a full save of the floor state.
func (db *DB) SaveSnapshot(snap engine.Snapshot) error {
	slog.Info("saving floor state", "agents", len(snap.Agents), "events", len(snap.Events), "day", snap.Day, "period", snap.Period)

	if err := db.SaveAgents(snap.Agents); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	if err := db.SaveEvents(snap.SessionID, snap.Events); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	meta := map[string]string{
		"day":        strconv.Itoa(snap.Day),
		"period":     snap.Period,
		"session_id": snap.SessionID,
		"last_tick":  strconv.FormatUint(snap.Tick, 10),
	}
	for k, v := range meta {
		if err := db.SaveMeta(k, v); err != nil {
			return fmt.Errorf("save meta %s: %w", k, err)
		}
	}

	slog.Info("floor state saved")
	return nil
}
