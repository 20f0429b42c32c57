// Package journal keeps a write-only SQLite audit trail of lock sessions and
// controller events. Nothing in it is read back into the controller.
package journal

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sweeney/lockbox/internal/logic"
	_ "modernc.org/sqlite"
)

// Session is one lock from LOCKED to UNLOCKED.
type Session struct {
	ID             string
	Mode           string
	StartedAt      time.Time
	EndedAt        *time.Time
	PlannedSeconds int64 // set duration for timed modes, grows on extend
	LockedSeconds  int64 // time actually spent locked
	EndReason      string
}

// Entry is one recorded event.
type Entry struct {
	Seq       int64
	SessionID string
	Type      string
	At        time.Time
	Detail    string
}

// Journal records events into SQLite.
type Journal struct {
	db *sql.DB

	mu      sync.Mutex
	current string // open session, "" when unlocked
	newID   func() string
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    mode TEXT NOT NULL,
    started_at TEXT NOT NULL,
    ended_at TEXT,
    planned_seconds INTEGER NOT NULL DEFAULT 0,
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    end_reason TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT,
    type TEXT NOT NULL,
    at TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id);
`

// Open opens (or creates) the journal at path. Use ":memory:" for a
// throwaway journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// One connection: each pool connection would get its own :memory: DB,
	// and file DBs avoid "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	j := &Journal{db: db, newID: func() string { return uuid.New().String() }}

	// Controller state does not survive a restart, so a session still open
	// here belongs to a lock that no longer exists.
	if err := j.closeDangling(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// EndRestart is the end reason of sessions closed because the service
// restarted while they were open.
const EndRestart = "RESTART"

// closeDangling ends every open session at its last recorded event.
func (j *Journal) closeDangling() error {
	res, err := j.db.Exec(
		`UPDATE sessions
		 SET ended_at = COALESCE(
		         (SELECT at FROM events WHERE session_id = sessions.id ORDER BY seq DESC LIMIT 1),
		         started_at),
		     end_reason = ?
		 WHERE ended_at IS NULL`, EndRestart)
	if err != nil {
		return fmt.Errorf("close dangling sessions: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("journal: closed %d session(s) left open by a restart", n)
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Current returns the open session ID, or "" when no lock is active.
func (j *Journal) Current() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.current
}

// Record stores ev and returns it stamped with its session ID. LOCKED opens
// a new session; UNLOCKED and FACTORY_RESET close the open one.
func (j *Journal) Record(ev logic.Event) (logic.Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	at := ev.Timestamp.UTC().Format(time.RFC3339Nano)
	secs := int64(ev.Duration / time.Second)

	tx, err := j.db.Begin()
	if err != nil {
		return ev, fmt.Errorf("begin journal tx: %w", err)
	}
	defer tx.Rollback()

	session := j.current
	switch ev.Type {
	case logic.EventLocked:
		if session != "" {
			if err := closeSession(tx, session, at, 0, "SUPERSEDED"); err != nil {
				return ev, err
			}
		}
		session = j.newID()
		if _, err := tx.Exec(
			`INSERT INTO sessions (id, mode, started_at, planned_seconds) VALUES (?, ?, ?, ?)`,
			session, string(ev.Mode), at, secs,
		); err != nil {
			return ev, fmt.Errorf("insert session: %w", err)
		}
	case logic.EventExtended:
		if session != "" {
			if _, err := tx.Exec(`UPDATE sessions SET planned_seconds = ? WHERE id = ?`, secs, session); err != nil {
				return ev, fmt.Errorf("extend session: %w", err)
			}
		}
	case logic.EventUnlocked:
		if session != "" {
			if err := closeSession(tx, session, at, secs, string(ev.Reason)); err != nil {
				return ev, err
			}
		}
	case logic.EventFactoryReset:
		if session != "" {
			if err := closeSession(tx, session, at, 0, string(logic.EventFactoryReset)); err != nil {
				return ev, err
			}
		}
	}

	var sid sql.NullString
	if session != "" {
		sid = sql.NullString{String: session, Valid: true}
	}
	if _, err := tx.Exec(
		`INSERT INTO events (session_id, type, at, detail) VALUES (?, ?, ?, ?)`,
		sid, string(ev.Type), at, detail(ev),
	); err != nil {
		return ev, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return ev, fmt.Errorf("commit journal tx: %w", err)
	}

	ev.Session = session
	switch ev.Type {
	case logic.EventLocked:
		j.current = session
	case logic.EventUnlocked, logic.EventFactoryReset:
		j.current = ""
	}
	return ev, nil
}

func closeSession(tx *sql.Tx, id, at string, secs int64, reason string) error {
	_, err := tx.Exec(
		`UPDATE sessions SET ended_at = ?, duration_seconds = ?, end_reason = ? WHERE id = ?`,
		at, secs, reason, id,
	)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

func detail(ev logic.Event) string {
	switch ev.Type {
	case logic.EventCheckin, logic.EventReward:
		return fmt.Sprintf("progress=%d earned=%d", ev.Progress, ev.Earned)
	case logic.EventUnlocked:
		return fmt.Sprintf("reason=%s", ev.Reason)
	case logic.EventModeChanged:
		return fmt.Sprintf("mode=%s", ev.Mode)
	case logic.EventChildLock:
		return fmt.Sprintf("child_lock=%t", ev.ChildLock)
	}
	return ev.Detail
}

// Recent lists up to n sessions, newest first.
func (j *Journal) Recent(n int) ([]Session, error) {
	rows, err := j.db.Query(
		`SELECT id, mode, started_at, ended_at, planned_seconds, duration_seconds, end_reason
		 FROM sessions ORDER BY started_at DESC, _rowid_ DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		var s Session
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&s.ID, &s.Mode, &startedAt, &endedAt, &s.PlannedSeconds, &s.LockedSeconds, &s.EndReason); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if endedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse ended_at: %w", err)
			}
			s.EndedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Events lists the events recorded for a session, oldest first.
func (j *Journal) Events(sessionID string) ([]Entry, error) {
	rows, err := j.db.Query(
		`SELECT seq, session_id, type, at, detail FROM events WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var at string
		var sid sql.NullString
		if err := rows.Scan(&e.Seq, &sid, &e.Type, &at, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.SessionID = sid.String
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
