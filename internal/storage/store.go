// internal/storage/store.go
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	apperrors "github.com/Corphon/StoryMasterMCP/internal/errors"
	"github.com/Corphon/StoryMasterMCP/internal/models"
)

// Store wraps the SQLite connection holding players, scenarios,
// sessions, and conversation logs.
type Store struct {
	db *sql.DB

	// lastStamp tracks the newest log timestamp per session so that
	// appends never go backward even if the wall clock does.
	stampMu   sync.Mutex
	lastStamp map[string]time.Time
}

// NewStore opens (or creates) the database and runs migrations.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("storage: mkdir %s: %w", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: open db: %w", err)
	}

	// Single connection avoids write contention for our scale
	db.SetMaxOpenConns(1)

	s := &Store{
		db:        db,
		lastStamp: make(map[string]time.Time),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)

	var version int
	s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)

	if version < 1 {
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS players (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				name       TEXT NOT NULL UNIQUE,
				created_at TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE IF NOT EXISTS scenarios (
				id             TEXT PRIMARY KEY,
				title          TEXT NOT NULL,
				description    TEXT NOT NULL DEFAULT '',
				initial_prompt TEXT NOT NULL DEFAULT '',
				created_at     TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE TABLE IF NOT EXISTS sessions (
				id                    TEXT PRIMARY KEY,
				player_id             INTEGER NOT NULL REFERENCES players(id) ON DELETE CASCADE,
				scenario_id           TEXT    NOT NULL REFERENCES scenarios(id) ON DELETE CASCADE,
				current_plot_point_id TEXT    NOT NULL DEFAULT '',
				player_state          TEXT    NOT NULL DEFAULT '{}',
				created_at            TEXT    NOT NULL DEFAULT (datetime('now')),
				UNIQUE(player_id, scenario_id)
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_player ON sessions(player_id);

			CREATE TABLE IF NOT EXISTS logs (
				id                INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id        TEXT    NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				message           TEXT    NOT NULL,
				is_sent_by_user   INTEGER NOT NULL DEFAULT 1,
				is_major_decision INTEGER NOT NULL DEFAULT 0,
				timestamp         INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_logs_session ON logs(session_id, timestamp);

			INSERT INTO schema_version (version) VALUES (1);
		`); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------
// Players

// GetOrCreatePlayer looks up a player by name, creating the record on
// first sight. Lookup-or-create is the only mutation players see.
func (s *Store) GetOrCreatePlayer(name string) (*models.Player, error) {
	if name == "" {
		return nil, apperrors.NewValidationError("player name is required", nil)
	}

	if _, err := s.db.Exec(
		`INSERT INTO players (name) VALUES (?) ON CONFLICT(name) DO NOTHING`, name); err != nil {
		return nil, fmt.Errorf("storage: insert player: %w", err)
	}

	p := &models.Player{}
	var created string
	err := s.db.QueryRow(
		`SELECT id, name, created_at FROM players WHERE name = ?`, name).
		Scan(&p.ID, &p.Name, &created)
	if err != nil {
		return nil, fmt.Errorf("storage: get player: %w", err)
	}
	p.CreatedAt = parseStamp(created)
	return p, nil
}

// ---------------------------------------------------------------
// Scenarios

// CreateScenario stores a new scenario. An empty id gets a fresh uuid.
func (s *Store) CreateScenario(sc *models.Scenario) error {
	if sc.Title == "" {
		return apperrors.NewValidationError("scenario title is required", nil)
	}
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	sc.CreatedAt = time.Now().UTC()

	_, err := s.db.Exec(
		`INSERT INTO scenarios (id, title, description, initial_prompt, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		sc.ID, sc.Title, sc.Description, sc.InitialPrompt, sc.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("storage: insert scenario: %w", err)
	}
	return nil
}

// ListScenarios returns every scenario, oldest first.
func (s *Store) ListScenarios() ([]*models.Scenario, error) {
	rows, err := s.db.Query(
		`SELECT id, title, description, initial_prompt, created_at
		 FROM scenarios ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list scenarios: %w", err)
	}
	defer rows.Close()

	var scenarios []*models.Scenario
	for rows.Next() {
		sc := &models.Scenario{}
		var created string
		if err := rows.Scan(&sc.ID, &sc.Title, &sc.Description, &sc.InitialPrompt, &created); err != nil {
			return nil, fmt.Errorf("storage: scan scenario: %w", err)
		}
		sc.CreatedAt = parseStamp(created)
		scenarios = append(scenarios, sc)
	}
	return scenarios, rows.Err()
}

// GetScenario fetches one scenario by id.
func (s *Store) GetScenario(id string) (*models.Scenario, error) {
	sc := &models.Scenario{}
	var created string
	err := s.db.QueryRow(
		`SELECT id, title, description, initial_prompt, created_at
		 FROM scenarios WHERE id = ?`, id).
		Scan(&sc.ID, &sc.Title, &sc.Description, &sc.InitialPrompt, &created)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("scenario not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get scenario: %w", err)
	}
	sc.CreatedAt = parseStamp(created)
	return sc, nil
}

// CountScenarios reports how many scenarios exist. Used by the seed
// step to avoid reseeding a populated database.
func (s *Store) CountScenarios() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM scenarios`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count scenarios: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------
// Sessions

// GetOrCreateSession returns the session for a (player, scenario)
// pair, creating it when absent. The second return value reports
// whether a new session was created; a repeat call is a pure read.
func (s *Store) GetOrCreateSession(playerID int64, scenarioID string) (*models.Session, bool, error) {
	if sess, err := s.getSessionByPair(playerID, scenarioID); err == nil {
		return sess, false, nil
	} else if !apperrors.IsNotFoundError(err) {
		return nil, false, err
	}

	id := uuid.NewString()
	createdAt := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, player_id, scenario_id, current_plot_point_id, player_state, created_at)
		 VALUES (?, ?, ?, ?, '{}', ?)
		 ON CONFLICT(player_id, scenario_id) DO NOTHING`,
		id, playerID, scenarioID, models.StartPlotPointID, createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, false, fmt.Errorf("storage: insert session: %w", err)
	}

	sess, err := s.getSessionByPair(playerID, scenarioID)
	if err != nil {
		return nil, false, err
	}
	// The conflict clause makes a concurrent create look like a read.
	return sess, sess.ID == id, nil
}

func (s *Store) getSessionByPair(playerID int64, scenarioID string) (*models.Session, error) {
	return s.scanSession(s.db.QueryRow(
		`SELECT s.id, s.player_id, p.name, s.scenario_id, s.current_plot_point_id, s.player_state, s.created_at
		 FROM sessions s JOIN players p ON p.id = s.player_id
		 WHERE s.player_id = ? AND s.scenario_id = ?`, playerID, scenarioID))
}

// GetSession fetches one session by id.
func (s *Store) GetSession(id string) (*models.Session, error) {
	return s.scanSession(s.db.QueryRow(
		`SELECT s.id, s.player_id, p.name, s.scenario_id, s.current_plot_point_id, s.player_state, s.created_at
		 FROM sessions s JOIN players p ON p.id = s.player_id
		 WHERE s.id = ?`, id))
}

func (s *Store) scanSession(row *sql.Row) (*models.Session, error) {
	sess := &models.Session{}
	var state, created string
	err := row.Scan(&sess.ID, &sess.PlayerID, &sess.PlayerName, &sess.ScenarioID,
		&sess.CurrentPlotPointID, &state, &created)
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError("session not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get session: %w", err)
	}

	if err := json.Unmarshal([]byte(state), &sess.PlayerState); err != nil || sess.PlayerState == nil {
		sess.PlayerState = make(map[string]interface{})
	}
	sess.CreatedAt = parseStamp(created)
	return sess, nil
}

// UpdateSession persists a session's plot point and player state.
func (s *Store) UpdateSession(sess *models.Session) error {
	state, err := json.Marshal(sess.PlayerState)
	if err != nil {
		return fmt.Errorf("storage: marshal player state: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE sessions SET current_plot_point_id = ?, player_state = ? WHERE id = ?`,
		sess.CurrentPlotPointID, string(state), sess.ID)
	if err != nil {
		return fmt.Errorf("storage: update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewNotFoundError("session not found", nil)
	}
	return nil
}

// ---------------------------------------------------------------
// Logs

// AppendLog appends one entry to a session's conversation log. The
// assigned timestamp never goes backward within a session.
func (s *Store) AppendLog(sessionID, message string, sentByUser, major bool) (*models.LogEntry, error) {
	stamp := s.nextStamp(sessionID)

	res, err := s.db.Exec(
		`INSERT INTO logs (session_id, message, is_sent_by_user, is_major_decision, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, message, boolToInt(sentByUser), boolToInt(major), stamp.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("storage: append log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("storage: append log id: %w", err)
	}

	return &models.LogEntry{
		ID:         id,
		SessionID:  sessionID,
		Message:    message,
		SentByUser: sentByUser,
		IsMajor:    major,
		Timestamp:  stamp,
	}, nil
}

// nextStamp produces a per-session monotonic timestamp.
func (s *Store) nextStamp(sessionID string) time.Time {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()

	now := time.Now().UTC().Truncate(time.Microsecond)
	if last, ok := s.lastStamp[sessionID]; ok && now.Before(last) {
		now = last
	}
	s.lastStamp[sessionID] = now
	return now
}

// SessionLogs returns the full log of a session, oldest first.
func (s *Store) SessionLogs(sessionID string) ([]*models.LogEntry, error) {
	return s.queryLogs(
		`SELECT id, session_id, message, is_sent_by_user, is_major_decision, timestamp
		 FROM logs WHERE session_id = ? ORDER BY timestamp, id`, sessionID)
}

// RecentLogs returns at most n of the newest entries, oldest first so
// they can be replayed into a prompt chronologically.
func (s *Store) RecentLogs(sessionID string, n int) ([]*models.LogEntry, error) {
	entries, err := s.queryLogs(
		`SELECT id, session_id, message, is_sent_by_user, is_major_decision, timestamp
		 FROM logs WHERE session_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		sessionID, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// MajorDecisions returns the entries flagged as major decisions,
// oldest first.
func (s *Store) MajorDecisions(sessionID string) ([]*models.LogEntry, error) {
	return s.queryLogs(
		`SELECT id, session_id, message, is_sent_by_user, is_major_decision, timestamp
		 FROM logs WHERE session_id = ? AND is_major_decision = 1 ORDER BY timestamp, id`,
		sessionID)
}

func (s *Store) queryLogs(query string, args ...interface{}) ([]*models.LogEntry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query logs: %w", err)
	}
	defer rows.Close()

	var entries []*models.LogEntry
	for rows.Next() {
		e := &models.LogEntry{}
		var sentByUser, major int
		var micros int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Message, &sentByUser, &major, &micros); err != nil {
			return nil, fmt.Errorf("storage: scan log: %w", err)
		}
		e.SentByUser = sentByUser != 0
		e.IsMajor = major != 0
		e.Timestamp = time.UnixMicro(micros).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseStamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
