// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/healthnav/healthnav/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	app_name    TEXT    NOT NULL,
	user_id     TEXT    NOT NULL,
	id          TEXT    NOT NULL,
	state       BLOB    NOT NULL,
	update_time INTEGER NOT NULL,
	PRIMARY KEY (app_name, user_id, id)
);

CREATE TABLE IF NOT EXISTS events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	app_name   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	session_id TEXT NOT NULL,
	data       BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS events_by_session
	ON events (app_name, user_id, session_id, seq);

CREATE TABLE IF NOT EXISTS user_state (
	app_name TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	state    BLOB NOT NULL,
	PRIMARY KEY (app_name, user_id)
);
`

// SQLiteService stores sessions, events and durable user state in a SQLite
// database file. It is the persistence layer for real deployments; temp-scope
// state never reaches the database.
type SQLiteService struct {
	db *sql.DB
}

var _ types.SessionService = (*SQLiteService)(nil)

// NewSQLiteService opens (and if needed initializes) the database at path.
func NewSQLiteService(ctx context.Context, path string) (*SQLiteService, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db %s: %w", path, err)
	}
	// SQLite serializes writers; a single connection avoids lock contention
	// between the pool's connections.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA foreign_keys = ON;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure session db: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize session db schema: %w", err)
	}

	return &SQLiteService{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteService) Close() error {
	return s.db.Close()
}

// CreateSession implements [types.SessionService].
func (s *SQLiteService) CreateSession(ctx context.Context, appName, userID, sessionID string, state map[string]any) (types.Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	for key := range state {
		if err := types.ValidateStateKey(key); err != nil {
			return nil, fmt.Errorf("create session %s: state key %q: %w", sessionID, key, err)
		}
	}

	sessionState := make(map[string]any)
	userDelta := make(map[string]any)
	for key, val := range state {
		switch {
		case strings.HasPrefix(key, types.UserPrefix):
			userDelta[key] = val
		case strings.HasPrefix(key, types.TempPrefix):
		default:
			sessionState[key] = val
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("create session %s: %w", sessionID, err)
	}
	defer tx.Rollback()

	now := time.Now()
	stateBlob, err := sonic.Marshal(sessionState)
	if err != nil {
		return nil, fmt.Errorf("create session %s: encode state: %w", sessionID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (app_name, user_id, id, state, update_time) VALUES (?, ?, ?, ?, ?)`,
		appName, userID, sessionID, stateBlob, now.UnixNano(),
	); err != nil {
		return nil, fmt.Errorf("create session %s: %w", sessionID, err)
	}
	if len(userDelta) > 0 {
		if err := s.mergeUserStateTx(ctx, tx, appName, userID, userDelta); err != nil {
			return nil, fmt.Errorf("create session %s: %w", sessionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("create session %s: %w", sessionID, err)
	}

	return s.GetSession(ctx, appName, userID, sessionID, nil)
}

// GetSession implements [types.SessionService].
func (s *SQLiteService) GetSession(ctx context.Context, appName, userID, sessionID string, config *types.GetSessionConfig) (types.Session, error) {
	var stateBlob []byte
	var updateTime int64
	err := s.db.QueryRowContext(ctx,
		`SELECT state, update_time FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		appName, userID, sessionID,
	).Scan(&stateBlob, &updateTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}

	state := make(map[string]any)
	if err := sonic.Unmarshal(stateBlob, &state); err != nil {
		return nil, fmt.Errorf("get session %s: decode state: %w", sessionID, err)
	}
	userState, err := s.loadUserState(ctx, appName, userID)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	maps.Copy(state, userState)

	events, err := s.loadEvents(ctx, appName, userID, sessionID, config)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}

	ses := NewSession(sessionID, appName, userID, state)
	ses.AddEvent(events...)
	ses.SetLastUpdateTime(time.Unix(0, updateTime))
	return ses, nil
}

// ListSessions implements [types.SessionService].
func (s *SQLiteService) ListSessions(ctx context.Context, appName, userID string) ([]types.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, update_time FROM sessions WHERE app_name = ? AND user_id = ? ORDER BY update_time`,
		appName, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s/%s: %w", appName, userID, err)
	}
	defer rows.Close()

	var sessions []types.Session
	for rows.Next() {
		var id string
		var updateTime int64
		if err := rows.Scan(&id, &updateTime); err != nil {
			return nil, fmt.Errorf("list sessions for %s/%s: %w", appName, userID, err)
		}
		ses := NewSession(id, appName, userID, nil)
		ses.SetLastUpdateTime(time.Unix(0, updateTime))
		sessions = append(sessions, ses)
	}
	return sessions, rows.Err()
}

// DeleteSession implements [types.SessionService].
func (s *SQLiteService) DeleteSession(ctx context.Context, appName, userID, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE app_name = ? AND user_id = ? AND session_id = ?`,
		appName, userID, sessionID,
	); err != nil {
		return fmt.Errorf("delete session %s events: %w", sessionID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		appName, userID, sessionID,
	); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return tx.Commit()
}

// AppendEvent implements [types.SessionService]. The live session gets the
// event and the full delta; the database gets the event row, the
// session-scope keys, and the user-scope keys. Temp keys stay in memory.
func (s *SQLiteService) AppendEvent(ctx context.Context, ses types.Session, event *types.Event) (*types.Event, error) {
	if event == nil {
		return nil, nil
	}

	delta := map[string]any{}
	if event.Actions != nil {
		delta = event.Actions.StateDelta
	}
	for key := range delta {
		if err := types.ValidateStateKey(key); err != nil {
			return nil, fmt.Errorf("append event %s: state key %q: %w", event.ID, key, err)
		}
	}

	now := time.Now()
	ses.AddEvent(event)
	ses.SetLastUpdateTime(now)
	if live, ok := ses.(*Session); ok {
		live.UpdateState(delta)
	}

	sessionDelta := make(map[string]any)
	userDelta := make(map[string]any)
	for key, val := range delta {
		switch {
		case strings.HasPrefix(key, types.UserPrefix):
			userDelta[key] = val
		case strings.HasPrefix(key, types.TempPrefix):
		default:
			sessionDelta[key] = val
		}
	}

	eventBlob, err := sonic.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("append event %s: encode: %w", event.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append event %s: %w", event.ID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (app_name, user_id, session_id, data) VALUES (?, ?, ?, ?)`,
		ses.AppName(), ses.UserID(), ses.ID(), eventBlob,
	); err != nil {
		return nil, fmt.Errorf("append event %s: %w", event.ID, err)
	}

	var stateBlob []byte
	err = tx.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE app_name = ? AND user_id = ? AND id = ?`,
		ses.AppName(), ses.UserID(), ses.ID(),
	).Scan(&stateBlob)
	if err != nil {
		return nil, fmt.Errorf("append event %s: load session: %w", event.ID, err)
	}
	state := make(map[string]any)
	if err := sonic.Unmarshal(stateBlob, &state); err != nil {
		return nil, fmt.Errorf("append event %s: decode session state: %w", event.ID, err)
	}
	maps.Copy(state, sessionDelta)
	stateBlob, err = sonic.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("append event %s: encode session state: %w", event.ID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, update_time = ? WHERE app_name = ? AND user_id = ? AND id = ?`,
		stateBlob, now.UnixNano(), ses.AppName(), ses.UserID(), ses.ID(),
	); err != nil {
		return nil, fmt.Errorf("append event %s: update session: %w", event.ID, err)
	}

	if len(userDelta) > 0 {
		if err := s.mergeUserStateTx(ctx, tx, ses.AppName(), ses.UserID(), userDelta); err != nil {
			return nil, fmt.Errorf("append event %s: %w", event.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append event %s: %w", event.ID, err)
	}
	return event, nil
}

func (s *SQLiteService) loadEvents(ctx context.Context, appName, userID, sessionID string, config *types.GetSessionConfig) ([]*types.Event, error) {
	query := `SELECT data FROM events WHERE app_name = ? AND user_id = ? AND session_id = ? ORDER BY seq`
	args := []any{appName, userID, sessionID}
	if config != nil && config.NumRecentEvents > 0 {
		query = `SELECT data FROM (
			SELECT seq, data FROM events
			WHERE app_name = ? AND user_id = ? AND session_id = ?
			ORDER BY seq DESC LIMIT ?
		) ORDER BY seq`
		args = append(args, config.NumRecentEvents)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var events []*types.Event
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("load events: %w", err)
		}
		event := new(types.Event)
		if err := sonic.Unmarshal(blob, event); err != nil {
			return nil, fmt.Errorf("load events: decode: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *SQLiteService) loadUserState(ctx context.Context, appName, userID string) (map[string]any, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM user_state WHERE app_name = ? AND user_id = ?`,
		appName, userID,
	).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user state: %w", err)
	}

	state := make(map[string]any)
	if err := sonic.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("load user state: decode: %w", err)
	}
	return state, nil
}

func (s *SQLiteService) mergeUserStateTx(ctx context.Context, tx *sql.Tx, appName, userID string, delta map[string]any) error {
	var blob []byte
	state := make(map[string]any)
	err := tx.QueryRowContext(ctx,
		`SELECT state FROM user_state WHERE app_name = ? AND user_id = ?`,
		appName, userID,
	).Scan(&blob)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("load user state: %w", err)
	default:
		if err := sonic.Unmarshal(blob, &state); err != nil {
			return fmt.Errorf("decode user state: %w", err)
		}
	}

	maps.Copy(state, delta)
	blob, err = sonic.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode user state: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_state (app_name, user_id, state) VALUES (?, ?, ?)
		 ON CONFLICT (app_name, user_id) DO UPDATE SET state = excluded.state`,
		appName, userID, blob,
	); err != nil {
		return fmt.Errorf("store user state: %w", err)
	}
	return nil
}
