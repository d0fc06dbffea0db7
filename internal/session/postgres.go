package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"dinner-workers/internal/models"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS dining_sessions (
	session_id     TEXT PRIMARY KEY,
	state          JSONB NOT NULL,
	last_active_at TIMESTAMPTZ NOT NULL
)`

// PostgresStore keeps sessions in the dining_sessions table. Rows idle longer
// than the timeout read as missing and are removed by PurgeExpired.
type PostgresStore struct {
	db   *sql.DB
	idle time.Duration
	now  func() time.Time
}

func NewPostgresStore(db *sql.DB, idle time.Duration) *PostgresStore {
	return &PostgresStore{db: db, idle: idle, now: time.Now}
}

// EnsureSchema creates the sessions table when missing.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createSessionsTable); err != nil {
		return fmt.Errorf("create dining_sessions: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, sessionID string) (*models.SessionContext, error) {
	var (
		state      []byte
		lastActive time.Time
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT state, last_active_at FROM dining_sessions WHERE session_id = $1`,
		sessionID,
	).Scan(&state, &lastActive)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	if p.idle > 0 && p.now().Sub(lastActive) > p.idle {
		return nil, ErrNotFound
	}

	var s models.SessionContext
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &s, nil
}

func (p *PostgresStore) Save(ctx context.Context, s *models.SessionContext) error {
	state, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.SessionID, err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO dining_sessions (session_id, state, last_active_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (session_id) DO UPDATE
		 SET state = EXCLUDED.state, last_active_at = EXCLUDED.last_active_at`,
		s.SessionID, state, s.LastActiveAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM dining_sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// PurgeExpired deletes sessions idle past the timeout and returns the count.
func (p *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	if p.idle <= 0 {
		return 0, nil
	}
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM dining_sessions WHERE last_active_at < $1`,
		p.now().Add(-p.idle),
	)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}
