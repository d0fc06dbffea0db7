// Package session persists SessionContext between turns and serializes
// concurrent turns of one conversation.
package session

import (
	"context"
	stderrors "errors"
	"fmt"

	"dinner-workers/internal/common/config"
	"dinner-workers/internal/common/database"
	"dinner-workers/internal/models"
)

// ErrNotFound is returned by Get for unknown or expired sessions.
var ErrNotFound = stderrors.New("session not found")

// Store is the caller-owned persistence for SessionContext. Expiry is an
// eviction policy of the implementation.
type Store interface {
	Get(ctx context.Context, sessionID string) (*models.SessionContext, error)
	Save(ctx context.Context, s *models.SessionContext) error
	Delete(ctx context.Context, sessionID string) error
}

// NewStore builds the store selected by cfg.Session.Store. Clients that are
// not needed may be nil.
func NewStore(cfg *config.Config, redis *database.RedisClient, pg *database.PostgresClient) (Store, error) {
	idle := config.GetDuration(cfg.Session.IdleTimeout)
	switch cfg.Session.Store {
	case "", "memory":
		return NewMemoryStore(idle, config.GetDuration(cfg.Session.CleanupInterval)), nil
	case "redis":
		if redis == nil {
			return nil, fmt.Errorf("redis session store requires a redis client")
		}
		return NewRedisStore(redis.Client, idle), nil
	case "postgres":
		if pg == nil {
			return nil, fmt.Errorf("postgres session store requires a postgres client")
		}
		return NewPostgresStore(pg.DB, idle), nil
	default:
		return nil, fmt.Errorf("unknown session store %q", cfg.Session.Store)
	}
}
