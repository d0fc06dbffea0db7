package session

import (
	"context"
	"time"

	"dinner-workers/internal/models"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps sessions in process. Every Save restarts the idle timer.
type MemoryStore struct {
	cache *cache.Cache
}

func NewMemoryStore(idle, cleanup time.Duration) *MemoryStore {
	return &MemoryStore{cache: cache.New(idle, cleanup)}
}

func (m *MemoryStore) Get(ctx context.Context, sessionID string) (*models.SessionContext, error) {
	if x, found := m.cache.Get(sessionID); found {
		return x.(*models.SessionContext).Clone(), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Save(ctx context.Context, s *models.SessionContext) error {
	m.cache.Set(s.SessionID, s.Clone(), cache.DefaultExpiration)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.cache.Delete(sessionID)
	return nil
}

// Len reports the number of live sessions.
func (m *MemoryStore) Len() int {
	return m.cache.ItemCount()
}
