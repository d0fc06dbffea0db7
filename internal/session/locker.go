package session

import (
	"context"
	"sync"

	"dinner-workers/internal/common/errors"
)

// Locker allows at most one active turn per session. Acquiring a session
// cancels the turn currently holding it; the newer turn runs once the older
// one releases. With a RedisLock the same holds across worker processes.
type Locker struct {
	mu       sync.Mutex
	sessions map[string]*slot
	remote   *RedisLock
}

type slot struct {
	sem    chan struct{}
	gen    uint64
	refs   int
	cancel context.CancelFunc
	holder uint64
}

func NewLocker() *Locker {
	return &Locker{sessions: make(map[string]*slot)}
}

// NewDistributedLocker serializes turns through remote as well as locally.
func NewDistributedLocker(remote *RedisLock) *Locker {
	l := NewLocker()
	l.remote = remote
	return l
}

// Turn is a held session. Its Context is cancelled when a newer turn for the
// same session arrives.
type Turn struct {
	locker    *Locker
	sessionID string
	slot      *slot
	gen       uint64
	ctx       context.Context
	cancel    context.CancelFunc
	once      sync.Once
	remote    *remoteTurn
}

// Acquire waits for the session and returns the held turn. It fails with
// TURN_SUPERSEDED if an even newer turn arrived while waiting, or with the
// context error if ctx ends first.
func (l *Locker) Acquire(ctx context.Context, sessionID string) (*Turn, error) {
	var remoteGen int64
	if l.remote != nil {
		g, err := l.remote.announce(ctx, sessionID)
		if err != nil {
			return nil, errors.NewSessionStoreError("lock", err)
		}
		remoteGen = g
	}

	l.mu.Lock()
	s, ok := l.sessions[sessionID]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		l.sessions[sessionID] = s
	}
	s.gen++
	gen := s.gen
	s.refs++
	if s.cancel != nil {
		s.cancel()
	}
	l.mu.Unlock()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(sessionID, s)
		return nil, ctx.Err()
	}

	l.mu.Lock()
	if s.gen != gen {
		l.mu.Unlock()
		<-s.sem
		l.unref(sessionID, s)
		return nil, errors.NewTurnSupersededError(sessionID)
	}
	turnCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.holder = gen
	l.mu.Unlock()

	turn := &Turn{
		locker:    l,
		sessionID: sessionID,
		slot:      s,
		gen:       gen,
		ctx:       turnCtx,
		cancel:    cancel,
	}
	if l.remote == nil {
		return turn, nil
	}

	rt, err := l.remote.acquire(turnCtx, sessionID, remoteGen)
	if err != nil {
		cancelledLocally := ctx.Err() == nil && turnCtx.Err() != nil
		turn.Release()
		if cancelledLocally {
			return nil, errors.NewTurnSupersededError(sessionID)
		}
		return nil, err
	}
	turn.remote = rt
	go rt.watch(turnCtx, cancel)
	return turn, nil
}

func (l *Locker) unref(sessionID string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 && l.sessions[sessionID] == s {
		delete(l.sessions, sessionID)
	}
}

// Active reports how many sessions have a turn running or waiting.
func (l *Locker) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

func (t *Turn) Context() context.Context {
	return t.ctx
}

// Superseded reports whether a newer turn for the session has arrived.
func (t *Turn) Superseded() bool {
	t.locker.mu.Lock()
	local := t.slot.gen != t.gen
	t.locker.mu.Unlock()
	if local {
		return true
	}
	return t.remote != nil && t.remote.superseded()
}

// Release frees the session. Safe to call more than once.
func (t *Turn) Release() {
	t.once.Do(func() {
		if t.remote != nil {
			t.remote.release()
		}
		t.locker.mu.Lock()
		if t.slot.holder == t.gen {
			t.slot.cancel = nil
			t.slot.holder = 0
		}
		t.locker.mu.Unlock()

		t.cancel()
		<-t.slot.sem
		t.locker.unref(t.sessionID, t.slot)
	})
}
