package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"dinner-workers/internal/common/errors"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	turnLockPrefix = "dining:turn:lock:"
	turnGenPrefix  = "dining:turn:gen:"

	turnGenTTL         = time.Hour
	remoteCheckTimeout = 2 * time.Second
)

var releaseTurnScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

var refreshTurnScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// RedisLock extends turn serialization to every worker sharing one redis.
// Each arriving turn bumps a per-session generation; the turn holding the
// lease is superseded as soon as the generation moves past its own.
type RedisLock struct {
	client *redis.Client
	lease  time.Duration
	poll   time.Duration
}

// NewRedisLock returns a lock whose lease is refreshed while a turn runs.
// poll controls how often waiters retry and holders check for newer turns.
func NewRedisLock(client *redis.Client, lease, poll time.Duration) *RedisLock {
	if lease <= 0 {
		lease = 15 * time.Second
	}
	if poll <= 0 || poll > lease/3 {
		poll = lease / 3
	}
	return &RedisLock{client: client, lease: lease, poll: poll}
}

// announce registers an arriving turn and returns its generation.
func (r *RedisLock) announce(ctx context.Context, sessionID string) (int64, error) {
	key := turnGenPrefix + sessionID
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.PExpire(ctx, key, turnGenTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("announce turn: %w", err)
	}
	return incr.Val(), nil
}

func (r *RedisLock) generation(ctx context.Context, sessionID string) (int64, error) {
	n, err := r.client.Get(ctx, turnGenPrefix+sessionID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// acquire waits for the session lease. It gives up with TURN_SUPERSEDED once
// a newer turn has been announced anywhere.
func (r *RedisLock) acquire(ctx context.Context, sessionID string, gen int64) (*remoteTurn, error) {
	key := turnLockPrefix + sessionID
	token := uuid.New().String()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.lease).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.NewSessionStoreError("lock", err)
		}

		current, err := r.generation(ctx, sessionID)
		if err != nil {
			if ok {
				r.release(key, token)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.NewSessionStoreError("lock", err)
		}
		if current != gen {
			if ok {
				r.release(key, token)
			}
			return nil, errors.NewTurnSupersededError(sessionID)
		}
		if ok {
			return &remoteTurn{
				lock:      r,
				sessionID: sessionID,
				key:       key,
				token:     token,
				gen:       gen,
				stop:      make(chan struct{}),
				done:      make(chan struct{}),
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.poll):
		}
	}
}

func (r *RedisLock) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), remoteCheckTimeout)
	defer cancel()
	_ = releaseTurnScript.Run(ctx, r.client, []string{key}, token).Err()
}

// remoteTurn is the redis side of a held Turn.
type remoteTurn struct {
	lock      *RedisLock
	sessionID string
	key       string
	token     string
	gen       int64
	lost      atomic.Bool
	stop      chan struct{}
	done      chan struct{}
}

// watch keeps the lease alive and cancels the turn when a newer turn is
// announced or the lease is lost.
func (t *remoteTurn) watch(ctx context.Context, cancel context.CancelFunc) {
	defer close(t.done)
	ticker := time.NewTicker(t.lock.poll)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.check() {
				t.lost.Store(true)
				cancel()
				return
			}
		}
	}
}

// check refreshes the lease and reports whether the turn is still current.
// Transient redis errors keep the turn alive; the lease expiry bounds them.
func (t *remoteTurn) check() bool {
	ctx, cancel := context.WithTimeout(context.Background(), remoteCheckTimeout)
	defer cancel()

	current, err := t.lock.generation(ctx, t.sessionID)
	if err == nil && current != t.gen {
		return false
	}
	n, err := refreshTurnScript.Run(ctx, t.lock.client, []string{t.key}, t.token, t.lock.lease.Milliseconds()).Int()
	if err == nil && n == 0 {
		return false
	}
	return true
}

func (t *remoteTurn) superseded() bool {
	if t.lost.Load() {
		return true
	}
	if !t.check() {
		t.lost.Store(true)
		return true
	}
	return false
}

func (t *remoteTurn) release() {
	close(t.stop)
	<-t.done
	t.lock.release(t.key, t.token)
}
