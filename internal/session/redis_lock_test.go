package session

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"dinner-workers/internal/common/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replicas returns two lockers that share one redis, as two worker processes would.
func replicas(t *testing.T) (*Locker, *Locker, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	newLocker := func() *Locker {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		return NewDistributedLocker(NewRedisLock(rdb, time.Second, 5*time.Millisecond))
	}
	return newLocker(), newLocker(), mr
}

func TestRedisLock_TurnOnOtherWorkerCancelsHolder(t *testing.T) {
	a, b, mr := replicas(t)

	first, err := a.Acquire(context.Background(), "s-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists(turnLockPrefix+"s-1"))
	assert.False(t, first.Superseded())

	acquired := make(chan *Turn, 1)
	go func() {
		second, err := b.Acquire(context.Background(), "s-1")
		assert.NoError(t, err)
		acquired <- second
	}()

	select {
	case <-first.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("holder context was not cancelled by the other worker")
	}
	assert.True(t, first.Superseded())

	select {
	case <-acquired:
		t.Fatal("second turn ran before the first released")
	case <-time.After(30 * time.Millisecond):
	}

	first.Release()
	var second *Turn
	select {
	case second = <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second turn never acquired the session")
	}
	assert.False(t, second.Superseded())
	assert.NoError(t, second.Context().Err())

	second.Release()
	assert.False(t, mr.Exists(turnLockPrefix+"s-1"))
}

func TestRedisLock_WaiterSupersededByNewerWaiterElsewhere(t *testing.T) {
	a, b, _ := replicas(t)

	first, err := a.Acquire(context.Background(), "s-1")
	require.NoError(t, err)

	secondErr := make(chan error, 1)
	go func() {
		_, err := b.Acquire(context.Background(), "s-1")
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	thirdDone := make(chan *Turn, 1)
	go func() {
		third, err := a.Acquire(context.Background(), "s-1")
		assert.NoError(t, err)
		thirdDone <- third
	}()

	select {
	case err := <-secondErr:
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, errors.ErrTurnSuperseded))
	case <-time.After(time.Second):
		t.Fatal("older waiter was not superseded")
	}

	first.Release()
	select {
	case third := <-thirdDone:
		assert.False(t, third.Superseded())
		third.Release()
	case <-time.After(time.Second):
		t.Fatal("newest turn never acquired the session")
	}
}

func TestRedisLock_LostLeaseCancelsTurn(t *testing.T) {
	a, _, mr := replicas(t)

	turn, err := a.Acquire(context.Background(), "s-1")
	require.NoError(t, err)
	defer turn.Release()

	mr.Del(turnLockPrefix + "s-1")

	select {
	case <-turn.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("turn kept running without its lease")
	}
	assert.True(t, turn.Superseded())
}

func TestRedisLock_DifferentSessionsDoNotWait(t *testing.T) {
	a, b, _ := replicas(t)

	first, err := a.Acquire(context.Background(), "s-1")
	require.NoError(t, err)
	defer first.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	other, err := b.Acquire(ctx, "s-2")
	require.NoError(t, err)
	defer other.Release()

	assert.False(t, first.Superseded())
	assert.False(t, other.Superseded())
}

func TestRedisLock_UnavailableRedisIsAStoreError(t *testing.T) {
	a, _, mr := replicas(t)
	mr.Close()

	_, err := a.Acquire(context.Background(), "s-1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSessionStoreFailed, errors.CodeOf(err))
}
