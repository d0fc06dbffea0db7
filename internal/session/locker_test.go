package session

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dinner-workers/internal/common/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_NewTurnCancelsHolder(t *testing.T) {
	l := NewLocker()

	first, err := l.Acquire(context.Background(), "s-1")
	require.NoError(t, err)
	assert.False(t, first.Superseded())

	acquired := make(chan *Turn)
	go func() {
		second, err := l.Acquire(context.Background(), "s-1")
		assert.NoError(t, err)
		acquired <- second
	}()

	select {
	case <-first.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("holder context was not cancelled")
	}
	assert.True(t, first.Superseded())

	select {
	case <-acquired:
		t.Fatal("second turn ran before the first released")
	case <-time.After(20 * time.Millisecond):
	}

	first.Release()
	second := <-acquired
	assert.False(t, second.Superseded())
	assert.NoError(t, second.Context().Err())
	second.Release()

	assert.Equal(t, 0, l.Active())
}

func TestLocker_WaiterSupersededByNewerWaiter(t *testing.T) {
	l := NewLocker()

	first, err := l.Acquire(context.Background(), "s-1")
	require.NoError(t, err)

	secondErr := make(chan error, 1)
	go func() {
		turn, err := l.Acquire(context.Background(), "s-1")
		if turn != nil {
			turn.Release()
		}
		secondErr <- err
	}()
	time.Sleep(10 * time.Millisecond)

	thirdDone := make(chan *Turn, 1)
	go func() {
		turn, err := l.Acquire(context.Background(), "s-1")
		assert.NoError(t, err)
		thirdDone <- turn
	}()
	time.Sleep(10 * time.Millisecond)

	first.Release()

	third := <-thirdDone
	assert.False(t, third.Superseded())
	third.Release()

	err = <-secondErr
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTurnSuperseded))
	assert.Equal(t, 0, l.Active())
}

func TestLocker_SerializesPerSession(t *testing.T) {
	l := NewLocker()
	var active, maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turn, err := l.Acquire(context.Background(), "s-1")
			if err != nil {
				return
			}
			defer turn.Release()
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive)
	assert.Equal(t, 0, l.Active())
}

func TestLocker_IndependentSessions(t *testing.T) {
	l := NewLocker()

	a, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)
	b, err := l.Acquire(context.Background(), "b")
	require.NoError(t, err)

	assert.NoError(t, a.Context().Err())
	assert.NoError(t, b.Context().Err())
	assert.Equal(t, 2, l.Active())

	a.Release()
	b.Release()
	b.Release()
	assert.Equal(t, 0, l.Active())
}

func TestLocker_AcquireHonoursContext(t *testing.T) {
	l := NewLocker()
	held, err := l.Acquire(context.Background(), "s-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "s-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	held.Release()
	assert.Equal(t, 0, l.Active())
}
