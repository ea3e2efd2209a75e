package xkeylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNew_ShardCount(t *testing.T) {
	for _, n := range []int{0, -1, 3, 1 << 17} {
		_, err := New(WithShardCount(n))
		assert.ErrorIs(t, err, ErrInvalidShardCount, n)
	}
	l, err := New(WithShardCount(1))
	require.NoError(t, err)
	assert.NotNil(t, l)
}

func TestLocker_MutualExclusion(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for range 50 {
		wg.Go(func() {
			unlock, err := l.Lock(ctx, "user:1")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Equal(t, 0, l.Len(), "entries are reclaimed after release")
}

func TestLocker_IndependentKeys(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	unlockA, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())

	unlockA()
	unlockA()
	unlockB()
	assert.Equal(t, 0, l.Len())
}

func TestLocker_TryLock(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	unlock, ok, err := l.TryLock("k")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock("k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, l.Len())

	unlock()
	_, _, err = l.TryLock("")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestLocker_ContextCancel(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Len())

	canceled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	_, err = l.Lock(canceled, "other")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocker_Close(t *testing.T) {
	l, err := New()
	require.NoError(t, err)

	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	waitErr := make(chan error, 1)
	go func() {
		_, err := l.Lock(context.Background(), "k")
		waitErr <- err
	}()
	require.Eventually(t, func() bool {
		s := l.shardFor("k")
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.entries["k"] != nil && s.entries["k"].refs == 2
	}, time.Second, time.Millisecond)

	l.Close()
	l.Close()
	assert.ErrorIs(t, <-waitErr, ErrClosed)

	_, err = l.Lock(context.Background(), "new")
	assert.ErrorIs(t, err, ErrClosed)

	unlock()
	assert.Equal(t, 0, l.Len())
}

func TestLocker_MaxKeys(t *testing.T) {
	l, err := New(WithMaxKeys(2))
	require.NoError(t, err)
	defer l.Close()

	ctx := context.Background()
	u1, err := l.Lock(ctx, "a")
	require.NoError(t, err)
	u2, err := l.Lock(ctx, "b")
	require.NoError(t, err)

	_, err = l.Lock(ctx, "c")
	assert.ErrorIs(t, err, ErrTooManyKeys)

	u1()
	u3, err := l.Lock(ctx, "c")
	require.NoError(t, err)
	u2()
	u3()
}
