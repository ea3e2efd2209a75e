package xcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 可手动推进的时钟。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *RedisRemote) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	remote, err := NewRedisRemote(client)
	require.NoError(t, err)
	return mr, remote
}

func roundTripValues() map[string]any {
	return map[string]any{
		"string": "hello",
		"int":    42,
		"float":  3.14,
		"bool":   true,
		"null":   nil,
		"list":   []any{"a", 1.0, false},
		"nested": map[string]any{
			"name":  "alice",
			"roles": []any{"admin", "user"},
			"meta":  map[string]any{"age": 30.0},
		},
	}
}

func TestService_RoundTrip_LocalOnly(t *testing.T) {
	ctx := context.Background()
	svc := New()

	for name, v := range roundTripValues() {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, svc.Set(ctx, name, v, 60*time.Second))
			got, ok := svc.Get(ctx, name)
			require.True(t, ok)
			assert.Equal(t, v, got)
		})
	}
}

func TestService_RoundTrip_Redis(t *testing.T) {
	ctx := context.Background()
	_, remote := setupRedis(t)
	svc := New(WithRemote(remote))

	for name, v := range roundTripValues() {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, svc.Set(ctx, name, v, 60*time.Second))

			// 清空本地层，确认值来自远程层
			svc.Clear()
			got, ok := svc.Get(ctx, name)
			require.True(t, ok)
			assert.Equal(t, v, got)
		})
	}
}

func TestService_TTL_RealClock(t *testing.T) {
	ctx := context.Background()
	svc := New()

	require.NoError(t, svc.Set(ctx, "k", "v", time.Second))
	got, ok := svc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)

	time.Sleep(1100 * time.Millisecond)

	got, ok = svc.Get(ctx, "k")
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.Equal(t, 0, svc.Len(), "过期条目应在 Get 时惰性淘汰")
}

func TestService_TTL_BothTiers(t *testing.T) {
	ctx := context.Background()
	mr, remote := setupRedis(t)
	clock := newFakeClock()
	svc := New(WithRemote(remote), withClock(clock.Now))

	require.NoError(t, svc.Set(ctx, "k", "v", time.Second))
	assert.Equal(t, time.Second, mr.TTL(DefaultKeyPrefix+"k"))

	mr.FastForward(2 * time.Second)
	clock.Advance(2 * time.Second)

	_, ok := svc.Get(ctx, "k")
	assert.False(t, ok)
}

func TestService_DefaultAndNoExpiry(t *testing.T) {
	ctx := context.Background()
	mr, remote := setupRedis(t)
	clock := newFakeClock()
	svc := New(WithRemote(remote), WithDefaultTTL(time.Minute), withClock(clock.Now))

	require.NoError(t, svc.Set(ctx, "default", 1, 0))
	require.NoError(t, svc.Set(ctx, "forever", 2, -1))
	assert.Equal(t, time.Minute, mr.TTL(DefaultKeyPrefix+"default"))
	assert.Equal(t, time.Duration(0), mr.TTL(DefaultKeyPrefix+"forever"))

	clock.Advance(time.Hour)
	svc.Clear()
	mr.FastForward(time.Hour)

	_, ok := svc.Get(ctx, "default")
	assert.False(t, ok)
	got, ok := svc.Get(ctx, "forever")
	assert.True(t, ok)
	assert.Equal(t, 2, got)
}

func TestService_RemoteFailureFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	mr, remote := setupRedis(t)
	svc := New(WithRemote(remote))

	require.NoError(t, svc.Set(ctx, "k", "v", time.Minute))
	mr.Close()

	got, ok := svc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
	assert.False(t, remote.Connected(), "连接错误后应标记为不可用")

	// 远程层不可用时写入仍然成功
	require.NoError(t, svc.Set(ctx, "k2", 7, time.Minute))
	got, ok = svc.Get(ctx, "k2")
	require.True(t, ok)
	assert.Equal(t, 7, got)
}

func TestService_RemoteMissFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	mr, remote := setupRedis(t)
	svc := New(WithRemote(remote))

	require.NoError(t, svc.Set(ctx, "k", "v", time.Minute))
	mr.Del(DefaultKeyPrefix + "k")

	got, ok := svc.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()
	mr, remote := setupRedis(t)
	svc := New(WithRemote(remote))

	require.NoError(t, svc.Set(ctx, "k", "v", time.Minute))
	assert.True(t, svc.Delete(ctx, "k"))
	assert.False(t, mr.Exists(DefaultKeyPrefix+"k"))
	_, ok := svc.Get(ctx, "k")
	assert.False(t, ok)

	assert.False(t, svc.Delete(ctx, "k"))
	assert.False(t, svc.Delete(ctx, ""))

	// 只存在于远程层
	require.NoError(t, mr.Set(DefaultKeyPrefix+"remote-only", "x"))
	assert.True(t, svc.Delete(ctx, "remote-only"))
}

func TestService_ClearIsLocalOnly(t *testing.T) {
	ctx := context.Background()
	mr, remote := setupRedis(t)
	svc := New(WithRemote(remote))

	require.NoError(t, svc.Set(ctx, "k", "v", time.Minute))
	svc.Clear()

	assert.Equal(t, 0, svc.Len())
	assert.True(t, mr.Exists(DefaultKeyPrefix+"k"))
}

func TestService_ThresholdSweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := New(WithCleanupThreshold(3), withClock(clock.Now))

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, svc.Set(ctx, k, k, time.Second))
	}
	assert.Equal(t, 4, svc.Len())

	clock.Advance(2 * time.Second)
	require.NoError(t, svc.Set(ctx, "fresh", 1, time.Minute))
	assert.Equal(t, 1, svc.Len(), "超过阈值的 Set 应清扫全部过期条目")
}

func TestService_Cleanup(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	svc := New(withClock(clock.Now))

	require.NoError(t, svc.Set(ctx, "a", 1, time.Second))
	require.NoError(t, svc.Set(ctx, "b", 2, time.Minute))
	clock.Advance(2 * time.Second)

	assert.Equal(t, 1, svc.Cleanup())
	assert.Equal(t, Stats{Entries: 1}, svc.Stats())
}

func TestService_GetAs(t *testing.T) {
	ctx := context.Background()
	_, remote := setupRedis(t)
	svc := New(WithRemote(remote))

	require.NoError(t, svc.Set(ctx, "roles:u1", []string{"admin", "user"}, time.Minute))
	roles, ok := GetAs[[]string](ctx, svc, "roles:u1")
	require.True(t, ok)
	assert.Equal(t, []string{"admin", "user"}, roles)

	require.NoError(t, svc.Set(ctx, "ids", []int{1, 2}, time.Minute))
	generic, ok := svc.Get(ctx, "ids")
	require.True(t, ok)
	assert.Equal(t, []any{1.0, 2.0}, generic)
	ids, ok := GetAs[[]int](ctx, svc, "ids")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, ids)

	type profile struct {
		Name string         `json:"name"`
		Meta map[string]int `json:"meta"`
	}
	want := profile{Name: "alice", Meta: map[string]int{"age": 30}}
	require.NoError(t, svc.Set(ctx, "profile", want, time.Minute))
	svc.Clear()
	got, ok := GetAs[profile](ctx, svc, "profile")
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = GetAs[[]string](ctx, svc, "missing")
	assert.False(t, ok)

	_, err := svc.GetInto(ctx, "roles:u1", nil)
	assert.ErrorIs(t, err, ErrNilDestination)
}

func TestService_EmptyKey(t *testing.T) {
	svc := New()
	assert.ErrorIs(t, svc.Set(context.Background(), "", 1, time.Minute), ErrEmptyKey)
	_, ok := svc.Get(context.Background(), "")
	assert.False(t, ok)
}

func TestService_Concurrent(t *testing.T) {
	ctx := context.Background()
	svc := New(WithCleanupThreshold(10))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%5))
			for range 50 {
				_ = svc.Set(ctx, key, i, time.Minute)
				svc.Get(ctx, key)
				svc.Delete(ctx, key)
			}
		}(i)
	}
	wg.Wait()
}

func TestNewRedisRemote_NilClient(t *testing.T) {
	_, err := NewRedisRemote(nil)
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestRedisRemote_Reprobe(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	clock := newFakeClock()
	remote, err := NewRedisRemote(client, WithKeyPrefix("t:"), WithProbeInterval(time.Second))
	require.NoError(t, err)
	remote.now = clock.Now

	mr.SetError("boom")
	_, err = remote.Get(ctx, "k")
	require.Error(t, err)
	assert.True(t, remote.Connected(), "命令错误不影响可用性")
	mr.SetError("")

	require.NoError(t, remote.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("t:k"))
	data, err := remote.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), data)
	require.NoError(t, remote.Ping(ctx))

	mr.Close()
	_, err = remote.Get(ctx, "k")
	require.Error(t, err)
	assert.False(t, remote.Connected())

	clock.Advance(time.Second)
	assert.True(t, remote.Connected(), "探测间隔后允许重试")
}
