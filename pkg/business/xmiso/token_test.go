package xmiso

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokens(t *testing.T, fc *fakeController) *TokenManager {
	t.Helper()
	cfg := testConfig(fc.URL())
	cfg.ApplyDefaults()
	m, err := NewTokenManager(TokenManagerConfig{Config: cfg, Logger: discardLogger()})
	require.NoError(t, err)
	return m
}

func TestNewTokenManager_NilConfig(t *testing.T) {
	_, err := NewTokenManager(TokenManagerConfig{})
	assert.ErrorIs(t, err, ErrNilConfig)
}

func TestTokenManager_GetToken(t *testing.T) {
	ctx := context.Background()

	t.Run("fetches once and caches", func(t *testing.T) {
		fc := newFakeController(t)
		m := newTestTokens(t, fc)

		tok, err := m.GetToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ctok-1", tok)

		tok, err = m.GetToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ctok-1", tok)
		assert.Equal(t, int32(1), fc.tokenCalls.Load())

		cached := m.Token()
		require.NotNil(t, cached)
		assert.Equal(t, time.Hour, cached.ExpiresAt.Sub(cached.IssuedAt))
	})

	t.Run("refetches inside refresh buffer", func(t *testing.T) {
		fc := newFakeController(t)
		m := newTestTokens(t, fc)

		base := time.Now()
		var offset atomic.Int64
		m.now = func() time.Time { return base.Add(time.Duration(offset.Load())) }

		tok, err := m.GetToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ctok-1", tok)

		// 距离过期 61s，仍在缓冲期外
		offset.Store(int64(time.Hour - 61*time.Second))
		tok, err = m.GetToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ctok-1", tok)

		// 距离过期 59s，进入缓冲期
		offset.Store(int64(time.Hour - 59*time.Second))
		tok, err = m.GetToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ctok-2", tok)
		assert.Equal(t, int32(2), fc.tokenCalls.Load())
	})

	t.Run("concurrent callers share one fetch", func(t *testing.T) {
		fc := newFakeController(t)
		fc.setTokenHandler(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(50 * time.Millisecond)
			fc.issueToken(w, r)
		})
		m := newTestTokens(t, fc)

		const n = 20
		results := make([]string, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Go(func() {
				tok, err := m.GetToken(ctx)
				assert.NoError(t, err)
				results[i] = tok
			})
		}
		wg.Wait()

		assert.Equal(t, int32(1), fc.tokenCalls.Load())
		for _, tok := range results {
			assert.Equal(t, "ctok-1", tok)
		}
	})

	t.Run("invalidate forces refetch", func(t *testing.T) {
		fc := newFakeController(t)
		m := newTestTokens(t, fc)

		_, err := m.GetToken(ctx)
		require.NoError(t, err)
		m.Invalidate()
		assert.Nil(t, m.Token())

		tok, err := m.GetToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ctok-2", tok)
	})

	t.Run("rejected credentials", func(t *testing.T) {
		fc := newFakeController(t)
		cfg := testConfig(fc.URL())
		cfg.ClientSecret = "wrong"
		cfg.ApplyDefaults()
		m, err := NewTokenManager(TokenManagerConfig{Config: cfg, Logger: discardLogger()})
		require.NoError(t, err)

		_, err = m.GetToken(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAuthentication)
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, int32(1), fc.tokenCalls.Load(), "non-connection errors are not retried")
	})

	t.Run("success false", func(t *testing.T) {
		fc := newFakeController(t)
		fc.setTokenHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "token": "ignored"})
		})
		m := newTestTokens(t, fc)

		_, err := m.GetToken(ctx)
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("malformed response", func(t *testing.T) {
		fc := newFakeController(t)
		fc.setTokenHandler(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json")) //nolint:errcheck // 测试响应
		})
		m := newTestTokens(t, fc)

		_, err := m.GetToken(ctx)
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("retries dropped connection", func(t *testing.T) {
		fc := newFakeController(t)
		var dropped atomic.Bool
		fc.setTokenHandler(func(w http.ResponseWriter, r *http.Request) {
			if !dropped.Swap(true) {
				conn, _, err := w.(http.Hijacker).Hijack()
				require.NoError(t, err)
				_ = conn.Close() //nolint:errcheck // 模拟连接中断
				return
			}
			fc.issueToken(w, r)
		})
		m := newTestTokens(t, fc)

		tok, err := m.GetToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ctok-1", tok)
		assert.Equal(t, int32(2), fc.tokenCalls.Load())
	})

	t.Run("unreachable controller", func(t *testing.T) {
		fc := newFakeController(t)
		m := newTestTokens(t, fc)
		fc.srv.Close()

		_, err := m.GetToken(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConnection)
		assert.True(t, IsRetryable(err))
	})

	t.Run("caller cancellation does not abort the fetch", func(t *testing.T) {
		fc := newFakeController(t)
		release := make(chan struct{})
		fc.setTokenHandler(func(w http.ResponseWriter, r *http.Request) {
			<-release
			fc.issueToken(w, r)
		})
		m := newTestTokens(t, fc)

		cctx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			_, err := m.GetToken(cctx)
			done <- err
		}()

		require.Eventually(t, func() bool { return fc.tokenCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)

		close(release)
		tok, err := m.GetToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "ctok-1", tok)
		assert.Equal(t, int32(1), fc.tokenCalls.Load())
	})
}

func TestTokenManager_Expiry(t *testing.T) {
	ctx := context.Background()
	expiresAt := time.Now().Add(10 * time.Minute).UTC().Truncate(time.Second)

	tests := []struct {
		name string
		body func(t *testing.T) any
		want func(issued time.Time) time.Time
	}{
		{
			name: "nested data with RFC3339 expiresAt",
			body: func(*testing.T) any {
				return map[string]any{"success": true, "data": map[string]any{
					"token": "nested", "expiresAt": expiresAt.Format(time.RFC3339),
				}}
			},
			want: func(time.Time) time.Time { return expiresAt },
		},
		{
			name: "unix millis expiresAt",
			body: func(*testing.T) any {
				return map[string]any{"token": "ms", "expiresAt": expiresAt.UnixMilli()}
			},
			want: func(time.Time) time.Time { return expiresAt },
		},
		{
			name: "jwt exp claim",
			body: func(t *testing.T) any {
				return map[string]any{"token": makeJWT(t, jwt.MapClaims{"exp": expiresAt.Unix()})}
			},
			want: func(time.Time) time.Time { return expiresAt },
		},
		{
			name: "default ttl",
			body: func(*testing.T) any { return map[string]any{"token": "opaque"} },
			want: func(issued time.Time) time.Time { return issued.Add(DefaultTokenTTL) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := newFakeController(t)
			body := tt.body(t)
			fc.setTokenHandler(func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, body)
			})
			m := newTestTokens(t, fc)

			_, err := m.GetToken(ctx)
			require.NoError(t, err)
			tok := m.Token()
			require.NotNil(t, tok)
			assert.True(t, tt.want(tok.IssuedAt).Equal(tok.ExpiresAt), "got %v", tok.ExpiresAt)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	ref := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		raw  string
		ok   bool
		want time.Time
	}{
		{`"2026-01-02T03:04:05Z"`, true, ref},
		{`1767323045`, true, ref},
		{`1767323045000`, true, ref},
		{`"1767323045"`, true, ref},
		{`null`, false, time.Time{}},
		{``, false, time.Time{}},
		{`"soon"`, false, time.Time{}},
		{`-5`, false, time.Time{}},
	}
	for _, tt := range tests {
		got, ok := parseTimestamp(json.RawMessage(tt.raw))
		assert.Equal(t, tt.ok, ok, tt.raw)
		if tt.ok {
			assert.True(t, tt.want.Equal(got), "%s: got %v", tt.raw, got)
		}
	}
}

func TestClientToken_ValidAt(t *testing.T) {
	now := time.Now()
	tok := &ClientToken{Value: "x", ExpiresAt: now.Add(2 * time.Minute)}

	assert.True(t, tok.ValidAt(now, time.Minute))
	assert.False(t, tok.ValidAt(now, 2*time.Minute))
	assert.False(t, (&ClientToken{ExpiresAt: now.Add(time.Hour)}).ValidAt(now, 0))

	var nilTok *ClientToken
	assert.False(t, nilTok.ValidAt(now, 0))
}
