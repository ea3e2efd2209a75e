package xmiso

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "test-client"
	testClientSecret = "test-secret"
)

// fakeController 模拟控制器：Token 接口内置，其余路由按需注册。
type fakeController struct {
	srv        *httptest.Server
	tokenCalls atomic.Int32
	tokenSeq   atomic.Int32

	mu           sync.Mutex
	tokenHandler http.HandlerFunc
	routes       map[string]http.HandlerFunc
	calls        map[string]int
}

func newFakeController(t *testing.T) *fakeController {
	t.Helper()
	fc := &fakeController{
		routes: make(map[string]http.HandlerFunc),
		calls:  make(map[string]int),
	}
	fc.srv = httptest.NewServer(http.HandlerFunc(fc.serve))
	t.Cleanup(fc.srv.Close)
	return fc
}

func (fc *fakeController) serve(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path
	fc.mu.Lock()
	fc.calls[key]++
	h := fc.routes[key]
	tokenHandler := fc.tokenHandler
	fc.mu.Unlock()

	if r.URL.Path == PathClientToken {
		fc.tokenCalls.Add(1)
		if tokenHandler != nil {
			tokenHandler(w, r)
			return
		}
		fc.issueToken(w, r)
		return
	}
	if h == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"title": "route not found"})
		return
	}
	h(w, r)
}

// issueToken 校验凭据并签发 ctok-N。
func (fc *fakeController) issueToken(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(HeaderClientID) != testClientID || r.Header.Get(HeaderClientSecret) != testClientSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"title": "bad credentials"})
		return
	}
	n := fc.tokenSeq.Add(1)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"token":     fmt.Sprintf("ctok-%d", n),
		"expiresIn": 3600,
	})
}

func (fc *fakeController) handle(method, path string, h http.HandlerFunc) {
	fc.mu.Lock()
	fc.routes[method+" "+path] = h
	fc.mu.Unlock()
}

func (fc *fakeController) setTokenHandler(h http.HandlerFunc) {
	fc.mu.Lock()
	fc.tokenHandler = h
	fc.mu.Unlock()
}

func (fc *fakeController) callCount(method, path string) int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.calls[method+" "+path]
}

func (fc *fakeController) URL() string { return fc.srv.URL }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // 测试响应
}

func readJSON(t *testing.T, r *http.Request, v any) {
	t.Helper()
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func testConfig(url string) *Config {
	return &Config{
		ControllerURL: url,
		AllowInsecure: true,
		ClientID:      testClientID,
		ClientSecret:  testClientSecret,
		Timeout:       5 * time.Second,
		Token: TokenConfig{
			FetchAttempts: 2,
			FetchDelay:    time.Millisecond,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     time.Hour,
		},
	}
}

func newTestClient(t *testing.T, fc *fakeController, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	c, err := NewClient(testConfig(fc.URL()), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(t.Context()) }) //nolint:errcheck // Close 总是返回 nil
	return c
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// makeJWT 生成 HS256 签名的测试 Token。签名不会被校验。
func makeJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return tok
}

// userJWT 生成 sub=userID、exp=now+ttl 的 Token。
func userJWT(t *testing.T, userID string, ttl time.Duration, extra jwt.MapClaims) string {
	t.Helper()
	claims := jwt.MapClaims{"exp": time.Now().Add(ttl).Unix()}
	if userID != "" {
		claims["sub"] = userID
	}
	for k, v := range extra {
		claims[k] = v
	}
	return makeJWT(t, claims)
}
