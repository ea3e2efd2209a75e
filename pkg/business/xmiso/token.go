package xmiso

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/omeyang/xmiso/pkg/util/xclaims"

	retry "github.com/avast/retry-go/v5"
	"golang.org/x/sync/singleflight"
)

// =============================================================================
// ClientToken
// =============================================================================

// ClientToken 应用级（client credentials）Token。整体替换，不原地修改。
type ClientToken struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ValidAt 报告在 now 时刻扣除 buffer 后是否仍可使用。
func (t *ClientToken) ValidAt(now time.Time, buffer time.Duration) bool {
	return t != nil && t.Value != "" && now.Before(t.ExpiresAt.Add(-buffer))
}

// =============================================================================
// TokenManager
// =============================================================================

// TokenManager 管理客户端 Token 的获取、缓存与失效。并发安全。
//
// 并发获取通过 singleflight 合并，同一时刻最多一个请求在获取 Token。
type TokenManager struct {
	http         *transport
	clientID     string
	clientSecret string
	buffer       time.Duration
	attempts     uint
	delay        time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu    sync.Mutex
	token *ClientToken

	group singleflight.Group
}

// TokenManagerConfig TokenManager 配置。
type TokenManagerConfig struct {
	Config *Config
	HTTP   *transport
	Logger *slog.Logger
}

// NewTokenManager 创建 TokenManager。Config 必须已应用默认值。
func NewTokenManager(cfg TokenManagerConfig) (*TokenManager, error) {
	if cfg.Config == nil {
		return nil, ErrNilConfig
	}
	if cfg.HTTP == nil {
		cfg.HTTP = newTransport(cfg.Config.ControllerURL, cfg.Config.Timeout, nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &TokenManager{
		http:         cfg.HTTP,
		clientID:     cfg.Config.ClientID,
		clientSecret: cfg.Config.ClientSecret,
		buffer:       cfg.Config.Token.RefreshBuffer,
		attempts:     cfg.Config.Token.FetchAttempts,
		delay:        cfg.Config.Token.FetchDelay,
		logger:       cfg.Logger,
		now:          time.Now,
	}, nil
}

// GetToken 返回可用的客户端 Token。
// 缓存 Token 在 now >= ExpiresAt - buffer 时视为过期，触发同步获取。
func (m *TokenManager) GetToken(ctx context.Context) (string, error) {
	if tok := m.cached(); tok != nil {
		return tok.Value, nil
	}

	// 获取在独立于调用方取消的 ctx 上进行，调用方取消只影响自身等待
	ch := m.group.DoChan("client-token", func() (any, error) {
		if tok := m.cached(); tok != nil {
			return tok, nil
		}
		return m.fetch(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(*ClientToken).Value, nil
	}
}

// Invalidate 丢弃缓存 Token，下次 GetToken 重新获取。
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.token = nil
	m.mu.Unlock()
}

// Token 返回当前缓存 Token 的副本，没有时返回 nil。
func (m *TokenManager) Token() *ClientToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return nil
	}
	t := *m.token
	return &t
}

func (m *TokenManager) cached() *ClientToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token.ValidAt(m.now(), m.buffer) {
		return m.token
	}
	return nil
}

// fetch 请求控制器换取新 Token。只对连接错误重试。
func (m *TokenManager) fetch(ctx context.Context) (*ClientToken, error) {
	const op = "get_token"

	headers := http.Header{}
	headers.Set(HeaderClientID, m.clientID)
	headers.Set(HeaderClientSecret, m.clientSecret)

	var tok *ClientToken
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(m.attempts),
		retry.Delay(m.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, ErrConnection) }),
		retry.OnRetry(func(n uint, err error) {
			m.logger.Debug("xmiso: retrying client token fetch", slog.Uint64("attempt", uint64(n)+1), slog.Any("error", err))
		}),
	).Do(func() error {
		resp, err := m.http.send(ctx, op, http.MethodPost, PathClientToken, nil, headers, nil)
		if err != nil {
			return err
		}
		tok, err = m.parse(op, resp)
		return err
	})
	if err != nil {
		m.logger.Warn("xmiso: client token fetch failed", slog.Any("error", err))
		return nil, err
	}

	m.mu.Lock()
	m.token = tok
	m.mu.Unlock()

	m.logger.Debug("xmiso: client token fetched", slog.Time("expires_at", tok.ExpiresAt))
	return tok, nil
}

// tokenResponse Token 接口响应，字段也可能嵌套在 data 下。
type tokenResponse struct {
	Success   *bool           `json:"success"`
	Token     string          `json:"token"`
	ExpiresIn int64           `json:"expiresIn"`
	ExpiresAt json.RawMessage `json:"expiresAt"`
	Data      *tokenResponse  `json:"data"`
}

func (m *TokenManager) parse(op string, resp *response) (*ClientToken, error) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ce := statusError(op, resp)
		ce.Kind = ErrAuthentication
		return nil, ce
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return nil, &ClientError{Kind: ErrAuthentication, Op: op, StatusCode: resp.StatusCode, Message: "invalid token response", Err: err}
	}
	if tr.Token == "" && tr.Data != nil {
		success := tr.Success
		tr = *tr.Data
		if tr.Success == nil {
			tr.Success = success
		}
	}
	if (tr.Success != nil && !*tr.Success) || tr.Token == "" {
		return nil, &ClientError{Kind: ErrAuthentication, Op: op, StatusCode: resp.StatusCode, Message: "token endpoint returned no token", Body: sanitizeBody(resp.Body)}
	}

	now := m.now()
	return &ClientToken{
		Value:     tr.Token,
		IssuedAt:  now,
		ExpiresAt: tokenExpiry(now, tr),
	}, nil
}

// tokenExpiry 依次使用 expiresAt、expiresIn、JWT exp，都没有时使用 DefaultTokenTTL。
func tokenExpiry(now time.Time, tr tokenResponse) time.Time {
	if t, ok := parseTimestamp(tr.ExpiresAt); ok {
		return t
	}
	if tr.ExpiresIn > 0 {
		return now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	if c, err := xclaims.Peek(tr.Token); err == nil {
		if exp, ok := c.ExpiresAt(); ok {
			return exp
		}
	}
	return now.Add(DefaultTokenTTL)
}

// parseTimestamp 支持 RFC3339 字符串与 Unix 秒/毫秒数值。
func parseTimestamp(raw json.RawMessage) (time.Time, bool) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n > 1e12 {
		return time.UnixMilli(n), true
	}
	return time.Unix(n, 0), true
}
