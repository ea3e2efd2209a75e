package xmiso

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/omeyang/xmiso/pkg/resilience/xbreaker"
	"github.com/omeyang/xmiso/pkg/storage/xcache"

	"github.com/google/uuid"
)

// =============================================================================
// Request
// =============================================================================

// Request 一次控制器调用。
type Request struct {
	// Method HTTP 方法，默认 GET。
	Method string

	// Path 相对控制器地址的路径，或绝对 URL。
	Path string

	// Query 查询参数。
	Query url.Values

	// Headers 额外请求头。认证头由客户端设置，会覆盖同名项。
	Headers map[string]string

	// Body 请求体：string、[]byte 原样发送，其余 JSON 编码。
	Body any

	// Response 响应解码目标。*[]byte 接收原始响应体；响应为 {"data": {...}} 时解码 data。
	Response any
}

// =============================================================================
// Client
// =============================================================================

// Client 面向控制器的弹性 HTTP 客户端。
//
// 每次调用：熔断检查 → 认证（客户端 Token / 用户 Token / 认证策略）→ 发送 →
// 记录熔断结果 → 解码或返回 *ClientError。并发安全。
type Client struct {
	config   *Config
	options  *Options
	http     *transport
	tokens   *TokenManager
	resolver *StrategyResolver
	breaker  *xbreaker.Breaker
	users    *UserTokenRefresher
	cache    *xcache.Service
	obs      *observer
	logger   *slog.Logger
	closed   atomic.Bool

	// ownsUsers 刷新器由客户端创建时 Close 负责释放
	ownsUsers bool
}

// NewClient 创建客户端。
//
// 示例：
//
//	client, err := xmiso.NewClient(&xmiso.Config{
//	    ControllerURL: "https://miso.example.com",
//	    ClientID:      "my-app",
//	    ClientSecret:  os.Getenv("MISO_CLIENT_SECRET"),
//	}, xmiso.WithCache(cache))
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	cfg, err := prepareConfig(cfg)
	if err != nil {
		return nil, err
	}
	options := applyOptions(opts)
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	obs, err := newObserver(options.TracerProvider, options.MeterProvider)
	if err != nil {
		return nil, err
	}

	httpT := newTransport(cfg.ControllerURL, cfg.Timeout, options.HTTPClient)

	tokens, err := NewTokenManager(TokenManagerConfig{Config: cfg, HTTP: httpT, Logger: logger})
	if err != nil {
		return nil, err
	}

	breaker := options.Breaker
	if breaker == nil {
		breaker = xbreaker.New("miso-controller",
			xbreaker.WithFailureThreshold(cfg.Breaker.FailureThreshold),
			xbreaker.WithResetTimeout(cfg.Breaker.ResetTimeout),
			xbreaker.WithOnStateChange(func(name string, from, to xbreaker.State) {
				logger.Warn("xmiso: circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
				obs.breakerTransition(name, from, to)
			}),
		)
	}

	cache := options.Cache
	if cache == nil {
		cache = xcache.New(
			xcache.WithLogger(logger),
			xcache.WithCleanupThreshold(cfg.Cache.CleanupThreshold),
		)
	}

	c := &Client{
		config:   cfg,
		options:  options,
		http:     httpT,
		tokens:   tokens,
		resolver: NewStrategyResolver(tokens, logger),
		breaker:  breaker,
		cache:    cache,
		obs:      obs,
		logger:   logger,
	}

	if !options.DisableUserTokenRefresh {
		users := options.TokenRefresher
		if users == nil {
			users, err = NewUserTokenRefresher(UserTokenRefresherConfig{
				API:        c,
				Buffer:     cfg.UserToken.RefreshBuffer,
				CacheSize:  cfg.UserToken.CacheSize,
				CacheTTL:   cfg.UserToken.CacheTTL,
				FailureTTL: cfg.UserToken.FailureTTL,
				Logger:     logger,
			})
			if err != nil {
				return nil, fmt.Errorf("xmiso: create user token refresher: %w", err)
			}
			c.ownsUsers = true
		}
		users.bindAPI(c)
		c.users = users
	}

	return c, nil
}

// prepareConfig 克隆、应用默认值并验证。
func prepareConfig(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	cfg = cfg.Clone()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("xmiso: invalid config: %w", err)
	}
	return cfg, nil
}

// Config 返回生效配置的副本。
func (c *Client) Config() *Config { return c.config.Clone() }

// Tokens 返回客户端 Token 管理器。
func (c *Client) Tokens() *TokenManager { return c.tokens }

// Resolver 返回认证策略执行器。
func (c *Client) Resolver() *StrategyResolver { return c.resolver }

// Breaker 返回熔断器。
func (c *Client) Breaker() *xbreaker.Breaker { return c.breaker }

// UserTokens 返回用户 Token 刷新器，禁用时为 nil。
func (c *Client) UserTokens() *UserTokenRefresher { return c.users }

// Cache 返回缓存服务。
func (c *Client) Cache() *xcache.Service { return c.cache }

// =============================================================================
// 请求入口
// =============================================================================

// Request 以客户端 Token 发送请求。
// 401 时使客户端 Token 失效；启用 AutoRetryOn401 时重新获取 Token 并重试一次。
func (c *Client) Request(ctx context.Context, req *Request) error {
	return c.withClientToken(ctx, "request", req, nil)
}

// AuthenticatedRequest 以用户 Token（必要时先刷新）加客户端 Token 发送请求。
func (c *Client) AuthenticatedRequest(ctx context.Context, bearerToken string, req *Request) error {
	if bearerToken == "" {
		return &ClientError{Kind: ErrConfiguration, Op: "authenticated_request", Err: ErrMissingToken}
	}
	if c.users != nil {
		bearerToken = c.users.GetValidToken(ctx, bearerToken, true)
	}
	extra := http.Header{}
	extra.Set(HeaderAuthorization, "Bearer "+bearerToken)
	return c.withClientToken(ctx, "authenticated_request", req, extra)
}

// ExecuteWithStrategy 按认证策略发送请求，401 时回退到下一个方法。
func (c *Client) ExecuteWithStrategy(ctx context.Context, strategy AuthStrategy, req *Request) error {
	if err := c.check(req); err != nil {
		return err
	}
	return c.resolver.Execute(ctx, strategy, func(ctx context.Context, method AuthMethod, headers http.Header) error {
		err := c.execute(ctx, "execute_with_strategy", req, headers)
		var ce *ClientError
		if errors.As(err, &ce) && ce.Method == "" && ce.StatusCode > 0 {
			ce.Method = method
		}
		return err
	})
}

// Do 发送请求并把响应解码为 T。req.Response 会被忽略。
func Do[T any](ctx context.Context, c *Client, req *Request) (T, error) {
	var out T
	if req == nil {
		return out, ErrNilRequest
	}
	r := *req
	r.Response = &out
	err := c.Request(ctx, &r)
	return out, err
}

// Close 关闭客户端，释放自身创建的资源。之后的请求返回 ErrClientClosed。
func (c *Client) Close(_ context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.ownsUsers && c.users != nil {
		c.users.Close()
	}
	c.tokens.Invalidate()
	c.logger.Debug("xmiso client closed")
	return nil
}

// withClientToken 附加客户端 Token 后执行，处理 401 失效与重试。
func (c *Client) withClientToken(ctx context.Context, op string, req *Request, extra http.Header) error {
	if err := c.check(req); err != nil {
		return err
	}

	attempt := func() error {
		token, err := c.tokens.GetToken(ctx)
		if err != nil {
			return err
		}
		headers, err := c.resolver.BuildAuthHeaders(MethodClientToken, AuthStrategy{}, token)
		if err != nil {
			return err
		}
		for k, vs := range extra {
			headers[k] = vs
		}
		err = c.execute(ctx, op, req, headers)
		if isUnauthorized(err) {
			c.tokens.Invalidate()
		}
		return err
	}

	err := attempt()
	if c.options.AutoRetryOn401 && isUnauthorized(err) {
		c.logger.Debug("xmiso: 401 received, refetching client token and retrying", slog.String("op", op))
		return attempt()
	}
	return err
}

// recordsBreaker 判断操作结果是否计入主熔断器。
// 审计投递是旁路，失败不能影响主请求路径。
func recordsBreaker(op string) bool {
	return op != opSendLogBatch
}

func (c *Client) check(req *Request) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if req == nil {
		return ErrNilRequest
	}
	return nil
}

// execute 发送一次请求：熔断检查、关联 ID、观测、熔断结果记录、解码。
// 2xx-4xx 记为成功，连接错误和 5xx 记为失败。
// 调用方 ctx 已结束导致的错误不记录；旁路操作（审计投递）不记录。
func (c *Client) execute(ctx context.Context, op string, req *Request, authHeaders http.Header) error {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	path := sanitizePath(req.Path)

	ctx, span := c.obs.start(ctx, op, method, path)

	if c.options.FailFast && c.breaker.IsOpen() {
		err := &ClientError{Kind: ErrConnection, Op: op, Message: "request rejected", Err: ErrCircuitOpen}
		span.end(ctx, 0, outcomeRejected, err)
		return err
	}

	headers := make(http.Header, len(req.Headers)+len(authHeaders)+1)
	for k, v := range req.Headers {
		headers.Set(k, v)
	}
	for k, vs := range authHeaders {
		headers[http.CanonicalHeaderKey(k)] = vs
	}
	if headers.Get(HeaderCorrelationID) == "" {
		headers.Set(HeaderCorrelationID, uuid.NewString())
	}

	tracked := recordsBreaker(op)
	resp, err := c.http.send(ctx, op, method, req.Path, req.Query, headers, req.Body)
	if err != nil {
		var ce *ClientError
		switch {
		case ctx.Err() != nil:
			// 调用方自己取消或超时，与控制器健康无关
			span.end(ctx, 0, outcomeCanceled, err)
		case errors.As(err, &ce) && ce.Kind == ErrConnection:
			if tracked {
				c.breaker.RecordFailure()
			}
			span.end(ctx, 0, outcomeConnection, err)
		default:
			span.end(ctx, 0, outcomeClientError, err)
		}
		return err
	}

	if tracked {
		if resp.StatusCode >= 500 {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
	}

	err = decodeResponse(op, resp, req.Response)
	span.end(ctx, resp.StatusCode, classify(resp.StatusCode), err)
	if err != nil && resp.StatusCode >= 500 {
		c.logger.Warn("xmiso: controller server error",
			slog.String("op", op),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("correlation_id", headers.Get(HeaderCorrelationID)),
		)
	}
	return err
}
