package xmiso

import (
	"log/slog"
	"net/http"

	"github.com/omeyang/xmiso/pkg/resilience/xbreaker"
	"github.com/omeyang/xmiso/pkg/storage/xcache"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Options 结构
// =============================================================================

// Options 客户端可选配置。
type Options struct {
	// HTTPClient 自定义 HTTP 客户端。注入后 Config.Timeout 不再生效。
	HTTPClient *http.Client

	// Logger 日志记录器，默认 slog.Default()。
	Logger *slog.Logger

	// Breaker 共享熔断器。多个客户端访问同一控制器时可共享一个实例。
	// 不设置时按 Config.Breaker 创建。
	Breaker *xbreaker.Breaker

	// Cache 角色/权限缓存。不设置时创建仅本地层的缓存。
	Cache *xcache.Service

	// TokenRefresher 用户 Token 刷新器。不设置时按 Config.UserToken 创建。
	TokenRefresher *UserTokenRefresher

	// DisableUserTokenRefresh 为 true 时 AuthenticatedRequest 不尝试刷新用户 Token。
	DisableUserTokenRefresh bool

	// MeterProvider 指标提供者，默认 otel 全局。
	MeterProvider metric.MeterProvider

	// TracerProvider 追踪提供者，默认 otel 全局。
	TracerProvider trace.TracerProvider

	// FailFast 熔断器打开时直接返回 ErrCircuitOpen。默认启用。
	FailFast bool

	// AutoRetryOn401 401 时清除客户端 Token 并重试一次。默认不启用。
	AutoRetryOn401 bool
}

// Option 配置客户端的函数类型。
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Logger:   slog.Default(),
		FailFast: true,
	}
}

func applyOptions(opts []Option) *Options {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// =============================================================================
// Option 函数
// =============================================================================

// WithHTTPClient 设置自定义 HTTP 客户端。
func WithHTTPClient(client *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = client
	}
}

// WithLogger 设置日志记录器。
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithBreaker 注入熔断器。
func WithBreaker(b *xbreaker.Breaker) Option {
	return func(o *Options) {
		o.Breaker = b
	}
}

// WithCache 注入缓存服务。
func WithCache(cache *xcache.Service) Option {
	return func(o *Options) {
		o.Cache = cache
	}
}

// WithTokenRefresher 注入用户 Token 刷新器。
func WithTokenRefresher(r *UserTokenRefresher) Option {
	return func(o *Options) {
		o.TokenRefresher = r
	}
}

// WithoutUserTokenRefresh 禁用用户 Token 自动刷新。
func WithoutUserTokenRefresh() Option {
	return func(o *Options) {
		o.DisableUserTokenRefresh = true
	}
}

// WithMeterProvider 设置指标提供者。
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *Options) {
		o.MeterProvider = mp
	}
}

// WithTracerProvider 设置追踪提供者。
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

// WithFailFast 设置熔断器打开时是否直接失败。
// 关闭后熔断器只记录状态，请求照常发出。
func WithFailFast(enabled bool) Option {
	return func(o *Options) {
		o.FailFast = enabled
	}
}

// WithAutoRetryOn401 设置 401 时是否重试一次。
func WithAutoRetryOn401(enabled bool) Option {
	return func(o *Options) {
		o.AutoRetryOn401 = enabled
	}
}
