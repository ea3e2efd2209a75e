package xmiso

import (
	"net/url"
	"strings"
	"time"
)

// =============================================================================
// 默认值
// =============================================================================

const (
	// DefaultTimeout 默认请求超时时间。
	DefaultTimeout = 30 * time.Second

	// DefaultTokenRefreshBuffer 客户端 Token 提前刷新的缓冲时间。
	DefaultTokenRefreshBuffer = 60 * time.Second

	// DefaultTokenTTL 响应未给出过期时间时使用的 Token 有效期。
	DefaultTokenTTL = time.Hour

	// DefaultTokenFetchAttempts Token 获取遇到连接错误时的总尝试次数。
	DefaultTokenFetchAttempts = 3

	// DefaultFailureThreshold 熔断器打开前的连续失败次数。
	DefaultFailureThreshold = 3

	// DefaultResetTimeout 熔断器从打开到半开的等待时间。
	DefaultResetTimeout = 60 * time.Second

	// DefaultRoleTTL 角色缓存时间。
	DefaultRoleTTL = 15 * time.Minute

	// DefaultPermissionTTL 权限缓存时间。
	DefaultPermissionTTL = 15 * time.Minute

	// DefaultUserTokenBuffer 用户 Token 提前刷新的缓冲时间。
	DefaultUserTokenBuffer = 60 * time.Second

	// DefaultRefreshCacheSize 已刷新 Token 缓存的最大条目数。
	DefaultRefreshCacheSize = 4096

	// DefaultRefreshCacheTTL 已刷新 Token 缓存的有效期。
	DefaultRefreshCacheTTL = 5 * time.Minute

	// DefaultRefreshFailureTTL 刷新失败结果的保留时间，期间同一 Token 不再重试。
	DefaultRefreshFailureTTL = 5 * time.Second
)

// =============================================================================
// API 路由
// =============================================================================

//nolint:gosec // G101: API 路径常量，不是凭据
const (
	// PathClientToken 客户端凭据换取 Token。
	PathClientToken = "/api/v1/auth/token"

	// PathUserRefresh 用户 refresh token 换取新 Token。
	PathUserRefresh = "/api/v1/auth/refresh"

	// PathRoles 当前用户角色。
	PathRoles = "/api/v1/auth/roles"

	// PathPermissions 当前用户权限。
	PathPermissions = "/api/v1/auth/permissions"

	// PathLogsBatch 审计日志批量提交。
	PathLogsBatch = "/api/v1/logs/batch"
)

// =============================================================================
// 请求头
// =============================================================================

const (
	HeaderClientID      = "x-client-id"
	HeaderClientSecret  = "x-client-secret" //nolint:gosec // G101: 请求头名称
	HeaderClientToken   = "x-client-token"
	HeaderCorrelationID = "x-correlation-id"
	HeaderAuthorization = "Authorization"
)

// =============================================================================
// Config 配置结构
// =============================================================================

// Config 客户端配置。字段带 koanf 标签，可通过 LoadConfig 从 YAML/JSON 加载。
type Config struct {
	// ControllerURL 控制器地址（必填），例如 https://miso.example.com。
	ControllerURL string `koanf:"controller_url"`

	// AllowInsecure 允许 http:// 地址，仅用于开发/测试。
	AllowInsecure bool `koanf:"allow_insecure"`

	// ClientID 客户端 ID（必填）。
	ClientID string `koanf:"client_id"`

	// ClientSecret 客户端密钥（必填）。
	ClientSecret string `koanf:"client_secret"`

	// Timeout 单次 HTTP 请求超时。
	Timeout time.Duration `koanf:"timeout"`

	// Token 客户端 Token 设置。
	Token TokenConfig `koanf:"token"`

	// Breaker 熔断器设置。
	Breaker BreakerConfig `koanf:"breaker"`

	// Cache 角色/权限缓存设置。
	Cache CacheConfig `koanf:"cache"`

	// UserToken 用户 Token 刷新设置。
	UserToken UserTokenConfig `koanf:"user_token"`

	// Audit 审计队列设置。
	Audit AuditConfig `koanf:"audit"`

	// Redis 远程缓存与审计列表后端，Addr 为空表示不使用。
	Redis RedisConfig `koanf:"redis"`
}

// TokenConfig 客户端 Token 设置。
type TokenConfig struct {
	RefreshBuffer time.Duration `koanf:"refresh_buffer"`
	FetchAttempts uint          `koanf:"fetch_attempts"`
	FetchDelay    time.Duration `koanf:"fetch_delay"`
}

// BreakerConfig 熔断器设置。
type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	ResetTimeout     time.Duration `koanf:"reset_timeout"`
}

// CacheConfig 缓存设置。
type CacheConfig struct {
	RoleTTL          time.Duration `koanf:"role_ttl"`
	PermissionTTL    time.Duration `koanf:"permission_ttl"`
	CleanupThreshold int           `koanf:"cleanup_threshold"`
}

// UserTokenConfig 用户 Token 刷新设置。
type UserTokenConfig struct {
	RefreshBuffer time.Duration `koanf:"refresh_buffer"`
	CacheSize     int           `koanf:"cache_size"`
	CacheTTL      time.Duration `koanf:"cache_ttl"`
	FailureTTL    time.Duration `koanf:"failure_ttl"`
}

// AuditConfig 审计队列设置。
type AuditConfig struct {
	BatchSize     int           `koanf:"batch_size"`
	BatchInterval time.Duration `koanf:"batch_interval"`
	SendAttempts  uint          `koanf:"send_attempts"`
}

// RedisConfig Redis 连接设置。
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// Validate 验证配置有效性。
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if err := c.validateControllerURL(); err != nil {
		return err
	}
	if strings.TrimSpace(c.ClientID) == "" || c.ClientSecret == "" {
		return ErrMissingCredentials
	}
	if c.Timeout < 0 {
		return ErrInvalidTimeout
	}
	return nil
}

func (c *Config) validateControllerURL() error {
	raw := strings.TrimSpace(c.ControllerURL)
	if raw == "" {
		return ErrMissingControllerURL
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ErrInvalidControllerURL
	}
	if !c.AllowInsecure && u.Scheme != "https" {
		return ErrInsecureControllerURL
	}
	return nil
}

// ApplyDefaults 为零值字段填充默认值。
func (c *Config) ApplyDefaults() {
	c.ControllerURL = strings.TrimRight(strings.TrimSpace(c.ControllerURL), "/")
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}

	if c.Token.RefreshBuffer <= 0 {
		c.Token.RefreshBuffer = DefaultTokenRefreshBuffer
	}
	if c.Token.FetchAttempts == 0 {
		c.Token.FetchAttempts = DefaultTokenFetchAttempts
	}
	if c.Token.FetchDelay <= 0 {
		c.Token.FetchDelay = 200 * time.Millisecond
	}

	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = DefaultFailureThreshold
	}
	if c.Breaker.ResetTimeout <= 0 {
		c.Breaker.ResetTimeout = DefaultResetTimeout
	}

	if c.Cache.RoleTTL <= 0 {
		c.Cache.RoleTTL = DefaultRoleTTL
	}
	if c.Cache.PermissionTTL <= 0 {
		c.Cache.PermissionTTL = DefaultPermissionTTL
	}

	if c.UserToken.RefreshBuffer <= 0 {
		c.UserToken.RefreshBuffer = DefaultUserTokenBuffer
	}
	if c.UserToken.CacheSize <= 0 {
		c.UserToken.CacheSize = DefaultRefreshCacheSize
	}
	if c.UserToken.CacheTTL <= 0 {
		c.UserToken.CacheTTL = DefaultRefreshCacheTTL
	}
	if c.UserToken.FailureTTL <= 0 {
		c.UserToken.FailureTTL = DefaultRefreshFailureTTL
	}
}

// Clone 返回配置副本。
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
