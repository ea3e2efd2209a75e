package xmiso

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/omeyang/xmiso/pkg/util/xclaims"
	"github.com/omeyang/xmiso/pkg/util/xkeylock"
	"github.com/omeyang/xmiso/pkg/util/xlru"
)

// RefreshFunc 用户注册的刷新回调：旧 Token 换新 Token。
type RefreshFunc func(ctx context.Context, oldToken string) (string, error)

// RefreshResult 刷新接口的结果。
type RefreshResult struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
}

// UserTokenRefreshAPI 调用控制器刷新接口。*Client 实现此接口。
type UserTokenRefreshAPI interface {
	RefreshUserToken(ctx context.Context, refreshToken string) (*RefreshResult, error)
}

// userRecord 单个用户的刷新来源。
type userRecord struct {
	callback     RefreshFunc
	refreshToken string
}

// refreshed 旧 Token 对应的刷新结果。
type refreshed struct {
	userID string
	token  string
}

// UserTokenRefresher 协调终端用户 Token 的刷新。并发安全。
//
// 同一用户的并发 GetValidToken 合并为一次刷新，所有调用方拿到同一个新 Token。
// 刷新结果按旧 Token 缓存，迟到的调用方直接命中。失败结果按旧 Token 保留
// FailureTTL，期间等锁的调用方不再重复尝试。
type UserTokenRefresher struct {
	api    UserTokenRefreshAPI
	buffer time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	records map[string]*userRecord

	// locks 按用户串行化刷新；无用户 ID 时按 Token 加锁
	locks *xkeylock.Locker
	cache *xlru.Cache[string, refreshed]
	// failures 刷新失败的旧 Token，值为用户 ID
	failures *xlru.Cache[string, string]
}

// UserTokenRefresherConfig UserTokenRefresher 配置。
type UserTokenRefresherConfig struct {
	// API 刷新接口，为 nil 时只能使用回调刷新。
	API UserTokenRefreshAPI

	// Buffer Token 剩余有效期小于此值时刷新，默认 60s。
	Buffer time.Duration

	// CacheSize / CacheTTL 旧→新 Token 缓存的容量和有效期。
	CacheSize int
	CacheTTL  time.Duration

	// FailureTTL 刷新失败结果的保留时间，默认 5s。
	FailureTTL time.Duration

	Logger *slog.Logger
}

// NewUserTokenRefresher 创建 UserTokenRefresher。使用完毕调用 Close。
func NewUserTokenRefresher(cfg UserTokenRefresherConfig) (*UserTokenRefresher, error) {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultUserTokenBuffer
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultRefreshCacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultRefreshCacheTTL
	}
	if cfg.FailureTTL <= 0 {
		cfg.FailureTTL = DefaultRefreshFailureTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cache, err := xlru.New[string, refreshed](xlru.Config{Size: cfg.CacheSize, TTL: cfg.CacheTTL})
	if err != nil {
		return nil, err
	}
	failures, err := xlru.New[string, string](xlru.Config{Size: cfg.CacheSize, TTL: cfg.FailureTTL})
	if err != nil {
		cache.Close()
		return nil, err
	}
	locks, err := xkeylock.New()
	if err != nil {
		cache.Close()
		failures.Close()
		return nil, err
	}
	return &UserTokenRefresher{
		api:      cfg.API,
		buffer:   cfg.Buffer,
		logger:   cfg.Logger,
		now:      time.Now,
		records:  make(map[string]*userRecord),
		locks:    locks,
		cache:    cache,
		failures: failures,
	}, nil
}

// SetAPI 设置刷新接口。用于 Client 与 Refresher 相互引用的场景。
func (r *UserTokenRefresher) SetAPI(api UserTokenRefreshAPI) {
	r.mu.Lock()
	r.api = api
	r.mu.Unlock()
}

// bindAPI 仅在未设置刷新接口时设置。
func (r *UserTokenRefresher) bindAPI(api UserTokenRefreshAPI) {
	r.mu.Lock()
	if r.api == nil {
		r.api = api
	}
	r.mu.Unlock()
}

// RegisterRefreshCallback 为用户注册刷新回调。该用户此前的失败结果作废。
func (r *UserTokenRefresher) RegisterRefreshCallback(userID string, fn RefreshFunc) {
	r.mu.Lock()
	r.recordLocked(userID).callback = fn
	r.mu.Unlock()
	r.forgetFailures(userID)
}

// RegisterRefreshToken 为用户保存 refresh token。该用户此前的失败结果作废。
func (r *UserTokenRefresher) RegisterRefreshToken(userID, refreshToken string) {
	r.mu.Lock()
	r.recordLocked(userID).refreshToken = refreshToken
	r.mu.Unlock()
	r.forgetFailures(userID)
}

// ClearUserTokens 移除用户的回调、refresh token 及缓存的刷新结果。
func (r *UserTokenRefresher) ClearUserTokens(userID string) {
	r.mu.Lock()
	delete(r.records, userID)
	r.mu.Unlock()

	r.cache.RemoveFunc(func(_ string, v refreshed) bool { return v.userID == userID })
	r.forgetFailures(userID)
}

func (r *UserTokenRefresher) forgetFailures(userID string) {
	r.failures.RemoveFunc(func(_, owner string) bool { return owner == userID })
}

// Close 释放缓存资源并唤醒等待刷新锁的调用方。
func (r *UserTokenRefresher) Close() {
	r.locks.Close()
	r.cache.Close()
	r.failures.Close()
}

// GetValidToken 返回可用的用户 Token。
//
// 通过未验证的 claim 读取 exp：未过期且不在缓冲期内、无法解析、或 refreshIfNeeded
// 为 false 时原样返回。需要刷新时依次尝试：
//  1. 用户注册的回调
//  2. 保存的 refresh token（返回新 refresh token 时替换保存值）
//  3. Token 自身 claim 中的 refreshToken / refresh_token / rt
//
// 全部失败、等待刷新锁时 ctx 取消或刷新器已关闭时，原样返回 token，
// 由下游请求以 401 明确失败。失败结果保留 FailureTTL，期间同一 token 直接原样返回。
func (r *UserTokenRefresher) GetValidToken(ctx context.Context, token string, refreshIfNeeded bool) string {
	if token == "" || !refreshIfNeeded {
		return token
	}
	claims, err := xclaims.Peek(token)
	if err != nil || !claims.ExpiresWithin(r.buffer, r.now()) {
		return token
	}
	if hit, ok := r.lookup(token); ok {
		return hit
	}

	userID := claims.UserID()
	unlock, err := r.locks.Lock(ctx, lockKey(userID, token))
	if err != nil {
		r.logger.Debug("xmiso: user token refresh lock not acquired", slog.Any("error", err))
		return token
	}
	defer unlock()

	// 等锁期间其他调用方可能已完成刷新，或已经失败
	if hit, ok := r.lookup(token); ok {
		return hit
	}

	newToken, ok := r.refresh(ctx, userID, token, claims)
	if !ok {
		// 调用方取消导致的失败不代表刷新来源不可用
		if ctx.Err() == nil {
			r.failures.Set(token, userID)
		}
		return token
	}
	r.cache.Set(token, refreshed{userID: userID, token: newToken})
	return newToken
}

// lookup 查询旧 token 的已知结果：刷新成功返回新 token，失败保留期内返回原 token。
func (r *UserTokenRefresher) lookup(token string) (string, bool) {
	if hit, ok := r.cache.Get(token); ok {
		return hit.token, true
	}
	if _, ok := r.failures.Get(token); ok {
		return token, true
	}
	return "", false
}

// lockKey 有用户 ID 时按用户加锁，否则按 Token 本身加锁。
func lockKey(userID, token string) string {
	if userID != "" {
		return "user:" + userID
	}
	return "token:" + token
}

func (r *UserTokenRefresher) recordLocked(userID string) *userRecord {
	rec, ok := r.records[userID]
	if !ok {
		rec = &userRecord{}
		r.records[userID] = rec
	}
	return rec
}

// refresh 按优先级尝试各刷新方式。
func (r *UserTokenRefresher) refresh(ctx context.Context, userID, token string, claims *xclaims.Claims) (string, bool) {
	r.mu.Lock()
	var (
		callback RefreshFunc
		stored   string
	)
	if rec, ok := r.records[userID]; ok && userID != "" {
		callback = rec.callback
		stored = rec.refreshToken
	}
	api := r.api
	r.mu.Unlock()

	log := r.logger.With(slog.String("user_id", userID))

	if callback != nil {
		newToken, err := callback(ctx, token)
		if err == nil && newToken != "" {
			return newToken, true
		}
		log.Debug("xmiso: refresh callback failed", slog.Any("error", err))
	}

	if api == nil {
		return "", false
	}

	if stored != "" {
		if newToken, ok := r.exchange(ctx, api, userID, stored, log); ok {
			return newToken, true
		}
	}

	if embedded := claims.RefreshToken(); embedded != "" && embedded != stored {
		if newToken, ok := r.exchange(ctx, api, userID, embedded, log); ok {
			return newToken, true
		}
	}

	log.Debug("xmiso: user token refresh exhausted, passing original token through")
	return "", false
}

// exchange 调用刷新接口，成功且返回新 refresh token 时替换保存值。
func (r *UserTokenRefresher) exchange(ctx context.Context, api UserTokenRefreshAPI, userID, refreshToken string, log *slog.Logger) (string, bool) {
	res, err := api.RefreshUserToken(ctx, refreshToken)
	if err != nil || res == nil || res.Token == "" {
		log.Debug("xmiso: refresh token exchange failed", slog.Any("error", err))
		return "", false
	}
	if res.RefreshToken != "" && userID != "" {
		r.mu.Lock()
		if rec, ok := r.records[userID]; ok {
			rec.refreshToken = res.RefreshToken
		}
		r.mu.Unlock()
	}
	return res.Token, true
}
