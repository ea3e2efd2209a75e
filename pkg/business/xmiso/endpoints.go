package xmiso

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/omeyang/xmiso/pkg/observability/xaudit"
	"github.com/omeyang/xmiso/pkg/storage/xcache"
	"github.com/omeyang/xmiso/pkg/util/xclaims"
)

// opSendLogBatch 审计批量投递的操作名，不计入主熔断器。
const opSendLogBatch = "send_log_batch"

// 角色/权限缓存 key 前缀。
const (
	cacheKeyRoles       = "roles:"
	cacheKeyPermissions = "permissions:"
)

// =============================================================================
// 用户 Token 刷新
// =============================================================================

// RefreshUserToken 用 refresh token 换取新的用户 Token（POST /api/v1/auth/refresh）。
// 实现 UserTokenRefreshAPI。
func (c *Client) RefreshUserToken(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, &ClientError{Kind: ErrConfiguration, Op: "refresh_user_token", Err: ErrMissingToken}
	}

	var out struct {
		RefreshResult
		AccessToken string `json:"accessToken"`
	}
	err := c.withClientToken(ctx, "refresh_user_token", &Request{
		Method:   http.MethodPost,
		Path:     PathUserRefresh,
		Body:     map[string]string{"refreshToken": refreshToken},
		Response: &out,
	}, nil)
	if err != nil {
		return nil, err
	}
	res := out.RefreshResult
	if res.Token == "" {
		res.Token = out.AccessToken
	}
	if res.Token == "" {
		return nil, &ClientError{Kind: ErrAuthentication, Op: "refresh_user_token", Message: "refresh endpoint returned no token"}
	}
	return &res, nil
}

// =============================================================================
// 审计日志
// =============================================================================

// SendLogBatch 批量提交审计日志（POST /api/v1/logs/batch，{"logs": [...]}）。
// 实现 xaudit.BatchSender。结果不计入主熔断器。
func (c *Client) SendLogBatch(ctx context.Context, entries []xaudit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return c.withClientToken(ctx, opSendLogBatch, &Request{
		Method: http.MethodPost,
		Path:   PathLogsBatch,
		Body:   map[string]any{"logs": entries},
	}, nil)
}

// =============================================================================
// 角色与权限
// =============================================================================

// GetRoles 返回用户角色。结果按 roles:{userId} 缓存 Config.Cache.RoleTTL。
// userId 来自 Token 的未验证 claim，只用于缓存 key。
func (c *Client) GetRoles(ctx context.Context, token string) ([]string, error) {
	return c.lookupList(ctx, token, cacheKeyRoles, PathRoles, "roles", c.config.Cache.RoleTTL)
}

// GetPermissions 返回用户权限。结果按 permissions:{userId} 缓存。
func (c *Client) GetPermissions(ctx context.Context, token string) ([]string, error) {
	return c.lookupList(ctx, token, cacheKeyPermissions, PathPermissions, "permissions", c.config.Cache.PermissionTTL)
}

// HasRole 报告用户是否拥有 role。
func (c *Client) HasRole(ctx context.Context, token, role string) (bool, error) {
	roles, err := c.GetRoles(ctx, token)
	if err != nil {
		return false, err
	}
	return slices.Contains(roles, role), nil
}

// HasPermission 报告用户是否拥有 permission。
func (c *Client) HasPermission(ctx context.Context, token, permission string) (bool, error) {
	perms, err := c.GetPermissions(ctx, token)
	if err != nil {
		return false, err
	}
	return slices.Contains(perms, permission), nil
}

// InvalidateUserCache 删除用户的角色与权限缓存。
func (c *Client) InvalidateUserCache(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	c.cache.Delete(ctx, cacheKeyRoles+userID)
	c.cache.Delete(ctx, cacheKeyPermissions+userID)
}

func (c *Client) lookupList(ctx context.Context, token, prefix, path, field string, ttl time.Duration) ([]string, error) {
	var userID string
	if claims, err := xclaims.Peek(token); err == nil {
		userID = claims.UserID()
	}
	key := prefix + userID

	if userID != "" {
		if cached, ok := xcache.GetAs[[]string](ctx, c.cache, key); ok {
			return cached, nil
		}
	}

	var out struct {
		Roles       []string `json:"roles"`
		Permissions []string `json:"permissions"`
	}
	if err := c.AuthenticatedRequest(ctx, token, &Request{Method: http.MethodGet, Path: path, Response: &out}); err != nil {
		return nil, err
	}
	list := out.Roles
	if field == "permissions" {
		list = out.Permissions
	}
	if list == nil {
		list = []string{}
	}

	if userID != "" {
		if err := c.cache.Set(ctx, key, list, ttl); err != nil {
			c.logger.Warn("xmiso: cache set failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	return list, nil
}

// NewAuditQueue 创建以本客户端为 HTTP 回退路径的审计队列，批量参数取自 Config.Audit。
// opts 追加在默认设置之后，可用 xaudit.WithListPusher 启用 Redis 列表主路径。
func (c *Client) NewAuditQueue(opts ...xaudit.Option) *xaudit.Queue {
	base := []xaudit.Option{
		xaudit.WithBatchSender(c),
		xaudit.WithLogger(c.logger),
		xaudit.WithBatchSize(c.config.Audit.BatchSize),
		xaudit.WithBatchInterval(c.config.Audit.BatchInterval),
		xaudit.WithSendAttempts(c.config.Audit.SendAttempts),
	}
	return xaudit.New(c.config.ClientID, append(base, opts...)...)
}
