package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/omeyang/xmiso/pkg/business/xmiso"
	"github.com/omeyang/xmiso/pkg/observability/xaudit"
	"github.com/omeyang/xmiso/pkg/util/xclaims"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// auditShutdownTimeout audit 命令等待投递的上限。
const auditShutdownTimeout = 10 * time.Second

// usageError 参数错误，退出码 2。
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

// 创建所有子命令。
func createCommands() []*cli.Command {
	return []*cli.Command{
		createTokenCommand(),
		createRequestCommand(),
		createRolesCommand(),
		createAuditCommand(),
	}
}

// withSession 为命令打开运行环境并应用超时。
func withSession(fn func(ctx context.Context, cmd *cli.Command, s *session) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		if timeout := cmd.Root().Duration("timeout"); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		s, err := openSession(ctx, cmd)
		if err != nil {
			return err
		}
		defer s.Close(context.WithoutCancel(ctx))
		return fn(ctx, cmd, s)
	}
}

// =============================================================================
// token
// =============================================================================

func createTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "获取客户端 Token 并输出有效期",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "reveal",
				Usage: "输出完整 Token（默认只输出前 8 位）",
			},
		},
		Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
			return cmdToken(ctx, s, cmd.Bool("reveal"))
		}),
	}
}

// tokenInfo token 命令输出。
type tokenInfo struct {
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	ExpiresIn string    `json:"expiresIn"`
}

func cmdToken(ctx context.Context, s *session, reveal bool) error {
	if _, err := s.client.Tokens().GetToken(ctx); err != nil {
		return err
	}
	tok := s.client.Tokens().Token()
	if tok == nil {
		return fmt.Errorf("token 已失效")
	}
	value := tok.Value
	if !reveal {
		value = maskToken(value)
	}
	return writeJSON(s, tokenInfo{
		Token:     value,
		IssuedAt:  tok.IssuedAt,
		ExpiresAt: tok.ExpiresAt,
		ExpiresIn: time.Until(tok.ExpiresAt).Round(time.Second).String(),
	})
}

// maskToken 只保留前 8 位。
func maskToken(token string) string {
	const keep = 8
	if len(token) <= keep {
		return strings.Repeat("*", len(token))
	}
	return token[:keep] + "..."
}

// =============================================================================
// request
// =============================================================================

func createRequestCommand() *cli.Command {
	return &cli.Command{
		Name:      "request",
		Aliases:   []string{"req"},
		Usage:     "调用控制器并输出原始响应",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "method",
				Aliases: []string{"X"},
				Usage:   "HTTP 方法",
				Value:   http.MethodGet,
			},
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "请求体（原样发送）",
			},
			&cli.StringSliceFlag{
				Name:    "header",
				Aliases: []string{"H"},
				Usage:   "额外请求头，格式 key=value",
			},
			&cli.StringFlag{
				Name:  "bearer",
				Usage: "用户 Token",
			},
			&cli.StringFlag{
				Name:  "api-key",
				Usage: "API Key",
			},
			&cli.StringFlag{
				Name:  "auth",
				Usage: "认证策略，逗号分隔（bearer,client-token,client-credentials,api-key）",
			},
		},
		Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
			args := positionalArgs(cmd)
			if len(args) != 1 {
				return &usageError{msg: "request 需要且只需要一个路径参数"}
			}
			headers, err := parseHeaders(cmd.StringSlice("header"))
			if err != nil {
				return err
			}
			methods, err := parseMethods(cmd.String("auth"))
			if err != nil {
				return err
			}

			req := &xmiso.Request{
				Method:  strings.ToUpper(cmd.String("method")),
				Path:    args[0],
				Headers: headers,
			}
			if data := cmd.String("data"); data != "" {
				req.Body = []byte(data)
			}
			return cmdRequest(ctx, s, req, xmiso.AuthStrategy{
				Methods:     methods,
				BearerToken: cmd.String("bearer"),
				APIKey:      cmd.String("api-key"),
			})
		}),
	}
}

// cmdRequest 有认证策略时按策略执行；否则有用户 Token 时走 AuthenticatedRequest，再否则只用客户端 Token。
func cmdRequest(ctx context.Context, s *session, req *xmiso.Request, strategy xmiso.AuthStrategy) error {
	var body []byte
	req.Response = &body

	var err error
	switch {
	case len(strategy.Methods) > 0:
		err = s.client.ExecuteWithStrategy(ctx, strategy, req)
	case strategy.BearerToken != "":
		err = s.client.AuthenticatedRequest(ctx, strategy.BearerToken, req)
	default:
		err = s.client.Request(ctx, req)
	}
	if err != nil {
		return err
	}
	if len(body) > 0 {
		_, err = fmt.Fprintln(s.out, strings.TrimRight(string(body), "\n"))
	}
	return err
}

// parseHeaders 解析 key=value 形式的请求头。
func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		k, v, ok := strings.Cut(h, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, &usageError{msg: fmt.Sprintf("无效的请求头 %q，应为 key=value", h)}
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers, nil
}

// parseMethods 解析逗号分隔的认证方法列表。
func parseMethods(raw string) ([]xmiso.AuthMethod, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var methods []xmiso.AuthMethod
	for _, part := range strings.Split(raw, ",") {
		m := xmiso.AuthMethod(strings.TrimSpace(part))
		switch m {
		case xmiso.MethodBearer, xmiso.MethodClientToken, xmiso.MethodClientCredentials, xmiso.MethodAPIKey:
			methods = append(methods, m)
		default:
			return nil, &usageError{msg: fmt.Sprintf("未知认证方法 %q", m)}
		}
	}
	return methods, nil
}

// =============================================================================
// roles
// =============================================================================

func createRolesCommand() *cli.Command {
	return &cli.Command{
		Name:      "roles",
		Usage:     "查询用户角色与权限",
		ArgsUsage: "<user-token>",
		Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
			args := positionalArgs(cmd)
			if len(args) != 1 {
				return &usageError{msg: "roles 需要一个用户 Token 参数"}
			}
			return cmdRoles(ctx, s, args[0])
		}),
	}
}

// rolesInfo roles 命令输出。
type rolesInfo struct {
	UserID      string   `json:"userId,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func cmdRoles(ctx context.Context, s *session, token string) error {
	var info rolesInfo
	if claims, err := xclaims.Peek(token); err == nil {
		info.UserID = claims.UserID()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		roles, err := s.client.GetRoles(gctx, token)
		info.Roles = roles
		return err
	})
	g.Go(func() error {
		perms, err := s.client.GetPermissions(gctx, token)
		info.Permissions = perms
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return writeJSON(s, info)
}

// =============================================================================
// audit
// =============================================================================

func createAuditCommand() *cli.Command {
	return &cli.Command{
		Name:      "audit",
		Usage:     "写入一条审计日志并等待投递",
		ArgsUsage: "<message...>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "level",
				Usage: "日志级别",
				Value: "info",
			},
			&cli.StringFlag{
				Name:  "user",
				Usage: "用户 ID",
			},
			&cli.StringSliceFlag{
				Name:  "field",
				Usage: "上下文字段，格式 key=value",
			},
		},
		Action: withSession(func(ctx context.Context, cmd *cli.Command, s *session) error {
			args := positionalArgs(cmd)
			if len(args) == 0 {
				return &usageError{msg: "audit 需要日志消息"}
			}
			fields, err := parseHeaders(cmd.StringSlice("field"))
			if err != nil {
				return err
			}
			entry := xaudit.Entry{
				Level:   cmd.String("level"),
				Message: strings.Join(args, " "),
				UserID:  cmd.String("user"),
			}
			if len(fields) > 0 {
				entry.Context = make(map[string]any, len(fields))
				for k, v := range fields {
					entry.Context[k] = v
				}
			}
			return cmdAudit(ctx, s, entry)
		}),
	}
}

// positionalArgs 返回位置参数，去掉空串。
// 子命令带 flag 时 cli 可能在前面留下一个空参数。
func positionalArgs(cmd *cli.Command) []string {
	return slices.DeleteFunc(slices.Clone(cmd.Args().Slice()), func(s string) bool {
		return s == ""
	})
}

// auditResult audit 命令输出。
type auditResult struct {
	CorrelationID string `json:"correlationId"`
	Delivered     int    `json:"delivered"`
	Via           string `json:"via"`
}

// cmdAudit 配置了 Redis 时优先写入列表，失败回退到 HTTP。
func cmdAudit(ctx context.Context, s *session, entry xaudit.Entry) error {
	result := auditResult{CorrelationID: entry.CorrelationID, Via: "none"}
	opts := []xaudit.Option{
		xaudit.WithOnFlush(func(n int, via string) {
			result.Delivered += n
			result.Via = via
		}),
	}
	if s.redis != nil {
		pusher, err := xaudit.NewRedisPusher(s.redis, 0)
		if err != nil {
			return err
		}
		opts = append(opts, xaudit.WithListPusher(pusher))
	}

	q := s.client.NewAuditQueue(opts...)
	if result.CorrelationID == "" {
		entry.CorrelationID = uuid.NewString()
		result.CorrelationID = entry.CorrelationID
	}
	if err := q.Add(entry); err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditShutdownTimeout)
	defer cancel()
	if err := q.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("等待审计投递: %w", err)
	}
	if result.Via == "dropped" {
		if err := writeJSON(s, result); err != nil {
			return err
		}
		return fmt.Errorf("审计日志投递失败")
	}
	return writeJSON(s, result)
}

// =============================================================================
// 输出
// =============================================================================

func writeJSON(s *session, v any) error {
	enc := json.NewEncoder(s.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
