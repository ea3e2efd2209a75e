package xmiso

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
)

// AuthMethod 认证方法。
type AuthMethod string

const (
	// MethodBearer 使用 AuthStrategy.BearerToken，Authorization: Bearer。
	MethodBearer AuthMethod = "bearer"

	// MethodClientToken 使用客户端 Token，x-client-token。
	MethodClientToken AuthMethod = "client-token"

	// MethodClientCredentials 与 MethodClientToken 相同的请求头，语义上表示以应用身份调用。
	MethodClientCredentials AuthMethod = "client-credentials"

	// MethodAPIKey 使用 AuthStrategy.APIKey，Authorization: Bearer。
	MethodAPIKey AuthMethod = "api-key"
)

// usesClientToken 报告该方法是否依赖客户端 Token。
func (m AuthMethod) usesClientToken() bool {
	return m == MethodClientToken || m == MethodClientCredentials
}

// AuthStrategy 单次调用的认证策略：按顺序尝试的方法及其凭据。
type AuthStrategy struct {
	Methods     []AuthMethod
	BearerToken string
	APIKey      string
}

// DefaultStrategy 返回 [bearer, client-token] 策略。
func DefaultStrategy(bearerToken string) AuthStrategy {
	return AuthStrategy{
		Methods:     []AuthMethod{MethodBearer, MethodClientToken},
		BearerToken: bearerToken,
	}
}

// ClientTokenSource 提供客户端 Token。*TokenManager 实现此接口。
type ClientTokenSource interface {
	GetToken(ctx context.Context) (string, error)
	Invalidate()
}

// AttemptFunc 以给定认证头发送一次请求。
type AttemptFunc func(ctx context.Context, method AuthMethod, headers http.Header) error

// StrategyResolver 构建认证头并按策略执行回退链。
type StrategyResolver struct {
	tokens ClientTokenSource
	logger *slog.Logger
}

// NewStrategyResolver 创建 StrategyResolver。tokens 为 nil 时客户端 Token 方法不可用。
func NewStrategyResolver(tokens ClientTokenSource, logger *slog.Logger) *StrategyResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &StrategyResolver{tokens: tokens, logger: logger}
}

// BuildAuthHeaders 为 method 构建认证头。缺少凭据时返回 ErrConfiguration 种类错误。
func (r *StrategyResolver) BuildAuthHeaders(method AuthMethod, strategy AuthStrategy, clientToken string) (http.Header, error) {
	const op = "build_auth_headers"
	h := http.Header{}
	switch method {
	case MethodBearer:
		if strategy.BearerToken == "" {
			return nil, &ClientError{Kind: ErrConfiguration, Op: op, Method: method, Message: "bearer token required"}
		}
		h.Set(HeaderAuthorization, "Bearer "+strategy.BearerToken)
	case MethodClientToken, MethodClientCredentials:
		if clientToken == "" {
			return nil, &ClientError{Kind: ErrConfiguration, Op: op, Method: method, Message: "client token required"}
		}
		h.Set(HeaderClientToken, clientToken)
	case MethodAPIKey:
		if strategy.APIKey == "" {
			return nil, &ClientError{Kind: ErrConfiguration, Op: op, Method: method, Message: "api key required"}
		}
		h.Set(HeaderAuthorization, "Bearer "+strategy.APIKey)
	default:
		return nil, &ClientError{Kind: ErrConfiguration, Op: op, Method: method, Message: fmt.Sprintf("unknown auth method %q", method)}
	}
	return h, nil
}

// ShouldTryMethod 报告 method 是否在策略中。
func (r *StrategyResolver) ShouldTryMethod(method AuthMethod, strategy AuthStrategy) bool {
	return slices.Contains(strategy.Methods, method)
}

// Execute 按策略顺序尝试每个方法。
//
//   - 成功：立即返回
//   - 401：尝试下一个方法；若该方法使用了客户端 Token，先使其失效
//   - 其他错误（含客户端 Token 获取失败、缺少凭据）：立即返回
//
// 全部 401 时，多方法策略返回消息含 "All authentication methods failed" 的
// ErrAuthentication 错误；单方法策略返回携带该方法的 ErrAuthentication 错误。
func (r *StrategyResolver) Execute(ctx context.Context, strategy AuthStrategy, attempt AttemptFunc) error {
	const op = "execute_with_strategy"
	if len(strategy.Methods) == 0 {
		return newConfigurationError(op, "auth strategy has no methods")
	}

	var lastErr error
	for _, method := range strategy.Methods {
		var clientToken string
		if method.usesClientToken() {
			if r.tokens == nil {
				return &ClientError{Kind: ErrConfiguration, Op: op, Method: method, Message: "no client token source"}
			}
			tok, err := r.tokens.GetToken(ctx)
			if err != nil {
				return err
			}
			clientToken = tok
		}

		headers, err := r.BuildAuthHeaders(method, strategy, clientToken)
		if err != nil {
			return err
		}

		err = attempt(ctx, method, headers)
		if err == nil {
			return nil
		}
		if !isUnauthorized(err) {
			return err
		}

		if method.usesClientToken() {
			r.tokens.Invalidate()
		}
		r.logger.Debug("xmiso: auth method rejected, trying next", slog.String("method", string(method)))
		lastErr = err
	}

	if len(strategy.Methods) == 1 {
		return &ClientError{
			Kind:       ErrAuthentication,
			Op:         op,
			StatusCode: http.StatusUnauthorized,
			Method:     strategy.Methods[0],
			Message:    "authentication failed",
			Err:        lastErr,
		}
	}
	return &ClientError{
		Kind:       ErrAuthentication,
		Op:         op,
		StatusCode: http.StatusUnauthorized,
		Message:    "All authentication methods failed",
		Err:        fmt.Errorf("%w: last: %w", ErrAllMethodsFailed, lastErr),
	}
}
