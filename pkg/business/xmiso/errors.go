package xmiso

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// =============================================================================
// 错误种类
// =============================================================================

var (
	// ErrClient 所有 *ClientError 都满足 errors.Is(err, ErrClient)。
	ErrClient = errors.New("xmiso: client error")

	// ErrAuthentication Token 获取失败、认证方法耗尽或请求返回 401。
	ErrAuthentication = errors.New("xmiso: authentication failed")

	// ErrConnection 无法连接控制器，或熔断器处于打开状态。
	ErrConnection = errors.New("xmiso: connection failed")

	// ErrConfiguration 缺少凭据或认证策略不合法。
	ErrConfiguration = errors.New("xmiso: configuration error")

	// ErrCircuitOpen 熔断器打开，请求未发出。
	ErrCircuitOpen = errors.New("xmiso: circuit breaker open")

	// ErrAllMethodsFailed 多方法认证策略中每个方法都返回 401。
	ErrAllMethodsFailed = errors.New("xmiso: All authentication methods failed")
)

// =============================================================================
// 配置错误
// =============================================================================

var (
	// ErrNilConfig 表示传入的配置为 nil。
	ErrNilConfig = errors.New("xmiso: nil config")

	// ErrMissingControllerURL 表示控制器地址未配置。
	ErrMissingControllerURL = errors.New("xmiso: missing controller url")

	// ErrInvalidControllerURL 表示控制器地址格式无效。
	ErrInvalidControllerURL = errors.New("xmiso: invalid controller url: must include scheme and host")

	// ErrInsecureControllerURL 表示控制器地址使用了 http:// 但未允许。
	ErrInsecureControllerURL = errors.New("xmiso: controller url must use https:// (set AllowInsecure=true for development)")

	// ErrMissingCredentials 表示 client id 或 client secret 未配置。
	ErrMissingCredentials = errors.New("xmiso: missing client credentials")

	// ErrInvalidTimeout 表示超时配置无效。
	ErrInvalidTimeout = errors.New("xmiso: invalid timeout")

	// ErrUnsupportedFormat 表示配置格式不受支持。
	ErrUnsupportedFormat = errors.New("xmiso: unsupported config format")
)

// =============================================================================
// 请求错误
// =============================================================================

var (
	// ErrNilRequest 表示传入的请求为 nil。
	ErrNilRequest = errors.New("xmiso: nil request")

	// ErrClientClosed 表示客户端已关闭。
	ErrClientClosed = errors.New("xmiso: client closed")

	// ErrMissingToken 表示未提供用户 Token。
	ErrMissingToken = errors.New("xmiso: missing token")

	// ErrResponseTooLarge 表示响应体超过最大限制。
	ErrResponseTooLarge = errors.New("xmiso: response body exceeds maximum size limit")

	// ErrUnauthorized 表示 401。
	ErrUnauthorized = errors.New("xmiso: unauthorized")

	// ErrForbidden 表示 403。
	ErrForbidden = errors.New("xmiso: forbidden")

	// ErrNotFound 表示 404。
	ErrNotFound = errors.New("xmiso: not found")

	// ErrServerError 表示 5xx。
	ErrServerError = errors.New("xmiso: server error")
)

// =============================================================================
// ClientError
// =============================================================================

// ErrorResponse 控制器返回的结构化错误体。
type ErrorResponse struct {
	Errors        []string `json:"errors,omitempty"`
	Type          string   `json:"type,omitempty"`
	Title         string   `json:"title,omitempty"`
	StatusCode    int      `json:"statusCode,omitempty"`
	Instance      string   `json:"instance,omitempty"`
	CorrelationID string   `json:"correlationId,omitempty"`
}

// ClientError 客户端操作失败时返回的错误。
//
// errors.Is 可以匹配：
//   - ErrClient
//   - Kind（ErrAuthentication / ErrConnection / ErrConfiguration）
//   - 状态码哨兵（ErrUnauthorized / ErrForbidden / ErrNotFound / ErrServerError）
//   - Err 链上的任意错误
type ClientError struct {
	// Kind 错误种类，nil 表示通用客户端错误。
	Kind error

	// Op 失败的操作，例如 "get_token"、"request"。
	Op string

	// Message 可读描述。
	Message string

	// StatusCode HTTP 状态码，未收到响应时为 0。
	StatusCode int

	// Body 脱敏并截断后的响应体。
	Body string

	// Response 解析出的结构化错误体，无法解析时为 nil。
	Response *ErrorResponse

	// Method 认证策略中失败的方法。
	Method AuthMethod

	// Err 底层原因。
	Err error
}

func (e *ClientError) Error() string {
	var b strings.Builder
	b.WriteString("xmiso: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = strings.TrimPrefix(e.Kind.Error(), "xmiso: ")
	}
	if msg == "" {
		msg = "request failed"
	}
	b.WriteString(msg)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status=%d)", e.StatusCode)
	}
	if e.Method != "" {
		fmt.Fprintf(&b, " (method=%s)", e.Method)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// Is 实现 errors.Is。
func (e *ClientError) Is(target error) bool {
	if target == ErrClient {
		return true
	}
	if e.Kind != nil && target == e.Kind {
		return true
	}
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return target == ErrUnauthorized
	case e.StatusCode == http.StatusForbidden:
		return target == ErrForbidden
	case e.StatusCode == http.StatusNotFound:
		return target == ErrNotFound
	case e.StatusCode >= 500:
		return target == ErrServerError
	}
	return false
}

// Retryable 连接错误和 5xx 可重试，熔断打开不可重试。
func (e *ClientError) Retryable() bool {
	if errors.Is(e.Err, ErrCircuitOpen) {
		return false
	}
	return e.Kind == ErrConnection || e.StatusCode >= 500
}

// IsRetryable 检查错误是否可重试。
//
// 规则：
//   - nil：不重试
//   - *ClientError：按 Retryable 判断
//   - 其他错误：不重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return false
}

// isUnauthorized 检查是否为 401。
func isUnauthorized(err error) bool {
	return err != nil && errors.Is(err, ErrUnauthorized)
}

// =============================================================================
// 辅助函数
// =============================================================================

// maxErrorBody 错误体保留的最大字节数。
const maxErrorBody = 1024

var secretFields = regexp.MustCompile(`(?i)"(token|accessToken|refreshToken|refresh_token|clientSecret|client_secret|secret|password|apiKey|api_key)"\s*:\s*"[^"]*"`)

// sanitizeBody 遮蔽敏感字段并截断。
func sanitizeBody(body []byte) string {
	s := secretFields.ReplaceAllString(string(body), `"$1":"***"`)
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "...(truncated)"
	}
	return s
}

func newConnectionError(op string, err error) *ClientError {
	return &ClientError{Kind: ErrConnection, Op: op, Message: "controller unreachable", Err: err}
}

func newConfigurationError(op, msg string) *ClientError {
	return &ClientError{Kind: ErrConfiguration, Op: op, Message: msg}
}
