package xclaims

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrEmptyToken 表示传入的 token 为空。
	ErrEmptyToken = errors.New("xclaims: empty token")

	// ErrMalformedToken 表示 token 不是可解析的 JWT。
	ErrMalformedToken = errors.New("xclaims: malformed token")
)

// userIDKeys 用户标识声明的查找顺序。
var userIDKeys = []string{"sub", "userId", "user_id", "id"}

// refreshTokenKeys 内嵌 refresh token 声明的查找顺序。
var refreshTokenKeys = []string{"refreshToken", "refresh_token", "rt"}

// Claims 是未验签的 JWT 声明集合。
type Claims struct {
	raw jwt.MapClaims
}

// Peek 解析 JWT payload，不校验签名。
func Peek(token string) (*Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return nil, ErrEmptyToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}
	return &Claims{raw: claims}, nil
}

// ExpiresAt 返回 exp 声明。没有 exp 时 ok 为 false。
func (c *Claims) ExpiresAt() (time.Time, bool) {
	if c == nil {
		return time.Time{}, false
	}
	exp, err := c.raw.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// ExpiresWithin 判断 token 是否已过期或将在 buffer 内过期。
// 没有 exp 声明的 token 视为不过期。
func (c *Claims) ExpiresWithin(buffer time.Duration, now time.Time) bool {
	exp, ok := c.ExpiresAt()
	if !ok {
		return false
	}
	return !now.Add(buffer).Before(exp)
}

// UserID 按 sub、userId、user_id、id 的顺序返回第一个非空的用户标识。
func (c *Claims) UserID() string {
	return c.firstString(userIDKeys)
}

// RefreshToken 返回 token 内嵌的 refresh token（refreshToken、refresh_token、rt）。
func (c *Claims) RefreshToken() string {
	return c.firstString(refreshTokenKeys)
}

// String 返回任意字符串声明。
func (c *Claims) String(key string) string {
	if c == nil {
		return ""
	}
	return stringValue(c.raw[key])
}

// Map 返回声明的副本。
func (c *Claims) Map() map[string]any {
	if c == nil {
		return nil
	}
	out := make(map[string]any, len(c.raw))
	for k, v := range c.raw {
		out[k] = v
	}
	return out
}

func (c *Claims) firstString(keys []string) string {
	if c == nil {
		return ""
	}
	for _, k := range keys {
		if v := stringValue(c.raw[k]); v != "" {
			return v
		}
	}
	return ""
}

// stringValue 将声明值转换为字符串。
// 数字型用户 ID（JSON 解码为 float64）按整数格式输出。
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}
