package xmiso

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// maxResponseSize 最大响应体大小（10MB）。
	maxResponseSize = 10 * 1024 * 1024
)

// =============================================================================
// HTTP 传输
// =============================================================================

// transport 面向控制器的 HTTP 传输层。只负责收发，不做认证和熔断。
type transport struct {
	client  *http.Client
	baseURL string
}

func newTransport(baseURL string, timeout time.Duration, client *http.Client) *transport {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: timeout,
		}
	}
	return &transport{client: client, baseURL: baseURL}
}

// response 已完整读取的响应。
type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// send 发送请求并读取完整响应体。
// 任何状态码都返回 response；只有请求无法发出或响应无法读取时返回错误（ErrConnection 种类）。
func (t *transport) send(
	ctx context.Context,
	op, method, path string,
	query url.Values,
	headers http.Header,
	body any,
) (*response, error) {
	bodyReader, err := buildRequestBody(body)
	if err != nil {
		return nil, &ClientError{Kind: ErrConfiguration, Op: op, Message: "encode request body", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, method, t.buildURL(path, query), bodyReader)
	if err != nil {
		return nil, &ClientError{Kind: ErrConfiguration, Op: op, Message: "create request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if bodyReader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, newConnectionError(op, err)
	}
	defer func() { _ = resp.Body.Close() }() //nolint:errcheck // Close 错误无法传播

	// 多读 1 字节用于检测超限
	lr := &io.LimitedReader{R: resp.Body, N: maxResponseSize + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, newConnectionError(op, fmt.Errorf("read response body: %w", err))
	}
	if len(data) > maxResponseSize {
		return nil, &ClientError{Op: op, StatusCode: resp.StatusCode, Err: ErrResponseTooLarge}
	}

	return &response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// buildURL 拼接 baseURL 与 path。path 为绝对 URL 时直接使用。
func (t *transport) buildURL(path string, query url.Values) string {
	u := path
	if !isAbsoluteURL(path) {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		u = t.baseURL + path
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + query.Encode()
	}
	return u
}

// isAbsoluteURL 判断 path 是否为绝对 URL（scheme 大小写不敏感）。
func isAbsoluteURL(path string) bool {
	if len(path) >= 8 && strings.EqualFold(path[:8], "https://") {
		return true
	}
	return len(path) >= 7 && strings.EqualFold(path[:7], "http://")
}

// sanitizePath 去掉查询参数，避免指标高基数。
func sanitizePath(raw string) string {
	if p, _, found := strings.Cut(raw, "?"); found {
		return p
	}
	return raw
}

// buildRequestBody 构建请求体。
// string 和 []byte 原样发送，其余类型 JSON 编码。
// 不接受 io.Reader：认证回退和 401 重试需要重复发送同一请求体。
func buildRequestBody(body any) (io.Reader, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case string:
		return strings.NewReader(v), nil
	case []byte:
		return bytes.NewReader(v), nil
	case io.Reader:
		return nil, fmt.Errorf("io.Reader body is not replayable, pass []byte instead")
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		return bytes.NewReader(data), nil
	}
}

// statusError 将 >= 400 的响应转为 *ClientError。401 归为 ErrAuthentication。
func statusError(op string, resp *response) *ClientError {
	ce := &ClientError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       sanitizeBody(resp.Body),
	}
	if resp.StatusCode == http.StatusUnauthorized {
		ce.Kind = ErrAuthentication
	}

	var er ErrorResponse
	if err := json.Unmarshal(resp.Body, &er); err == nil && (len(er.Errors) > 0 || er.Title != "" || er.Type != "") {
		ce.Response = &er
		ce.Message = er.Title
		if ce.Message == "" && len(er.Errors) > 0 {
			ce.Message = er.Errors[0]
		}
	}
	if ce.Message == "" {
		ce.Message = http.StatusText(resp.StatusCode)
	}
	return ce
}

// decodeResponse 处理响应：>= 400 返回错误，否则将响应体解码到 out。
// 响应体形如 {"data": ...} 时优先解码 data 字段。
func decodeResponse(op string, resp *response, out any) error {
	if resp.StatusCode >= 400 {
		return statusError(op, resp)
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if raw, ok := out.(*[]byte); ok {
		*raw = append((*raw)[:0], resp.Body...)
		return nil
	}
	if err := json.Unmarshal(unwrapData(resp.Body), out); err != nil {
		return &ClientError{Op: op, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

// unwrapData 如果响应是 {"data": {...}} 信封，返回 data 部分。
func unwrapData(body []byte) []byte {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return body
	}
	if d := bytes.TrimSpace(env.Data); len(d) > 0 && d[0] == '{' {
		return d
	}
	return body
}
