package xaudit

import (
	"context"
	"log/slog"
	"strings"
)

// 日志属性中映射到 Entry 专用字段的 key，其余属性进入 Entry.Context。
const (
	AttrCorrelationID = "correlation_id"
	AttrRequestID     = "request_id"
	AttrSessionID     = "session_id"
	AttrUserID        = "user_id"
	AttrApplicationID = "application_id"
	AttrIPAddress     = "ip"
	AttrUserAgent     = "user_agent"
	AttrRequestSize   = "request_size"
	AttrStackTrace    = "stack_trace"
)

// HandlerOption 配置 Handler。
type HandlerOption func(*handlerConfig)

type handlerConfig struct {
	level       slog.Leveler
	environment string
	application string
}

// WithHandlerLevel 设置最低入队级别，默认 slog.LevelInfo。
func WithHandlerLevel(level slog.Leveler) HandlerOption {
	return func(c *handlerConfig) {
		if level != nil {
			c.level = level
		}
	}
}

// WithEnvironment 设置写入每个条目的 Environment。
func WithEnvironment(env string) HandlerOption {
	return func(c *handlerConfig) {
		c.environment = env
	}
}

// WithApplication 设置写入每个条目的 Application。
func WithApplication(app string) HandlerOption {
	return func(c *handlerConfig) {
		c.application = app
	}
}

// Handler 把 slog 记录转换为审计条目入队的 slog.Handler。
type Handler struct {
	queue  *Queue
	cfg    handlerConfig
	attrs  []slog.Attr
	groups []string
}

// NewHandler 创建写入 queue 的 slog.Handler。
func NewHandler(queue *Queue, opts ...HandlerOption) *Handler {
	cfg := handlerConfig{level: slog.LevelInfo}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Handler{queue: queue, cfg: cfg}
}

// Enabled 实现 slog.Handler。
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

// Handle 实现 slog.Handler。队列关闭后静默丢弃。
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	entry := Entry{
		Timestamp:   r.Time,
		Level:       strings.ToLower(r.Level.String()),
		Message:     r.Message,
		Environment: h.cfg.environment,
		Application: h.cfg.application,
	}
	ctxMap := make(map[string]any)

	for _, a := range h.attrs {
		h.apply(&entry, ctxMap, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.apply(&entry, ctxMap, h.qualify(a))
		return true
	})
	if len(ctxMap) > 0 {
		entry.Context = ctxMap
	}

	_ = h.queue.Add(entry) //nolint:errcheck // 审计通道不向日志调用方报错
	return nil
}

// WithAttrs 实现 slog.Handler。
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	h2.attrs = append(h2.attrs, h.attrs...)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, h.qualify(a))
	}
	return &h2
}

// WithGroup 实现 slog.Handler。
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}

// qualify 为属性加上当前分组前缀。
func (h *Handler) qualify(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 {
		return a
	}
	return slog.Group(strings.Join(h.groups, "."), a)
}

func (h *Handler) apply(e *Entry, ctxMap map[string]any, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key == "" {
			for _, ga := range a.Value.Group() {
				h.apply(e, ctxMap, ga)
			}
			return
		}
		g := groupValue(a.Value.Group())
		if prev, ok := ctxMap[a.Key].(map[string]any); ok {
			for k, v := range g {
				prev[k] = v
			}
			return
		}
		ctxMap[a.Key] = g
		return
	}

	s := a.Value.String()
	switch a.Key {
	case AttrCorrelationID:
		e.CorrelationID = s
	case AttrRequestID:
		e.RequestID = s
	case AttrSessionID:
		e.SessionID = s
	case AttrUserID:
		e.UserID = s
	case AttrApplicationID:
		e.ApplicationID = s
	case AttrIPAddress:
		e.IPAddress = s
	case AttrUserAgent:
		e.UserAgent = s
	case AttrStackTrace:
		e.StackTrace = s
	case AttrRequestSize:
		if a.Value.Kind() == slog.KindInt64 {
			e.RequestSize = a.Value.Int64()
		}
	default:
		ctxMap[a.Key] = a.Value.Any()
	}
}

func groupValue(attrs []slog.Attr) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, a := range attrs {
		v := a.Value.Resolve()
		if v.Kind() == slog.KindGroup {
			m[a.Key] = groupValue(v.Group())
			continue
		}
		m[a.Key] = v.Any()
	}
	return m
}
