package xaudit

import "time"

// Entry 一条审计日志。JSON 字段名与控制器日志接口一致。
type Entry struct {
	Timestamp     time.Time      `json:"timestamp"`
	Level         string         `json:"level"`
	Message       string         `json:"message"`
	Context       map[string]any `json:"context,omitempty"`
	StackTrace    string         `json:"stackTrace,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	RequestID     string         `json:"requestId,omitempty"`
	SessionID     string         `json:"sessionId,omitempty"`
	IPAddress     string         `json:"ipAddress,omitempty"`
	UserAgent     string         `json:"userAgent,omitempty"`
	RequestSize   int64          `json:"requestSize,omitempty"`
	UserID        string         `json:"userId,omitempty"`
	ApplicationID string         `json:"applicationId,omitempty"`
	Environment   string         `json:"environment,omitempty"`
	Application   string         `json:"application,omitempty"`
}

// withoutAmbient 返回去掉 Environment/Application 的副本。
func (e Entry) withoutAmbient() Entry {
	e.Environment = ""
	e.Application = ""
	return e
}

// queued 队列中的条目。
type queued struct {
	entry      Entry
	enqueuedAt time.Time
}
