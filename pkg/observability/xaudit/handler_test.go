package xaudit

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_MapsFields(t *testing.T) {
	sender := &recordingSender{}
	q := New("c1", WithBatchSender(sender), WithBatchInterval(time.Hour))
	defer shutdown(t, q)

	logger := slog.New(NewHandler(q, WithEnvironment("prod"), WithApplication("svc")))
	logger.With(slog.String(AttrUserID, "u1")).Warn("login failed",
		slog.String(AttrCorrelationID, "corr-1"),
		slog.String(AttrRequestID, "req-1"),
		slog.String(AttrIPAddress, "10.0.0.1"),
		slog.String(AttrUserAgent, "curl"),
		slog.Int64(AttrRequestSize, 512),
		slog.String("reason", "bad password"),
	)
	require.Equal(t, 1, q.Len())
	q.Flush(context.Background())

	e := sender.Batches()[0][0]
	assert.Equal(t, "warn", e.Level)
	assert.Equal(t, "login failed", e.Message)
	assert.Equal(t, "u1", e.UserID)
	assert.Equal(t, "corr-1", e.CorrelationID)
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, "10.0.0.1", e.IPAddress)
	assert.Equal(t, "curl", e.UserAgent)
	assert.Equal(t, int64(512), e.RequestSize)
	assert.Equal(t, map[string]any{"reason": "bad password"}, e.Context)
	// HTTP 回退路径去掉了环境字段
	assert.Empty(t, e.Environment)
}

func TestHandler_Level(t *testing.T) {
	q := New("c1", WithBatchInterval(time.Hour))
	defer shutdown(t, q)

	h := NewHandler(q, WithHandlerLevel(slog.LevelWarn))
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))

	slog.New(h).Info("ignored")
	assert.Equal(t, 0, q.Len())
}

func TestHandler_Groups(t *testing.T) {
	sender := &recordingSender{}
	q := New("c1", WithBatchSender(sender), WithBatchInterval(time.Hour))
	defer shutdown(t, q)

	logger := slog.New(NewHandler(q)).WithGroup("http").With(slog.String("method", "GET"))
	logger.Info("request", slog.Int("status", 200), slog.Group("peer", slog.String("addr", "1.2.3.4")))
	q.Flush(context.Background())

	e := sender.Batches()[0][0]
	assert.Equal(t, map[string]any{
		"http": map[string]any{
			"method": "GET",
			"status": int64(200),
			"peer":   map[string]any{"addr": "1.2.3.4"},
		},
	}, e.Context)
}

func TestHandler_ClosedQueueIsSilent(t *testing.T) {
	q := New("c1")
	require.NoError(t, q.Shutdown(context.Background()))

	h := NewHandler(q)
	assert.NoError(t, h.Handle(context.Background(), slog.NewRecord(time.Now(), slog.LevelInfo, "x", 0)))
}
