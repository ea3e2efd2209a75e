// Package observability 提供可观测性相关的子包。
//
// 子包列表：
//   - xaudit: 审计日志批量队列，Redis 列表优先、控制器 HTTP 回退，附带 slog.Handler
//
// 客户端请求级指标与追踪直接使用 OpenTelemetry，见 business/xmiso。
package observability
