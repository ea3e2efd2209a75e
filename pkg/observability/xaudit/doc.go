// Package xaudit 提供审计日志批量投递队列。
//
// # 投递路径
//
// Queue 将条目缓存在内存中，按批投递：
//
//   - 主路径：ListPusher 可用时，RPUSH 到 audit-logs:{clientId}
//   - 回退路径：ListPusher 不可用或推送失败时，调用 BatchSender
//     （通常是 xmiso.Client.SendLogBatch，POST /api/v1/logs/batch）
//
// 回退路径提交前会去掉 Environment 和 Application 字段。
// 所有投递错误只记录日志，不会返回给调用方。
//
// # 触发条件
//
//   - 队列长度达到 BatchSize：立即后台刷新
//   - 否则首个条目入队后 BatchInterval 触发一次定时刷新
//   - 显式调用 Flush / FlushAsync
//
// 同一时刻只有一个刷新在执行，刷新中到达的 Flush 调用直接返回。
//
// # 关闭
//
// 队列不安装信号处理器。宿主应用在自身的优雅关闭流程中调用 Shutdown：
// 取消定时器、等待进行中的刷新、同步投递剩余条目，之后的 Add 返回 ErrClosed。
//
// # 与 slog 集成
//
// NewHandler 返回 slog.Handler，把日志记录转换为审计条目入队：
//
//	logger := slog.New(xaudit.NewHandler(queue, xaudit.WithHandlerLevel(slog.LevelInfo)))
//	logger.Info("user login", slog.String("user_id", "u1"))
package xaudit
