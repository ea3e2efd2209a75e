// Package xbreaker 提供面向单个下游依赖的熔断器。
//
// # 状态机
//
//   - StateClosed（关闭）：初始状态，失败被计数
//   - StateOpen（打开）：连续失败达到阈值后进入，调用方应快速失败
//   - StateHalfOpen（半开）：打开超过 ResetTimeout 后进入，只放行一次探测
//
// 半开状态下下一次成功回到 Closed，下一次失败重新 Open。
//
// # 决策函数
//
// Breaker 本身从不返回错误，也不执行调用。调用方自行决定是否在发起请求前
// 调用 IsOpen，并在请求结束后调用 RecordSuccess / RecordFailure 上报结果。
//
// 底层状态机基于 [sony/gobreaker/v2] 的 TwoStepCircuitBreaker。
//
// [sony/gobreaker/v2]: https://github.com/sony/gobreaker
package xbreaker
