// Package xcache 提供两级缓存服务：远程共享层（Redis）+ 进程内本地层。
//
// # 读写策略
//
//   - Get：远程层可达时优先读远程；远程不可达、出错或未命中时回落到本地层
//   - Set：远程层尽力写入（失败仅记录日志），本地层无条件写入
//   - Delete：两层同时删除，任一层存在即返回 true
//   - Clear：只清空本地层，不对共享的远程层做批量删除
//
// # 序列化
//
// 值以带标签的信封编码：
//
//	{"kind":"raw","type":"int","payload":42}
//	{"kind":"structured","payload":{"roles":["admin"]}}
//
// raw 保留标量的 Go 类型，structured 按 JSON 自然类型解码
// （map[string]any、[]any、float64）。需要具体类型时使用 GetInto / GetAs。
//
// # 过期
//
// 本地条目携带绝对过期时间，Get 时惰性淘汰；本地条目数超过 CleanupThreshold 后，
// 下一次 Set 会先清扫全部过期条目。远程层依赖 Redis TTL。
package xcache
