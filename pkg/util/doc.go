// Package util 提供通用工具相关的子包。
//
// 子包列表：
//   - xclaims: 未验签读取 JWT 声明（exp、用户 ID、内嵌 refresh token）
//   - xkeylock: 基于 key 的进程内互斥锁，支持 context 取消，条目随释放回收
//   - xlru: LRU 缓存，泛型支持、自动 TTL 过期
package util
