// Package xlru 提供带 TTL 的有界 LRU 缓存。
//
// 基于 github.com/hashicorp/golang-lru/v2/expirable，补充两项能力：
//
//   - Close 停止底层的过期清理 goroutine
//   - RemoveFunc 按谓词批量删除（例如清除某个用户的全部条目）
//
// 用法：
//
//	c, err := xlru.New[string, string](xlru.Config{Size: 1024, TTL: time.Minute})
//	if err != nil { ... }
//	defer c.Close()
//	c.Set("old-token", "new-token")
//
// # 已知限制
//
//   - Len/Keys 可能包含已过期但尚未清理的条目，Get/Peek 会过滤
//   - Close 通过 reflect+unsafe 访问底层未导出字段，升级 golang-lru 时需验证
package xlru
