// Package storage 提供数据存储相关的子包。
//
// 子包列表：
//   - xcache: 两级缓存，Redis 远程层加进程内本地层，远程不可用时自动降级
//
// 设计原则：
//   - 缓存失败不向调用方传播，只影响命中率
//   - 远程层可选，未配置时退化为纯本地缓存
package storage
