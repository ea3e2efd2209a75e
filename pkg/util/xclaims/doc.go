// Package xclaims 提供 JWT 的"未验签声明窥视"（unverified claim peek）。
//
// 仅解析 payload，不校验签名、不校验过期时间。
// 用途限定为：读取 exp 判断是否需要刷新、提取用户标识派生缓存 key、
// 读取内嵌的 refresh token。
//
// 严禁将 Peek 的结果用于任何授权决策。授权必须交由控制器校验。
package xclaims
