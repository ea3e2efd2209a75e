// Package xmiso 提供访问 miso 控制器的弹性客户端。
//
// # 组成
//
//   - TokenManager：客户端凭据 Token 的获取、缓冲期刷新与失效，并发获取合并为一次
//   - StrategyResolver：按 AuthStrategy 顺序尝试 bearer / client-token / api-key，401 时回退
//   - UserTokenRefresher：终端用户 Token 的按用户串行刷新
//   - Client：组合以上组件与熔断器（xbreaker）、缓存（xcache），每次请求记录熔断结果
//
// 审计日志队列见 xaudit，Client 实现了 xaudit.BatchSender。
//
// # 快速开始
//
//	cfg, err := xmiso.LoadConfigFile("miso.yaml")
//	if err != nil { ... }
//	client, err := xmiso.NewClient(cfg, xmiso.WithLogger(logger))
//	if err != nil { ... }
//	defer client.Close(ctx)
//
//	// 以应用身份调用
//	err = client.Request(ctx, &xmiso.Request{Method: http.MethodGet, Path: "/api/v1/apps", Response: &apps})
//
//	// 以用户身份调用，必要时先刷新用户 Token
//	err = client.AuthenticatedRequest(ctx, bearer, &xmiso.Request{Path: "/api/v1/me", Response: &me})
//
//	// 多方法回退
//	err = client.ExecuteWithStrategy(ctx, xmiso.AuthStrategy{
//	    Methods: []xmiso.AuthMethod{xmiso.MethodBearer, xmiso.MethodAPIKey},
//	    BearerToken: bearer,
//	    APIKey:      apiKey,
//	}, req)
//
// # 错误处理
//
// 所有失败返回 *ClientError，可用 errors.Is 区分种类：
//
//	errors.Is(err, xmiso.ErrAuthentication) // Token 获取失败、401、认证方法耗尽
//	errors.Is(err, xmiso.ErrConnection)     // 网络错误或熔断器打开
//	errors.Is(err, xmiso.ErrCircuitOpen)    // 熔断器打开，请求未发出
//	errors.Is(err, xmiso.ErrConfiguration)  // 缺少凭据
//
// # 熔断
//
// 2xx-4xx 记为成功，连接错误和 5xx 记为失败。默认熔断器打开时直接返回
// ErrCircuitOpen，WithFailFast(false) 关闭该行为。多个 Client 可通过 WithBreaker
// 共享同一个熔断器；注入的熔断器不会自动接入本包的状态变化指标。
//
// # 安全
//
// 用户 Token 的 claim 只做未验证读取（xclaims.Peek），用于判断是否需要刷新和
// 派生缓存 key，绝不用于授权判断。
package xmiso
