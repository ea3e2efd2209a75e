// misoctl 是 miso 控制器客户端的命令行工具，用于排查凭据、认证策略和审计投递。
//
// 用法:
//
//	misoctl [全局选项] <命令> [命令参数]
//
// 全局选项:
//
//	-c, --config     配置文件路径（.yaml/.yml/.json），可用 MISO_CONFIG 指定
//	-t, --timeout    单个命令超时时间（默认: 30s）
//	    --log-file   日志文件路径，按大小轮转；为空时输出到 stderr
//	    --log-level  日志级别（debug/info/warn/error，默认: warn）
//
// 命令:
//
//	token          获取客户端 Token 并输出有效期
//	request <路径>  以客户端 Token、用户 Token 或认证策略调用控制器
//	roles <token>  并发查询用户角色与权限
//	audit <消息>    写入一条审计日志并等待投递完成
//
// 退出码:
//
//	0: 成功
//	1: 命令执行失败
//	2: 参数错误
//
// 示例:
//
//	misoctl -c miso.yaml token
//	misoctl -c miso.yaml request /api/v1/auth/roles --bearer "$USER_TOKEN"
//	misoctl -c miso.yaml request /api/v1/data --auth bearer,api-key --bearer "$T" --api-key "$K"
//	misoctl -c miso.yaml audit --level warn --user u1 user.login failed
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
)

// defaultTimeout 默认命令超时时间。
const defaultTimeout = 30 * time.Second

// 版本信息（可通过 -ldflags 注入）。
var (
	Version   = "0.1.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// createApp 创建 CLI 应用。
func createApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "misoctl",
		Usage:     "miso 控制器客户端命令行工具",
		Version:   fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（.yaml/.yml/.json）",
				Sources: cli.EnvVars("MISO_CONFIG"),
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "单个命令超时时间",
				Value:   defaultTimeout,
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "日志文件路径，为空时输出到 stderr",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "日志级别（debug/info/warn/error）",
				Value: "warn",
			},
		},
		Commands: createCommands(),
		// 退出码由 run() 统一映射
		ExitErrHandler: func(_ context.Context, cmd *cli.Command, err error) {
			if _, ok := err.(cli.ExitCoder); ok {
				fmt.Fprintln(cmd.Root().ErrWriter, err)
			}
		},
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := createApp(stdout, stderr).Run(ctx, args); err != nil {
		var usageErr *usageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(stderr, "参数错误: %v\n", usageErr)
			return 2
		}
		fmt.Fprintf(stderr, "错误: %v\n", err)
		return 1
	}
	return 0
}
