package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/omeyang/xmiso/pkg/business/xmiso"
	"github.com/omeyang/xmiso/pkg/storage/xcache"

	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v3"
	"gopkg.in/natefinch/lumberjack.v2"
)

// 日志文件轮转参数。
const (
	logMaxSizeMB  = 100
	logMaxBackups = 5
	logMaxAgeDays = 14
)

// redisPingTimeout 启动时探测 Redis 的超时时间。
const redisPingTimeout = 2 * time.Second

// session 单个命令的运行环境：日志、配置、Redis 与客户端。
type session struct {
	config *xmiso.Config
	client *xmiso.Client
	redis  redis.UniversalClient
	logger *slog.Logger
	out    io.Writer

	logFile io.Closer
}

// openSession 按全局选项构建运行环境。调用方负责 Close。
func openSession(ctx context.Context, cmd *cli.Command) (*session, error) {
	root := cmd.Root()
	logger, logFile, err := newLogger(root.String("log-file"), root.String("log-level"), root.ErrWriter)
	if err != nil {
		return nil, err
	}
	s := &session{logger: logger, logFile: logFile, out: root.Writer}

	cfg, err := loadConfig(root.String("config"))
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	s.config = cfg

	cacheOpts := []xcache.Option{xcache.WithLogger(logger)}
	if cfg.Redis.Addr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		var redisOpts []xcache.RedisOption
		if cfg.Redis.KeyPrefix != "" {
			redisOpts = append(redisOpts, xcache.WithKeyPrefix(cfg.Redis.KeyPrefix))
		}
		remote, err := xcache.NewRedisRemote(s.redis, redisOpts...)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		if err := remote.Ping(pingCtx); err != nil {
			logger.Warn("redis unavailable, using local cache only", slog.String("addr", cfg.Redis.Addr), slog.Any("error", err))
		}
		cancel()
		cacheOpts = append(cacheOpts, xcache.WithRemote(remote))
	}

	client, err := xmiso.NewClient(cfg,
		xmiso.WithLogger(logger),
		xmiso.WithCache(xcache.New(cacheOpts...)),
	)
	if err != nil {
		s.Close(ctx)
		return nil, &usageError{msg: err.Error()}
	}
	s.client = client
	return s, nil
}

// Close 释放客户端、Redis 连接与日志文件。
func (s *session) Close(ctx context.Context) {
	var errs []error
	if s.client != nil {
		errs = append(errs, s.client.Close(ctx))
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn("close session", slog.Any("error", err))
	}
	if s.logFile != nil {
		_ = s.logFile.Close() //nolint:errcheck // 退出前关闭，错误无处上报
	}
}

// loadConfig 读取配置文件；未指定时只使用环境变量。
func loadConfig(path string) (*xmiso.Config, error) {
	if path == "" {
		cfg := &xmiso.Config{}
		cfg.ApplyEnv(os.LookupEnv)
		return cfg, nil
	}
	cfg, err := xmiso.LoadConfigFile(path)
	if err != nil {
		if errors.Is(err, xmiso.ErrUnsupportedFormat) {
			return nil, &usageError{msg: err.Error()}
		}
		return nil, err
	}
	return cfg, nil
}

// newLogger 创建 JSON 日志。path 非空时写入按大小轮转的文件。
func newLogger(path, level string, stderr io.Writer) (*slog.Logger, io.Closer, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, &usageError{msg: fmt.Sprintf("无效的日志级别 %q", level)}
	}

	var (
		w      = stderr
		closer io.Closer
	)
	if path != "" {
		lj := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
			Compress:   true,
		}
		w, closer = lj, lj
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), closer, nil
}
