package xmiso

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// Format 配置文件格式。
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// 覆盖配置文件的环境变量。
const (
	EnvClientID      = "MISO_CLIENT_ID"
	EnvClientSecret  = "MISO_CLIENT_SECRET" //nolint:gosec // G101: 环境变量名
	EnvControllerURL = "MISO_CONTROLLER_URL"
)

// LoadConfig 从字节数据解析配置，随后应用环境变量覆盖。
// 返回的配置尚未应用默认值，NewClient 会处理。
//
// 配置示例（YAML）：
//
//	controller_url: https://miso.example.com
//	client_id: my-app
//	client_secret: s3cret
//	timeout: 10s
//	breaker:
//	  failure_threshold: 5
//	  reset_timeout: 30s
//	redis:
//	  addr: localhost:6379
func LoadConfig(data []byte, format Format) (*Config, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return nil, fmt.Errorf("xmiso: parse config: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("xmiso: unmarshal config: %w", err)
	}
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// LoadConfigFile 读取配置文件，按扩展名（.yaml/.yml/.json）识别格式。
func LoadConfigFile(path string) (*Config, error) {
	var format Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	case ".json":
		format = FormatJSON
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("xmiso: read config: %w", err)
	}
	return LoadConfig(data, format)
}

// ApplyEnv 用环境变量覆盖凭据与控制器地址。lookup 通常为 os.LookupEnv。
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvClientID); ok && v != "" {
		c.ClientID = v
	}
	if v, ok := lookup(EnvClientSecret); ok && v != "" {
		c.ClientSecret = v
	}
	if v, ok := lookup(EnvControllerURL); ok && v != "" {
		c.ControllerURL = v
	}
}
