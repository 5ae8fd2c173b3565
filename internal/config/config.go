// Package config 应用配置：YAML 文件 + JCP_ 环境变量 + 默认值
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/run-bigpig/jcp-selector/internal/logger"
	"github.com/run-bigpig/jcp-selector/internal/memory"
	"github.com/run-bigpig/jcp-selector/internal/models"
	"github.com/run-bigpig/jcp-selector/internal/pipeline"
	"github.com/run-bigpig/jcp-selector/internal/pkg/paths"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，如 JCP_AI_API_KEY 覆盖 ai.api_key
const EnvPrefix = "JCP"

// 选股服务类型
const (
	ScreenerMemory = "memory"
	ScreenerMCP    = "mcp"
)

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("invalid config")

// Config 应用配置
type Config struct {
	AI        models.AIConfig `mapstructure:"ai"`
	Pipeline  pipeline.Config `mapstructure:"pipeline"`
	Context   memory.Config   `mapstructure:"context"`
	Screener  ScreenerConfig  `mapstructure:"screener"`
	RolesFile string          `mapstructure:"roles_file"` // 覆盖内置角色的 YAML 文件
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ScreenerConfig 选股服务配置
type ScreenerConfig struct {
	Kind         string                 `mapstructure:"kind"`          // memory | mcp
	UniverseFile string                 `mapstructure:"universe_file"` // memory 模式的股票池
	Tool         string                 `mapstructure:"tool"`          // mcp 模式的工具名
	MCP          models.MCPServerConfig `mapstructure:"mcp"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ai.provider", string(models.AIProviderOpenAI))
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", "")
	v.SetDefault("ai.no_system_role", false)
	v.SetDefault("ai.timeout", "90s")

	v.SetDefault("pipeline.result_limit", pipeline.DefaultResultLimit)
	v.SetDefault("pipeline.max_recommendations", models.DefaultMaxRecommendations)
	v.SetDefault("pipeline.criteria_timeout", pipeline.DefaultCriteriaTimeout.String())
	v.SetDefault("pipeline.screen_timeout", pipeline.DefaultScreenTimeout.String())
	v.SetDefault("pipeline.analyze_timeout", pipeline.DefaultAnalyzeTimeout.String())
	v.SetDefault("pipeline.cache_size", pipeline.DefaultCacheSize)
	v.SetDefault("pipeline.cache_ttl", pipeline.DefaultCacheTTL.String())

	v.SetDefault("context.max_context_messages", memory.DefaultMaxContextMessages)
	v.SetDefault("context.min_messages_after_compression", memory.DefaultMinMessagesAfterCompression)
	v.SetDefault("context.important_messages_count", memory.DefaultImportantMessagesCount)
	v.SetDefault("context.summary_input_chars", memory.DefaultSummaryInputChars)

	v.SetDefault("screener.kind", ScreenerMemory)
	v.SetDefault("screener.universe_file", "")
	v.SetDefault("screener.tool", "")
	v.SetDefault("screener.mcp.id", "screener")
	v.SetDefault("screener.mcp.name", "选股服务")
	v.SetDefault("screener.mcp.enabled", true)
	v.SetDefault("screener.mcp.transport", string(models.MCPTransportHTTP))
	v.SetDefault("screener.mcp.endpoint", "")
	v.SetDefault("screener.mcp.command", "")
	v.SetDefault("screener.mcp.args", []string{})
	v.SetDefault("screener.mcp.tool_filter", []string{})

	v.SetDefault("roles_file", "")
	v.SetDefault("logging.level", "info")
}

// Load 加载配置；path 为空时在默认目录中查找 config.yaml，找不到则只使用默认值与环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(paths.ExpandHome(path))
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		for _, dir := range paths.ConfigSearchPaths() {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Screener.Kind = strings.ToLower(strings.TrimSpace(cfg.Screener.Kind))
	cfg.RolesFile = paths.ExpandHome(cfg.RolesFile)
	cfg.Screener.UniverseFile = paths.ExpandHome(cfg.Screener.UniverseFile)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error

	switch c.AI.Provider {
	case models.AIProviderGemini, models.AIProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("ai.provider: unsupported %q", c.AI.Provider))
	}

	switch c.Screener.Kind {
	case ScreenerMemory:
	case ScreenerMCP:
		mcp := c.Screener.MCP
		switch mcp.TransportType {
		case models.MCPTransportHTTP, models.MCPTransportSSE:
			if mcp.Endpoint == "" {
				errs = append(errs, errors.New("screener.mcp.endpoint: required for http/sse transport"))
			}
		case models.MCPTransportCommand:
			if mcp.Command == "" {
				errs = append(errs, errors.New("screener.mcp.command: required for command transport"))
			}
		default:
			errs = append(errs, fmt.Errorf("screener.mcp.transport: unsupported %q", mcp.TransportType))
		}
	default:
		errs = append(errs, fmt.Errorf("screener.kind: unsupported %q", c.Screener.Kind))
	}

	if c.Context.MinMessagesAfterCompression >= c.Context.MaxContextMessages {
		errs = append(errs, fmt.Errorf("context.min_messages_after_compression (%d) must be below max_context_messages (%d)",
			c.Context.MinMessagesAfterCompression, c.Context.MaxContextMessages))
	}
	if c.Pipeline.ResultLimit > pipeline.MaxResultLimit {
		errs = append(errs, fmt.Errorf("pipeline.result_limit: at most %d", pipeline.MaxResultLimit))
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ApplyLogging 按配置设置全局日志级别
func (c *Config) ApplyLogging() error {
	level, err := logger.ParseLevel(c.Logging.Level)
	if err != nil {
		return err
	}
	logger.SetGlobalLevel(level)
	return nil
}
