// Package app 根据配置组装角色目录、模型、选股服务、流水线与对话服务
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/run-bigpig/jcp-selector/internal/adk"
	mcpx "github.com/run-bigpig/jcp-selector/internal/adk/mcp"
	"github.com/run-bigpig/jcp-selector/internal/analyst"
	"github.com/run-bigpig/jcp-selector/internal/config"
	"github.com/run-bigpig/jcp-selector/internal/logger"
	"github.com/run-bigpig/jcp-selector/internal/memory"
	"github.com/run-bigpig/jcp-selector/internal/models"
	"github.com/run-bigpig/jcp-selector/internal/pipeline"
	"github.com/run-bigpig/jcp-selector/internal/roles"
	"github.com/run-bigpig/jcp-selector/internal/screener"

	"google.golang.org/adk/model"
)

var log = logger.New("App")

// ModelCreationTimeout 模型创建的最大时长
const ModelCreationTimeout = 10 * time.Second

// App 组装完成的应用
type App struct {
	Config   *config.Config
	Catalog  *roles.Catalog
	Invoker  adk.Invoker
	Screener screener.Service
	Pipeline *pipeline.Pipeline
	Memory   *memory.Manager
	Analyst  *analyst.Service

	mcp *mcpx.Manager
}

type options struct {
	llm      model.LLM
	mcpOpts  []mcpx.Option
	progress pipeline.ProgressCallback
}

// Option 组装选项
type Option func(*options)

// WithLLM 使用给定模型，跳过按配置创建
func WithLLM(llm model.LLM) Option {
	return func(o *options) { o.llm = llm }
}

// WithMCPOptions 传递 MCP 管理器选项
func WithMCPOptions(opts ...mcpx.Option) Option {
	return func(o *options) { o.mcpOpts = append(o.mcpOpts, opts...) }
}

// WithProgress 订阅流水线进度事件
func WithProgress(cb pipeline.ProgressCallback) Option {
	return func(o *options) { o.progress = cb }
}

// New 按配置组装应用
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.ApplyLogging(); err != nil {
		return nil, err
	}

	catalog, err := loadCatalog(cfg.RolesFile)
	if err != nil {
		return nil, err
	}

	llm := o.llm
	if llm == nil {
		modelCtx, cancel := context.WithTimeout(ctx, ModelCreationTimeout)
		llm, err = adk.NewModelFactory().CreateModel(modelCtx, &cfg.AI)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("create model: %w", err)
		}
	}
	invoker := adk.NewModelInvoker(llm, cfg.AI.Timeout)

	a := &App{Config: cfg, Catalog: catalog, Invoker: invoker}
	if a.Screener, err = a.buildScreener(o.mcpOpts); err != nil {
		return nil, err
	}

	var pipeOpts []pipeline.Option
	if o.progress != nil {
		pipeOpts = append(pipeOpts, pipeline.WithProgress(o.progress))
	}
	a.Pipeline = pipeline.New(catalog, invoker, a.Screener, cfg.Pipeline, pipeOpts...)

	summarizer, err := analyst.NewSummarizer(catalog, invoker)
	if err != nil {
		return nil, err
	}
	a.Memory = memory.NewManager(cfg.Context, summarizer)
	a.Analyst = analyst.NewService(catalog, invoker, a.Memory)

	log.Info("app ready: model=%s, screener=%s, %d roles", llm.Name(), cfg.Screener.Kind, catalog.Len())
	return a, nil
}

func loadCatalog(path string) (*roles.Catalog, error) {
	if path == "" {
		return roles.LoadDefault()
	}
	return roles.LoadFile(path)
}

func (a *App) buildScreener(mcpOpts []mcpx.Option) (screener.Service, error) {
	sc := a.Config.Screener
	switch sc.Kind {
	case config.ScreenerMCP:
		a.mcp = mcpx.NewManager(mcpOpts...)
		a.mcp.LoadConfigs([]models.MCPServerConfig{sc.MCP})
		return screener.NewMCPScreener(a.mcp, sc.MCP.ID, sc.Tool), nil
	default:
		var universe []models.ScreenedStock
		if sc.UniverseFile != "" {
			var err error
			if universe, err = screener.LoadUniverse(sc.UniverseFile); err != nil {
				return nil, err
			}
		} else {
			log.Warn("screener.universe_file not set, memory screener starts empty")
		}
		return screener.NewMemoryScreener(universe), nil
	}
}

// TestScreener 检查选股服务连通性，内存模式总是可用
func (a *App) TestScreener(ctx context.Context) *mcpx.ServerStatus {
	if a.mcp == nil {
		return &mcpx.ServerStatus{ID: config.ScreenerMemory, Connected: true}
	}
	return a.mcp.TestConnection(ctx, a.Config.Screener.MCP.ID)
}

// Close 释放外部连接
func (a *App) Close() {
	if a.mcp != nil {
		a.mcp.Close()
	}
}
