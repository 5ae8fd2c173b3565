// Package pipeline 选股流水线：条件生成 → 股票筛选 → 分析推荐
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/run-bigpig/jcp-selector/internal/adk"
	"github.com/run-bigpig/jcp-selector/internal/logger"
	"github.com/run-bigpig/jcp-selector/internal/models"
	"github.com/run-bigpig/jcp-selector/internal/roles"
	"github.com/run-bigpig/jcp-selector/internal/screener"

	"github.com/google/uuid"
)

var log = logger.New("Pipeline")

// 默认配置
const (
	DefaultResultLimit     = 30
	MaxResultLimit         = 100
	DefaultCriteriaTimeout = 60 * time.Second // 条件生成的最大时长
	DefaultScreenTimeout   = 30 * time.Second // 外部筛选的最大时长
	DefaultAnalyzeTimeout  = 90 * time.Second // 分析推荐的最大时长
	DefaultCacheSize       = 64
	DefaultCacheTTL        = 30 * time.Minute
)

// State 运行状态
type State string

const (
	StateCreated           State = "created"
	StateCriteriaGenerated State = "criteria_generated"
	StateScreened          State = "screened"
	StateAnalyzed          State = "analyzed"
	StateFailed            State = "failed"
)

// Config 流水线配置
type Config struct {
	ResultLimit        int           `mapstructure:"result_limit"`
	MaxRecommendations int           `mapstructure:"max_recommendations"` // 请求未指定时的推荐数量
	CriteriaTimeout    time.Duration `mapstructure:"criteria_timeout"`
	ScreenTimeout      time.Duration `mapstructure:"screen_timeout"`
	AnalyzeTimeout     time.Duration `mapstructure:"analyze_timeout"`
	CacheSize          int           `mapstructure:"cache_size"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
}

func (c Config) withDefaults() Config {
	c.ResultLimit = clampLimit(c.ResultLimit, DefaultResultLimit)
	if c.MaxRecommendations <= 0 {
		c.MaxRecommendations = models.DefaultMaxRecommendations
	}
	c.MaxRecommendations = min(c.MaxRecommendations, models.MaxRecommendationsCap)
	if c.CriteriaTimeout <= 0 {
		c.CriteriaTimeout = DefaultCriteriaTimeout
	}
	if c.ScreenTimeout <= 0 {
		c.ScreenTimeout = DefaultScreenTimeout
	}
	if c.AnalyzeTimeout <= 0 {
		c.AnalyzeTimeout = DefaultAnalyzeTimeout
	}
	return c
}

// 进度事件类型
const (
	EventStageStart = "stage_start"
	EventStageDone  = "stage_done"
	EventStageError = "stage_error"
)

// ProgressEvent 进度事件
type ProgressEvent struct {
	RunID  string    `json:"runId"`
	Type   string    `json:"type"`
	Stage  StageName `json:"stage"`
	Detail string    `json:"detail"`
}

// ProgressCallback 进度回调函数类型
type ProgressCallback func(event ProgressEvent)

// Option 流水线选项
type Option func(*Pipeline)

// WithProgress 设置进度回调
func WithProgress(cb ProgressCallback) Option {
	return func(p *Pipeline) { p.progress = cb }
}

// WithCache 替换信封缓存
func WithCache(c *EnvelopeCache) Option {
	return func(p *Pipeline) {
		if c != nil {
			p.cache = c
		}
	}
}

// Run 一次流水线运行的记录
type Run struct {
	ID          string
	Request     models.SelectionRequest
	State       State
	Transitions []State // 依次经过的状态
	FailedStage StageName
	Err         error
	Criteria    *models.CriteriaEnvelope
	Screening   *models.ScreeningEnvelope
	Result      *models.SelectionResult
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (r *Run) transition(s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

// Pipeline 三阶段线性流水线，阶段严格顺序执行，运行内部不重试
type Pipeline struct {
	generate Stage[models.SelectionRequest, *models.CriteriaEnvelope]
	screen   Stage[*models.CriteriaEnvelope, *models.ScreeningEnvelope]
	analyze  Stage[*models.ScreeningEnvelope, *models.SelectionResult]
	cfg      Config
	cache    *EnvelopeCache
	progress ProgressCallback
}

// New 使用内置阶段创建流水线
func New(catalog *roles.Catalog, invoker adk.Invoker, svc screener.Service, cfg Config, opts ...Option) *Pipeline {
	cfg = cfg.withDefaults()
	return NewWithStages(
		NewCriteriaStage(catalog, invoker, cfg.ResultLimit),
		NewScreenStage(svc),
		NewAnalyzeStage(catalog, invoker),
		cfg, opts...,
	)
}

// NewWithStages 使用自定义阶段创建流水线
func NewWithStages(
	generate Stage[models.SelectionRequest, *models.CriteriaEnvelope],
	screen Stage[*models.CriteriaEnvelope, *models.ScreeningEnvelope],
	analyze Stage[*models.ScreeningEnvelope, *models.SelectionResult],
	cfg Config,
	opts ...Option,
) *Pipeline {
	cfg = cfg.withDefaults()
	p := &Pipeline{
		generate: generate,
		screen:   screen,
		analyze:  analyze,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cache == nil {
		p.cache = NewEnvelopeCache(cfg.CacheSize, cfg.CacheTTL)
	}
	return p
}

// Run 执行一次完整运行
// 失败时返回的 Run 同样有效，记录了失败阶段；错误为 *StageError
func (p *Pipeline) Run(ctx context.Context, req models.SelectionRequest) (*Run, error) {
	if req.MaxRecommendations <= 0 {
		req.MaxRecommendations = p.cfg.MaxRecommendations
	}
	run := &Run{
		ID:        uuid.New().String(),
		Request:   req,
		StartedAt: time.Now(),
	}
	run.transition(StateCreated)
	log.Info("run %s started, newsDriven=%v", run.ID, req.IsNewsDriven)
	return run, p.execute(ctx, run)
}

// Select 执行运行并只返回结果
func (p *Pipeline) Select(ctx context.Context, req models.SelectionRequest) (*models.SelectionResult, error) {
	run, err := p.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return run.Result, nil
}

// Retry 从缓存的中间信封继续一次失败的运行，已完成的阶段不再执行
func (p *Pipeline) Retry(ctx context.Context, runID string) (*Run, error) {
	run, ok := p.cache.Get(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.State != StateFailed {
		return run, fmt.Errorf("%w: %s is %s", ErrRunNotResumable, runID, run.State)
	}

	run.Err = nil
	run.FailedStage = ""
	run.FinishedAt = time.Time{}
	switch {
	case run.Screening != nil:
		run.transition(StateScreened)
	case run.Criteria != nil:
		run.transition(StateCriteriaGenerated)
	default:
		run.transition(StateCreated)
	}
	log.Info("run %s resumed from %s", run.ID, run.State)
	return run, p.execute(ctx, run)
}

// execute 从当前状态推进到终态
func (p *Pipeline) execute(ctx context.Context, run *Run) error {
	defer func() {
		run.FinishedAt = time.Now()
		p.cache.Put(run)
	}()

	if run.Criteria == nil {
		env, err := runStage(ctx, p, run, p.generate, run.Request, p.cfg.CriteriaTimeout)
		if err != nil {
			return err
		}
		run.Criteria = env
		run.transition(StateCriteriaGenerated)
		p.cache.Put(run)
	}

	if run.Screening == nil {
		env, err := runStage(ctx, p, run, p.screen, run.Criteria, p.cfg.ScreenTimeout)
		if err != nil {
			return err
		}
		run.Screening = env
		run.transition(StateScreened)
		p.cache.Put(run)
	}

	result, err := runStage(ctx, p, run, p.analyze, run.Screening, p.cfg.AnalyzeTimeout)
	if err != nil {
		return err
	}
	if result == nil {
		result = models.EmptySelectionResult(summaryNoRecommend)
	}
	run.Result = result
	run.transition(StateAnalyzed)
	log.Info("run %s analyzed: %d recommendations, confidence %.0f, took %v",
		run.ID, len(result.Recommendations), result.ConfidenceScore, time.Since(run.StartedAt).Round(time.Millisecond))
	return nil
}

// runStage 在独立超时下执行阶段，失败统一包装为 StageError 并记录到运行
func runStage[In, Out any](ctx context.Context, p *Pipeline, run *Run, stage Stage[In, Out], in In, timeout time.Duration) (Out, error) {
	var zero Out
	name := stage.Name()

	fail := func(err error) (Out, error) {
		var se *StageError
		if !errors.As(err, &se) || se.Stage != name {
			se = &StageError{Stage: name, Err: err}
		}
		run.FailedStage = name
		run.Err = se
		run.transition(StateFailed)
		log.Error("run %s: %v", run.ID, se)
		p.emit(ProgressEvent{RunID: run.ID, Type: EventStageError, Stage: name, Detail: se.Message()})
		return zero, se
	}

	// 已取消时不再启动后续阶段
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	p.emit(ProgressEvent{RunID: run.ID, Type: EventStageStart, Stage: name, Detail: name.Label()})
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	out, err := stage.Execute(stageCtx, in)
	if err != nil {
		if ctxErr := stageCtx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return fail(err)
	}
	log.Debug("run %s: stage %s done in %v", run.ID, name, time.Since(start).Round(time.Millisecond))
	p.emit(ProgressEvent{RunID: run.ID, Type: EventStageDone, Stage: name, Detail: name.Label()})
	return out, nil
}

func (p *Pipeline) emit(e ProgressEvent) {
	if p.progress != nil {
		p.progress(e)
	}
}
