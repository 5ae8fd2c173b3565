package pipeline

import (
	"context"
	"strings"

	"github.com/run-bigpig/jcp-selector/internal/adk"
	"github.com/run-bigpig/jcp-selector/internal/models"
	"github.com/run-bigpig/jcp-selector/internal/roles"
	"github.com/run-bigpig/jcp-selector/internal/screener"
)

// criteriaMaxTemperature 条件生成需要可复现
const criteriaMaxTemperature = 0.1

// criteriaStage 第一阶段：自然语言需求 → 结构化筛选条件
type criteriaStage struct {
	catalog      *roles.Catalog
	invoker      adk.Invoker
	defaultLimit int
}

// NewCriteriaStage 创建条件生成阶段
func NewCriteriaStage(catalog *roles.Catalog, invoker adk.Invoker, defaultLimit int) Stage[models.SelectionRequest, *models.CriteriaEnvelope] {
	return &criteriaStage{catalog: catalog, invoker: invoker, defaultLimit: clampLimit(defaultLimit, DefaultResultLimit)}
}

func (s *criteriaStage) Name() StageName { return StageGenerateCriteria }

func (s *criteriaStage) Execute(ctx context.Context, req models.SelectionRequest) (*models.CriteriaEnvelope, error) {
	req = req.WithDefaults()
	content := normalizeContent(req.Content)
	if content == "" {
		return nil, ErrEmptyRequest
	}

	roleName := roles.CriteriaGenerator
	if req.IsNewsDriven {
		roleName = roles.NewsCriteriaGenerator
	}
	role, err := s.catalog.Get(roleName)
	if err != nil {
		return nil, err
	}

	invokeReq := adk.NewRoleRequest(role, adk.UserMessage(buildCriteriaPrompt(req, content)))
	if invokeReq.Sampling.Temperature > criteriaMaxTemperature {
		invokeReq.Sampling.Temperature = criteriaMaxTemperature
	}
	res, err := s.invoker.Invoke(ctx, invokeReq)
	if err != nil {
		return nil, err
	}

	var env models.CriteriaEnvelope
	if err := res.Decode(&env); err != nil {
		return nil, &adk.SchemaValidationError{Schema: roles.SchemaStockCriteria, Raw: res.Text, Err: err}
	}

	env.Criteria = filterSupported(env.Criteria)
	if len(env.Criteria) == 0 {
		return nil, ErrEmptyCriteria
	}
	env.Market = strings.TrimSpace(env.Market)
	if env.Market == "" {
		env.Market = "all"
	}
	env.Industry = strings.TrimSpace(env.Industry)
	env.ResultLimit = clampLimit(env.ResultLimit, s.defaultLimit)
	env.Request = &req

	log.Info("criteria generated: %d criteria, market=%s industry=%q limit=%d",
		len(env.Criteria), env.Market, env.Industry, env.ResultLimit)
	return &env, nil
}

// filterSupported 丢弃不支持的指标代码，不做任何替换
func filterSupported(criteria []models.Criterion) []models.Criterion {
	kept := make([]models.Criterion, 0, len(criteria))
	for _, c := range criteria {
		c.Code = strings.TrimSpace(c.Code)
		if !screener.IsSupported(c.Code) {
			log.Warn("dropping unsupported indicator %q", c.Code)
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

// clampLimit 限定到 [1, MaxResultLimit]，非正数使用默认值
func clampLimit(limit, def int) int {
	if limit <= 0 {
		limit = def
	}
	if limit > MaxResultLimit {
		limit = MaxResultLimit
	}
	if limit < 1 {
		limit = 1
	}
	return limit
}
