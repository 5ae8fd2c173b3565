package pipeline

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/run-bigpig/jcp-selector/internal/adk"
	"github.com/run-bigpig/jcp-selector/internal/models"
	"github.com/run-bigpig/jcp-selector/internal/roles"
)

// 空结果与降级结果的说明
const (
	summaryNoMatch     = "没有找到符合条件的股票，可以适当放宽筛选条件后重试。"
	summaryNoRequest   = "缺少原始选股需求，无法生成推荐。"
	summaryDegraded    = "模型返回的推荐结果格式异常，暂时无法给出推荐，请稍后重试。"
	summaryNoRecommend = "候选股票中没有与需求足够匹配的标的。"
)

// selectionOutput stock_selection 结构的解码目标
type selectionOutput struct {
	Recommendations []struct {
		Code       string   `json:"code"`
		Name       string   `json:"name"`
		Rank       float64  `json:"rank"`
		Score      float64  `json:"score"`
		Reason     string   `json:"reason"`
		RiskLevel  string   `json:"risk_level"`
		Highlights []string `json:"highlights"`
	} `json:"recommendations"`
	ConfidenceScore float64 `json:"confidence_score"`
	Summary         string  `json:"summary"`
}

// analyzeStage 第三阶段：候选股票 → 排序推荐
type analyzeStage struct {
	catalog *roles.Catalog
	invoker adk.Invoker
}

// NewAnalyzeStage 创建分析阶段
func NewAnalyzeStage(catalog *roles.Catalog, invoker adk.Invoker) Stage[*models.ScreeningEnvelope, *models.SelectionResult] {
	return &analyzeStage{catalog: catalog, invoker: invoker}
}

func (s *analyzeStage) Name() StageName { return StageAnalyzeStocks }

func (s *analyzeStage) Execute(ctx context.Context, env *models.ScreeningEnvelope) (*models.SelectionResult, error) {
	if env == nil || env.Request == nil {
		return models.EmptySelectionResult(summaryNoRequest), nil
	}
	if len(env.Stocks) == 0 {
		return models.EmptySelectionResult(summaryNoMatch), nil
	}

	role, err := s.catalog.Get(roles.StockSelector)
	if err != nil {
		return nil, err
	}

	req := env.Request.WithDefaults()
	maxRecs := min(req.MaxRecommendations, models.MaxRecommendationsCap)
	prompt := buildAnalyzePrompt(env, maxRecs)

	res, err := s.invoker.Invoke(ctx, adk.NewRoleRequest(role, adk.UserMessage(prompt)))
	if err != nil {
		var sve *adk.SchemaValidationError
		if errors.As(err, &sve) {
			log.Warn("selection output rejected, degrading: %v", err)
			return degradedResult(), nil
		}
		return nil, err
	}

	var out selectionOutput
	if err := res.Decode(&out); err != nil {
		log.Warn("decode selection output, degrading: %v", err)
		return degradedResult(), nil
	}
	return buildResult(out, env.Stocks, maxRecs), nil
}

func degradedResult() *models.SelectionResult {
	r := models.EmptySelectionResult(summaryDegraded)
	r.Degraded = true
	return r
}

// buildResult 只保留候选中的股票，去重后按排名重新编号并截断
func buildResult(out selectionOutput, stocks []models.ScreenedStock, maxRecs int) *models.SelectionResult {
	byCode := make(map[string]models.ScreenedStock, len(stocks))
	for _, s := range stocks {
		byCode[codeKey(s.Code)] = s
	}

	recs := out.Recommendations
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Rank < recs[j].Rank })

	seen := make(map[string]bool, len(recs))
	result := make([]models.StockRecommendation, 0, maxRecs)
	for _, r := range recs {
		key := codeKey(r.Code)
		stock, ok := byCode[key]
		if !ok {
			log.Warn("dropping recommendation %s: not in screened set", r.Code)
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		name := strings.TrimSpace(r.Name)
		if name == "" {
			name = stock.Name
		}
		result = append(result, models.StockRecommendation{
			Code:       stock.Code,
			Name:       name,
			Rank:       len(result) + 1,
			Score:      r.Score,
			Reason:     strings.TrimSpace(r.Reason),
			RiskLevel:  models.RiskLevel(strings.ToLower(r.RiskLevel)),
			Highlights: r.Highlights,
		})
		if len(result) == maxRecs {
			break
		}
	}

	summary := strings.TrimSpace(out.Summary)
	if len(result) == 0 {
		if summary == "" {
			summary = summaryNoRecommend
		}
		return models.EmptySelectionResult(summary)
	}
	return &models.SelectionResult{
		Recommendations: result,
		ConfidenceScore: clampConfidence(out.ConfidenceScore),
		Summary:         summary,
	}
}

// codeKey 统一股票代码：小写并去掉市场前缀
func codeKey(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, p := range []string{"sh", "sz", "bj"} {
		if rest, ok := strings.CutPrefix(code, p); ok {
			return rest
		}
	}
	return code
}

func clampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
