package models

import "strings"

// 选股请求默认值
const (
	DefaultRiskPreference     = "稳健"
	DefaultInvestmentHorizon  = "中期"
	DefaultMaxRecommendations = 5
	MaxRecommendationsCap     = 8 // 推荐数量硬上限
)

// SelectionRequest 选股请求，每次用户操作创建一次，创建后不再修改
type SelectionRequest struct {
	Content            string   `json:"content"`      // 用户需求或新闻原文
	IsNewsDriven       bool     `json:"isNewsDriven"` // 是否为新闻驱动
	RiskPreference     string   `json:"riskPreference,omitempty"`
	InvestmentHorizon  string   `json:"investmentHorizon,omitempty"`
	PreferredSectors   []string `json:"preferredSectors,omitempty"`
	ExcludedSectors    []string `json:"excludedSectors,omitempty"`
	MaxRecommendations int      `json:"maxRecommendations,omitempty"`
}

// WithDefaults 返回填充默认值后的副本
func (r SelectionRequest) WithDefaults() SelectionRequest {
	if strings.TrimSpace(r.RiskPreference) == "" {
		r.RiskPreference = DefaultRiskPreference
	}
	if strings.TrimSpace(r.InvestmentHorizon) == "" {
		r.InvestmentHorizon = DefaultInvestmentHorizon
	}
	if r.MaxRecommendations <= 0 {
		r.MaxRecommendations = DefaultMaxRecommendations
	}
	if r.MaxRecommendations > MaxRecommendationsCap {
		r.MaxRecommendations = MaxRecommendationsCap
	}
	return r
}

// IsExcluded 判断行业是否在排除列表中
func (r SelectionRequest) IsExcluded(industry string) bool {
	if industry == "" {
		return false
	}
	for _, s := range r.ExcludedSectors {
		if s = strings.TrimSpace(s); s != "" && strings.Contains(industry, s) {
			return true
		}
	}
	return false
}

// Criterion 单个筛选条件
type Criterion struct {
	Code string   `json:"code"`
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
}

// CriteriaEnvelope 第一阶段输出：结构化筛选条件
type CriteriaEnvelope struct {
	Criteria    []Criterion       `json:"criteria"`
	Market      string            `json:"market,omitempty"`
	Industry    string            `json:"industry,omitempty"`
	ResultLimit int               `json:"limit,omitempty"`
	Request     *SelectionRequest `json:"-"`
}

// ScreeningEnvelope 第二阶段输出：筛选结果
type ScreeningEnvelope struct {
	Stocks   []ScreenedStock   `json:"stocks"`
	Criteria *CriteriaEnvelope `json:"criteria"`
	Request  *SelectionRequest `json:"-"`
}

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskLevels 全部风险等级
var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh}

// StockRecommendation 单条推荐
type StockRecommendation struct {
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Rank       int       `json:"rank"`
	Score      float64   `json:"score,omitempty"`
	Reason     string    `json:"reason"`
	RiskLevel  RiskLevel `json:"riskLevel"`
	Highlights []string  `json:"highlights,omitempty"`
}

// SelectionResult 流水线最终输出
type SelectionResult struct {
	Recommendations []StockRecommendation `json:"recommendations"`
	ConfidenceScore float64               `json:"confidenceScore"`
	Summary         string                `json:"summary"`
	Degraded        bool                  `json:"degraded,omitempty"` // 模型输出异常时的降级结果
}

// EmptySelectionResult 空结果（无匹配或无推荐），不是错误
func EmptySelectionResult(summary string) *SelectionResult {
	return &SelectionResult{
		Recommendations: []StockRecommendation{},
		ConfidenceScore: 0,
		Summary:         summary,
	}
}
