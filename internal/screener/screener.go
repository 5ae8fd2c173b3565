// Package screener 定义外部选股服务契约及其实现
package screener

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/run-bigpig/jcp-selector/internal/logger"
	"github.com/run-bigpig/jcp-selector/internal/models"
)

var log = logger.New("Screener")

// 错误定义
var (
	ErrUnknownIndicator = errors.New("unknown screening indicator")
	ErrInvalidLimit     = errors.New("screening limit must be positive")
)

// Service 外部选股服务
// 返回按排名排序、截断到 limit 的股票列表；空列表是合法结果
type Service interface {
	Screen(ctx context.Context, criteria []models.Criterion, market, industry string, limit int) ([]models.ScreenedStock, error)
}

// MemoryScreener 基于内存股票池的选股实现（离线与测试使用）
type MemoryScreener struct {
	universe []models.ScreenedStock
}

// NewMemoryScreener 创建内存选股器
func NewMemoryScreener(universe []models.ScreenedStock) *MemoryScreener {
	cp := make([]models.ScreenedStock, len(universe))
	copy(cp, universe)
	return &MemoryScreener{universe: cp}
}

// Screen 按条件筛选，结果按总市值降序排列
func (m *MemoryScreener) Screen(ctx context.Context, criteria []models.Criterion, market, industry string, limit int) ([]models.ScreenedStock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	for _, c := range criteria {
		if !IsSupported(c.Code) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownIndicator, c.Code)
		}
	}

	var matched []models.ScreenedStock
	for _, s := range m.universe {
		if !MatchMarket(s, market) || !matchIndustry(s, industry) || !matchCriteria(s, criteria) {
			continue
		}
		matched = append(matched, s)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i].Metrics["total_mv"], matched[j].Metrics["total_mv"]
		if a != b {
			return a > b
		}
		return matched[i].Code < matched[j].Code
	})

	if len(matched) > limit {
		matched = matched[:limit]
	}
	log.Debug("memory screen: %d criteria, market=%q industry=%q, matched %d", len(criteria), market, industry, len(matched))
	if matched == nil {
		matched = []models.ScreenedStock{}
	}
	return matched, nil
}

func matchCriteria(s models.ScreenedStock, criteria []models.Criterion) bool {
	for _, c := range criteria {
		v, ok := s.Metric(c.Code)
		if !ok {
			return false
		}
		if c.Min != nil && v < *c.Min {
			return false
		}
		if c.Max != nil && v > *c.Max {
			return false
		}
	}
	return true
}

func matchIndustry(s models.ScreenedStock, industry string) bool {
	industry = strings.TrimSpace(industry)
	if industry == "" || industry == "全部" {
		return true
	}
	for _, want := range strings.FieldsFunc(industry, func(r rune) bool { return r == ',' || r == '，' || r == '、' }) {
		if want = strings.TrimSpace(want); want != "" && strings.Contains(s.Industry, want) {
			return true
		}
	}
	return false
}

// MatchMarket 判断股票是否属于指定市场板块
func MatchMarket(s models.ScreenedStock, market string) bool {
	code := strings.TrimLeft(strings.ToLower(s.Code), "shzbj")
	switch strings.ToLower(strings.TrimSpace(market)) {
	case "", "all", "a股", "全部", "全部a股", "沪深a股":
		return true
	case "sh", "沪市", "上海", "沪市主板":
		return s.Market == "sh" || strings.HasPrefix(code, "6")
	case "sz", "深市", "深圳", "深市主板":
		return s.Market == "sz" || strings.HasPrefix(code, "0") || strings.HasPrefix(code, "3")
	case "gem", "创业板":
		return strings.HasPrefix(code, "300") || strings.HasPrefix(code, "301")
	case "star", "科创板":
		return strings.HasPrefix(code, "688") || strings.HasPrefix(code, "689")
	case "bj", "北交所":
		return s.Market == "bj" || strings.HasPrefix(code, "8") || strings.HasPrefix(code, "4") || strings.HasPrefix(code, "92")
	default:
		return strings.EqualFold(s.Market, market)
	}
}
