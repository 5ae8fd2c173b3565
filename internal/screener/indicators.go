package screener

import (
	"sort"
	"strconv"
	"strings"
)

// Indicator 选股指标定义
type Indicator struct {
	Code  string
	Name  string
	Unit  string
	order int
}

// Indicators 支持的筛选指标，指标代码是条件生成与筛选服务之间的契约
var Indicators = map[string]Indicator{
	"total_mv":       {Code: "total_mv", Name: "总市值", Unit: "亿", order: 1},
	"circ_mv":        {Code: "circ_mv", Name: "流通市值", Unit: "亿", order: 2},
	"price":          {Code: "price", Name: "股价", Unit: "元", order: 3},
	"pe_ttm":         {Code: "pe_ttm", Name: "市盈率TTM", Unit: "倍", order: 4},
	"pb":             {Code: "pb", Name: "市净率", Unit: "倍", order: 5},
	"roe":            {Code: "roe", Name: "ROE", Unit: "%", order: 6},
	"gross_margin":   {Code: "gross_margin", Name: "毛利率", Unit: "%", order: 7},
	"revenue_yoy":    {Code: "revenue_yoy", Name: "营收同比", Unit: "%", order: 8},
	"profit_yoy":     {Code: "profit_yoy", Name: "净利同比", Unit: "%", order: 9},
	"debt_ratio":     {Code: "debt_ratio", Name: "资产负债率", Unit: "%", order: 10},
	"dividend_yield": {Code: "dividend_yield", Name: "股息率", Unit: "%", order: 11},
	"turnover_rate":  {Code: "turnover_rate", Name: "换手率", Unit: "%", order: 12},
	"volume_ratio":   {Code: "volume_ratio", Name: "量比", Unit: "倍", order: 13},
	"change_pct":     {Code: "change_pct", Name: "当日涨跌幅", Unit: "%", order: 14},
	"chg_5d":         {Code: "chg_5d", Name: "5日涨跌幅", Unit: "%", order: 15},
	"chg_20d":        {Code: "chg_20d", Name: "20日涨跌幅", Unit: "%", order: 16},
	"chg_60d":        {Code: "chg_60d", Name: "60日涨跌幅", Unit: "%", order: 17},
}

// IsSupported 指标代码是否受支持（大小写敏感）
func IsSupported(code string) bool {
	_, ok := Indicators[code]
	return ok
}

// OrderedIndicators 按展示顺序返回全部指标
func OrderedIndicators() []Indicator {
	list := make([]Indicator, 0, len(Indicators))
	for _, ind := range Indicators {
		list = append(list, ind)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].order < list[j].order })
	return list
}

// FormatMetrics 紧凑格式化稀疏指标：只输出非零值，每项带单位
// 例: "总市值:1234.5亿 市盈率TTM:12.3倍"
func FormatMetrics(metrics map[string]float64) string {
	if len(metrics) == 0 {
		return ""
	}
	var parts []string
	for _, ind := range OrderedIndicators() {
		v, ok := metrics[ind.Code]
		if !ok || v == 0 {
			continue
		}
		parts = append(parts, ind.Name+":"+formatNumber(v)+ind.Unit)
	}
	return strings.Join(parts, " ")
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
