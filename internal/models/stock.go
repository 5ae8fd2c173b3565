package models

// Stock 股票基本信息（行情快照）
type Stock struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Volume        int64   `json:"volume"`
	Amount        float64 `json:"amount"`
	Sector        string  `json:"sector"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	PreClose      float64 `json:"preClose"`
}

// StockPosition 股票持仓信息
type StockPosition struct {
	Shares    int64   `json:"shares"`    // 持仓数量
	CostPrice float64 `json:"costPrice"` // 成本价
}

// ScreenedStock 选股结果中的单只股票
// Metrics 为稀疏指标集合，key 为筛选指标代码（见 screener.Indicators），缺失即未知
type ScreenedStock struct {
	Code     string             `json:"code"`
	Name     string             `json:"name"`
	Market   string             `json:"market,omitempty"`
	Industry string             `json:"industry,omitempty"`
	Metrics  map[string]float64 `json:"metrics,omitempty"`
}

// Metric 返回指标值，缺失时 ok=false
func (s ScreenedStock) Metric(code string) (float64, bool) {
	v, ok := s.Metrics[code]
	return v, ok
}
