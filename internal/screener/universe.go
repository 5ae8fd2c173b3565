package screener

import (
	"fmt"
	"os"
	"strings"

	"github.com/run-bigpig/jcp-selector/internal/models"

	"gopkg.in/yaml.v3"
)

// universeFile 股票池文件，兼容顶层数组与 {"stocks": [...]}
type universeFile struct {
	Stocks []models.ScreenedStock `yaml:"stocks"`
}

// ParseUniverse 解析 YAML/JSON 格式的股票池
func ParseUniverse(data []byte) ([]models.ScreenedStock, error) {
	var stocks []models.ScreenedStock
	if err := yaml.Unmarshal(data, &stocks); err != nil {
		var f universeFile
		if err2 := yaml.Unmarshal(data, &f); err2 != nil {
			return nil, fmt.Errorf("parse universe: %w", err2)
		}
		stocks = f.Stocks
	}

	seen := make(map[string]bool, len(stocks))
	out := stocks[:0]
	for _, s := range stocks {
		s.Code = strings.ToLower(strings.TrimSpace(s.Code))
		if s.Code == "" {
			return nil, fmt.Errorf("parse universe: stock %q has no code", s.Name)
		}
		if seen[s.Code] {
			log.Warn("duplicate stock %s in universe, keeping the first", s.Code)
			continue
		}
		seen[s.Code] = true
		for code := range s.Metrics {
			if !IsSupported(code) {
				log.Warn("stock %s has unknown metric %s", s.Code, code)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// LoadUniverse 从文件加载股票池
func LoadUniverse(path string) ([]models.ScreenedStock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read universe file: %w", err)
	}
	return ParseUniverse(data)
}
