package roles

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// 输出结构名称
const (
	SchemaStockCriteria  = "stock_criteria"
	SchemaStockSelection = "stock_selection"
)

// Schema 角色的结构化输出约束，创建时完成解析
type Schema struct {
	name     string
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// NewSchema 解析 JSON Schema
func NewSchema(name string, s *jsonschema.Schema) (*Schema, error) {
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema %s: %w", name, err)
	}
	return &Schema{name: name, schema: s, resolved: resolved}, nil
}

// Name 结构名称
func (s *Schema) Name() string { return s.name }

// JSONSchema 返回原始 schema，供请求约束与键名规整使用，调用方不得修改
func (s *Schema) JSONSchema() *jsonschema.Schema { return s.schema }

// Validate 校验 JSON 解码后的值（map[string]any / []any / float64 ...）
func (s *Schema) Validate(instance any) error {
	return s.resolved.Validate(instance)
}

func number(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "number", Description: desc}
}

func str(desc string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: desc}
}

// stockCriteriaSchema 第一阶段输出: 筛选条件
func stockCriteriaSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:  "object",
		Title: "StockCriteria",
		Properties: map[string]*jsonschema.Schema{
			"criteria": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"code": str("指标代码"),
						"min":  number("下限，可省略"),
						"max":  number("上限，可省略"),
					},
					Required: []string{"code"},
				},
			},
			"market":   str("市场: all/sh/sz/gem/star/bj"),
			"industry": str("行业关键词，逗号分隔"),
			"limit":    number("候选数量"),
		},
		Required: []string{"criteria"},
	}
}

// stockSelectionSchema 第三阶段输出: 推荐结果
// 数量上限与置信度范围由调用方裁剪，这里不做约束
func stockSelectionSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:  "object",
		Title: "StockSelection",
		Properties: map[string]*jsonschema.Schema{
			"recommendations": {
				Type: "array",
				Items: &jsonschema.Schema{
					Type: "object",
					Properties: map[string]*jsonschema.Schema{
						"code":   str("股票代码"),
						"name":   str("股票名称"),
						"rank":   number("排名，从1开始"),
						"score":  number("匹配度评分"),
						"reason": str("推荐理由"),
						"risk_level": {
							Type: "string",
							Enum: []any{"low", "medium", "high"},
						},
						"highlights": {
							Type:  "array",
							Items: str("亮点"),
						},
					},
					Required: []string{"code", "rank", "reason", "risk_level"},
				},
			},
			"confidence_score": number("整体置信度 0-100"),
			"summary":          str("整体总结"),
		},
		Required: []string{"recommendations", "confidence_score", "summary"},
	}
}

// schemas 内置输出结构，包初始化时解析一次
var schemas = map[string]*Schema{}

func init() {
	for name, build := range map[string]func() *jsonschema.Schema{
		SchemaStockCriteria:  stockCriteriaSchema,
		SchemaStockSelection: stockSelectionSchema,
	} {
		s, err := NewSchema(name, build())
		if err != nil {
			panic(err)
		}
		schemas[name] = s
	}
}

// LookupSchema 按名称获取内置输出结构
func LookupSchema(name string) (*Schema, bool) {
	s, ok := schemas[name]
	return s, ok
}
