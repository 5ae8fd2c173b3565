package adk

import (
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/run-bigpig/jcp-selector/internal/roles"

	"github.com/google/jsonschema-go/jsonschema"
)

// decodeStructured 从模型回复中提取 JSON，按 schema 规整后校验
func decodeStructured(text string, schema *roles.Schema) (json.RawMessage, error) {
	fail := func(err error) error {
		return &SchemaValidationError{Schema: schema.Name(), Raw: truncateString(text, 500), Err: err}
	}

	jsonStr := extractJSON(text)
	if jsonStr == "" {
		return nil, fail(errors.New("no JSON object in response"))
	}

	var value any
	if err := json.Unmarshal([]byte(jsonStr), &value); err != nil {
		return nil, fail(err)
	}
	value = canonicalize(value, schema.JSONSchema())

	if err := schema.Validate(value); err != nil {
		return nil, fail(err)
	}

	out, err := json.Marshal(value)
	if err != nil {
		return nil, fail(err)
	}
	return out, nil
}

// canonicalize 大小写不敏感地把键名与枚举值对齐到 schema
// 例如 "RiskLevel"/"riskLevel" 对齐为 "risk_level"，"HIGH" 对齐为 "high"
// 非必填字段的 null 被移除，数字字符串转为数字
func canonicalize(v any, s *jsonschema.Schema) any {
	if s == nil {
		return v
	}
	switch val := v.(type) {
	case map[string]any:
		if len(s.Properties) == 0 {
			return val
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			name := matchProperty(s.Properties, k)
			if name == "" {
				out[k] = item
				continue
			}
			if item == nil && !slices.Contains(s.Required, name) {
				continue
			}
			out[name] = canonicalize(item, s.Properties[name])
		}
		return out
	case []any:
		if s.Items == nil {
			return val
		}
		for i := range val {
			val[i] = canonicalize(val[i], s.Items)
		}
		return val
	case string:
		for _, e := range s.Enum {
			if es, ok := e.(string); ok && strings.EqualFold(es, strings.TrimSpace(val)) {
				return es
			}
		}
		if s.Type == "number" || s.Type == "integer" {
			if f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(val, "%")), 64); err == nil {
				return f
			}
		}
		return val
	default:
		return v
	}
}

// matchProperty 查找与 key 对应的属性名，忽略大小写与下划线/连字符
func matchProperty(props map[string]*jsonschema.Schema, key string) string {
	if _, ok := props[key]; ok {
		return key
	}
	want := foldKey(key)
	for name := range props {
		if foldKey(name) == want {
			return name
		}
	}
	return ""
}

func foldKey(s string) string {
	s = strings.ToLower(s)
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(s)
}

// extractJSON 从文本中提取 JSON 对象
func extractJSON(content string) string {
	// 方法1: 整体即为 JSON
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "{") && strings.HasSuffix(content, "}") {
		return content
	}

	// 方法2: ```json 代码块
	if idx := strings.Index(content, "```json"); idx != -1 {
		start := idx + 7
		if end := strings.Index(content[start:], "```"); end != -1 {
			return strings.TrimSpace(content[start : start+end])
		}
	}

	// 方法3: 普通 ``` 代码块
	if idx := strings.Index(content, "```"); idx != -1 {
		start := idx + 3
		if newline := strings.Index(content[start:], "\n"); newline != -1 {
			start += newline + 1
		}
		if end := strings.Index(content[start:], "```"); end != -1 {
			extracted := strings.TrimSpace(content[start : start+end])
			if strings.HasPrefix(extracted, "{") {
				return extracted
			}
		}
	}

	// 方法4: 括号匹配第一个完整对象
	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if escape {
			escape = false
			continue
		}
		if c == '\\' && inString {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if c == '{' {
			depth++
		} else if c == '}' {
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

// truncateString 截断字符串用于日志输出
func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
