package memory

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/run-bigpig/jcp-selector/internal/models"

	"golang.org/x/text/width"
)

// 评分权重
const (
	lengthWeight     = 0.02 // 每个字符
	lengthCap        = 4.0
	keywordBonus     = 1.5
	keywordCap       = 6.0
	subjectBonus     = 4.0
	numberBonus      = 0.5
	numberCap        = 3.0
	questionBonus    = 2.0
	conclusionBonus  = 2.0
	userMultiplier   = 1.5
	minSubjectLength = 2
)

// DefaultKeywords 投资领域关键词
var DefaultKeywords = []string{
	"买入", "卖出", "加仓", "减仓", "持仓", "仓位", "止损", "止盈", "目标价",
	"估值", "业绩", "财报", "营收", "净利润", "市盈率", "市净率", "roe", "分红",
	"风险", "利好", "利空", "支撑", "压力", "突破", "成交量", "主力", "资金",
	"政策", "行业", "板块", "涨停", "跌停", "成本",
}

var (
	numberRe         = regexp.MustCompile(`\d+(?:\.\d+)?%?`)
	questionMarkers  = []string{"?", "吗", "呢", "怎么", "为什么", "如何", "是否", "能不能", "要不要"}
	conclusionMarker = []string{"总结", "结论", "综上", "建议", "因此", "所以", "总之"}
)

// Scorer 消息重要性评分，纯函数，无副作用
type Scorer struct {
	Keywords []string
}

// NewScorer 使用默认关键词创建评分器
func NewScorer() Scorer {
	return Scorer{Keywords: DefaultKeywords}
}

// Score 计算消息重要性，结果 >= 0
// 长度基线、关键词、主题提及、数字、提问与结论措辞相加，用户消息再乘以系数
func (s Scorer) Score(msg models.ChatMessage, subject string) float64 {
	text := strings.ToLower(width.Fold.String(msg.Content))
	if strings.TrimSpace(text) == "" {
		return 0
	}

	score := min(float64(utf8.RuneCountInString(text))*lengthWeight, lengthCap)

	var kw float64
	for _, k := range s.Keywords {
		if strings.Contains(text, strings.ToLower(k)) {
			kw += keywordBonus
		}
	}
	score += min(kw, keywordCap)

	if mentionsSubject(text, subject) {
		score += subjectBonus
	}

	score += min(float64(len(numberRe.FindAllString(text, -1)))*numberBonus, numberCap)

	if containsAny(text, questionMarkers) {
		score += questionBonus
	}
	if containsAny(text, conclusionMarker) {
		score += conclusionBonus
	}

	if msg.Role == models.RoleUser {
		score *= userMultiplier
	}
	return score
}

// mentionsSubject 主题可包含多个词（如 "贵州茅台 sh600519"），命中任一即可
func mentionsSubject(text, subject string) bool {
	subject = strings.ToLower(width.Fold.String(subject))
	for _, token := range strings.FieldsFunc(subject, func(r rune) bool {
		return r == ' ' || r == ',' || r == '/' || r == '(' || r == ')'
	}) {
		if utf8.RuneCountInString(token) >= minSubjectLength && strings.Contains(text, token) {
			return true
		}
	}
	return false
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}
