package pipeline

import (
	"fmt"
	"strings"

	"github.com/run-bigpig/jcp-selector/internal/models"
	"github.com/run-bigpig/jcp-selector/internal/screener"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/width"
)

// normalizeContent 新闻片段去除 HTML 标签，全角字母数字折叠为半角，合并空白
func normalizeContent(content string) string {
	if looksLikeHTML(content) {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(content)); err == nil {
			doc.Find("script,style,noscript").Remove()
			content = doc.Text()
		} else {
			log.Warn("parse html content: %v", err)
		}
	}
	content = width.Fold.String(content)
	return strings.Join(strings.Fields(content), " ")
}

func looksLikeHTML(s string) bool {
	i := strings.Index(s, "<")
	return i != -1 && strings.Contains(s[i:], ">")
}

// writePreferences 输出用户偏好
func writePreferences(sb *strings.Builder, req models.SelectionRequest) {
	sb.WriteString("## 投资偏好\n")
	fmt.Fprintf(sb, "- 风险偏好：%s\n", req.RiskPreference)
	fmt.Fprintf(sb, "- 投资期限：%s\n", req.InvestmentHorizon)
	if len(req.PreferredSectors) > 0 {
		fmt.Fprintf(sb, "- 偏好行业：%s\n", strings.Join(req.PreferredSectors, "、"))
	}
	if len(req.ExcludedSectors) > 0 {
		fmt.Fprintf(sb, "- 排除行业：%s\n", strings.Join(req.ExcludedSectors, "、"))
	}
}

// buildCriteriaPrompt 构建条件生成的用户消息
func buildCriteriaPrompt(req models.SelectionRequest, content string) string {
	var sb strings.Builder
	if req.IsNewsDriven {
		sb.WriteString("## 新闻内容\n")
	} else {
		sb.WriteString("## 选股需求\n")
	}
	sb.WriteString(content + "\n\n")
	writePreferences(&sb, req)
	sb.WriteString("\n请输出筛选条件JSON。")
	return sb.String()
}

// buildAnalyzePrompt 构建推荐分析的用户消息，候选股票使用紧凑格式
func buildAnalyzePrompt(env *models.ScreeningEnvelope, maxRecs int) string {
	req := env.Request
	var sb strings.Builder
	if req.IsNewsDriven {
		sb.WriteString("## 新闻背景\n")
	} else {
		sb.WriteString("## 选股需求\n")
	}
	sb.WriteString(normalizeContent(req.Content) + "\n\n")
	writePreferences(&sb, *req)

	fmt.Fprintf(&sb, "\n## 候选股票（共%d只）\n", len(env.Stocks))
	for i, s := range env.Stocks {
		fmt.Fprintf(&sb, "%d. %s(%s)", i+1, s.Name, s.Code)
		if s.Industry != "" {
			sb.WriteString(" " + s.Industry)
		}
		if m := screener.FormatMetrics(s.Metrics); m != "" {
			sb.WriteString(" | " + m)
		}
		sb.WriteString("\n")
	}

	minRecs := 3
	if maxRecs < minRecs {
		minRecs = maxRecs
	}
	if len(env.Stocks) < minRecs {
		minRecs = len(env.Stocks)
	}
	fmt.Fprintf(&sb, "\n请从候选中推荐 %d-%d 只股票，输出JSON。", minRecs, maxRecs)
	return sb.String()
}
