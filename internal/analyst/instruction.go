package analyst

import (
	"fmt"
	"strings"
	"time"

	"github.com/run-bigpig/jcp-selector/internal/models"
	"github.com/run-bigpig/jcp-selector/internal/roles"
)

// shanghai A 股交易所时区
var shanghai = time.FixedZone("CST", 8*3600)

// MarketStatus 判断 A 股盘中状态（交易时间：9:30-11:30, 13:00-15:00，周一至周五）
func MarketStatus(now time.Time) string {
	now = now.In(shanghai)
	weekday := now.Weekday()
	minutes := now.Hour()*60 + now.Minute()

	switch {
	case weekday == time.Saturday || weekday == time.Sunday:
		return "休市（周末）"
	case minutes >= 9*60+30 && minutes <= 11*60+30:
		return "盘中（上午交易时段）"
	case minutes >= 13*60 && minutes <= 15*60:
		return "盘中（下午交易时段）"
	case minutes < 9*60+30:
		return "盘前"
	case minutes > 15*60:
		return "盘后"
	default:
		return "午间休市"
	}
}

// buildInstruction 构建角色的系统指令：角色设定 + 时间与盘中状态 + 行情 + 持仓 + 引用观点
func buildInstruction(role roles.Role, stock *models.Stock, position *models.StockPosition, replyContent string, now time.Time) string {
	base := strings.TrimSpace(role.Instructions)
	if base == "" {
		base = fmt.Sprintf("你是一位%s。", role.Description)
	}

	var sb strings.Builder
	sb.WriteString(base)
	fmt.Fprintf(&sb, "\n\n当前时间: %s\n市场状态: %s\n", now.In(shanghai).Format("2006-01-02 15:04:05"), MarketStatus(now))

	if stock != nil && stock.Symbol != "" {
		fmt.Fprintf(&sb, "\n股票: %s (%s)\n", stock.Name, stock.Symbol)
		if stock.Price > 0 {
			fmt.Fprintf(&sb, "当前价格: %.2f\n涨跌幅: %.2f%%\n", stock.Price, stock.ChangePercent)
		}
		if stock.Sector != "" {
			fmt.Fprintf(&sb, "所属行业: %s\n", stock.Sector)
		}

		if position != nil && position.Shares > 0 {
			marketValue := float64(position.Shares) * stock.Price
			costAmount := float64(position.Shares) * position.CostPrice
			profitLoss := marketValue - costAmount
			profitPercent := 0.0
			if costAmount > 0 {
				profitPercent = profitLoss / costAmount * 100
			}
			fmt.Fprintf(&sb, "\n用户持仓: %d股，成本价 %.2f\n持仓市值: %.2f，盈亏: %.2f (%.2f%%)\n",
				position.Shares, position.CostPrice, marketValue, profitLoss, profitPercent)
		}
	}

	if replyContent = strings.TrimSpace(replyContent); replyContent != "" {
		fmt.Fprintf(&sb, "\n--- 引用的观点 ---\n%s\n---\n请结合以上引用的观点作答，可以赞同、补充或反驳。\n", replyContent)
	}
	return sb.String()
}

// subjectOf 会话主题，用于上下文压缩时的评分与兜底摘要
func subjectOf(stock *models.Stock) string {
	if stock == nil {
		return ""
	}
	switch {
	case stock.Name != "" && stock.Symbol != "":
		return fmt.Sprintf("%s(%s)", stock.Name, stock.Symbol)
	case stock.Name != "":
		return stock.Name
	default:
		return stock.Symbol
	}
}
