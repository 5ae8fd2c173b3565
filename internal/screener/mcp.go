package screener

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/run-bigpig/jcp-selector/internal/models"
)

// ScreenToolName MCP 选股工具名
const ScreenToolName = "screen_stocks"

// ToolCaller 调用 MCP 工具的能力（由 adk/mcp.Manager 实现）
type ToolCaller interface {
	CallTool(ctx context.Context, serverID, name string, args map[string]any) (string, error)
}

// MCPScreener 通过 MCP 服务器上的选股工具执行筛选
// 真正的选股能力（网页自动化等）位于 MCP 服务器一侧
type MCPScreener struct {
	caller   ToolCaller
	serverID string
	toolName string
}

// NewMCPScreener 创建 MCP 选股器，toolName 为空时使用 ScreenToolName
func NewMCPScreener(caller ToolCaller, serverID, toolName string) *MCPScreener {
	if toolName == "" {
		toolName = ScreenToolName
	}
	return &MCPScreener{caller: caller, serverID: serverID, toolName: toolName}
}

// screenResponse 兼容两种返回：股票数组，或 {"stocks": [...]}
type screenResponse struct {
	Stocks []models.ScreenedStock `json:"stocks"`
}

// Screen 调用远端工具并解析结果
func (s *MCPScreener) Screen(ctx context.Context, criteria []models.Criterion, market, industry string, limit int) ([]models.ScreenedStock, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	if criteria == nil {
		criteria = []models.Criterion{}
	}
	args := map[string]any{
		"criteria": criteria,
		"market":   market,
		"industry": industry,
		"limit":    limit,
	}

	text, err := s.caller.CallTool(ctx, s.serverID, s.toolName, args)
	if err != nil {
		return nil, err
	}

	stocks, err := parseScreenResponse(text)
	if err != nil {
		return nil, fmt.Errorf("parse %s result: %w", s.toolName, err)
	}
	if len(stocks) > limit {
		stocks = stocks[:limit]
	}
	log.Debug("mcp screen via %s/%s: %d stocks", s.serverID, s.toolName, len(stocks))
	return stocks, nil
}

func parseScreenResponse(text string) ([]models.ScreenedStock, error) {
	text = strings.TrimSpace(text)
	if text == "" || text == "null" {
		return []models.ScreenedStock{}, nil
	}
	if strings.HasPrefix(text, "[") {
		var stocks []models.ScreenedStock
		if err := json.Unmarshal([]byte(text), &stocks); err != nil {
			return nil, err
		}
		return stocks, nil
	}
	var resp screenResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, err
	}
	if resp.Stocks == nil {
		resp.Stocks = []models.ScreenedStock{}
	}
	return resp.Stocks, nil
}
