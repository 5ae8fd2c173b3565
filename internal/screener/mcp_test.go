package screener

import (
	"context"
	"encoding/json"
	"testing"

	mcpx "github.com/run-bigpig/jcp-selector/internal/adk/mcp"
	"github.com/run-bigpig/jcp-selector/internal/models"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type screenArgs struct {
	Criteria []models.Criterion `json:"criteria"`
	Market   string             `json:"market"`
	Industry string             `json:"industry"`
	Limit    int                `json:"limit"`
}

// newTestManager 启动一个内存 MCP 选股服务器，底层复用 MemoryScreener
func newTestManager(t *testing.T, received *screenArgs) *mcpx.Manager {
	t.Helper()

	backend := NewMemoryScreener(sampleUniverse())
	server := mcp.NewServer(&mcp.Implementation{Name: "screener", Version: "test"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: ScreenToolName, Description: "按条件选股"},
		func(ctx context.Context, req *mcp.CallToolRequest, args screenArgs) (*mcp.CallToolResult, any, error) {
			*received = args
			stocks, err := backend.Screen(ctx, args.Criteria, args.Market, args.Industry, args.Limit)
			if err != nil {
				return nil, nil, err
			}
			data, err := json.Marshal(map[string]any{"stocks": stocks})
			if err != nil {
				return nil, nil, err
			}
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil, nil
		})

	mgr := mcpx.NewManager(mcpx.WithTransportFactory(func(cfg *models.MCPServerConfig) mcp.Transport {
		clientT, serverT := mcp.NewInMemoryTransports()
		_, err := server.Connect(context.Background(), serverT, nil)
		require.NoError(t, err)
		return clientT
	}))
	mgr.LoadConfigs([]models.MCPServerConfig{{ID: "screener", Name: "screener", Enabled: true}})
	t.Cleanup(mgr.Close)
	return mgr
}

func TestMCPScreener_Screen(t *testing.T) {
	var received screenArgs
	mgr := newTestManager(t, &received)
	s := NewMCPScreener(mgr, "screener", "")

	got, err := s.Screen(context.Background(), []models.Criterion{{Code: "pe_ttm", Max: ptr(20)}}, "沪市", "", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "工商银行", got[0].Name)

	assert.Equal(t, "沪市", received.Market)
	assert.Equal(t, 5, received.Limit)
	require.Len(t, received.Criteria, 1)
	assert.Equal(t, "pe_ttm", received.Criteria[0].Code)
	require.NotNil(t, received.Criteria[0].Max)
	assert.InDelta(t, 20, *received.Criteria[0].Max, 1e-9)
}

func TestMCPScreener_Errors(t *testing.T) {
	var received screenArgs
	mgr := newTestManager(t, &received)

	t.Run("未配置的服务器", func(t *testing.T) {
		s := NewMCPScreener(mgr, "missing", "")
		_, err := s.Screen(context.Background(), nil, "", "", 5)
		assert.ErrorIs(t, err, mcpx.ErrServerNotConfigured)
	})

	t.Run("工具报错", func(t *testing.T) {
		s := NewMCPScreener(mgr, "screener", "")
		_, err := s.Screen(context.Background(), []models.Criterion{{Code: "magic"}}, "", "", 5)
		assert.Error(t, err)
	})
}

func TestManager_ToolsAndStatus(t *testing.T) {
	var received screenArgs
	mgr := newTestManager(t, &received)

	status := mgr.TestConnection(context.Background(), "screener")
	assert.True(t, status.Connected, status.Error)

	tools, err := mgr.GetServerTools(context.Background(), "screener")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, ScreenToolName, tools[0].Name)
	assert.Equal(t, "screener", tools[0].ServerName)
}

func TestParseScreenResponse(t *testing.T) {
	stocks, err := parseScreenResponse(`[{"code":"sh600519","name":"贵州茅台","metrics":{"pe_ttm":25}}]`)
	require.NoError(t, err)
	require.Len(t, stocks, 1)
	assert.InDelta(t, 25, stocks[0].Metrics["pe_ttm"], 1e-9)

	stocks, err = parseScreenResponse(`{"stocks":[]}`)
	require.NoError(t, err)
	assert.Empty(t, stocks)

	_, err = parseScreenResponse(`not json`)
	assert.Error(t, err)
}
