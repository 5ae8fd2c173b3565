package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mcpx "github.com/run-bigpig/jcp-selector/internal/adk/mcp"
	"github.com/run-bigpig/jcp-selector/internal/analyst"
	"github.com/run-bigpig/jcp-selector/internal/config"
	"github.com/run-bigpig/jcp-selector/internal/logger"
	"github.com/run-bigpig/jcp-selector/internal/models"
	"github.com/run-bigpig/jcp-selector/internal/pipeline"
	"github.com/run-bigpig/jcp-selector/internal/screener"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const universeYAML = `
- code: sh600519
  name: 贵州茅台
  industry: 白酒
  metrics: {total_mv: 21000, pe_ttm: 28}
- code: sh601398
  name: 工商银行
  industry: 银行
  metrics: {total_mv: 19000, pe_ttm: 5.8}
- code: sz000001
  name: 平安银行
  industry: 银行
  metrics: {total_mv: 2200, pe_ttm: 4.5}
`

// fakeOpenAI 按请求的输出结构返回固定回复
type fakeOpenAI struct {
	mu     sync.Mutex
	bodies []string
}

func (f *fakeOpenAI) serve(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body := string(data)
		f.mu.Lock()
		f.bodies = append(f.bodies, body)
		f.mu.Unlock()

		var content string
		switch {
		case strings.Contains(body, `"name":"StockCriteria"`):
			content = `{"criteria":[{"code":"pe_ttm","max":20}],"market":"all","industry":"银行"}`
		case strings.Contains(body, `"name":"StockSelection"`):
			content = "```json\n" + `{"recommendations":[{"code":"601398","rank":1,"reason":"股息稳定","risk_level":"Low"},{"code":"sz000001","rank":2,"reason":"估值最低","risk_level":"medium"}],"confidence_score":76,"summary":"银行板块低估值"}` + "\n```"
		default:
			content = "茅台估值合理，注意仓位。"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","model":"test-model","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, content)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/v1"
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	prev := logger.GlobalLevel()
	t.Cleanup(func() { logger.SetGlobalLevel(prev) })

	universe := filepath.Join(t.TempDir(), "universe.yaml")
	require.NoError(t, os.WriteFile(universe, []byte(universeYAML), 0o644))

	return &config.Config{
		AI: models.AIConfig{
			Provider:  models.AIProviderOpenAI,
			BaseURL:   baseURL,
			APIKey:    "test-key",
			ModelName: "test-model",
			Timeout:   5 * time.Second,
		},
		Screener: config.ScreenerConfig{Kind: config.ScreenerMemory, UniverseFile: universe},
		Logging:  config.LoggingConfig{Level: "warn"},
	}
}

func TestApp_SelectAndChat(t *testing.T) {
	fake := &fakeOpenAI{}
	cfg := testConfig(t, fake.serve(t))

	var stages []string
	a, err := New(context.Background(), cfg, WithProgress(func(e pipeline.ProgressEvent) {
		stages = append(stages, e.Type+":"+string(e.Stage))
	}))
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, logger.WARN, logger.GlobalLevel())

	result, err := a.Pipeline.Select(context.Background(), models.SelectionRequest{Content: "低估值银行股"})
	require.NoError(t, err)
	require.Len(t, result.Recommendations, 2)
	assert.Equal(t, "sh601398", result.Recommendations[0].Code)
	assert.Equal(t, "工商银行", result.Recommendations[0].Name)
	assert.Equal(t, models.RiskLow, result.Recommendations[0].RiskLevel)
	assert.Equal(t, "平安银行", result.Recommendations[1].Name)
	assert.InDelta(t, 76, result.ConfidenceScore, 1e-9)
	assert.Len(t, stages, 6)

	resp, err := a.Analyst.Chat(context.Background(), analyst.ChatRequest{
		Stock: models.Stock{Symbol: "sh600519", Name: "贵州茅台", Price: 1500},
		Query: "茅台贵不贵？",
	})
	require.NoError(t, err)
	assert.Equal(t, "茅台估值合理，注意仓位。", resp.Content)
	assert.Len(t, a.Analyst.History("sh600519"), 2)

	status := a.TestScreener(context.Background())
	assert.True(t, status.Connected)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.bodies, 3)
	var first struct {
		Temperature float64 `json:"temperature"`
	}
	require.NoError(t, json.Unmarshal([]byte(fake.bodies[0]), &first))
	assert.LessOrEqual(t, first.Temperature, 0.1)
}

func TestApp_MCPScreener(t *testing.T) {
	fake := &fakeOpenAI{}
	cfg := testConfig(t, fake.serve(t))
	cfg.Screener = config.ScreenerConfig{
		Kind: config.ScreenerMCP,
		MCP: models.MCPServerConfig{
			ID: "screener", Name: "选股服务", Enabled: true,
			TransportType: models.MCPTransportHTTP, Endpoint: "http://unused",
		},
	}

	universe, err := screener.ParseUniverse([]byte(universeYAML))
	require.NoError(t, err)
	backend := screener.NewMemoryScreener(universe)
	server := mcp.NewServer(&mcp.Implementation{Name: "screener", Version: "test"}, nil)
	type screenArgs struct {
		Criteria []models.Criterion `json:"criteria"`
		Market   string             `json:"market"`
		Industry string             `json:"industry"`
		Limit    int                `json:"limit"`
	}
	mcp.AddTool(server, &mcp.Tool{Name: screener.ScreenToolName, Description: "按条件选股"},
		func(ctx context.Context, req *mcp.CallToolRequest, args screenArgs) (*mcp.CallToolResult, any, error) {
			stocks, err := backend.Screen(ctx, args.Criteria, args.Market, args.Industry, args.Limit)
			if err != nil {
				return nil, nil, err
			}
			data, err := json.Marshal(stocks)
			if err != nil {
				return nil, nil, err
			}
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(data)}}}, nil, nil
		})

	a, err := New(context.Background(), cfg, WithMCPOptions(mcpx.WithTransportFactory(func(*models.MCPServerConfig) mcp.Transport {
		clientT, serverT := mcp.NewInMemoryTransports()
		_, err := server.Connect(context.Background(), serverT, nil)
		require.NoError(t, err)
		return clientT
	})))
	require.NoError(t, err)
	defer a.Close()

	status := a.TestScreener(context.Background())
	assert.True(t, status.Connected, status.Error)

	run, err := a.Pipeline.Run(context.Background(), models.SelectionRequest{Content: "低估值银行股"})
	require.NoError(t, err)
	require.Len(t, run.Screening.Stocks, 2)
	assert.Equal(t, "sh601398", run.Screening.Stocks[0].Code)
	assert.Len(t, run.Result.Recommendations, 2)
}

func TestApp_Errors(t *testing.T) {
	t.Run("unsupported provider", func(t *testing.T) {
		cfg := testConfig(t, "http://127.0.0.1:1/v1")
		cfg.AI.Provider = "claude"
		_, err := New(context.Background(), cfg)
		assert.ErrorContains(t, err, "create model")
	})

	t.Run("missing model name", func(t *testing.T) {
		cfg := testConfig(t, "http://127.0.0.1:1/v1")
		cfg.AI.ModelName = ""
		_, err := New(context.Background(), cfg)
		assert.Error(t, err)
	})

	t.Run("missing universe file", func(t *testing.T) {
		cfg := testConfig(t, "http://127.0.0.1:1/v1")
		cfg.Screener.UniverseFile = filepath.Join(t.TempDir(), "missing.yaml")
		_, err := New(context.Background(), cfg)
		assert.Error(t, err)
	})

	t.Run("missing roles file", func(t *testing.T) {
		cfg := testConfig(t, "http://127.0.0.1:1/v1")
		cfg.RolesFile = filepath.Join(t.TempDir(), "roles.yaml")
		_, err := New(context.Background(), cfg)
		assert.Error(t, err)
	})

	t.Run("bad logging level", func(t *testing.T) {
		cfg := testConfig(t, "http://127.0.0.1:1/v1")
		cfg.Logging.Level = "loud"
		_, err := New(context.Background(), cfg)
		assert.Error(t, err)
	})
}
