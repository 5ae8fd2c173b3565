package pipeline

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/run-bigpig/jcp-selector/internal/adk"
	"github.com/run-bigpig/jcp-selector/internal/models"
	"github.com/run-bigpig/jcp-selector/internal/roles"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/require"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

type replyFunc func(ctx context.Context, prompt string) (string, error)

func constReply(s string) replyFunc {
	return func(context.Context, string) (string, error) { return s, nil }
}

// scriptedLLM 按请求的输出结构分派回复
type scriptedLLM struct {
	mu        sync.Mutex
	criteria  replyFunc
	selection replyFunc
	calls     map[string]int
	requests  map[string]*model.LLMRequest
	prompts   map[string]string
}

func newScriptedLLM(criteria, selection replyFunc) *scriptedLLM {
	return &scriptedLLM{
		criteria:  criteria,
		selection: selection,
		calls:     map[string]int{},
		requests:  map[string]*model.LLMRequest{},
		prompts:   map[string]string{},
	}
}

func (s *scriptedLLM) Name() string { return "scripted" }

func (s *scriptedLLM) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		kind := "text"
		if js, ok := req.Config.ResponseJsonSchema.(*jsonschema.Schema); ok {
			kind = js.Title
		}
		prompt := req.Contents[len(req.Contents)-1].Parts[0].Text

		s.mu.Lock()
		s.calls[kind]++
		s.requests[kind] = req
		s.prompts[kind] = prompt
		s.mu.Unlock()

		var fn replyFunc
		switch kind {
		case "StockCriteria":
			fn = s.criteria
		case "StockSelection":
			fn = s.selection
		}
		if fn == nil {
			yield(nil, fmt.Errorf("unexpected %s call", kind))
			return
		}
		text, err := fn(ctx, prompt)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(&model.LLMResponse{
			Content:      &genai.Content{Role: "model", Parts: []*genai.Part{genai.NewPartFromText(text)}},
			TurnComplete: true,
		}, nil)
	}
}

func (s *scriptedLLM) callCount(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

func (s *scriptedLLM) lastPrompt(kind string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[kind]
}

func (s *scriptedLLM) lastRequest(kind string) *model.LLMRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[kind]
}

// fakeScreener 记录收到的参数
type fakeScreener struct {
	mu       sync.Mutex
	fn       func(ctx context.Context, criteria []models.Criterion, limit int) ([]models.ScreenedStock, error)
	calls    int
	criteria []models.Criterion
	market   string
	limit    int
}

func (f *fakeScreener) Screen(ctx context.Context, criteria []models.Criterion, market, industry string, limit int) ([]models.ScreenedStock, error) {
	f.mu.Lock()
	f.calls++
	f.criteria = criteria
	f.market = market
	f.limit = limit
	f.mu.Unlock()
	return f.fn(ctx, criteria, limit)
}

func (f *fakeScreener) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func returning(stocks []models.ScreenedStock) *fakeScreener {
	return &fakeScreener{fn: func(context.Context, []models.Criterion, int) ([]models.ScreenedStock, error) {
		return stocks, nil
	}}
}

// makeStocks 生成 n 只候选股票，代码 sh600001 起
func makeStocks(n int) []models.ScreenedStock {
	stocks := make([]models.ScreenedStock, 0, n)
	for i := 1; i <= n; i++ {
		stocks = append(stocks, models.ScreenedStock{
			Code:     fmt.Sprintf("sh6%05d", i),
			Name:     fmt.Sprintf("股票%d", i),
			Market:   "sh",
			Industry: "银行",
			Metrics:  map[string]float64{"total_mv": float64(1000 - i), "pe_ttm": 5 + float64(i)/10},
		})
	}
	return stocks
}

// selectionReply 按给定代码生成推荐 JSON
func selectionReply(confidence float64, codes ...string) string {
	s := `{"recommendations":[`
	for i, c := range codes {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf(`{"code":%q,"rank":%d,"reason":"估值低","risk_level":"low"}`, c, i+1)
	}
	return s + fmt.Sprintf(`],"confidence_score":%g,"summary":"整体稳健"}`, confidence)
}

const valueCriteriaReply = `{"criteria":[{"code":"total_mv","min":100},{"code":"pe_ttm","max":20}],"market":"all","industry":""}`

func testCatalog(t *testing.T) *roles.Catalog {
	t.Helper()
	c, err := roles.LoadDefault()
	require.NoError(t, err)
	return c
}

func newTestPipeline(t *testing.T, llm model.LLM, svc *fakeScreener, cfg Config, opts ...Option) *Pipeline {
	t.Helper()
	return New(testCatalog(t), adk.NewModelInvoker(llm, 5*time.Second), svc, cfg, opts...)
}
