package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/run-bigpig/jcp-selector/internal/adk"
	"github.com/run-bigpig/jcp-selector/internal/models"
	"github.com/run-bigpig/jcp-selector/internal/roles"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCriteriaStage(t *testing.T) {
	catalog := testCatalog(t)

	run := func(t *testing.T, reply string, req models.SelectionRequest) (*models.CriteriaEnvelope, *scriptedLLM, error) {
		t.Helper()
		llm := newScriptedLLM(constReply(reply), nil)
		stage := NewCriteriaStage(catalog, adk.NewModelInvoker(llm, time.Second), 20)
		env, err := stage.Execute(context.Background(), req)
		return env, llm, err
	}

	t.Run("字段完整保留", func(t *testing.T) {
		reply := `{"criteria":[{"code":"roe","min":15,"max":40}],"market":"gem","industry":"半导体,软件","limit":12}`
		env, llm, err := run(t, reply, models.SelectionRequest{Content: "高盈利成长股", ExcludedSectors: []string{"银行"}})
		require.NoError(t, err)
		require.Len(t, env.Criteria, 1)
		assert.Equal(t, "roe", env.Criteria[0].Code)
		assert.InDelta(t, 15, *env.Criteria[0].Min, 1e-9)
		assert.InDelta(t, 40, *env.Criteria[0].Max, 1e-9)
		assert.Equal(t, "gem", env.Market)
		assert.Equal(t, "半导体,软件", env.Industry)
		assert.Equal(t, 12, env.ResultLimit)
		require.NotNil(t, env.Request)
		assert.Equal(t, models.DefaultRiskPreference, env.Request.RiskPreference)

		req := llm.lastRequest("StockCriteria")
		assert.LessOrEqual(t, *req.Config.Temperature, float32(0.1))
		assert.Equal(t, catalog.MustGet(roles.CriteriaGenerator).Instructions, req.Config.SystemInstruction.Parts[0].Text)
		assert.Contains(t, llm.lastPrompt("StockCriteria"), "排除行业：银行")
	})

	t.Run("新闻驱动使用新闻角色并去除HTML", func(t *testing.T) {
		content := `<div><p>光伏<b>装机</b>大增，ＰＥ普遍低于２０</p><script>track()</script></div>`
		_, llm, err := run(t, valueCriteriaReply, models.SelectionRequest{Content: content, IsNewsDriven: true})
		require.NoError(t, err)

		req := llm.lastRequest("StockCriteria")
		assert.Equal(t, catalog.MustGet(roles.NewsCriteriaGenerator).Instructions, req.Config.SystemInstruction.Parts[0].Text)
		prompt := llm.lastPrompt("StockCriteria")
		assert.Contains(t, prompt, "## 新闻内容")
		assert.Contains(t, prompt, "光伏装机大增,PE普遍低于20")
		assert.NotContains(t, prompt, "<p>")
		assert.NotContains(t, prompt, "track()")
	})

	t.Run("结果数量限定", func(t *testing.T) {
		env, _, err := run(t, `{"criteria":[{"code":"pb","max":1}],"limit":500}`, models.SelectionRequest{Content: "破净股"})
		require.NoError(t, err)
		assert.Equal(t, MaxResultLimit, env.ResultLimit)
		assert.Equal(t, "all", env.Market)

		env, _, err = run(t, `{"criteria":[{"code":"pb","max":1}]}`, models.SelectionRequest{Content: "破净股"})
		require.NoError(t, err)
		assert.Equal(t, 20, env.ResultLimit)
	})

	t.Run("条件全部不支持", func(t *testing.T) {
		_, _, err := run(t, `{"criteria":[{"code":"astro_sign"}]}`, models.SelectionRequest{Content: "属龙的股票"})
		assert.ErrorIs(t, err, ErrEmptyCriteria)
	})

	t.Run("空需求", func(t *testing.T) {
		_, llm, err := run(t, valueCriteriaReply, models.SelectionRequest{Content: "  <p> </p> "})
		assert.ErrorIs(t, err, ErrEmptyRequest)
		assert.Equal(t, 0, llm.callCount("StockCriteria"))
	})
}

func TestScreenStage(t *testing.T) {
	stocks := makeStocks(3)
	stocks[1].Industry = "白酒"
	svc := returning(stocks)
	stage := NewScreenStage(svc)

	env := &models.CriteriaEnvelope{
		Criteria:    []models.Criterion{{Code: "pe_ttm"}},
		Market:      "all",
		ResultLimit: 2,
		Request:     &models.SelectionRequest{Content: "x", ExcludedSectors: []string{"白酒"}},
	}
	out, err := stage.Execute(context.Background(), env)
	require.NoError(t, err)
	require.Len(t, out.Stocks, 2)
	assert.Equal(t, stocks[0].Code, out.Stocks[0].Code)
	assert.Equal(t, stocks[2].Code, out.Stocks[1].Code)
	assert.Same(t, env, out.Criteria)
	assert.Same(t, env.Request, out.Request)

	_, err = stage.Execute(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMissingEnvelope)

	boom := errors.New("screening site changed layout")
	_, err = NewScreenStage(&fakeScreener{fn: func(context.Context, []models.Criterion, int) ([]models.ScreenedStock, error) {
		return nil, boom
	}}).Execute(context.Background(), env)
	assert.ErrorIs(t, err, boom)
}

func TestAnalyzeStage(t *testing.T) {
	catalog := testCatalog(t)
	stocks := makeStocks(6)
	request := &models.SelectionRequest{Content: "银行股", MaxRecommendations: 8}

	analyze := func(reply replyFunc, env *models.ScreeningEnvelope) (*models.SelectionResult, *scriptedLLM, error) {
		llm := newScriptedLLM(nil, reply)
		res, err := NewAnalyzeStage(catalog, adk.NewModelInvoker(llm, time.Second)).Execute(context.Background(), env)
		return res, llm, err
	}

	t.Run("无候选不调用模型", func(t *testing.T) {
		res, llm, err := analyze(constReply("unused"), &models.ScreeningEnvelope{Stocks: nil, Request: request})
		require.NoError(t, err)
		assert.NotNil(t, res.Recommendations)
		assert.Empty(t, res.Recommendations)
		assert.Zero(t, res.ConfidenceScore)
		assert.NotEmpty(t, res.Summary)
		assert.Equal(t, 0, llm.callCount("StockSelection"))
	})

	t.Run("缺少原始请求", func(t *testing.T) {
		res, llm, err := analyze(constReply("unused"), &models.ScreeningEnvelope{Stocks: stocks})
		require.NoError(t, err)
		assert.Empty(t, res.Recommendations)
		assert.Equal(t, 0, llm.callCount("StockSelection"))
	})

	t.Run("格式异常降级", func(t *testing.T) {
		res, _, err := analyze(constReply(`推荐工商银行`), &models.ScreeningEnvelope{Stocks: stocks, Request: request})
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.Empty(t, res.Recommendations)
		assert.Zero(t, res.ConfidenceScore)
		assert.Equal(t, summaryDegraded, res.Summary)
	})

	t.Run("传输错误向上传递", func(t *testing.T) {
		boom := errors.New("upstream 502")
		_, _, err := analyze(func(context.Context, string) (string, error) { return "", boom }, &models.ScreeningEnvelope{Stocks: stocks, Request: request})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("清洗推荐结果", func(t *testing.T) {
		reply := `{"recommendations":[
			{"code":"600002","rank":2,"reason":" 稳健 ","risk_level":"Medium"},
			{"code":"sh600001","name":"自定义名","rank":1,"reason":"龙头","risk_level":"low","highlights":["PE 5.1"]},
			{"code":"sz999999","rank":3,"reason":"不在候选","risk_level":"high"},
			{"code":"SH600002","rank":4,"reason":"重复","risk_level":"high"}
		],"confidence_score":150,"summary":"银行板块防御性强"}`
		res, llm, err := analyze(constReply(reply), &models.ScreeningEnvelope{Stocks: stocks, Request: request})
		require.NoError(t, err)
		require.Len(t, res.Recommendations, 2)

		first, second := res.Recommendations[0], res.Recommendations[1]
		assert.Equal(t, "sh600001", first.Code)
		assert.Equal(t, "自定义名", first.Name)
		assert.Equal(t, 1, first.Rank)
		assert.Equal(t, []string{"PE 5.1"}, first.Highlights)

		assert.Equal(t, "sh600002", second.Code)
		assert.Equal(t, stocks[1].Name, second.Name)
		assert.Equal(t, 2, second.Rank)
		assert.Equal(t, "稳健", second.Reason)
		assert.Equal(t, models.RiskMedium, second.RiskLevel)

		assert.InDelta(t, 100, res.ConfidenceScore, 1e-9)
		assert.Equal(t, "银行板块防御性强", res.Summary)

		prompt := llm.lastPrompt("StockSelection")
		assert.Contains(t, prompt, "共6只")
		assert.Contains(t, prompt, "总市值:999亿")
		assert.Contains(t, prompt, "推荐 3-8 只")
	})

	t.Run("推荐数量上限", func(t *testing.T) {
		many := makeStocks(12)
		codes := make([]string, 0, len(many))
		for _, s := range many {
			codes = append(codes, s.Code)
		}
		req := &models.SelectionRequest{Content: "银行股", MaxRecommendations: 20}
		res, _, err := analyze(constReply(selectionReply(90, codes...)), &models.ScreeningEnvelope{Stocks: many, Request: req})
		require.NoError(t, err)
		assert.Len(t, res.Recommendations, models.MaxRecommendationsCap)
	})

	t.Run("模型未推荐", func(t *testing.T) {
		res, _, err := analyze(constReply(`{"recommendations":[],"confidence_score":40,"summary":"均不匹配"}`),
			&models.ScreeningEnvelope{Stocks: stocks, Request: request})
		require.NoError(t, err)
		assert.Empty(t, res.Recommendations)
		assert.Zero(t, res.ConfidenceScore)
		assert.Equal(t, "均不匹配", res.Summary)
		assert.False(t, res.Degraded)
	})
}

func TestNormalizeContent(t *testing.T) {
	assert.Equal(t, "市值 100亿以上", normalizeContent("  市值\n\t１００亿以上 "))
	assert.Equal(t, "PE<20 的股票", normalizeContent("PE<20 的股票"))
	assert.Equal(t, "标题 正文", normalizeContent("<h1>标题</h1> <p>正文</p>"))
}

func TestStageErrorMessage(t *testing.T) {
	err := &StageError{Stage: StageScreenStocks, Err: errors.New("site down")}
	assert.Equal(t, "筛选股票失败：site down", err.Message())
	assert.Equal(t, "stage ScreenStocks failed: site down", err.Error())

	err = &StageError{Stage: StageGenerateCriteria, Err: ErrEmptyCriteria}
	assert.Contains(t, err.Message(), "换一种说法")
}
