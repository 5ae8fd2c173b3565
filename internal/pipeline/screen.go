package pipeline

import (
	"context"

	"github.com/run-bigpig/jcp-selector/internal/models"
	"github.com/run-bigpig/jcp-selector/internal/screener"
)

// screenStage 第二阶段：调用外部选股服务，不调用模型
type screenStage struct {
	svc screener.Service
}

// NewScreenStage 创建筛选阶段
func NewScreenStage(svc screener.Service) Stage[*models.CriteriaEnvelope, *models.ScreeningEnvelope] {
	return &screenStage{svc: svc}
}

func (s *screenStage) Name() StageName { return StageScreenStocks }

func (s *screenStage) Execute(ctx context.Context, env *models.CriteriaEnvelope) (*models.ScreeningEnvelope, error) {
	if env == nil {
		return nil, ErrMissingEnvelope
	}
	stocks, err := s.svc.Screen(ctx, env.Criteria, env.Market, env.Industry, env.ResultLimit)
	if err != nil {
		return nil, err
	}

	kept := make([]models.ScreenedStock, 0, len(stocks))
	for _, st := range stocks {
		if env.Request != nil && env.Request.IsExcluded(st.Industry) {
			continue
		}
		kept = append(kept, st)
	}
	if env.ResultLimit > 0 && len(kept) > env.ResultLimit {
		kept = kept[:env.ResultLimit]
	}

	log.Info("screened %d stocks (service returned %d)", len(kept), len(stocks))
	return &models.ScreeningEnvelope{Stocks: kept, Criteria: env, Request: env.Request}, nil
}
