package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/run-bigpig/jcp-selector/internal/adk"
)

// StageName 阶段名称
type StageName string

const (
	StageGenerateCriteria StageName = "GenerateCriteria"
	StageScreenStocks     StageName = "ScreenStocks"
	StageAnalyzeStocks    StageName = "AnalyzeStocks"
)

// 阶段的中文描述，用于提示用户
var stageLabels = map[StageName]string{
	StageGenerateCriteria: "生成筛选条件",
	StageScreenStocks:     "筛选股票",
	StageAnalyzeStocks:    "分析推荐",
}

// Label 阶段中文名
func (s StageName) Label() string {
	if l, ok := stageLabels[s]; ok {
		return l
	}
	return string(s)
}

// 错误定义
var (
	ErrEmptyRequest    = errors.New("selection request content is empty")
	ErrEmptyCriteria   = errors.New("no supported screening criteria")
	ErrMissingEnvelope = errors.New("stage input envelope is nil")
	ErrRunNotFound     = errors.New("pipeline run not found or expired")
	ErrRunNotResumable = errors.New("pipeline run is not in failed state")
)

// StageError 阶段失败，始终携带失败的阶段
type StageError struct {
	Stage StageName
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Message 面向用户的失败说明
func (e *StageError) Message() string {
	var sve *adk.SchemaValidationError
	switch {
	case errors.Is(e.Err, context.Canceled):
		return e.Stage.Label() + "已取消"
	case errors.Is(e.Err, context.DeadlineExceeded):
		return e.Stage.Label() + "超时，请稍后重试"
	case errors.Is(e.Err, ErrEmptyCriteria), errors.As(e.Err, &sve):
		return e.Stage.Label() + "失败，请尝试换一种说法描述需求"
	default:
		return fmt.Sprintf("%s失败：%v", e.Stage.Label(), e.Err)
	}
}

// IsSchemaError 是否由结构化输出校验失败导致
func (e *StageError) IsSchemaError() bool {
	var sve *adk.SchemaValidationError
	return errors.As(e.Err, &sve)
}
