package pipeline

import "context"

// Stage 流水线中的一个阶段：一个输入，一个输出
type Stage[In, Out any] interface {
	Name() StageName
	Execute(ctx context.Context, in In) (Out, error)
}

// StageFunc 函数形式的阶段
type StageFunc[In, Out any] struct {
	name StageName
	fn   func(ctx context.Context, in In) (Out, error)
}

// NewStage 由函数创建阶段
func NewStage[In, Out any](name StageName, fn func(ctx context.Context, in In) (Out, error)) *StageFunc[In, Out] {
	return &StageFunc[In, Out]{name: name, fn: fn}
}

// Name 阶段名称
func (s *StageFunc[In, Out]) Name() StageName { return s.name }

// Execute 执行阶段
func (s *StageFunc[In, Out]) Execute(ctx context.Context, in In) (Out, error) {
	return s.fn(ctx, in)
}
