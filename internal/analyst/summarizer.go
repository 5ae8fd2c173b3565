package analyst

import (
	"context"
	"fmt"
	"strings"

	"github.com/run-bigpig/jcp-selector/internal/adk"
	"github.com/run-bigpig/jcp-selector/internal/memory"
	"github.com/run-bigpig/jcp-selector/internal/roles"
)

// RoleSummarizer 使用 context_summarizer 角色压缩历史对话
type RoleSummarizer struct {
	role    roles.Role
	invoker adk.Invoker
}

var _ memory.Summarizer = (*RoleSummarizer)(nil)

// NewSummarizer 从角色目录创建摘要器
func NewSummarizer(catalog *roles.Catalog, invoker adk.Invoker) (*RoleSummarizer, error) {
	role, err := catalog.Get(roles.ContextSummarizer)
	if err != nil {
		return nil, err
	}
	return &RoleSummarizer{role: role, invoker: invoker}, nil
}

// Summarize 实现 memory.Summarizer
func (s *RoleSummarizer) Summarize(ctx context.Context, transcript, subject string) (string, error) {
	var sb strings.Builder
	if subject != "" {
		fmt.Fprintf(&sb, "讨论主题：%s\n\n", subject)
	}
	sb.WriteString("## 历史对话\n")
	sb.WriteString(transcript)

	res, err := s.invoker.Invoke(ctx, adk.NewRoleRequest(s.role, adk.UserMessage(sb.String())))
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return strings.TrimSpace(res.Text), nil
}
