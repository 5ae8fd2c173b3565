package adk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/run-bigpig/jcp-selector/internal/logger"
	"github.com/run-bigpig/jcp-selector/internal/models"
	"github.com/run-bigpig/jcp-selector/internal/roles"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

var log = logger.New("Invoker")

// DefaultInvokeTimeout 单次模型调用的默认超时
const DefaultInvokeTimeout = 90 * time.Second

// 错误定义
var (
	ErrNoMessages    = errors.New("invoke request has no messages")
	ErrEmptyResponse = errors.New("model returned empty response")
)

// SchemaValidationError 结构化输出不符合约束
// 与传输错误区分，调用方可选择换用更严格的提示词重试
type SchemaValidationError struct {
	Schema string
	Raw    string
	Err    error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("response does not match schema %s: %v", e.Schema, e.Err)
}

func (e *SchemaValidationError) Unwrap() error {
	return e.Err
}

// InvokeRequest 模型调用请求
type InvokeRequest struct {
	Role              string // 角色名，仅用于日志
	SystemInstruction string
	Messages          []models.ChatMessage
	Sampling          roles.Sampling
	Schema            *roles.Schema // 非 nil 时要求结构化输出
	Timeout           time.Duration // 0 使用调用器默认值
}

// InvokeResult 模型调用结果
type InvokeResult struct {
	Text       string
	Structured json.RawMessage // 通过校验的 JSON，仅在请求携带 Schema 时有值
}

// Decode 将结构化结果解码到 v
func (r *InvokeResult) Decode(v any) error {
	if len(r.Structured) == 0 {
		return errors.New("result has no structured output")
	}
	return json.Unmarshal(r.Structured, v)
}

// Invoker 语言模型调用契约
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error)
}

// NewRoleRequest 以角色的指令、采样参数与输出结构构造请求
func NewRoleRequest(role roles.Role, messages ...models.ChatMessage) InvokeRequest {
	return InvokeRequest{
		Role:              role.Name,
		SystemInstruction: role.Instructions,
		Messages:          messages,
		Sampling:          role.Sampling,
		Schema:            role.Schema,
	}
}

// UserMessage 构造一条用户消息
func UserMessage(content string) models.ChatMessage {
	return models.ChatMessage{Role: models.RoleUser, Content: content, Timestamp: time.Now().UnixMilli()}
}

// ModelInvoker 基于 adk model.LLM 的调用器
type ModelInvoker struct {
	llm     model.LLM
	timeout time.Duration
}

var _ Invoker = (*ModelInvoker)(nil)

// NewModelInvoker 创建调用器，timeout <= 0 时使用 DefaultInvokeTimeout
func NewModelInvoker(llm model.LLM, timeout time.Duration) *ModelInvoker {
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	return &ModelInvoker{llm: llm, timeout: timeout}
}

// Invoke 调用模型；请求带 Schema 时在此处统一完成提取、规整与校验
func (m *ModelInvoker) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	llmReq, err := m.buildRequest(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	text, err := m.generate(ctx, llmReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return nil, fmt.Errorf("invoke %s: %w", req.Role, err)
	}
	log.Debug("invoke %s done in %v, %d chars", req.Role, time.Since(start).Round(time.Millisecond), len(text))

	if req.Schema == nil {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("invoke %s: %w", req.Role, ErrEmptyResponse)
		}
		return &InvokeResult{Text: text}, nil
	}

	structured, err := decodeStructured(text, req.Schema)
	if err != nil {
		log.Warn("invoke %s: %v", req.Role, err)
		return nil, err
	}
	return &InvokeResult{Text: text, Structured: structured}, nil
}

// buildRequest 构造 adk 请求
// system 消息并入系统指令；user/assistant 映射为 genai 的 user/model
func (m *ModelInvoker) buildRequest(req InvokeRequest) (*model.LLMRequest, error) {
	var system []string
	if s := strings.TrimSpace(req.SystemInstruction); s != "" {
		system = append(system, s)
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		if msg.Content == "" {
			continue
		}
		if msg.IsSystem() {
			system = append(system, msg.Content)
			continue
		}
		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Role: role, Parts: []*genai.Part{genai.NewPartFromText(msg.Content)}})
	}
	if len(contents) == 0 {
		return nil, ErrNoMessages
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Sampling.Temperature)),
	}
	if req.Sampling.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(req.Sampling.TopP))
	}
	if req.Sampling.TopK != nil {
		cfg.TopK = genai.Ptr(float32(*req.Sampling.TopK))
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(strings.Join(system, "\n\n"))}}
	}
	if req.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseJsonSchema = req.Schema.JSONSchema()
	}

	return &model.LLMRequest{
		Model:    m.llm.Name(),
		Contents: contents,
		Config:   cfg,
	}, nil
}

// generate 调用 LLM 并拼接非思考文本，流式分片响应被忽略
func (m *ModelInvoker) generate(ctx context.Context, req *model.LLMRequest) (string, error) {
	var result strings.Builder
	for resp, err := range m.llm.GenerateContent(ctx, req, false) {
		if err != nil {
			return "", err
		}
		if resp == nil || resp.Partial || resp.Content == nil {
			continue
		}
		for _, part := range resp.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			result.WriteString(part.Text)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return result.String(), nil
}
