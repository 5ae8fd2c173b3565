package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/run-bigpig/jcp-selector/internal/logger"
)

var modelLog = logger.New("openai:model")

var _ model.LLM = &OpenAIModel{}

var (
	ErrNoChoicesInResponse = errors.New("no choices in OpenAI response")
)

// OpenAIModel 实现 model.LLM 接口，支持 thinking 模型
type OpenAIModel struct {
	Client       *openai.Client
	ModelName    string
	NoSystemRole bool // 不支持 system role，需降级处理
}

// NewOpenAIModel 创建 OpenAI 模型
func NewOpenAIModel(modelName string, cfg openai.ClientConfig, noSystemRole bool) *OpenAIModel {
	return &OpenAIModel{
		Client:       openai.NewClientWithConfig(cfg),
		ModelName:    modelName,
		NoSystemRole: noSystemRole,
	}
}

// Name 返回模型名称
func (o *OpenAIModel) Name() string {
	return o.ModelName
}

// GenerateContent 实现 model.LLM 接口
func (o *OpenAIModel) GenerateContent(ctx context.Context, req *model.LLMRequest, stream bool) iter.Seq2[*model.LLMResponse, error] {
	if stream {
		return o.generateStream(ctx, req)
	}
	return o.generate(ctx, req)
}

// generate 非流式生成
func (o *OpenAIModel) generate(ctx context.Context, req *model.LLMRequest) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		openaiReq, err := toOpenAIChatCompletionRequest(req, o.ModelName, o.NoSystemRole)
		if err != nil {
			yield(nil, err)
			return
		}

		resp, err := o.Client.CreateChatCompletion(ctx, openaiReq)
		if err != nil {
			yield(nil, err)
			return
		}

		llmResp, err := convertChatCompletionResponse(&resp)
		if err != nil {
			yield(nil, err)
			return
		}
		yield(llmResp, nil)
	}
}

// generateStream 流式生成
func (o *OpenAIModel) generateStream(ctx context.Context, req *model.LLMRequest) iter.Seq2[*model.LLMResponse, error] {
	return func(yield func(*model.LLMResponse, error) bool) {
		openaiReq, err := toOpenAIChatCompletionRequest(req, o.ModelName, o.NoSystemRole)
		if err != nil {
			yield(nil, err)
			return
		}
		openaiReq.Stream = true

		stream, err := o.Client.CreateChatCompletionStream(ctx, openaiReq)
		if err != nil {
			yield(nil, err)
			return
		}
		defer stream.Close()

		o.processStream(stream, yield)
	}
}

// processStream 处理流式响应：逐块输出 partial 响应，最后输出聚合结果
func (o *OpenAIModel) processStream(stream *openai.ChatCompletionStream, yield func(*model.LLMResponse, error) bool) {
	var (
		text, reasoning strings.Builder
		finishReason    genai.FinishReason
		usage           *genai.GenerateContentResponseUsageMetadata
	)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			modelLog.Warn("流式读取中断: %v", err)
			yield(nil, fmt.Errorf("流式读取错误: %w", err))
			return
		}

		if chunk.Usage != nil {
			usage = convertUsage(*chunk.Usage)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if delta := choice.Delta.ReasoningContent; delta != "" {
			reasoning.WriteString(delta)
			if !yield(partialResponse(&genai.Part{Text: delta, Thought: true}), nil) {
				return
			}
		}
		if delta := choice.Delta.Content; delta != "" {
			text.WriteString(delta)
			if !yield(partialResponse(&genai.Part{Text: delta}), nil) {
				return
			}
		}
		if choice.FinishReason != "" {
			finishReason = convertFinishReason(string(choice.FinishReason))
		}
	}

	content := &genai.Content{Role: "model", Parts: []*genai.Part{}}
	if reasoning.Len() > 0 {
		content.Parts = append(content.Parts, &genai.Part{Text: reasoning.String(), Thought: true})
	}
	if text.Len() > 0 {
		content.Parts = append(content.Parts, &genai.Part{Text: text.String()})
	}
	yield(&model.LLMResponse{
		Content:       content,
		UsageMetadata: usage,
		FinishReason:  finishReason,
		TurnComplete:  true,
	}, nil)
}

func partialResponse(part *genai.Part) *model.LLMResponse {
	return &model.LLMResponse{
		Content: &genai.Content{Role: "model", Parts: []*genai.Part{part}},
		Partial: true,
	}
}
