package openai

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// noSystemRolePrefix 不支持 system role 的模型，系统指令并入首条用户消息
const noSystemRolePrefix = "【系统指令】\n"

// toOpenAIChatCompletionRequest 将 ADK 请求转换为 OpenAI 请求
func toOpenAIChatCompletionRequest(req *model.LLMRequest, modelName string, noSystemRole bool) (openai.ChatCompletionRequest, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Contents)+1)
	for _, content := range req.Contents {
		if content == nil {
			continue
		}
		if msg, ok := toOpenAIChatCompletionMessage(content); ok {
			messages = append(messages, msg)
		}
	}

	openaiReq := openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: messages,
	}
	if req.Config == nil {
		return openaiReq, nil
	}

	cfg := req.Config
	if cfg.Temperature != nil {
		openaiReq.Temperature = *cfg.Temperature
	}
	if cfg.TopP != nil {
		openaiReq.TopP = *cfg.TopP
	}
	if cfg.MaxOutputTokens > 0 {
		openaiReq.MaxTokens = int(cfg.MaxOutputTokens)
	}
	if len(cfg.StopSequences) > 0 {
		openaiReq.Stop = cfg.StopSequences
	}

	// 处理 thinking 配置
	if cfg.ThinkingConfig != nil {
		switch cfg.ThinkingConfig.ThinkingLevel {
		case genai.ThinkingLevelLow:
			openaiReq.ReasoningEffort = "low"
		case genai.ThinkingLevelHigh:
			openaiReq.ReasoningEffort = "high"
		default:
			openaiReq.ReasoningEffort = "medium"
		}
	}

	// 处理系统指令
	if system := extractTextFromContent(cfg.SystemInstruction); system != "" {
		openaiReq.Messages = applySystemInstruction(openaiReq.Messages, system, noSystemRole)
	}

	// 处理 JSON 模式
	if cfg.ResponseMIMEType == "application/json" {
		openaiReq.ResponseFormat = responseFormat(cfg.ResponseJsonSchema)
	}

	return openaiReq, nil
}

// applySystemInstruction 插入系统指令，noSystemRole 时并入第一条用户消息
func applySystemInstruction(messages []openai.ChatCompletionMessage, system string, noSystemRole bool) []openai.ChatCompletionMessage {
	if !noSystemRole {
		systemMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system}
		return append([]openai.ChatCompletionMessage{systemMsg}, messages...)
	}
	for i := range messages {
		if messages[i].Role == openai.ChatMessageRoleUser {
			messages[i].Content = noSystemRolePrefix + system + "\n\n" + messages[i].Content
			return messages
		}
	}
	userMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: noSystemRolePrefix + system}
	return append([]openai.ChatCompletionMessage{userMsg}, messages...)
}

// rawSchema 将任意 schema 值适配为 json.Marshaler
type rawSchema struct {
	v any
}

func (s rawSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.v)
}

var schemaNameRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// responseFormat 有 schema 时使用 json_schema 格式，否则退化为 json_object
func responseFormat(schema any) *openai.ChatCompletionResponseFormat {
	if schema == nil {
		return &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   schemaName(schema),
			Schema: rawSchema{v: schema},
			Strict: false,
		},
	}
}

// schemaName 取 schema 的 title 作为格式名称
func schemaName(schema any) string {
	data, err := json.Marshal(schema)
	if err == nil {
		var head struct {
			Title string `json:"title"`
		}
		if json.Unmarshal(data, &head) == nil && head.Title != "" {
			if name := schemaNameRe.ReplaceAllString(head.Title, "_"); name != "" {
				return name
			}
		}
	}
	return "structured_output"
}

// toOpenAIChatCompletionMessage 将 genai.Content 转换为 OpenAI 消息
// thinking 模型的思考内容回填到 reasoning_content
func toOpenAIChatCompletionMessage(content *genai.Content) (openai.ChatCompletionMessage, bool) {
	var text, reasoning strings.Builder
	for _, part := range content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		if part.Thought {
			reasoning.WriteString(part.Text)
			continue
		}
		text.WriteString(part.Text)
	}
	if text.Len() == 0 && reasoning.Len() == 0 {
		return openai.ChatCompletionMessage{}, false
	}
	return openai.ChatCompletionMessage{
		Role:             convertRoleToOpenAI(content.Role),
		Content:          text.String(),
		ReasoningContent: reasoning.String(),
	}, true
}

// convertRoleToOpenAI 转换角色
func convertRoleToOpenAI(role string) string {
	switch role {
	case "model":
		return openai.ChatMessageRoleAssistant
	case "system":
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}

// extractTextFromContent 提取文本内容，多段以换行连接
func extractTextFromContent(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var texts []string
	for _, part := range content.Parts {
		if part != nil && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// convertChatCompletionResponse 转换 OpenAI 响应
func convertChatCompletionResponse(resp *openai.ChatCompletionResponse) (*model.LLMResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoicesInResponse
	}

	choice := resp.Choices[0]
	content := &genai.Content{
		Role:  "model",
		Parts: []*genai.Part{},
	}
	if choice.Message.ReasoningContent != "" {
		content.Parts = append(content.Parts, &genai.Part{Text: choice.Message.ReasoningContent, Thought: true})
	}
	if choice.Message.Content != "" {
		content.Parts = append(content.Parts, &genai.Part{Text: choice.Message.Content})
	}

	return &model.LLMResponse{
		Content:       content,
		UsageMetadata: convertUsage(resp.Usage),
		FinishReason:  convertFinishReason(string(choice.FinishReason)),
		TurnComplete:  true,
	}, nil
}

func convertUsage(u openai.Usage) *genai.GenerateContentResponseUsageMetadata {
	if u.TotalTokens == 0 {
		return nil
	}
	return &genai.GenerateContentResponseUsageMetadata{
		PromptTokenCount:     int32(u.PromptTokens),
		CandidatesTokenCount: int32(u.CompletionTokens),
		TotalTokenCount:      int32(u.TotalTokens),
	}
}

// convertFinishReason 转换结束原因
func convertFinishReason(reason string) genai.FinishReason {
	switch reason {
	case "stop", "tool_calls", "function_call":
		return genai.FinishReasonStop
	case "length":
		return genai.FinishReasonMaxTokens
	case "content_filter":
		return genai.FinishReasonSafety
	default:
		return genai.FinishReasonUnspecified
	}
}
