package models

import "time"

// AIProvider 模型服务提供方
type AIProvider string

const (
	AIProviderGemini AIProvider = "gemini"
	AIProviderOpenAI AIProvider = "openai"
)

// AIConfig AI 服务配置
type AIConfig struct {
	Provider     AIProvider    `json:"provider" mapstructure:"provider"`
	BaseURL      string        `json:"baseUrl" mapstructure:"base_url"`
	APIKey       string        `json:"apiKey" mapstructure:"api_key"`
	ModelName    string        `json:"modelName" mapstructure:"model"`
	NoSystemRole bool          `json:"noSystemRole" mapstructure:"no_system_role"` // 不支持 system role 的模型
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`             // 单次调用超时
}

// MCPTransportType MCP 传输方式
type MCPTransportType string

const (
	MCPTransportHTTP    MCPTransportType = "http"
	MCPTransportSSE     MCPTransportType = "sse"
	MCPTransportCommand MCPTransportType = "command"
)

// MCPServerConfig MCP 服务器配置
type MCPServerConfig struct {
	ID            string           `json:"id" mapstructure:"id"`
	Name          string           `json:"name" mapstructure:"name"`
	Enabled       bool             `json:"enabled" mapstructure:"enabled"`
	TransportType MCPTransportType `json:"transportType" mapstructure:"transport"`
	Endpoint      string           `json:"endpoint" mapstructure:"endpoint"`
	Command       string           `json:"command" mapstructure:"command"`
	Args          []string         `json:"args" mapstructure:"args"`
	ToolFilter    []string         `json:"toolFilter" mapstructure:"tool_filter"`
}
