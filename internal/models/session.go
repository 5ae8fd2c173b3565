package models

// MessageRole 消息角色
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// 消息类型
const (
	MsgTypeChat    = "chat"
	MsgTypeSummary = "compaction_summary" // 上下文压缩产生的摘要
)

// ChatMessage 聊天消息
type ChatMessage struct {
	ID             string      `json:"id"`
	AgentID        string      `json:"agentId,omitempty"`
	AgentName      string      `json:"agentName,omitempty"`
	Role           MessageRole `json:"role"`
	Content        string      `json:"content"`
	Timestamp      int64       `json:"timestamp"`
	MsgType        string      `json:"msgType,omitempty"`
	CompactedCount int         `json:"compactedCount,omitempty"` // 摘要消息代表的原始消息条数
}

// IsSystem 是否为 system 消息
func (m ChatMessage) IsSystem() bool {
	return m.Role == RoleSystem
}

// IsSummary 是否为压缩摘要
func (m ChatMessage) IsSummary() bool {
	return m.MsgType == MsgTypeSummary
}

// StockSession 股票会话（每个自选股独立）
type StockSession struct {
	ID        string         `json:"id"`
	StockCode string         `json:"stockCode"`
	StockName string         `json:"stockName"`
	RoleName  string         `json:"roleName"`
	Messages  []ChatMessage  `json:"messages"`
	Position  *StockPosition `json:"position"`
	CreatedAt int64          `json:"createdAt"`
	UpdatedAt int64          `json:"updatedAt"`
}
