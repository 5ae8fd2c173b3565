// Package memory 会话上下文窗口管理：超出上限时按重要性保留消息并压缩其余部分
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/run-bigpig/jcp-selector/internal/logger"
	"github.com/run-bigpig/jcp-selector/internal/models"

	"github.com/google/uuid"
)

var log = logger.New("Memory")

// 默认配置
const (
	DefaultMaxContextMessages          = 100
	DefaultMinMessagesAfterCompression = 40
	DefaultImportantMessagesCount      = 10
	DefaultSummaryInputChars           = 4000
	SummaryTimeout                     = 60 * time.Second // 摘要调用的最大时长
)

// Config 上下文窗口配置
type Config struct {
	MaxContextMessages          int `mapstructure:"max_context_messages"`
	MinMessagesAfterCompression int `mapstructure:"min_messages_after_compression"`
	ImportantMessagesCount      int `mapstructure:"important_messages_count"`
	SummaryInputChars           int `mapstructure:"summary_input_chars"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxContextMessages:          DefaultMaxContextMessages,
		MinMessagesAfterCompression: DefaultMinMessagesAfterCompression,
		ImportantMessagesCount:      DefaultImportantMessagesCount,
		SummaryInputChars:           DefaultSummaryInputChars,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxContextMessages <= 0 {
		c.MaxContextMessages = d.MaxContextMessages
	}
	if c.MinMessagesAfterCompression <= 0 {
		c.MinMessagesAfterCompression = d.MinMessagesAfterCompression
	}
	if c.ImportantMessagesCount < 0 {
		c.ImportantMessagesCount = d.ImportantMessagesCount
	}
	if c.SummaryInputChars <= 0 {
		c.SummaryInputChars = d.SummaryInputChars
	}
	return c
}

// Summarizer 把待压缩的对话记录总结为一段文字
type Summarizer interface {
	Summarize(ctx context.Context, transcript, subject string) (string, error)
}

// SummarizerFunc 函数形式的 Summarizer
type SummarizerFunc func(ctx context.Context, transcript, subject string) (string, error)

// Summarize 实现 Summarizer
func (f SummarizerFunc) Summarize(ctx context.Context, transcript, subject string) (string, error) {
	return f(ctx, transcript, subject)
}

// ContextManager 单个会话的消息日志
// 追加与压缩在同一把会话锁下串行执行，不同会话互不阻塞
type ContextManager struct {
	mu          sync.Mutex
	sessionID   string
	cfg         Config
	scorer      Scorer
	summarizer  Summarizer
	initial     []models.ChatMessage
	messages    []models.ChatMessage
	subject     string
	compactions int
}

// NewContextManager 创建会话上下文，initial 为初始系统上下文，Clear 后重新载入
func NewContextManager(sessionID string, cfg Config, summarizer Summarizer, initial ...models.ChatMessage) *ContextManager {
	m := &ContextManager{
		sessionID:  sessionID,
		cfg:        cfg.withDefaults(),
		scorer:     NewScorer(),
		summarizer: summarizer,
	}
	for _, msg := range initial {
		m.initial = append(m.initial, stamp(msg))
	}
	m.messages = append([]models.ChatMessage(nil), m.initial...)
	return m
}

// stamp 补全消息 ID、时间戳与类型
func stamp(msg models.ChatMessage) models.ChatMessage {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	if msg.MsgType == "" {
		msg.MsgType = models.MsgTypeChat
	}
	return msg
}

// SessionID 会话 ID
func (m *ContextManager) SessionID() string {
	return m.sessionID
}

// SetSubject 设置当前讨论主题（如股票名称与代码），用于评分与兜底摘要
func (m *ContextManager) SetSubject(subject string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subject = strings.TrimSpace(subject)
}

// Subject 当前讨论主题
func (m *ContextManager) Subject() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subject
}

// Append 追加消息，超过上限时执行一次压缩；返回是否发生了压缩
func (m *ContextManager) Append(ctx context.Context, msg models.ChatMessage) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, stamp(msg))
	if len(m.messages) <= m.cfg.MaxContextMessages {
		return false
	}
	return m.compactLocked(ctx)
}

// Compact 不论是否超限立即压缩一次；没有可压缩的消息时返回 false
func (m *ContextManager) Compact(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compactLocked(ctx)
}

// Messages 返回消息日志副本
func (m *ContextManager) Messages() []models.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ChatMessage(nil), m.messages...)
}

// Len 当前消息数
func (m *ContextManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Compactions 已执行的压缩次数
func (m *ContextManager) Compactions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compactions
}

// Clear 清空会话，只保留初始系统上下文
func (m *ContextManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append([]models.ChatMessage(nil), m.initial...)
	m.compactions = 0
}

// compactLocked 压缩算法
//  1. 原始 system 消息原样保留；既有摘要并入本次压缩
//  2. 最近 MinMessagesAfterCompression/2 条非 system 消息无条件保留
//  3. 其余较早消息中按评分保留至多 ImportantMessagesCount 条，同分取较新的
//  4. 剩余消息交给 Summarizer 总结为一条 system 摘要，失败时使用统计兜底
//  5. 重组为：system 消息、摘要、保留消息（保持原有相对顺序）
func (m *ContextManager) compactLocked(ctx context.Context) bool {
	var system, summaries, others []models.ChatMessage
	for _, msg := range m.messages {
		switch {
		case msg.IsSummary():
			summaries = append(summaries, msg)
		case msg.IsSystem():
			system = append(system, msg)
		default:
			others = append(others, msg)
		}
	}

	reserve := min(m.cfg.MinMessagesAfterCompression/2, len(others))
	older := others[:len(others)-reserve]
	recent := others[len(others)-reserve:]

	important := m.selectImportant(older)
	var kept, compacted []models.ChatMessage
	for i, msg := range older {
		if important[i] {
			kept = append(kept, msg)
		} else {
			compacted = append(compacted, msg)
		}
	}
	if len(compacted) == 0 {
		return false
	}
	kept = append(kept, recent...)

	summary := m.summarize(ctx, summaries, compacted)

	rebuilt := make([]models.ChatMessage, 0, len(system)+1+len(kept))
	rebuilt = append(rebuilt, system...)
	rebuilt = append(rebuilt, summary)
	rebuilt = append(rebuilt, kept...)

	log.Info("session %s compacted: %d -> %d messages (%d summarized)",
		m.sessionID, len(m.messages), len(rebuilt), summary.CompactedCount)
	m.messages = rebuilt
	m.compactions++
	return true
}

// selectImportant 返回被选中保留的下标
func (m *ContextManager) selectImportant(older []models.ChatMessage) map[int]bool {
	n := min(m.cfg.ImportantMessagesCount, len(older))
	if n <= 0 {
		return nil
	}

	type scored struct {
		idx   int
		score float64
	}
	list := make([]scored, len(older))
	for i, msg := range older {
		list[i] = scored{idx: i, score: m.scorer.Score(msg, m.subject)}
	}
	sort.SliceStable(list, func(a, b int) bool {
		if list[a].score != list[b].score {
			return list[a].score > list[b].score
		}
		return list[a].idx > list[b].idx
	})

	picked := make(map[int]bool, n)
	for _, s := range list[:n] {
		picked[s.idx] = true
	}
	return picked
}

// summarize 生成摘要消息，摘要失败时退化为统计描述，不向上返回错误
func (m *ContextManager) summarize(ctx context.Context, previous, compacted []models.ChatMessage) models.ChatMessage {
	var prevCount int
	for _, s := range previous {
		prevCount += max(s.CompactedCount, 1)
	}
	total := prevCount + len(compacted)

	var text string
	if m.summarizer != nil {
		sctx, cancel := context.WithTimeout(ctx, SummaryTimeout)
		transcript := buildTranscript(previous, compacted, m.cfg.SummaryInputChars)
		out, err := m.summarizer.Summarize(sctx, transcript, m.subject)
		cancel()
		switch {
		case err != nil:
			log.Warn("session %s summarize failed, using fallback: %v", m.sessionID, err)
		case strings.TrimSpace(out) == "":
			log.Warn("session %s summarize returned empty text, using fallback", m.sessionID)
		default:
			text = strings.TrimSpace(out)
		}
	}
	if text == "" {
		text = fallbackSummary(compacted, prevCount, m.subject)
	}

	return models.ChatMessage{
		ID:             uuid.New().String(),
		Role:           models.RoleSystem,
		Content:        fmt.Sprintf("[已压缩 %d 条历史消息] %s", total, text),
		Timestamp:      time.Now().UnixMilli(),
		MsgType:        models.MsgTypeSummary,
		CompactedCount: total,
	}
}

// buildTranscript 拼接待总结的文本，超出预算的部分截断
func buildTranscript(previous, compacted []models.ChatMessage, limit int) string {
	var sb strings.Builder
	for _, s := range previous {
		sb.WriteString("【早前摘要】")
		sb.WriteString(s.Content)
		sb.WriteString("\n")
	}
	for _, msg := range compacted {
		switch msg.Role {
		case models.RoleUser:
			sb.WriteString("用户：")
		default:
			if msg.AgentName != "" {
				sb.WriteString(msg.AgentName + "：")
			} else {
				sb.WriteString("助手：")
			}
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}

	r := []rune(sb.String())
	if len(r) <= limit {
		return string(r)
	}
	return string(r[:limit]) + "…"
}

// fallbackSummary 统计形式的确定性摘要
func fallbackSummary(compacted []models.ChatMessage, prevCount int, subject string) string {
	var users, assistants int
	for _, msg := range compacted {
		if msg.Role == models.RoleUser {
			users++
		} else {
			assistants++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "本次对话已压缩 %d 条历史消息（用户 %d 条，助手 %d 条", len(compacted)+prevCount, users, assistants)
	if prevCount > 0 {
		fmt.Fprintf(&sb, "，早前摘要 %d 条", prevCount)
	}
	sb.WriteString("）。")
	if subject != "" {
		fmt.Fprintf(&sb, "讨论主题：%s。", subject)
	}
	return sb.String()
}
