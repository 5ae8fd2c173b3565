// Package analyst 个股对话服务：按角色回答问题，会话历史由 memory 管理并自动压缩
package analyst

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/run-bigpig/jcp-selector/internal/adk"
	"github.com/run-bigpig/jcp-selector/internal/logger"
	"github.com/run-bigpig/jcp-selector/internal/memory"
	"github.com/run-bigpig/jcp-selector/internal/models"
	"github.com/run-bigpig/jcp-selector/internal/roles"
)

var log = logger.New("Analyst")

// 超时配置常量
const (
	PanelTimeout = 5 * time.Minute  // 多角色会诊的最大时长
	AgentTimeout = 90 * time.Second // 单个角色发言的最大时长
)

// 错误定义
var (
	ErrEmptyQuery   = errors.New("问题不能为空")
	ErrNoSession    = errors.New("未指定会话或股票")
	ErrNoPanelRoles = errors.New("没有可用的分析师")
	ErrSchemaRole   = errors.New("结构化输出角色不能用于对话")
)

// 消息类型
const (
	MsgTypeOpinion = "opinion" // 会诊发言
)

// Option 服务选项
type Option func(*Service)

// WithRetryPolicy 替换重试策略
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Service) { s.retry = p }
}

// WithClock 替换时钟（测试固定时间）
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service 个股对话服务
type Service struct {
	catalog *roles.Catalog
	invoker adk.Invoker
	memory  *memory.Manager
	retry   RetryPolicy
	now     func() time.Time
}

// NewService 创建对话服务
func NewService(catalog *roles.Catalog, invoker adk.Invoker, mem *memory.Manager, opts ...Option) *Service {
	s := &Service{
		catalog: catalog,
		invoker: invoker,
		memory:  mem,
		retry:   DefaultRetryPolicy(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChatRequest 对话请求
type ChatRequest struct {
	SessionID    string                `json:"sessionId"` // 为空时按股票代码区分会话
	RoleName     string                `json:"roleName"`  // 为空时使用 chat_analyst
	Stock        models.Stock          `json:"stock"`
	Position     *models.StockPosition `json:"position"`
	Query        string                `json:"query"`
	ReplyContent string                `json:"replyContent"`
}

func (r ChatRequest) sessionKey() string {
	if id := strings.TrimSpace(r.SessionID); id != "" {
		return id
	}
	return strings.TrimSpace(r.Stock.Symbol)
}

// ChatResponse 对话响应
type ChatResponse struct {
	SessionID string `json:"sessionId"`
	RoleName  string `json:"roleName"`
	AgentName string `json:"agentName"`
	Content   string `json:"content"`
	MsgType   string `json:"msgType"`
	Error     string `json:"error,omitempty"` // 失败时的错误信息，前端据此显示重试按钮
	Compacted bool   `json:"compacted,omitempty"`
}

// Chat 在会话中提问并记录回复
// 用户消息先入日志（可能触发压缩），回复成功后追加助手消息
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	key := req.sessionKey()
	if key == "" {
		return nil, ErrNoSession
	}
	role, err := s.chatRole(req.RoleName)
	if err != nil {
		return nil, err
	}

	cm := s.memory.Session(key)
	cm.SetSubject(subjectOf(&req.Stock))
	compacted := cm.Append(ctx, models.ChatMessage{Role: models.RoleUser, Content: query})

	content, err := s.speak(ctx, role, cm.Messages(), &req)
	if err != nil {
		log.Error("session %s role %s failed: %v", key, role.Name, err)
		return nil, err
	}

	if cm.Append(ctx, models.ChatMessage{
		AgentID:   role.Name,
		AgentName: role.Description,
		Role:      models.RoleAssistant,
		Content:   content,
	}) {
		compacted = true
	}

	return &ChatResponse{
		SessionID: key,
		RoleName:  role.Name,
		AgentName: role.Description,
		Content:   content,
		MsgType:   models.MsgTypeChat,
		Compacted: compacted,
	}, nil
}

// PanelRequest 多角色会诊请求
type PanelRequest struct {
	ChatRequest
	RoleNames []string `json:"roleNames"` // 为空时使用基本面、技术面、风控三位分析师
}

// DefaultPanel 默认会诊角色
var DefaultPanel = []string{roles.FundamentalAnalyst, roles.TechnicalAnalyst, roles.RiskAnalyst}

// Panel 多个分析师并行回答同一问题，结果按请求的角色顺序返回
// 单个角色失败只记录在对应响应的 Error 中；成功的发言按顺序写入会话
func (s *Service) Panel(ctx context.Context, req PanelRequest) ([]ChatResponse, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	key := req.sessionKey()
	if key == "" {
		return nil, ErrNoSession
	}

	names := req.RoleNames
	if len(names) == 0 {
		names = DefaultPanel
	}
	panel := make([]roles.Role, 0, len(names))
	for _, name := range names {
		role, err := s.chatRole(name)
		if err != nil {
			log.Warn("skip panel role %s: %v", name, err)
			continue
		}
		panel = append(panel, role)
	}
	if len(panel) == 0 {
		return nil, ErrNoPanelRoles
	}

	cm := s.memory.Session(key)
	cm.SetSubject(subjectOf(&req.Stock))
	cm.Append(ctx, models.ChatMessage{Role: models.RoleUser, Content: query})
	history := cm.Messages()

	panelCtx, cancel := context.WithTimeout(ctx, PanelTimeout)
	defer cancel()

	log.Debug("running %d analysts in parallel", len(panel))
	responses := make([]ChatResponse, len(panel))
	var wg sync.WaitGroup
	for i, role := range panel {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := ChatResponse{SessionID: key, RoleName: role.Name, AgentName: role.Description, MsgType: MsgTypeOpinion}
			content, err := s.speak(panelCtx, role, history, &req.ChatRequest)
			if err != nil {
				log.Error("analyst %s failed after retries: %v", role.Name, err)
				resp.Error = err.Error()
			} else {
				resp.Content = content
			}
			responses[i] = resp
		}()
	}
	wg.Wait()

	var ok int
	for _, resp := range responses {
		if resp.Error != "" {
			continue
		}
		ok++
		cm.Append(ctx, models.ChatMessage{
			AgentID:   resp.RoleName,
			AgentName: resp.AgentName,
			Role:      models.RoleAssistant,
			Content:   resp.Content,
			MsgType:   MsgTypeOpinion,
		})
	}
	log.Info("panel done, %d/%d analysts answered", ok, len(responses))

	if ok == 0 {
		if err := ctx.Err(); err != nil {
			return responses, err
		}
	}
	return responses, nil
}

// speak 以角色身份基于会话历史生成一次回复，带指数退避重试
func (s *Service) speak(ctx context.Context, role roles.Role, history []models.ChatMessage, req *ChatRequest) (string, error) {
	instruction := buildInstruction(role, &req.Stock, req.Position, req.ReplyContent, s.now())
	invokeReq := adk.InvokeRequest{
		Role:              role.Name,
		SystemInstruction: instruction,
		Messages:          history,
		Sampling:          role.Sampling,
		Timeout:           AgentTimeout,
	}

	res, err := retryRun(ctx, s.retry, func() (*adk.InvokeResult, error) {
		return s.invoker.Invoke(ctx, invokeReq)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}

// chatRole 取对话角色，带输出结构的流水线角色不能用于对话
func (s *Service) chatRole(name string) (roles.Role, error) {
	if strings.TrimSpace(name) == "" {
		name = roles.ChatAnalyst
	}
	role, err := s.catalog.Get(name)
	if err != nil {
		return roles.Role{}, err
	}
	if role.HasSchema() {
		return roles.Role{}, fmt.Errorf("%w: %s", ErrSchemaRole, name)
	}
	return role, nil
}

// History 会话消息日志
func (s *Service) History(sessionID string) []models.ChatMessage {
	cm, ok := s.memory.Get(sessionID)
	if !ok {
		return nil
	}
	return cm.Messages()
}

// ClearSession 清空会话历史
func (s *Service) ClearSession(sessionID string) {
	if cm, ok := s.memory.Get(sessionID); ok {
		cm.Clear()
	}
}

// EndSession 结束会话并释放内存
func (s *Service) EndSession(sessionID string) {
	s.memory.Remove(sessionID)
}
