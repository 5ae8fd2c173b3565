// Package mcp 提供 MCP (Model Context Protocol) 集成功能
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/run-bigpig/jcp-selector/internal/logger"
	"github.com/run-bigpig/jcp-selector/internal/models"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var log = logger.New("mcp")

// ConnectTimeout 连接 MCP 服务器的最大时长
const ConnectTimeout = 10 * time.Second

// 错误定义
var (
	ErrServerNotConfigured = errors.New("mcp server not configured")
	ErrToolFiltered        = errors.New("mcp tool not allowed by filter")
)

// ServerStatus MCP 服务器状态
type ServerStatus struct {
	ID        string `json:"id"`
	Connected bool   `json:"connected"`
	Error     string `json:"error"`
}

// ToolInfo MCP 工具信息
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ServerID    string `json:"serverId"`
	ServerName  string `json:"serverName"`
}

// TransportFactory 根据配置创建传输层
type TransportFactory func(cfg *models.MCPServerConfig) mcp.Transport

// Option 管理器选项
type Option func(*Manager)

// WithTransportFactory 替换传输层创建方式（测试使用内存传输）
func WithTransportFactory(f TransportFactory) Option {
	return func(m *Manager) {
		if f != nil {
			m.newTransport = f
		}
	}
}

// Manager MCP 服务管理器，按服务器维护惰性建立的客户端会话
type Manager struct {
	mu           sync.Mutex
	configs      map[string]*models.MCPServerConfig
	sessions     map[string]*mcp.ClientSession
	newTransport TransportFactory
}

// NewManager 创建 MCP 管理器
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		configs:      make(map[string]*models.MCPServerConfig),
		sessions:     make(map[string]*mcp.ClientSession),
		newTransport: createTransport,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadConfigs 加载 MCP 服务器配置，已有会话全部关闭
func (m *Manager) LoadConfigs(configs []models.MCPServerConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeSessionsLocked()
	m.configs = make(map[string]*models.MCPServerConfig)
	for i := range configs {
		cfg := configs[i]
		if !cfg.Enabled {
			continue
		}
		m.configs[cfg.ID] = &cfg
	}
}

// createTransport 根据配置创建 MCP 传输层
func createTransport(cfg *models.MCPServerConfig) mcp.Transport {
	switch cfg.TransportType {
	case models.MCPTransportSSE:
		return &mcp.SSEClientTransport{Endpoint: cfg.Endpoint}
	case models.MCPTransportCommand:
		return &mcp.CommandTransport{Command: exec.Command(cfg.Command, cfg.Args...)}
	default: // http
		return &mcp.StreamableClientTransport{Endpoint: cfg.Endpoint}
	}
}

// session 获取或建立指定服务器的会话
func (m *Manager) session(ctx context.Context, serverID string) (*mcp.ClientSession, *models.MCPServerConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[serverID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrServerNotConfigured, serverID)
	}
	if s, ok := m.sessions[serverID]; ok {
		return s, cfg, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	impl := &mcp.Implementation{Name: "jcp-selector", Version: "1.0.0"}
	client := mcp.NewClient(impl, nil)
	s, err := client.Connect(connectCtx, m.newTransport(cfg), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("connect mcp server %s: %w", serverID, err)
	}
	m.sessions[serverID] = s
	log.Debug("connected to mcp server %s (%s)", serverID, cfg.Name)
	return s, cfg, nil
}

// dropSession 丢弃失效会话，下次调用重新连接
func (m *Manager) dropSession(serverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[serverID]; ok {
		_ = s.Close()
		delete(m.sessions, serverID)
	}
}

// CallTool 调用指定服务器上的工具，返回拼接后的文本内容
func (m *Manager) CallTool(ctx context.Context, serverID, name string, args map[string]any) (string, error) {
	s, cfg, err := m.session(ctx, serverID)
	if err != nil {
		return "", err
	}
	if len(cfg.ToolFilter) > 0 && !slices.Contains(cfg.ToolFilter, name) {
		return "", fmt.Errorf("%w: %s", ErrToolFiltered, name)
	}

	res, err := s.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		if ctx.Err() == nil {
			m.dropSession(serverID)
		}
		return "", fmt.Errorf("call tool %s: %w", name, err)
	}

	text := contentText(res.Content)
	if res.IsError {
		return "", fmt.Errorf("tool %s returned error: %s", name, text)
	}
	return text, nil
}

func contentText(content []mcp.Content) string {
	var sb strings.Builder
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// TestConnection 测试指定 MCP 服务器的连接
func (m *Manager) TestConnection(ctx context.Context, serverID string) *ServerStatus {
	if _, _, err := m.session(ctx, serverID); err != nil {
		return &ServerStatus{ID: serverID, Connected: false, Error: err.Error()}
	}
	return &ServerStatus{ID: serverID, Connected: true}
}

// GetServerTools 获取指定 MCP 服务器的工具列表
func (m *Manager) GetServerTools(ctx context.Context, serverID string) ([]ToolInfo, error) {
	s, cfg, err := m.session(ctx, serverID)
	if err != nil {
		return nil, err
	}

	toolsResp, err := s.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}

	var tools []ToolInfo
	for _, t := range toolsResp.Tools {
		tools = append(tools, ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			ServerID:    serverID,
			ServerName:  cfg.Name,
		})
	}
	return tools, nil
}

// Close 关闭全部会话
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeSessionsLocked()
}

func (m *Manager) closeSessionsLocked() {
	for id, s := range m.sessions {
		if err := s.Close(); err != nil {
			log.Warn("close mcp session %s: %v", id, err)
		}
	}
	m.sessions = make(map[string]*mcp.ClientSession)
}
