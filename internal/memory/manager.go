package memory

import (
	"sort"
	"sync"

	"github.com/run-bigpig/jcp-selector/internal/models"
)

// Manager 会话上下文注册表，每个会话一个 ContextManager
type Manager struct {
	mu         sync.RWMutex
	cfg        Config
	summarizer Summarizer
	sessions   map[string]*ContextManager
}

// NewManager 创建注册表
func NewManager(cfg Config, summarizer Summarizer) *Manager {
	return &Manager{
		cfg:        cfg.withDefaults(),
		summarizer: summarizer,
		sessions:   make(map[string]*ContextManager),
	}
}

// Session 获取会话，不存在时以 initial 为初始系统上下文创建
func (m *Manager) Session(id string, initial ...models.ChatMessage) *ContextManager {
	m.mu.RLock()
	cm, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return cm
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cm, ok := m.sessions[id]; ok {
		return cm
	}
	cm = NewContextManager(id, m.cfg, m.summarizer, initial...)
	m.sessions[id] = cm
	log.Debug("session %s created", id)
	return cm
}

// Get 获取已存在的会话
func (m *Manager) Get(id string) (*ContextManager, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cm, ok := m.sessions[id]
	return cm, ok
}

// Remove 结束会话
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// IDs 全部会话 ID（排序后）
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Config 当前配置
func (m *Manager) Config() Config {
	return m.cfg
}
