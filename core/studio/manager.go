package studio

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"MusicFlow/core/clock"
	"MusicFlow/core/composition"
	"MusicFlow/logger"

	"github.com/google/uuid"
)

const (
	DefaultIdleTimeout = 30 * time.Minute
	DefaultMaxPerUser  = 5
)

// Config configures the Manager and the studios it opens.
type Config struct {
	Clock         clock.Clock
	GenerateDelay time.Duration
	TickInterval  time.Duration
	// IdleTimeout closes studios without activity; zero keeps them forever.
	IdleTimeout time.Duration
	MaxPerUser  int
	// NoteIDs is shared by all studios; nil means UUIDs.
	NoteIDs composition.IDGenerator
	// NewID names studios; nil means UUIDs.
	NewID func() string
}

// Manager 工作室会话管理器
type Manager struct {
	cfg Config
	pub Publisher

	mu      sync.RWMutex
	studios map[string]*Studio
	sweeper clock.Timer
}

// NewManager 创建会话管理器，pub 可以为 nil
func NewManager(cfg Config, pub Publisher) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = DefaultMaxPerUser
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Manager{
		cfg:     cfg,
		pub:     pub,
		studios: make(map[string]*Studio),
	}
}

// Start 启动空闲会话清理
func (m *Manager) Start() {
	if m.cfg.IdleTimeout <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweeper != nil {
		return
	}
	m.sweeper = clock.Every(m.cfg.Clock, m.cfg.IdleTimeout, func() { m.Sweep() })
}

// Create 为用户打开新的工作室
func (m *Manager) Create(ownerID int64) (*Studio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, s := range m.studios {
		if s.OwnerID == ownerID {
			count++
		}
	}
	if count >= m.cfg.MaxPerUser {
		return nil, ErrLimitReached
	}

	s := newStudio(m.cfg.NewID(), ownerID, m.cfg, m.pub)
	m.studios[s.ID] = s

	logger.Info("[Studio] 工作室已创建",
		logger.String("studio", s.ID),
		logger.Int64("owner", ownerID))
	return s, nil
}

// Get 获取工作室，仅所有者可访问
func (m *Manager) Get(id string, userID int64) (*Studio, error) {
	m.mu.RLock()
	s, ok := m.studios[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if s.OwnerID != userID {
		return nil, ErrForbidden
	}
	return s, nil
}

// Close 关闭工作室并断开其连接
func (m *Manager) Close(id string, userID int64) error {
	m.mu.Lock()
	s, ok := m.studios[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if s.OwnerID != userID {
		m.mu.Unlock()
		return ErrForbidden
	}
	delete(m.studios, id)
	m.mu.Unlock()

	m.closeStudio(s, "closed")
	return nil
}

func (m *Manager) closeStudio(s *Studio, reason string) {
	s.Close()
	if m.pub != nil {
		data, _ := json.Marshal(map[string]string{"reason": reason})
		m.pub.Publish(s.ID, &WSMessage{Type: MsgTypeClosed, Data: data})
		m.pub.CloseStudio(s.ID)
	}
	logger.Info("[Studio] 工作室已关闭",
		logger.String("studio", s.ID),
		logger.String("reason", reason))
}

// Sweep closes studios idle for longer than IdleTimeout and returns how many
// were closed.
func (m *Manager) Sweep() int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}
	now := m.cfg.Clock.Now()

	m.mu.Lock()
	var idle []*Studio
	for id, s := range m.studios {
		if now.Sub(s.LastActive()) >= m.cfg.IdleTimeout {
			idle = append(idle, s)
			delete(m.studios, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		m.closeStudio(s, "idle")
	}
	return len(idle)
}

// Count 当前打开的工作室数量
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.studios)
}

// Shutdown 关闭所有工作室并停止清理
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.sweeper != nil {
		m.sweeper.Stop()
		m.sweeper = nil
	}
	all := make([]*Studio, 0, len(m.studios))
	for _, s := range m.studios {
		all = append(all, s)
	}
	m.studios = make(map[string]*Studio)
	m.mu.Unlock()

	for _, s := range all {
		m.closeStudio(s, "shutdown")
	}
}

// HandleMessage 处理客户端 WebSocket 指令
func (m *Manager) HandleMessage(ctx context.Context, client *Client, msg *WSMessage) {
	s, err := m.Get(client.StudioID, client.UserID)
	if err != nil {
		client.SendMessage(&WSMessage{Type: MsgTypeError, Error: err.Error()})
		return
	}

	switch msg.Type {
	case MsgTypeSync:
		data, err := json.Marshal(s.View())
		if err != nil {
			return
		}
		client.SendMessage(&WSMessage{Type: MsgTypeRender, Data: data})
	case MsgTypeToggle:
		if _, err := s.Toggle(); err != nil {
			client.SendMessage(&WSMessage{Type: MsgTypeError, Error: err.Error()})
		}
	case MsgTypeStop:
		if _, err := s.Stop(); err != nil {
			client.SendMessage(&WSMessage{Type: MsgTypeError, Error: err.Error()})
		}
	default:
		logger.Debug("[Studio] 未知消息类型",
			logger.String("type", string(msg.Type)),
			logger.String("studio", client.StudioID))
	}
}
