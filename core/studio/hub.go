package studio

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"MusicFlow/logger"

	"github.com/gorilla/websocket"
)

// MessageType 消息类型
type MessageType string

const (
	MsgTypeRender   MessageType = "render"   // 完整视图
	MsgTypePlayback MessageType = "playback" // 播放进度
	MsgTypeClosed   MessageType = "closed"   // 会话已关闭
	MsgTypeError    MessageType = "error"
	MsgTypePing     MessageType = "ping"
	MsgTypePong     MessageType = "pong"

	// 客户端指令
	MsgTypeSync   MessageType = "sync"
	MsgTypeToggle MessageType = "toggle"
	MsgTypeStop   MessageType = "stop"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	Type      MessageType     `json:"type"`
	StudioID  string          `json:"studioId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Publisher receives studio events.
type Publisher interface {
	Publish(studioID string, msg *WSMessage)
	CloseStudio(studioID string)
}

// Client WebSocket 客户端
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	StudioID string
	UserID   int64

	// sendMu 保护 Send 的关闭状态
	sendMu sync.Mutex
	closed bool
}

// NewClient 创建客户端
func NewClient(hub *Hub, conn *websocket.Conn, studioID string, userID int64) *Client {
	return &Client{
		Hub:      hub,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		StudioID: studioID,
		UserID:   userID,
	}
}

type broadcastMessage struct {
	studioID string
	message  []byte
	// close 断开该工作室的全部连接，与普通消息共用队列以保证顺序
	close bool
}

// Hub 工作室 WebSocket 管理中心
type Hub struct {
	// 工作室 -> 客户端集合
	studios map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	mu   sync.RWMutex
	done chan struct{}
	once sync.Once
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		studios:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, sendBuffer),
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			if msg.close {
				h.closeStudio(msg.studioID)
			} else {
				h.broadcastToStudio(msg)
			}

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.studios[client.StudioID] == nil {
		h.studios[client.StudioID] = make(map[*Client]bool)
	}
	h.studios[client.StudioID][client] = true

	logger.Info("[StudioHub] 客户端已连接",
		logger.String("studio", client.StudioID),
		logger.Int64("user", client.UserID))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeClient(client)
}

// removeClient 需要持有锁
func (h *Hub) removeClient(client *Client) {
	clients, ok := h.studios[client.StudioID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	client.closeSend()
	if len(clients) == 0 {
		delete(h.studios, client.StudioID)
	}
	logger.Info("[StudioHub] 客户端已断开",
		logger.String("studio", client.StudioID),
		logger.Int64("user", client.UserID))
}

func (h *Hub) broadcastToStudio(msg *broadcastMessage) {
	h.mu.RLock()
	clients := h.studios[msg.studioID]
	clientList := make([]*Client, 0, len(clients))
	for client := range clients {
		clientList = append(clientList, client)
	}
	h.mu.RUnlock()

	for _, client := range clientList {
		if !client.trySend(msg.message) {
			// 发送缓冲区满，移除客户端
			h.unregisterClient(client)
		}
	}
}

func (h *Hub) closeStudio(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.studios[id] {
		h.removeClient(client)
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.studios {
		for client := range clients {
			client.closeSend()
		}
	}
	h.studios = make(map[string]map[*Client]bool)
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish 广播消息到工作室的所有连接
func (h *Hub) Publish(studioID string, msg *WSMessage) {
	msg.StudioID = studioID
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Warn("[StudioHub] 消息序列化失败", logger.ErrorField(err))
		return
	}
	select {
	case h.broadcast <- &broadcastMessage{studioID: studioID, message: data}:
	case <-h.done:
	}
}

// CloseStudio 断开工作室的所有连接
func (h *Hub) CloseStudio(studioID string) {
	select {
	case h.broadcast <- &broadcastMessage{studioID: studioID, close: true}:
	case <-h.done:
	}
}

// ClientCount 获取工作室连接数
func (h *Hub) ClientCount(studioID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.studios[studioID])
}

// ========== Client 方法 ==========

// ReadPump 读取消息循环
func (c *Client) ReadPump(ctx context.Context, handler func(ctx context.Context, client *Client, msg *WSMessage)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("[StudioHub] websocket read error",
					logger.ErrorField(err),
					logger.String("studio", c.StudioID))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Warn("[StudioHub] invalid message format",
				logger.ErrorField(err),
				logger.String("studio", c.StudioID))
			continue
		}

		if msg.Type == MsgTypePing {
			c.SendMessage(&WSMessage{Type: MsgTypePong})
			continue
		}

		handler(ctx, c, &msg)
	}
}

// WritePump 写入消息循环
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage 发送消息给客户端，缓冲区满或连接已移除时丢弃
func (c *Client) SendMessage(msg *WSMessage) {
	msg.StudioID = c.StudioID
	msg.Timestamp = time.Now().UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if !c.trySend(data) {
		logger.Debug("[StudioHub] 消息已丢弃", logger.String("studio", c.StudioID), logger.String("type", string(msg.Type)))
	}
}

// trySend 非阻塞投递，Send 已关闭或缓冲区满时返回 false
func (c *Client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// closeSend 关闭 Send，可重复调用
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
