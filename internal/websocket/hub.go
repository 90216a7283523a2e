package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhiyuan411/public-share/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 64
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" || origin == requestOrigin {
					return true
				}
			}
			return false
		},
	}
}

// MessageType 定义WebSocket消息类型
type MessageType string

const (
	MessageTypePostCreated MessageType = "post_created"
	MessageTypePostDeleted MessageType = "post_deleted"
	MessageTypeSwept       MessageType = "swept"
	MessageTypePing        MessageType = "ping"
	MessageTypePong        MessageType = "pong"
)

// Message 定义WebSocket消息结构
type Message struct {
	Type      MessageType     `json:"type"`
	PostID    uint64          `json:"postId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Client 代表一个WebSocket客户端连接
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub 管理所有WebSocket连接，向每个客户端广播留言板变更。
//
// 客户端收到事件后自行重新拉取列表，事件本身不携带帖子内容。
type Hub struct {
	clients        map[string]*Client
	register       chan *Client
	unregister     chan *Client
	broadcast      chan []byte
	done           chan struct{}
	mu             sync.RWMutex
	log            *zap.Logger
	allowedOrigins []string
	onCount        func(int)
}

// NewHub 创建WebSocket Hub，allowedOrigins 为空时允许所有来源
func NewHub(allowedOrigins []string, log *zap.Logger) *Hub {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Hub{
		clients:        make(map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan []byte, 256),
		done:           make(chan struct{}),
		log:            log,
		allowedOrigins: allowedOrigins,
	}
}

// OnClientCount 设置连接数变化回调，用于指标上报
func (h *Hub) OnClientCount(fn func(int)) {
	h.onCount = fn
}

// Run 运行 Hub 主循环，ctx 取消后关闭所有连接
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.log.Info("websocket hub stopped")
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			count := len(h.clients)
			h.mu.Unlock()
			h.reportCount(count)
			h.log.Debug("client registered", zap.String("id", client.ID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.reportCount(count)
			h.log.Debug("client unregistered", zap.String("id", client.ID))

		case data := <-h.broadcast:
			h.broadcastAll(data)
		}
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NotifyPostCreated 广播新帖子
func (h *Hub) NotifyPostCreated(postID uint64) {
	h.publish(&Message{Type: MessageTypePostCreated, PostID: postID})
}

// NotifyPostDeleted 广播帖子删除
func (h *Hub) NotifyPostDeleted(postID uint64) {
	h.publish(&Message{Type: MessageTypePostDeleted, PostID: postID})
}

// NotifySweep 广播过期清理结果
func (h *Hub) NotifySweep(report domain.SweepReport) {
	data, err := json.Marshal(report)
	if err != nil {
		h.log.Error("failed to marshal sweep report", zap.Error(err))
		return
	}
	h.publish(&Message{Type: MessageTypeSwept, Data: data})
}

// publish 将消息放入广播队列，Hub 已停止或队列已满时丢弃
func (h *Hub) publish(msg *Message) {
	msg.Timestamp = time.Now().UTC()
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("failed to marshal message", zap.Error(err))
		return
	}

	select {
	case <-h.done:
	case h.broadcast <- data:
	default:
		h.log.Warn("broadcast queue full, dropping event", zap.String("type", string(msg.Type)))
	}
}

func (h *Hub) broadcastAll(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.log.Warn("client channel blocked, skipping", zap.String("clientID", client.ID))
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	for _, client := range h.clients {
		close(client.send)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()
	h.reportCount(0)
}

func (h *Hub) reportCount(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

// HandleWebSocket WebSocket 连接处理器
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	upgrader := upgraderFactory(hub.allowedOrigins)

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.log.Warn("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		client := &Client{
			ID:   uuid.NewString(),
			conn: conn,
			send: make(chan []byte, sendBuffer),
			hub:  hub,
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		// 应用层心跳
		if msg.Type == MessageTypePing {
			c.reply(&Message{Type: MessageTypePong, Timestamp: time.Now().UTC()})
		}
	}
}

func (c *Client) reply(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.clients[c.ID]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
