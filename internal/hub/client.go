package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Board saves carry the full snapshot.
	maxMessageSize = 1 << 20

	sendBufferSize = 256
)

// Client 代表一个 WebSocket 连接，同一时间最多加入一个会话。
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   string
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	sessionID string
	userName  string
}

// NewClient 创建 Client，并分配新的连接 ID。
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		id:   uuid.NewString(),
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// ID 返回连接 ID (对端看到的 socketId)。
func (c *Client) ID() string { return c.id }

func (c *Client) session() (sessionID, userName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.userName
}

func (c *Client) setSession(sessionID, userName string) {
	c.mu.Lock()
	c.sessionID = sessionID
	c.userName = userName
	c.mu.Unlock()
}

func (c *Client) sender() Sender {
	sessionID, userName := c.session()
	return Sender{ConnectionID: c.id, SessionID: sessionID, UserName: userName}
}

// Run 把 Client 注册到 Hub，并启动读写 goroutine。
func (c *Client) Run() {
	c.hub.register(c)
	go c.WritePump()
	go c.ReadPump()
}

// enqueue 非阻塞投递：缓冲区已满或连接已关闭时丢弃消息。
func (c *Client) enqueue(message []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// close 停止投递并关闭底层连接，可以重复调用。
// send 通道从不关闭，停止投递只依赖 done。
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// ReadPump 从 WebSocket 连接读取消息，并在当前 goroutine 上交给 Hub 处理。
// 连接结束时离开已加入的会话。
func (c *Client) ReadPump() {
	defer func() {
		c.hub.disconnect(c)
		c.close()
		logrus.WithField("connection_id", c.id).Info("readPump exited, client unregistered")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			logCtx := logrus.WithField("connection_id", c.id)
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logCtx.WithError(err).Warn("WebSocket read error (unexpected close)")
			} else {
				logCtx.Debug("WebSocket connection closed normally or read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			logrus.WithField("connection_id", c.id).Debugf("Received non-text message type: %d", messageType)
			continue
		}
		c.hub.handleMessage(c, message)
	}
}

// WritePump 把 send 缓冲区中的消息写入连接，并定期发送 ping 保活。
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		logrus.WithField("connection_id", c.id).Debug("writePump exited")
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithField("connection_id", c.id).WithError(err).Warn("Failed to write message to websocket")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logrus.WithField("connection_id", c.id).WithError(err).Warn("Failed to send ping message")
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
