package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/BhavanK18/Whiteboard/internal/metrics"
	"github.com/BhavanK18/Whiteboard/internal/service"
)

// SessionLifecycle 是 Hub 依赖的会话生命周期操作 (由 service.SessionService 实现)。
type SessionLifecycle interface {
	JoinRealtime(ctx context.Context, sessionID, userName, connectionID string) (*service.RealtimeJoin, error)
	LeaveRealtime(ctx context.Context, sessionID, connectionID string) (*service.RealtimeLeave, error)
	// DetachRealtime 只从房间中移除连接，不改变会话在存储中的状态 (服务关闭时使用)。
	DetachRealtime(sessionID, connectionID string) *service.RealtimeLeave
	UpdateBoard(ctx context.Context, sessionID string, board []byte) (datatypes.JSON, error)
}

// Hub 维护活跃客户端集合，并把客户端消息转换为会话操作。
// 没有中心事件循环：消息在发送方 Client 的读 goroutine 上直接处理。
type Hub struct {
	sessions SessionLifecycle
	registry *Registry
	relay    *Relay

	// clients: 连接 ID -> *Client，用于投递消息
	clients sync.Map

	// closing 在 CloseAll 之后为 true，此时断开的连接不会停用会话
	closing atomic.Bool
}

// NewHub 创建 Hub。registry 必须与 SessionService 使用的是同一个实例。
func NewHub(sessions SessionLifecycle, registry *Registry, m *metrics.Metrics) *Hub {
	// 启动时检查依赖注入是否有效
	if sessions == nil {
		panic("SessionLifecycle cannot be nil for Hub")
	}
	if registry == nil {
		panic("Registry cannot be nil for Hub")
	}
	h := &Hub{sessions: sessions, registry: registry}
	h.relay = NewRelay(registry, h, sessions, m)
	return h
}

// Deliver 实现 Delivery 接口。目标连接不存在或缓冲区已满时返回 false。
func (h *Hub) Deliver(connectionID string, message []byte) bool {
	v, ok := h.clients.Load(connectionID)
	if !ok {
		return false
	}
	return v.(*Client).enqueue(message)
}

// CloseAll 在服务关闭时断开所有连接。
// 房间登记会被清空，但会话保持激活，重启后客户端可以重新加入。
func (h *Hub) CloseAll() {
	h.closing.Store(true)
	h.clients.Range(func(_, v any) bool {
		v.(*Client).close()
		return true
	})
}

func (h *Hub) register(c *Client) {
	h.clients.Store(c.id, c)
	logrus.WithField("connection_id", c.id).Info("Client registered to Hub")
}

// handleMessage 解析一帧消息并分发：join_session 由 Hub 处理，其余交给 Relay。
func (h *Hub) handleMessage(c *Client, raw []byte) {
	logCtx := logrus.WithField("connection_id", c.id)

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		logCtx.WithError(err).Debugf("Malformed frame (size: %d)", len(raw))
		h.reply(c, EventError, errorMessage{Error: "Invalid message format"})
		return
	}

	ctx := context.Background()
	if env.Type == EventJoinSession {
		h.join(ctx, c, env.Data)
		return
	}
	h.relay.Handle(ctx, c.sender(), env.Type, env.Data)
}

// join 处理 join_session 握手。
// 重复加入当前会话只刷新登记；切换会话时先加入新会话，成功后才离开旧会话，
// 失败则客户端留在原房间。
func (h *Hub) join(ctx context.Context, c *Client, data json.RawMessage) {
	var p joinSessionPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			h.reply(c, EventJoinError, errorMessage{Error: "Invalid message format", Kind: "validation"})
			return
		}
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"connection_id": c.id,
		"session_id":    p.SessionID,
		"user_name":     p.UserName,
	})

	// 1. 先加入目标会话 (Registry.Add 对同一连接是幂等的)
	res, err := h.sessions.JoinRealtime(ctx, p.SessionID, p.UserName, c.id)
	if err != nil {
		svcErr := service.AsError(err)
		logCtx.WithError(err).Info("Realtime join rejected")
		h.reply(c, EventJoinError, errorMessage{Error: svcErr.Message, Kind: svcErr.KindName()})
		return
	}

	session := res.Session
	var userName string
	for _, conn := range res.Roster {
		if conn.ConnectionID == c.id {
			userName = conn.UserName
		}
	}

	// 2. 加入成功后再离开之前的会话
	previousID, previousName := c.session()
	rejoin := previousID == session.SessionID
	if previousID != "" && !rejoin {
		logCtx.WithField("previous_session_id", previousID).Info("Client switched session, leaving previous room")
		h.leave(ctx, c, previousID, previousName)
	}
	c.setSession(session.SessionID, userName)

	// 3. 回复加入结果，并通知房间内其他人
	h.reply(c, EventJoinSuccess, joinSuccessMessage{
		SessionID:    session.SessionID,
		UserName:     userName,
		SessionName:  session.SessionName,
		CreatedBy:    session.CreatedBy,
		BoardData:    json.RawMessage(session.BoardData),
		Participants: res.Roster,
	})
	if rejoin {
		logCtx.Debug("Client re-joined its current session")
		return
	}
	h.relay.Broadcast(session.SessionID, EventUserJoined, presenceMessage{
		UserName:     userName,
		SocketID:     c.id,
		Count:        len(res.Roster),
		Participants: res.Roster,
	}, c.id)
	logCtx.WithField("live_count", len(res.Roster)).Info("Client joined session")
}

// leave 把客户端从指定会话房间移除，并向剩余成员广播 user_left。
func (h *Hub) leave(ctx context.Context, c *Client, sessionID, userName string) {
	var res *service.RealtimeLeave
	if h.closing.Load() {
		res = h.sessions.DetachRealtime(sessionID, c.id)
	} else {
		var err error
		res, err = h.sessions.LeaveRealtime(ctx, sessionID, c.id)
		if err != nil {
			logrus.WithFields(logrus.Fields{"connection_id": c.id, "session_id": sessionID}).
				WithError(err).Error("Failed to complete leave")
		}
	}
	if res == nil || !res.Removed || res.Remaining == 0 {
		return
	}
	h.relay.Broadcast(sessionID, EventUserLeft, presenceMessage{
		UserName:     userName,
		SocketID:     c.id,
		Count:        res.Remaining,
		Participants: res.Roster,
	}, c.id)
}

// disconnect 在连接结束时调用 (由 ReadPump 的 defer 触发)。
func (h *Hub) disconnect(c *Client) {
	if sessionID, userName := c.session(); sessionID != "" {
		c.setSession("", "")
		h.leave(context.Background(), c, sessionID, userName)
	}
	h.clients.Delete(c.id)
}

func (h *Hub) reply(c *Client, eventType string, data any) {
	message, err := encode(eventType, data)
	if err != nil {
		logrus.WithField("event", eventType).WithError(err).Error("Failed to encode reply")
		return
	}
	if !c.enqueue(message) {
		logrus.WithFields(logrus.Fields{"connection_id": c.id, "event": eventType}).Warn("Client send buffer full, reply dropped")
	}
}
