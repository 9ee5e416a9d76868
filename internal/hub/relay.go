package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/BhavanK18/Whiteboard/internal/metrics"
	"github.com/BhavanK18/Whiteboard/internal/service"
)

// Delivery 把编码后的消息非阻塞地投递给一个连接，被丢弃时返回 false。
type Delivery interface {
	Deliver(connectionID string, message []byte) bool
}

// BoardSaver 持久化会话的白板快照
type BoardSaver interface {
	UpdateBoard(ctx context.Context, sessionID string, board []byte) (datatypes.JSON, error)
}

// Sender identifies the connection an event came from and the session it joined.
type Sender struct {
	ConnectionID string
	SessionID    string
	UserName     string
}

// Relay 按事件类型在会话房间内转发消息。
// 绘图类事件不回发给发送者；聊天消息包括发送者在内广播；save_board 只回复发送者。
type Relay struct {
	registry *Registry
	delivery Delivery
	boards   BoardSaver
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewRelay 创建 Relay 实例
func NewRelay(registry *Registry, delivery Delivery, boards BoardSaver, m *metrics.Metrics) *Relay {
	if registry == nil || delivery == nil || boards == nil {
		panic("Relay requires a registry, a delivery and a board saver")
	}
	return &Relay{registry: registry, delivery: delivery, boards: boards, metrics: m, now: time.Now}
}

// Handle 处理一条客户端事件。
// 事件中的 sessionId 与发送者已加入的会话不一致时直接丢弃，不做回复。
func (r *Relay) Handle(ctx context.Context, from Sender, eventType string, data json.RawMessage) {
	logCtx := logrus.WithFields(logrus.Fields{
		"connection_id": from.ConnectionID,
		"session_id":    from.SessionID,
		"event":         eventType,
	})

	var p eventPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			logCtx.WithError(err).Debug("Malformed event payload")
			r.reply(from.ConnectionID, EventError, errorMessage{Error: "Invalid message format"})
			return
		}
	}

	if !r.authorized(from, p.SessionID) {
		logCtx.WithField("claimed_session_id", p.SessionID).Debug("Event ignored: sender not joined to the claimed session")
		return
	}

	switch eventType {
	case EventDrawElement, EventUpdateElement:
		r.broadcast(from, eventType, elementMessage{Element: p.Element, PageID: p.page()}, false)
	case EventDeleteElement:
		r.broadcast(from, eventType, deleteElementMessage{ElementID: p.ElementID, PageID: p.page()}, false)
	case EventClearBoard:
		r.broadcast(from, eventType, clearBoardMessage{PageID: p.page()}, false)
	case EventChatMessage:
		msg := chatMessage{UserName: from.UserName, Message: p.Message, Timestamp: r.now().UTC()}
		r.broadcast(from, eventType, msg, true)
	case EventSaveBoard:
		r.saveBoard(ctx, from, p.BoardData, logCtx)
	default:
		logCtx.Debug("Unknown event type")
		r.reply(from.ConnectionID, EventError, errorMessage{Error: "Unknown event type: " + eventType})
		return
	}
	r.metrics.EventRelayed(eventType)
}

func (r *Relay) authorized(from Sender, claimed string) bool {
	if from.SessionID == "" || claimed != from.SessionID {
		return false
	}
	return r.registry.Contains(from.SessionID, from.ConnectionID)
}

func (r *Relay) saveBoard(ctx context.Context, from Sender, board json.RawMessage, logCtx *logrus.Entry) {
	if _, err := r.boards.UpdateBoard(ctx, from.SessionID, board); err != nil {
		svcErr := service.AsError(err)
		logCtx.WithError(err).Warn("Board save failed")
		r.reply(from.ConnectionID, EventSaveError, errorMessage{Error: svcErr.Message, Kind: svcErr.KindName()})
		return
	}
	r.reply(from.ConnectionID, EventSaveSuccess, saveSuccessMessage{SessionID: from.SessionID})
}

// broadcast sends to every live connection in the sender's room.
func (r *Relay) broadcast(from Sender, eventType string, data any, includeSender bool) {
	exclude := from.ConnectionID
	if includeSender {
		exclude = ""
	}
	r.Broadcast(from.SessionID, eventType, data, exclude)
}

// Broadcast encodes data once and delivers it to the room, skipping exclude.
func (r *Relay) Broadcast(sessionID, eventType string, data any, exclude string) {
	message, err := encode(eventType, data)
	if err != nil {
		logrus.WithFields(logrus.Fields{"session_id": sessionID, "event": eventType}).WithError(err).Error("Failed to encode broadcast")
		return
	}
	recipients := r.registry.List(sessionID)
	for _, conn := range recipients {
		if conn.ConnectionID == exclude {
			continue
		}
		if !r.delivery.Deliver(conn.ConnectionID, message) {
			r.metrics.MessageDropped()
			logrus.WithFields(logrus.Fields{
				"session_id":    sessionID,
				"connection_id": conn.ConnectionID,
				"event":         eventType,
			}).Warn("Recipient buffer full, message dropped")
		}
	}
}

func (r *Relay) reply(connectionID, eventType string, data any) {
	message, err := encode(eventType, data)
	if err != nil {
		logrus.WithField("event", eventType).WithError(err).Error("Failed to encode reply")
		return
	}
	if !r.delivery.Deliver(connectionID, message) {
		r.metrics.MessageDropped()
	}
}
