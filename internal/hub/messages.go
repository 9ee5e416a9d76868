package hub

import (
	"encoding/json"
	"time"

	"github.com/BhavanK18/Whiteboard/internal/domain"
)

// Event names on the wire.
const (
	EventJoinSession   = "join_session"
	EventJoinSuccess   = "join_success"
	EventJoinError     = "join_error"
	EventUserJoined    = "user_joined"
	EventUserLeft      = "user_left"
	EventDrawElement   = "draw_element"
	EventUpdateElement = "update_element"
	EventDeleteElement = "delete_element"
	EventClearBoard    = "clear_board"
	EventChatMessage   = "chat_message"
	EventSaveBoard     = "save_board"
	EventSaveSuccess   = "save_success"
	EventSaveError     = "save_error"
	EventError         = "error"
)

const defaultPageID = "default"

// Envelope is the frame exchanged in both directions: {"type": ..., "data": {...}}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type joinSessionPayload struct {
	SessionID string `json:"sessionId"`
	UserName  string `json:"userName"`
}

// eventPayload covers every client event after the join handshake.
type eventPayload struct {
	SessionID string          `json:"sessionId"`
	Element   json.RawMessage `json:"element,omitempty"`
	ElementID json.RawMessage `json:"elementId,omitempty"`
	PageID    string          `json:"pageId,omitempty"`
	Message   string          `json:"message,omitempty"`
	BoardData json.RawMessage `json:"boardData,omitempty"`
}

func (p eventPayload) page() string {
	if p.PageID == "" {
		return defaultPageID
	}
	return p.PageID
}

type joinSuccessMessage struct {
	SessionID    string              `json:"sessionId"`
	UserName     string              `json:"userName"`
	SessionName  string              `json:"sessionName"`
	CreatedBy    string              `json:"createdBy"`
	BoardData    json.RawMessage     `json:"boardData"`
	Participants []domain.Connection `json:"participants"`
}

type errorMessage struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// presenceMessage is sent as user_joined and user_left.
type presenceMessage struct {
	UserName     string              `json:"userName"`
	SocketID     string              `json:"socketId"`
	Count        int                 `json:"count"`
	Participants []domain.Connection `json:"participants"`
}

type elementMessage struct {
	Element json.RawMessage `json:"element,omitempty"`
	PageID  string          `json:"pageId"`
}

type deleteElementMessage struct {
	ElementID json.RawMessage `json:"elementId"`
	PageID    string          `json:"pageId"`
}

type clearBoardMessage struct {
	PageID string `json:"pageId"`
}

type chatMessage struct {
	UserName  string    `json:"userName"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type saveSuccessMessage struct {
	SessionID string `json:"sessionId"`
}

// encode builds an outbound frame.
func encode(eventType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Data: raw})
}
