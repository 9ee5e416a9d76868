package hub_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/BhavanK18/Whiteboard/internal/hub"
	"github.com/BhavanK18/Whiteboard/internal/service"
)

type recordingDelivery struct {
	mu    sync.Mutex
	inbox map[string][]hub.Envelope
	full  map[string]bool
}

func newRecordingDelivery() *recordingDelivery {
	return &recordingDelivery{inbox: make(map[string][]hub.Envelope), full: make(map[string]bool)}
}

func (d *recordingDelivery) Deliver(connectionID string, message []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.full[connectionID] {
		return false
	}
	var env hub.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		panic(err)
	}
	d.inbox[connectionID] = append(d.inbox[connectionID], env)
	return true
}

func (d *recordingDelivery) received(connectionID string) []hub.Envelope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]hub.Envelope(nil), d.inbox[connectionID]...)
}

type fakeBoards struct {
	saved map[string]string
	err   error
}

func (b *fakeBoards) UpdateBoard(_ context.Context, sessionID string, board []byte) (datatypes.JSON, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.saved[sessionID] = string(board)
	return datatypes.JSON(board), nil
}

type relayFixture struct {
	relay    *hub.Relay
	delivery *recordingDelivery
	boards   *fakeBoards
}

// newRelayFixture puts a1 and a2 in session A and b1 in session B.
func newRelayFixture() *relayFixture {
	registry := hub.NewRegistry(nil)
	registry.Add("A", "a1", "alice")
	registry.Add("A", "a2", "bob")
	registry.Add("B", "b1", "carol")
	delivery := newRecordingDelivery()
	boards := &fakeBoards{saved: make(map[string]string)}
	return &relayFixture{
		relay:    hub.NewRelay(registry, delivery, boards, nil),
		delivery: delivery,
		boards:   boards,
	}
}

var alice = hub.Sender{ConnectionID: "a1", SessionID: "A", UserName: "alice"}

func dataOf(t *testing.T, env hub.Envelope) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &m))
	return m
}

func TestRelay_DrawElementReachesRoomExceptSender(t *testing.T) {
	f := newRelayFixture()

	f.relay.Handle(context.Background(), alice, hub.EventDrawElement,
		json.RawMessage(`{"sessionId":"A","element":{"id":"e1","type":"line"}}`))

	got := f.delivery.received("a2")
	require.Len(t, got, 1)
	assert.Equal(t, hub.EventDrawElement, got[0].Type)
	data := dataOf(t, got[0])
	assert.Equal(t, "default", data["pageId"])
	assert.Equal(t, map[string]any{"id": "e1", "type": "line"}, data["element"])

	assert.Empty(t, f.delivery.received("a1"), "sender must not receive its own draw event")
	assert.Empty(t, f.delivery.received("b1"), "events must not cross sessions")
}

func TestRelay_ElementEventsKeepPageID(t *testing.T) {
	f := newRelayFixture()
	ctx := context.Background()

	f.relay.Handle(ctx, alice, hub.EventUpdateElement, json.RawMessage(`{"sessionId":"A","element":{"id":"e1"},"pageId":"p2"}`))
	f.relay.Handle(ctx, alice, hub.EventDeleteElement, json.RawMessage(`{"sessionId":"A","elementId":"e1","pageId":"p2"}`))
	f.relay.Handle(ctx, alice, hub.EventClearBoard, json.RawMessage(`{"sessionId":"A"}`))

	got := f.delivery.received("a2")
	require.Len(t, got, 3)
	assert.Equal(t, "p2", dataOf(t, got[0])["pageId"])
	assert.Equal(t, hub.EventDeleteElement, got[1].Type)
	assert.Equal(t, "e1", dataOf(t, got[1])["elementId"])
	assert.Equal(t, hub.EventClearBoard, got[2].Type)
	assert.Equal(t, "default", dataOf(t, got[2])["pageId"])
	assert.Empty(t, f.delivery.received("a1"))
}

func TestRelay_ChatIncludesSenderWithServerTimestamp(t *testing.T) {
	f := newRelayFixture()

	f.relay.Handle(context.Background(), alice, hub.EventChatMessage,
		json.RawMessage(`{"sessionId":"A","message":"hi","userName":"spoofed"}`))

	for _, id := range []string{"a1", "a2"} {
		got := f.delivery.received(id)
		require.Len(t, got, 1, id)
		data := dataOf(t, got[0])
		assert.Equal(t, "alice", data["userName"])
		assert.Equal(t, "hi", data["message"])
		assert.NotEmpty(t, data["timestamp"])
	}
	assert.Empty(t, f.delivery.received("b1"))
}

func TestRelay_SpoofedSessionIsSilentlyDropped(t *testing.T) {
	f := newRelayFixture()
	ctx := context.Background()

	f.relay.Handle(ctx, alice, hub.EventDrawElement, json.RawMessage(`{"sessionId":"B","element":{}}`))
	f.relay.Handle(ctx, alice, hub.EventSaveBoard, json.RawMessage(`{"sessionId":"B","boardData":{}}`))

	notJoined := hub.Sender{ConnectionID: "x9", SessionID: "A", UserName: "eve"}
	f.relay.Handle(ctx, notJoined, hub.EventChatMessage, json.RawMessage(`{"sessionId":"A","message":"hi"}`))

	for _, id := range []string{"a1", "a2", "b1", "x9"} {
		assert.Empty(t, f.delivery.received(id), id)
	}
	assert.Empty(t, f.boards.saved)
}

func TestRelay_SaveBoardAcksSenderOnly(t *testing.T) {
	f := newRelayFixture()

	f.relay.Handle(context.Background(), alice, hub.EventSaveBoard,
		json.RawMessage(`{"sessionId":"A","boardData":{"elements":[1]}}`))

	got := f.delivery.received("a1")
	require.Len(t, got, 1)
	assert.Equal(t, hub.EventSaveSuccess, got[0].Type)
	assert.JSONEq(t, `{"elements":[1]}`, f.boards.saved["A"])
	assert.Empty(t, f.delivery.received("a2"))
}

func TestRelay_SaveBoardFailureSendsSaveError(t *testing.T) {
	f := newRelayFixture()
	f.boards.err = &service.Error{Kind: service.ErrNotFound, Message: "Session not found"}

	f.relay.Handle(context.Background(), alice, hub.EventSaveBoard,
		json.RawMessage(`{"sessionId":"A","boardData":{}}`))

	got := f.delivery.received("a1")
	require.Len(t, got, 1)
	assert.Equal(t, hub.EventSaveError, got[0].Type)
	data := dataOf(t, got[0])
	assert.Equal(t, "Session not found", data["error"])
	assert.Equal(t, "not_found", data["kind"])
}

func TestRelay_FullRecipientDoesNotBlockOthers(t *testing.T) {
	f := newRelayFixture()
	f.delivery.full["a2"] = true

	f.relay.Handle(context.Background(), alice, hub.EventChatMessage, json.RawMessage(`{"sessionId":"A","message":"hi"}`))

	assert.Len(t, f.delivery.received("a1"), 1)
	assert.Empty(t, f.delivery.received("a2"))
}

func TestRelay_UnknownEventRepliesError(t *testing.T) {
	f := newRelayFixture()

	f.relay.Handle(context.Background(), alice, "teleport", json.RawMessage(`{"sessionId":"A"}`))

	got := f.delivery.received("a1")
	require.Len(t, got, 1)
	assert.Equal(t, hub.EventError, got[0].Type)
	assert.Empty(t, f.delivery.received("a2"))
}
