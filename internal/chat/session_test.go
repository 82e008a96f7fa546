package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mbtilink/matchkit/internal/protocol"
	"github.com/mbtilink/matchkit/internal/socket"
)

type fakeChatBackend struct {
	mu       sync.Mutex
	history  []protocol.StoredMessage
	histErr  error
	readErr  error
	leaveErr error
	reads    int
	leaves   int
}

func (f *fakeChatBackend) RoomMessages(ctx context.Context, roomID string) ([]protocol.StoredMessage, error) {
	if f.histErr != nil {
		return nil, f.histErr
	}
	return f.history, nil
}

func (f *fakeChatBackend) MarkRead(ctx context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	return f.readErr
}

func (f *fakeChatBackend) LeaveRoom(ctx context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	return f.leaveErr
}

func (f *fakeChatBackend) ChatSocketURL(roomID string) string {
	return "ws://test/ws/chat/" + roomID
}

type fakeRoomConn struct {
	mu     sync.Mutex
	sent   []string
	closed bool
}

func (c *fakeRoomConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.sent = append(c.sent, string(data))
	return nil
}

func (c *fakeRoomConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeRoomConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeRoomConn) sentFrames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	copy(out, c.sent)
	return out
}

type chatHarness struct {
	session  *Session
	backend  *fakeChatBackend
	conn     *fakeRoomConn
	handlers socket.Handlers
}

func newChatHarness(backend *fakeChatBackend, config Config) *chatHarness {
	h := &chatHarness{backend: backend, conn: &fakeRoomConn{}}
	config.Dial = func(ctx context.Context, url string, hs socket.Handlers) (roomConn, error) {
		h.handlers = hs
		return h.conn, nil
	}
	h.session = NewSession(backend, "r1", "me", config)
	return h
}

func TestOpen_LoadsHistoryAndMarksRead(t *testing.T) {
	backend := &fakeChatBackend{
		history: []protocol.StoredMessage{
			{ID: "m1", SenderID: "me", Content: "hello", CreatedAt: "2026-08-01T10:00:00Z"},
			{ID: "m2", SenderID: "u2", Content: "hey", CreatedAt: "2026-08-01T10:00:05Z"},
		},
	}
	h := newChatHarness(backend, Config{})

	if err := h.session.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if backend.reads != 1 {
		t.Errorf("mark-read called %d times, want 1", backend.reads)
	}
	if h.session.Status() != StatusOpen {
		t.Errorf("status = %q, want open", h.session.Status())
	}

	msgs := h.session.Messages()
	if len(msgs) != 2 {
		t.Fatalf("transcript has %d messages, want 2", len(msgs))
	}
	if !msgs[0].IsMine {
		t.Error("history message from local user should be mine")
	}
	if msgs[1].IsMine {
		t.Error("history message from partner should not be mine")
	}
	if msgs[0].Timestamp.IsZero() {
		t.Error("history timestamp should be parsed")
	}
}

func TestOpen_HistoryFailure(t *testing.T) {
	backend := &fakeChatBackend{histErr: errors.New("boom")}
	h := newChatHarness(backend, Config{})

	if err := h.session.Open(context.Background()); err == nil {
		t.Fatal("Open should fail when history load fails")
	}
	if backend.reads != 0 {
		t.Error("mark-read should not run after a history failure")
	}
}

func TestOpen_MarkReadFailureIsNonFatal(t *testing.T) {
	backend := &fakeChatBackend{readErr: errors.New("boom")}
	h := newChatHarness(backend, Config{})

	if err := h.session.Open(context.Background()); err != nil {
		t.Fatalf("Open should tolerate a mark-read failure, got %v", err)
	}
	if h.session.Status() != StatusOpen {
		t.Errorf("status = %q, want open", h.session.Status())
	}
}

func TestSend_Rules(t *testing.T) {
	h := newChatHarness(&fakeChatBackend{}, Config{})
	if err := h.session.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	tests := []struct {
		name      string
		content   string
		wantFrame string
	}{
		{"empty", "", ""},
		{"whitespace only", "   \n\t", ""},
		{"normal", "hi", `{"sender_id":"me","content":"hi"}`},
		{"trimmed", "  hi there  ", `{"sender_id":"me","content":"hi there"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(h.conn.sentFrames())
			if err := h.session.Send(tt.content); err != nil {
				t.Fatalf("Send(%q): %v", tt.content, err)
			}
			frames := h.conn.sentFrames()
			if tt.wantFrame == "" {
				if len(frames) != before {
					t.Errorf("Send(%q) transmitted a frame", tt.content)
				}
				return
			}
			if len(frames) != before+1 {
				t.Fatalf("Send(%q) transmitted %d frames, want 1", tt.content, len(frames)-before)
			}
			if frames[len(frames)-1] != tt.wantFrame {
				t.Errorf("frame = %s, want %s", frames[len(frames)-1], tt.wantFrame)
			}
		})
	}

	// No local echo: nothing is appended until the server echoes back.
	if got := len(h.session.Messages()); got != 0 {
		t.Errorf("transcript has %d messages before any echo, want 0", got)
	}
}

func TestSend_ClosedConnection(t *testing.T) {
	h := newChatHarness(&fakeChatBackend{}, Config{})
	if err := h.session.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	h.session.Close()

	if err := h.session.Send("hi"); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Send on closed session = %v, want ErrNotOpen", err)
	}
}

func TestInboundFrames_AppendInArrivalOrder(t *testing.T) {
	var notified []Message
	var mu sync.Mutex
	h := newChatHarness(&fakeChatBackend{}, Config{
		OnMessage: func(m Message) {
			mu.Lock()
			notified = append(notified, m)
			mu.Unlock()
		},
	})
	if err := h.session.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	h.handlers.Message([]byte(`{"message_id":"m1","room_id":"r1","sender_id":"u2","content":"yo"}`))
	h.handlers.Message([]byte(`not json at all`)) // dropped
	h.handlers.Message([]byte(`{"message_id":"m2","room_id":"r1","sender_id":"me","content":"hi"}`))

	msgs := h.session.Messages()
	if len(msgs) != 2 {
		t.Fatalf("transcript has %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[0].IsMine {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].ID != "m2" || !msgs[1].IsMine {
		t.Errorf("second message = %+v", msgs[1])
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 2 {
		t.Errorf("OnMessage fired %d times, want 2", len(notified))
	}
}

func TestLeave_ClosesSocketEvenOnFailure(t *testing.T) {
	backend := &fakeChatBackend{leaveErr: errors.New("boom")}
	h := newChatHarness(backend, Config{})
	if err := h.session.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	err := h.session.Leave(context.Background())
	if err == nil {
		t.Error("Leave should surface the backend failure")
	}
	if !h.conn.closed {
		t.Error("socket must close even when the leave call fails")
	}
	if h.session.Status() != StatusClosed {
		t.Errorf("status = %q, want closed", h.session.Status())
	}
	if backend.leaves != 1 {
		t.Errorf("leave called %d times, want 1", backend.leaves)
	}
}

func TestRemoteDrop_SurfacesAsStatusChange(t *testing.T) {
	var statuses []ConnStatus
	var mu sync.Mutex
	h := newChatHarness(&fakeChatBackend{}, Config{
		OnStatus: func(s ConnStatus) {
			mu.Lock()
			statuses = append(statuses, s)
			mu.Unlock()
		},
	})
	if err := h.session.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	h.handlers.Closed(errors.New("connection reset"))

	if h.session.Status() != StatusClosed {
		t.Errorf("status = %q, want closed", h.session.Status())
	}
	mu.Lock()
	defer mu.Unlock()
	want := []ConnStatus{StatusOpen, StatusClosed}
	if len(statuses) != len(want) {
		t.Fatalf("status changes = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("status change %d = %q, want %q", i, statuses[i], want[i])
		}
	}
}
