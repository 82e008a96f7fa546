// Package chat implements the client-side controller for one chat room
// view: history load, read marking, the room's socket, and outbound sends.
//
// Messages are append-only in arrival order — history first, then socket
// frames as they land. There is no re-sorting and no dedup by id; the
// guarantee is at-least-displayed, not exactly-ordered. A sent message is
// not echoed locally: it appears only when the server broadcasts it back on
// the room channel, sender included.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mbtilink/matchkit/internal/metrics"
	"github.com/mbtilink/matchkit/internal/protocol"
	"github.com/mbtilink/matchkit/internal/socket"
)

// ConnStatus is the state of the room's socket connection.
type ConnStatus string

const (
	StatusConnecting ConnStatus = "connecting"
	StatusOpen       ConnStatus = "open"
	StatusClosed     ConnStatus = "closed"
)

// ErrNotOpen is returned by Send when the room socket is not open.
var ErrNotOpen = errors.New("chat: connection not open")

// Message is one transcript entry. Immutable once appended. IsMine is
// derived from the sender id at append time.
type Message struct {
	ID        string
	SenderID  string
	Content   string
	IsMine    bool
	Timestamp time.Time
}

// Backend is the slice of the REST client the session depends on.
type Backend interface {
	RoomMessages(ctx context.Context, roomID string) ([]protocol.StoredMessage, error)
	MarkRead(ctx context.Context, roomID, userID string) error
	LeaveRoom(ctx context.Context, roomID, userID string) error
	ChatSocketURL(roomID string) string
}

// roomConn is the part of a socket handle the session touches.
type roomConn interface {
	Send(data []byte) error
	IsOpen() bool
	Close()
}

// DialFunc opens the chat channel; tests substitute a fake socket.
type DialFunc func(ctx context.Context, url string, h socket.Handlers) (roomConn, error)

func defaultDial(ctx context.Context, url string, h socket.Handlers) (roomConn, error) {
	return socket.Dial(ctx, socket.KindChat, url, h)
}

// Config holds the session's collaborators. OnMessage fires for every
// appended message; OnStatus for connection status changes. Both optional.
type Config struct {
	OnMessage func(Message)
	OnStatus  func(ConnStatus)
	Dial      DialFunc
}

// Session is the controller for one chat room. Create one per room view and
// discard it on navigation; it is not reusable after Leave.
type Session struct {
	backend   Backend
	onMessage func(Message)
	onStatus  func(ConnStatus)
	dial      DialFunc

	roomID string
	userID string

	mu       sync.Mutex
	status   ConnStatus
	messages []Message
	conn     roomConn
}

// NewSession creates a Session for the given room and local user.
func NewSession(backend Backend, roomID, userID string, config Config) *Session {
	if config.Dial == nil {
		config.Dial = defaultDial
	}
	return &Session{
		backend:   backend,
		onMessage: config.OnMessage,
		onStatus:  config.OnStatus,
		dial:      config.Dial,
		roomID:    roomID,
		userID:    userID,
		status:    StatusConnecting,
	}
}

// Open loads the room history, marks the room read, and connects the room
// socket. History and socket are independent: a history failure is returned
// but does not prevent the socket from connecting on a retry of Open, and
// frames arriving before history finished loading are simply appended.
func (s *Session) Open(ctx context.Context) error {
	history, err := s.backend.RoomMessages(ctx, s.roomID)
	if err != nil {
		return fmt.Errorf("chat: load history for room %s: %w", s.roomID, err)
	}

	s.mu.Lock()
	for _, m := range history {
		s.messages = append(s.messages, s.toMessage(m.ID, m.SenderID, m.Content, parseTimestamp(m.CreatedAt)))
	}
	s.mu.Unlock()

	if err := s.backend.MarkRead(ctx, s.roomID, s.userID); err != nil {
		// Non-fatal: an unread badge lingering is preferable to blocking the
		// room from opening.
		log.Printf("[chat] mark read room=%s: %v", s.roomID, err)
	}

	conn, err := s.dial(ctx, s.backend.ChatSocketURL(s.roomID), socket.Handlers{
		Message: func(data []byte) { s.handleFrame(data) },
		Closed:  func(err error) { s.handleClosed(err) },
	})
	if err != nil {
		s.setStatus(StatusClosed)
		return fmt.Errorf("chat: connect room %s: %w", s.roomID, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setStatus(StatusOpen)
	return nil
}

// Send transmits one chat frame. Empty or whitespace-only content is a
// silent no-op; sending on a closed connection returns ErrNotOpen. The
// message is not appended locally — it arrives via the server echo.
func (s *Session) Send(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	s.mu.Lock()
	conn := s.conn
	open := s.status == StatusOpen && conn != nil && conn.IsOpen()
	s.mu.Unlock()
	if !open {
		return ErrNotOpen
	}

	data, err := json.Marshal(protocol.OutboundChat{SenderID: s.userID, Content: content})
	if err != nil {
		return fmt.Errorf("chat: marshal frame: %w", err)
	}
	if err := conn.Send(data); err != nil {
		return fmt.Errorf("chat: send: %w", err)
	}
	metrics.MessagesSent.Inc()
	return nil
}

// Leave calls the leave-room operation, then closes the socket regardless of
// the call's outcome. The leave error is returned so the UI can surface it,
// but the session is torn down either way.
func (s *Session) Leave(ctx context.Context) error {
	err := s.backend.LeaveRoom(ctx, s.roomID, s.userID)

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	s.setStatus(StatusClosed)

	if err != nil {
		return fmt.Errorf("chat: leave room %s: %w", s.roomID, err)
	}
	return nil
}

// Close tears down the socket without the leave-room call, for plain
// navigation away. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	s.setStatus(StatusClosed)
}

// Status returns the current connection status.
func (s *Session) Status() ConnStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Messages returns a copy of the transcript in arrival order.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Session) toMessage(id, senderID, content string, ts time.Time) Message {
	return Message{
		ID:        id,
		SenderID:  senderID,
		Content:   content,
		IsMine:    senderID == s.userID,
		Timestamp: ts,
	}
}

// handleFrame appends one inbound socket frame to the transcript. Malformed
// frames are logged and dropped without touching the connection.
func (s *Session) handleFrame(data []byte) {
	frame, err := protocol.ParseChatFrame(data)
	if err != nil {
		metrics.FramesDropped.WithLabelValues(socket.KindChat).Inc()
		log.Printf("[chat] dropping bad frame room=%s: %v", s.roomID, err)
		return
	}

	msg := s.toMessage(frame.MessageID, frame.SenderID, frame.Content, time.Now())
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	if s.onMessage != nil {
		s.onMessage(msg)
	}
}

// handleClosed fires when the socket read loop exits. A server-side drop
// surfaces as a status change only; reconnecting is a user action.
func (s *Session) handleClosed(err error) {
	if err != nil {
		log.Printf("[chat] room %s connection lost: %v", s.roomID, err)
	}
	s.setStatus(StatusClosed)
}

func (s *Session) setStatus(status ConnStatus) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()
	if s.onStatus != nil {
		s.onStatus(status)
	}
}

// parseTimestamp decodes the backend's RFC 3339 created_at strings. A
// malformed timestamp falls back to the zero time rather than dropping the
// message.
func parseTimestamp(value string) time.Time {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}
