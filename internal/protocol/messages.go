// Package protocol defines the JSON shapes exchanged with the match/chat
// backend over HTTP and WebSocket, along with parse helpers for inbound
// socket frames. All payloads are plain JSON without an envelope; the two
// socket channels carry exactly one frame shape each.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Match statuses returned by POST /match/request
// ---------------------------------------------------------------------------

const (
	StatusWaiting        = "waiting"
	StatusAlreadyWaiting = "already_waiting"
	StatusMatched        = "matched"
	StatusAlreadyMatched = "already_matched"
	StatusCancelled      = "cancelled"
)

// IsMatched reports whether a match status means a partner has been found.
// The backend answers "already_matched" when a previous request from the
// same user has already been paired; both are terminal.
func IsMatched(status string) bool {
	return status == StatusMatched || status == StatusAlreadyMatched
}

// ---------------------------------------------------------------------------
// HTTP request/response bodies
// ---------------------------------------------------------------------------

// MatchRequest is the body of POST /match/request. Level is the breadth
// level in [1..4]: 1 searches the narrowest MBTI similarity band, 4 the
// widest.
type MatchRequest struct {
	UserID string `json:"user_id"`
	MBTI   string `json:"mbti"`
	Level  int    `json:"level"`
}

// CancelRequest is the body of POST /match/cancel.
type CancelRequest struct {
	UserID string `json:"user_id"`
	MBTI   string `json:"mbti"`
}

// Partner identifies the matched counterpart.
type Partner struct {
	UserID string `json:"user_id"`
	MBTI   string `json:"mbti"`
}

// MatchResponse is the body returned by POST /match/request and
// POST /match/cancel. RoomID and Partner are set only for matched statuses;
// WaitCount only for waiting statuses.
type MatchResponse struct {
	Status    string   `json:"status"`
	WaitCount int      `json:"wait_count,omitempty"`
	RoomID    string   `json:"roomId,omitempty"`
	Partner   *Partner `json:"partner,omitempty"`
}

// QueueResponse is the body of GET /match/queue/{mbti}.
type QueueResponse struct {
	WaitingCount int `json:"waiting_count"`
}

// StoredMessage is one element of GET /chat/{roomId}/messages.
type StoredMessage struct {
	ID        string `json:"id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// HistoryResponse is the body of GET /chat/{roomId}/messages.
type HistoryResponse struct {
	Messages []StoredMessage `json:"messages"`
}

// LatestMessage is the last-message preview embedded in a room listing.
type LatestMessage struct {
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// RoomPreview is one element of GET /chat/rooms/my.
type RoomPreview struct {
	ID            string         `json:"id"`
	User1ID       string         `json:"user1_id"`
	User2ID       string         `json:"user2_id"`
	CreatedAt     string         `json:"created_at"`
	UnreadCount   int            `json:"unread_count"`
	LatestMessage *LatestMessage `json:"latest_message,omitempty"`
}

// RoomListResponse is the body of GET /chat/rooms/my.
type RoomListResponse struct {
	Rooms []RoomPreview `json:"rooms"`
}

// ReportRequest is the body of POST /messages/{messageId}/report.
type ReportRequest struct {
	ReporterID string   `json:"reporter_id"`
	Reasons    []string `json:"reasons"`
}

// ---------------------------------------------------------------------------
// Report reasons
// ---------------------------------------------------------------------------

// Report reason codes accepted by the backend.
const (
	ReasonAbuse      = "ABUSE"
	ReasonHarassment = "HARASSMENT"
	ReasonSpam       = "SPAM"
	ReasonOther      = "OTHER"
)

var validReasons = map[string]bool{
	ReasonAbuse:      true,
	ReasonHarassment: true,
	ReasonSpam:       true,
	ReasonOther:      true,
}

// ValidReason reports whether the given reason code is one the backend
// accepts.
func ValidReason(reason string) bool {
	return validReasons[reason]
}

// ---------------------------------------------------------------------------
// WebSocket frames
// ---------------------------------------------------------------------------

// MatchNotification is the inbound frame on the match-notification channel.
// The backend pushes it to a waiting user when the partner's poll completed
// the pair first.
type MatchNotification struct {
	Status  string  `json:"status"`
	RoomID  string  `json:"roomId"`
	Partner Partner `json:"partner"`
}

// OutboundChat is the frame a client writes to the chat channel.
type OutboundChat struct {
	SenderID string `json:"sender_id"`
	Content  string `json:"content"`
}

// InboundChat is the frame the backend broadcasts to every member of a room,
// the sender included. Clients render their own messages only from this
// echo.
type InboundChat struct {
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
}

// ParseMatchNotification decodes a match-notification frame. Frames without
// a status field are rejected so that unrelated or truncated payloads are
// dropped by the caller rather than acted on.
func ParseMatchNotification(data []byte) (*MatchNotification, error) {
	var n MatchNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("protocol: failed to parse match notification: %w", err)
	}
	if n.Status == "" {
		return nil, fmt.Errorf("protocol: match notification missing \"status\" field")
	}
	return &n, nil
}

// ParseChatFrame decodes an inbound chat frame. A frame without sender_id is
// rejected; the mine/theirs attribution of a message is meaningless without
// one.
func ParseChatFrame(data []byte) (*InboundChat, error) {
	var m InboundChat
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to parse chat frame: %w", err)
	}
	if m.SenderID == "" {
		return nil, fmt.Errorf("protocol: chat frame missing \"sender_id\" field")
	}
	return &m, nil
}
