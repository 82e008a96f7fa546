package devserver

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/mbtilink/matchkit/internal/protocol"
)

func (s *Server) handleMyRooms(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}

	s.mu.Lock()
	var previews []protocol.RoomPreview
	for _, rm := range s.rooms {
		if _, ok := rm.members[userID]; !ok || rm.left[userID] {
			continue
		}
		preview := protocol.RoomPreview{
			ID:          rm.id,
			CreatedAt:   rm.createdAt.Format(time.RFC3339),
			UnreadCount: rm.unread[userID],
		}
		i := 0
		for uid := range rm.members {
			if i == 0 {
				preview.User1ID = uid
			} else {
				preview.User2ID = uid
			}
			i++
		}
		if n := len(rm.messages); n > 0 {
			last := rm.messages[n-1]
			preview.LatestMessage = &protocol.LatestMessage{
				Content:   last.Content,
				CreatedAt: last.CreatedAt,
			}
		}
		previews = append(previews, preview)
	}
	s.mu.Unlock()

	if previews == nil {
		previews = []protocol.RoomPreview{}
	}
	writeJSON(w, http.StatusOK, protocol.RoomListResponse{Rooms: previews})
}

func (s *Server) handleRoomMessages(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")

	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	messages := make([]protocol.StoredMessage, len(rm.messages))
	copy(messages, rm.messages)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, protocol.HistoryResponse{Messages: messages})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	userID := r.URL.Query().Get("user_id")

	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	if ok {
		rm.unread[userID] = 0
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	userID := r.URL.Query().Get("user_id")

	s.mu.Lock()
	rm, ok := s.rooms[roomID]
	if ok {
		rm.left[userID] = true
		// Drop the room entirely once everyone has left.
		remaining := 0
		for uid := range rm.members {
			if !rm.left[uid] {
				remaining++
			}
		}
		if remaining == 0 {
			delete(s.rooms, roomID)
		}
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}
	log.Printf("[stub] user %s left room %s", userID, roomID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	messageID := r.PathValue("messageId")

	var req protocol.ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.ReporterID == "" || len(req.Reasons) == 0 {
		writeError(w, http.StatusBadRequest, "reporter_id and at least one reason required")
		return
	}
	for _, reason := range req.Reasons {
		if !protocol.ValidReason(reason) {
			writeError(w, http.StatusBadRequest, "unknown reason: "+reason)
			return
		}
	}

	s.mu.Lock()
	found := false
	for _, rm := range s.rooms {
		for _, m := range rm.messages {
			if m.ID == messageID {
				found = true
				break
			}
		}
	}
	if !found {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if s.reports[messageID] == nil {
		s.reports[messageID] = make(map[string]bool)
	}
	if s.reports[messageID][req.ReporterID] {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "already reported this message")
		return
	}
	s.reports[messageID][req.ReporterID] = true
	s.mu.Unlock()

	log.Printf("[stub] report filed message=%s reporter=%s reasons=%v", messageID, req.ReporterID, req.Reasons)
	w.WriteHeader(http.StatusNoContent)
}

// handleChatSocket upgrades the chat channel for one room and relays frames:
// each inbound {sender_id, content} becomes a stored message broadcast to
// every subscriber of the room, the sender included.
func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")

	s.mu.Lock()
	_, ok := s.rooms[roomID]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "room not found")
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[stub] chat socket upgrade room=%s: %v", roomID, err)
		return
	}

	var writeMu sync.Mutex
	push := func(payload []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := wsutil.WriteServerMessage(conn, ws.OpText, payload); err != nil {
			log.Printf("[stub] chat push room=%s: %v", roomID, err)
		}
	}

	s.mu.Lock()
	if s.roomSubs[roomID] == nil {
		s.roomSubs[roomID] = make(map[int]func([]byte))
	}
	subID := s.nextSub
	s.nextSub++
	s.roomSubs[roomID][subID] = push
	s.mu.Unlock()
	log.Printf("[stub] chat socket open room=%s sub=%d", roomID, subID)

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			break
		}

		var out protocol.OutboundChat
		if err := json.Unmarshal(data, &out); err != nil || out.SenderID == "" {
			log.Printf("[stub] dropping bad chat frame room=%s: %v", roomID, err)
			continue
		}

		stored := protocol.StoredMessage{
			ID:        uuid.New().String(),
			SenderID:  out.SenderID,
			Content:   out.Content,
			CreatedAt: time.Now().Format(time.RFC3339),
		}

		s.mu.Lock()
		rm, ok := s.rooms[roomID]
		if !ok {
			s.mu.Unlock()
			break
		}
		rm.messages = append(rm.messages, stored)
		for uid := range rm.members {
			if uid != out.SenderID {
				rm.unread[uid]++
			}
		}
		subs := make([]func([]byte), 0, len(s.roomSubs[roomID]))
		for _, fn := range s.roomSubs[roomID] {
			subs = append(subs, fn)
		}
		s.mu.Unlock()

		echo, _ := json.Marshal(protocol.InboundChat{
			MessageID: stored.ID,
			RoomID:    roomID,
			SenderID:  stored.SenderID,
			Content:   stored.Content,
		})
		for _, fn := range subs {
			fn(echo)
		}
	}

	s.mu.Lock()
	delete(s.roomSubs[roomID], subID)
	s.mu.Unlock()
	conn.Close()
	log.Printf("[stub] chat socket closed room=%s sub=%d", roomID, subID)
}
