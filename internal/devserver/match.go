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

func (s *Server) handleMatchRequest(w http.ResponseWriter, r *http.Request) {
	var req protocol.MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.UserID == "" || req.MBTI == "" {
		writeError(w, http.StatusBadRequest, "user_id and mbti required")
		return
	}
	if req.Level < 1 || req.Level > 4 {
		writeError(w, http.StatusBadRequest, "level must be 1-4")
		return
	}

	s.mu.Lock()

	// A user who was paired by the partner's poll between two of their own
	// polls answers already_matched.
	if rm, partner := s.activeMatchLocked(req.UserID); rm != nil {
		resp := protocol.MatchResponse{
			Status:  protocol.StatusAlreadyMatched,
			RoomID:  rm.id,
			Partner: partner,
		}
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, resp)
		return
	}

	// Look for the oldest compatible waiter at the requested breadth.
	var candidate *waiter
	for _, wt := range s.waiting {
		if wt.userID == req.UserID {
			continue
		}
		if !compatible(req.Level, req.MBTI, wt.mbti) {
			continue
		}
		if candidate == nil || wt.joinedAt.Before(candidate.joinedAt) {
			candidate = wt
		}
	}

	if candidate != nil {
		rm := s.createRoomLocked(req.UserID, req.MBTI, candidate.userID, candidate.mbti)
		delete(s.waiting, candidate.userID)
		delete(s.waiting, req.UserID)

		push := s.matchSubs[candidate.userID]
		notif := protocol.MatchNotification{
			Status: protocol.StatusMatched,
			RoomID: rm.id,
			Partner: protocol.Partner{
				UserID: req.UserID,
				MBTI:   req.MBTI,
			},
		}
		resp := protocol.MatchResponse{
			Status: protocol.StatusMatched,
			RoomID: rm.id,
			Partner: &protocol.Partner{
				UserID: candidate.userID,
				MBTI:   candidate.mbti,
			},
		}
		s.mu.Unlock()

		// Notify the waiting side over its match channel.
		if push != nil {
			data, _ := json.Marshal(notif)
			push(data)
		}
		log.Printf("[stub] matched %s and %s in room %s", req.UserID, resp.Partner.UserID, rm.id)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	status := protocol.StatusWaiting
	if wt, ok := s.waiting[req.UserID]; ok {
		status = protocol.StatusAlreadyWaiting
		wt.level = req.Level
	} else {
		s.waiting[req.UserID] = &waiter{
			userID:   req.UserID,
			mbti:     req.MBTI,
			level:    req.Level,
			joinedAt: time.Now(),
		}
	}
	waitCount := len(s.waiting)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, protocol.MatchResponse{
		Status:    status,
		WaitCount: waitCount,
	})
}

// activeMatchLocked returns the room a user is still a member of, with the
// partner, or nil.
func (s *Server) activeMatchLocked(userID string) (*room, *protocol.Partner) {
	for _, rm := range s.rooms {
		if _, ok := rm.members[userID]; !ok || rm.left[userID] {
			continue
		}
		for uid, mbti := range rm.members {
			if uid != userID {
				return rm, &protocol.Partner{UserID: uid, MBTI: mbti}
			}
		}
	}
	return nil, nil
}

func (s *Server) createRoomLocked(user1, mbti1, user2, mbti2 string) *room {
	rm := &room{
		id:        uuid.New().String(),
		createdAt: time.Now(),
		members:   map[string]string{user1: mbti1, user2: mbti2},
		left:      make(map[string]bool),
		unread:    map[string]int{user1: 0, user2: 0},
	}
	s.rooms[rm.id] = rm
	return rm
}

func (s *Server) handleMatchCancel(w http.ResponseWriter, r *http.Request) {
	var req protocol.CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	delete(s.waiting, req.UserID)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, protocol.MatchResponse{Status: protocol.StatusCancelled})
}

func (s *Server) handleQueueCount(w http.ResponseWriter, r *http.Request) {
	mbti := r.PathValue("mbti")

	s.mu.Lock()
	count := 0
	for _, wt := range s.waiting {
		if wt.mbti == mbti {
			count++
		}
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, protocol.QueueResponse{WaitingCount: count})
}

// handleMatchSocket upgrades the match-notification channel and parks until
// the client disconnects. The server only ever writes on this channel.
func (s *Server) handleMatchSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("[stub] match socket upgrade for %s: %v", userID, err)
		return
	}

	var writeMu sync.Mutex
	push := func(payload []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := wsutil.WriteServerMessage(conn, ws.OpText, payload); err != nil {
			log.Printf("[stub] match push to %s: %v", userID, err)
		}
	}

	s.mu.Lock()
	s.matchSubs[userID] = push
	s.mu.Unlock()
	log.Printf("[stub] match socket open user=%s", userID)

	// Drain until the client goes away; nothing inbound is expected.
	for {
		if _, err := wsutil.ReadClientText(conn); err != nil {
			break
		}
	}

	s.mu.Lock()
	delete(s.matchSubs, userID)
	s.mu.Unlock()
	conn.Close()
	log.Printf("[stub] match socket closed user=%s", userID)
}
