// Package devserver is an in-memory implementation of the match/chat
// backend contract, used for local development and end-to-end tests of the
// client. It covers the REST endpoints, both WebSocket channels, MBTI
// breadth matching, and duplicate-report rejection. Nothing is persisted;
// restart and everything is gone.
package devserver

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mbtilink/matchkit/internal/protocol"
)

// waiter is one queued match request.
type waiter struct {
	userID   string
	mbti     string
	level    int
	joinedAt time.Time
}

// room is one active chat room.
type room struct {
	id        string
	createdAt time.Time
	members   map[string]string // userID -> mbti
	left      map[string]bool
	messages  []protocol.StoredMessage
	unread    map[string]int
}

// account is a user registered through the signup stub.
type account struct {
	id       string
	email    string
	nickname string
	gender   string
	mbti     string
}

// Server holds the whole in-memory world behind one mutex. Request volume
// in development never justifies anything finer-grained.
type Server struct {
	mux *http.ServeMux

	mu        sync.Mutex
	waiting   map[string]*waiter            // userID -> queue entry
	rooms     map[string]*room              // roomID -> room
	accounts  map[string]*account           // userID -> account
	sessions  map[string]string             // session cookie -> userID
	reports   map[string]map[string]bool    // messageID -> reporterIDs
	matchSubs map[string]func(payload []byte) // userID -> notification push
	roomSubs  map[string]map[int]func(payload []byte)
	nextSub   int
}

// New creates a Server with all routes registered.
func New() *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		waiting:   make(map[string]*waiter),
		rooms:     make(map[string]*room),
		accounts:  make(map[string]*account),
		sessions:  make(map[string]string),
		reports:   make(map[string]map[string]bool),
		matchSubs: make(map[string]func([]byte)),
		roomSubs:  make(map[string]map[int]func([]byte)),
	}

	s.mux.HandleFunc("POST /match/request", s.handleMatchRequest)
	s.mux.HandleFunc("POST /match/cancel", s.handleMatchCancel)
	s.mux.HandleFunc("GET /match/queue/{mbti}", s.handleQueueCount)

	s.mux.HandleFunc("GET /chat/rooms/my", s.handleMyRooms)
	s.mux.HandleFunc("GET /chat/{roomId}/messages", s.handleRoomMessages)
	s.mux.HandleFunc("POST /chat/{roomId}/read", s.handleMarkRead)
	s.mux.HandleFunc("POST /chat/{roomId}/leave", s.handleLeaveRoom)

	s.mux.HandleFunc("POST /messages/{messageId}/report", s.handleReport)

	s.mux.HandleFunc("POST /auth/signup", s.handleSignup)
	s.mux.HandleFunc("GET /auth/status", s.handleAuthStatus)
	s.mux.HandleFunc("POST /auth/logout", s.handleLogout)
	s.mux.HandleFunc("GET /user/profile", s.handleGetProfile)
	s.mux.HandleFunc("PUT /user/profile", s.handleUpdateProfile)

	s.mux.HandleFunc("GET /ws/match/{userId}", s.handleMatchSocket)
	s.mux.HandleFunc("GET /ws/chat/{roomId}", s.handleChatSocket)

	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[stub] encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	http.Error(w, message, code)
}

// sharedLetters counts positions at which two four-letter MBTI codes agree.
func sharedLetters(a, b string) int {
	a = strings.ToUpper(a)
	b = strings.ToUpper(b)
	n := 0
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] == b[i] {
			n++
		}
	}
	return n
}

// compatible applies the breadth level: level 1 demands identical codes and
// each further level tolerates one more differing letter, so level 4
// matches anyone.
func compatible(level int, a, b string) bool {
	required := 4 - (level - 1)
	if required < 0 {
		required = 0
	}
	return sharedLetters(a, b) >= required
}
