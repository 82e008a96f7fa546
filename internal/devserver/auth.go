package devserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mbtilink/matchkit/internal/api"
)

const sessionCookie = "mk_session"

// handleSignup registers an account and logs it in by setting the session
// cookie, matching the production backend's auto-login behavior.
func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req api.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password required")
		return
	}

	// The seven-letter signup code carries the four-letter type up front.
	mbti := req.MBTI7
	if i := strings.IndexByte(mbti, '-'); i > 0 {
		mbti = mbti[:i]
	}

	acct := &account{
		id:       uuid.New().String(),
		email:    req.Email,
		nickname: req.Nickname,
		gender:   req.Gender,
		mbti:     mbti,
	}
	token := uuid.New().String()

	s.mu.Lock()
	for _, existing := range s.accounts {
		if existing.email == req.Email {
			s.mu.Unlock()
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
	}
	s.accounts[acct.id] = acct
	s.sessions[token] = acct.id
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: token, Path: "/"})
	w.WriteHeader(http.StatusNoContent)
}

// sessionAccount resolves the request's session cookie to an account, or nil.
func (s *Server) sessionAccount(r *http.Request) *account {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.sessions[cookie.Value]
	if !ok {
		return nil
	}
	return s.accounts[userID]
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	acct := s.sessionAccount(r)
	if acct == nil {
		writeJSON(w, http.StatusOK, api.AuthStatus{LoggedIn: false})
		return
	}
	writeJSON(w, http.StatusOK, api.AuthStatus{
		LoggedIn: true,
		UserID:   acct.id,
		Email:    acct.email,
		Name:     acct.nickname,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.mu.Lock()
		delete(s.sessions, cookie.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	acct := s.sessionAccount(r)
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	writeJSON(w, http.StatusOK, api.Profile{
		ID:     acct.id,
		Email:  acct.email,
		MBTI:   acct.mbti,
		Gender: acct.gender,
	})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	acct := s.sessionAccount(r)
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	var req api.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	acct.mbti = req.MBTI
	acct.gender = req.Gender
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}
