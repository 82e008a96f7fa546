// Package auth holds the locally cached authentication and profile context.
// The cache has a single writer — whoever calls Refresh — and is exposed to
// the matching and chat controllers strictly as a read-only snapshot taken
// at construction time.
package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/mbtilink/matchkit/internal/api"
)

// Snapshot is an immutable view of the current auth/profile state.
type Snapshot struct {
	LoggedIn bool
	UserID   string
	Email    string
	Nickname string
	MBTI     string
	Gender   string
}

// Backend is the slice of the REST client the store depends on.
type Backend interface {
	Status(ctx context.Context) (*api.AuthStatus, error)
	GetProfile(ctx context.Context) (*api.Profile, error)
}

// Store caches the auth/profile state behind a read lock.
type Store struct {
	backend Backend

	mu      sync.RWMutex
	current Snapshot
}

// NewStore creates an empty Store; call Refresh before handing snapshots
// out.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// Refresh reloads the auth status and, when logged in, the profile. The
// profile call is skipped for anonymous sessions since the backend rejects
// it with 401.
func (s *Store) Refresh(ctx context.Context) error {
	status, err := s.backend.Status(ctx)
	if err != nil {
		return fmt.Errorf("auth: load status: %w", err)
	}

	snap := Snapshot{
		LoggedIn: status.LoggedIn,
		UserID:   status.UserID,
		Email:    status.Email,
		Nickname: status.Name,
	}

	if status.LoggedIn {
		profile, err := s.backend.GetProfile(ctx)
		if err != nil {
			return fmt.Errorf("auth: load profile: %w", err)
		}
		snap.MBTI = profile.MBTI
		snap.Gender = profile.Gender
		if snap.UserID == "" {
			snap.UserID = profile.ID
		}
	}

	s.mu.Lock()
	s.current = snap
	s.mu.Unlock()
	return nil
}

// Current returns the latest snapshot.
func (s *Store) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}
