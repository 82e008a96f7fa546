package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/mbtilink/matchkit/internal/api"
)

type fakeAuthBackend struct {
	status      *api.AuthStatus
	statusErr   error
	profile     *api.Profile
	profileErr  error
	profileHits int
}

func (f *fakeAuthBackend) Status(ctx context.Context) (*api.AuthStatus, error) {
	return f.status, f.statusErr
}

func (f *fakeAuthBackend) GetProfile(ctx context.Context) (*api.Profile, error) {
	f.profileHits++
	return f.profile, f.profileErr
}

func TestRefresh_LoggedOutSkipsProfile(t *testing.T) {
	backend := &fakeAuthBackend{
		status:     &api.AuthStatus{LoggedIn: false},
		profileErr: errors.New("401"),
	}
	store := NewStore(backend)

	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if backend.profileHits != 0 {
		t.Errorf("profile fetched %d times for an anonymous session, want 0", backend.profileHits)
	}
	if snap := store.Current(); snap.LoggedIn {
		t.Errorf("snapshot = %+v, want logged out", snap)
	}
}

func TestRefresh_LoggedInMergesProfile(t *testing.T) {
	backend := &fakeAuthBackend{
		status:  &api.AuthStatus{LoggedIn: true, UserID: "u1", Email: "a@b.c", Name: "Ana"},
		profile: &api.Profile{ID: "u1", Email: "a@b.c", MBTI: "INFP", Gender: "female"},
	}
	store := NewStore(backend)

	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	snap := store.Current()
	if !snap.LoggedIn || snap.UserID != "u1" || snap.Nickname != "Ana" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.MBTI != "INFP" || snap.Gender != "female" {
		t.Errorf("profile fields not merged: %+v", snap)
	}
}

func TestRefresh_FillsUserIDFromProfile(t *testing.T) {
	backend := &fakeAuthBackend{
		status:  &api.AuthStatus{LoggedIn: true},
		profile: &api.Profile{ID: "u9", MBTI: "ENTJ"},
	}
	store := NewStore(backend)

	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if snap := store.Current(); snap.UserID != "u9" {
		t.Errorf("UserID = %q, want u9", snap.UserID)
	}
}

func TestRefresh_StatusFailureKeepsOldSnapshot(t *testing.T) {
	backend := &fakeAuthBackend{
		status:  &api.AuthStatus{LoggedIn: true, UserID: "u1"},
		profile: &api.Profile{ID: "u1", MBTI: "ISTP"},
	}
	store := NewStore(backend)
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	backend.statusErr = errors.New("down")
	if err := store.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh should fail when the status call fails")
	}
	if snap := store.Current(); snap.UserID != "u1" {
		t.Errorf("failed refresh should not clobber the snapshot, got %+v", snap)
	}
}
