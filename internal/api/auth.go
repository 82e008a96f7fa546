package api

import (
	"context"
	"errors"
	"net/http"
)

// AuthStatus is the body of GET /auth/status.
type AuthStatus struct {
	LoggedIn bool   `json:"logged_in"`
	UserID   string `json:"user_id,omitempty"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Profile is the body of GET /user/profile. MBTI and Gender are empty until
// the user has filled in their profile.
type Profile struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	MBTI   string `json:"mbti"`
	Gender string `json:"gender"`
}

// SignupRequest is the body of POST /auth/signup. MBTI7 is the extended
// seven-letter code, e.g. "INTJ-ATO".
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
	Gender   string `json:"gender"`
	MBTI7    string `json:"mbti7Letter"`
}

// ProfileUpdate is the body of PUT /user/profile.
type ProfileUpdate struct {
	MBTI   string `json:"mbti"`
	Gender string `json:"gender"`
}

// Status returns the current login state for the session cookie held by this
// client.
func (c *Client) Status(ctx context.Context) (*AuthStatus, error) {
	var resp AuthStatus
	if err := c.do(ctx, http.MethodGet, "/auth/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout ends the session. Older backend deployments expose the endpoint
// without the /auth prefix, so a 404 from /auth/logout falls through to
// /logout.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return c.do(ctx, http.MethodPost, "/logout", nil, nil)
	}
	return err
}

// GetProfile fetches the logged-in user's profile.
func (c *Client) GetProfile(ctx context.Context) (*Profile, error) {
	var resp Profile
	if err := c.do(ctx, http.MethodGet, "/user/profile", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateProfile sets the four-letter MBTI code and gender.
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) error {
	return c.do(ctx, http.MethodPut, "/user/profile", update, nil)
}

// Signup registers a new account.
func (c *Client) Signup(ctx context.Context, req SignupRequest) error {
	return c.do(ctx, http.MethodPost, "/auth/signup", req, nil)
}
