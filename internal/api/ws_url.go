package api

import "net/url"

// WebSocket endpoint paths. Both channels hang off the HTTP base with the
// scheme swapped to ws(s); the channel key (user id or room id) is the final
// path segment.
const (
	matchSocketPath = "/ws/match/"
	chatSocketPath  = "/ws/chat/"
)

// wsBase returns a copy of the base URL with the scheme swapped http->ws.
func (c *Client) wsBase() url.URL {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u
}

// MatchSocketURL returns the match-notification channel URL for a user.
func (c *Client) MatchSocketURL(userID string) string {
	u := c.wsBase()
	u.Path += matchSocketPath + url.PathEscape(userID)
	return u.String()
}

// ChatSocketURL returns the chat channel URL for a room.
func (c *Client) ChatSocketURL(roomID string) string {
	u := c.wsBase()
	u.Path += chatSocketPath + url.PathEscape(roomID)
	return u.String()
}
