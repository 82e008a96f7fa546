package matching

import "time"

// PollInterval is the fixed delay between two match attempts.
const PollInterval = 3 * time.Second

// Level is one breadth level in the matching cycle. The backend widens its
// MBTI similarity band as the level rises; the label is display copy for the
// waiting screen.
type Level struct {
	Level int
	Label string
}

// DefaultLevels returns the four-level cycle the loop walks through,
// narrowest first. The loop wraps back to level 1 after level 4.
func DefaultLevels() []Level {
	return []Level{
		{Level: 1, Label: "looking for your perfect match..."},
		{Level: 2, Label: "looking for a great match..."},
		{Level: 3, Label: "looking for a new connection..."},
		{Level: 4, Label: "looking for anyone out there..."},
	}
}
