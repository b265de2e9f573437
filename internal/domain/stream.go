package domain

import "time"

// Stream is a live Twitch stream as returned by Helix.
type Stream struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserLogin    string    `json:"user_login"`
	UserName     string    `json:"user_name"`
	GameID       string    `json:"game_id,omitempty"`
	GameName     string    `json:"game_name,omitempty"`
	Title        string    `json:"title"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	Language     string    `json:"language"`
	ThumbnailURL string    `json:"thumbnail_url"`
}

// StreamQuery filters live streams. An empty query returns the most watched streams.
type StreamQuery struct {
	UserIDs    []string
	UserLogins []string
	First      int
	After      string
}

// StreamPage is one page of live streams. Cursor is empty on the last page.
type StreamPage struct {
	Streams []Stream
	Cursor  string
}
