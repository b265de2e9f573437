package domain

import "time"

// User is a Twitch user profile as returned by Helix.
type User struct {
	ID              string    `json:"id"`
	Login           string    `json:"login"`
	DisplayName     string    `json:"display_name"`
	Type            string    `json:"type"`
	BroadcasterType string    `json:"broadcaster_type"`
	Description     string    `json:"description"`
	ProfileImageURL string    `json:"profile_image_url"`
	OfflineImageURL string    `json:"offline_image_url"`
	ViewCount       int       `json:"view_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// UserQuery selects users by ID and/or login. At least one value is required.
type UserQuery struct {
	IDs    []string
	Logins []string
}

func (q UserQuery) Empty() bool {
	return len(q.IDs) == 0 && len(q.Logins) == 0
}
