package models

import "time"

// Conversation groups an ordered message history for one user.
// UpdatedAt is bumped on every message append and drives list ordering.
type Conversation struct {
	ID        int64     `json:"id"`
	OwnerID   string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
