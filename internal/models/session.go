package models

import "time"

// Session is one user's active conversation about a single document.
type Session struct {
	UserID       int64     `json:"user_id"`
	ChatID       int64     `json:"chat_id"`
	FileName     string    `json:"file_name"`
	Pages        int       `json:"pages"`
	Model        string    `json:"model"`
	Artifact     Artifact  `json:"artifact"`
	TranscriptID int64     `json:"transcript_id"`
	CreatedAt    time.Time `json:"created_at"`
}
