// Package store persists the message log of every session. Appends are
// atomic per call and reads return a consistent snapshot ordered by seq.
package store

import (
	"github.com/jadenj13/analyst/internals/conversation"
)

type Info struct {
	SessionID     string `json:"session_id"`
	TotalMessages int    `json:"total_messages"`
	UserTurns     int    `json:"user_turns"`
	HasHistory    bool   `json:"has_history"`
}

type Stats struct {
	Path     string  `json:"db_path,omitempty"`
	SizeMB   float64 `json:"db_size_mb"`
	Sessions int     `json:"sessions"`
	Messages int     `json:"messages"`
}

func infoOf(key string, msgs []conversation.Message) Info {
	turns := conversation.CountTurns(msgs)
	return Info{
		SessionID:     key,
		TotalMessages: len(msgs),
		UserTurns:     turns,
		HasHistory:    turns > 0,
	}
}
