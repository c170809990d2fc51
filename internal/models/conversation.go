package models

import "time"

// Conversation is one chat thread in the current session.
type Conversation struct {
	ID        string `gorm:"primaryKey;size:36"`
	Title     string `gorm:"size:256"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Events []ConversationEvent `gorm:"foreignKey:ConversationID"`
}

// ConversationEvent stores one user or assistant message appended to a
// conversation. Events are never updated once written.
type ConversationEvent struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	ConversationID string `gorm:"size:36;not null;uniqueIndex:idx_conversation_seq"`
	Sequence       int    `gorm:"not null;uniqueIndex:idx_conversation_seq"`
	Role           string `gorm:"size:16;not null"` // "user" or "assistant"
	Content        string `gorm:"type:text"`
	Files          string `gorm:"type:json"` // JSON array of file refs, user events only
	Config         string `gorm:"type:json"` // JSON generation config, empty when absent
	IsError        bool   `gorm:"default:false"`
	PPTURL         string `gorm:"size:1024"`
	PPTXURL        string `gorm:"size:1024"`
	PosterURL      string `gorm:"size:1024"`
	CreatedAt      time.Time
}
