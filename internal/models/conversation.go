package models

import "time"

// Conversation is the durable record of a 1:1 chat thread. The user pair is
// stored canonically (lower id as initiator) and covered by a compound
// uniqueness constraint, which is the source of truth when two processes race
// to create the same thread.
type Conversation struct {
	ID            uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	InitiatorID   uint       `gorm:"not null;uniqueIndex:idx_conversation_pair" json:"initiatorId"`
	ReceiverID    uint       `gorm:"not null;uniqueIndex:idx_conversation_pair" json:"receiverId"`
	LastMessage   string     `gorm:"size:128" json:"lastMessage"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// TaskConversation is the durable record of a task-scoped comment thread.
// At most one exists per task, enforced by the unique index.
type TaskConversation struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID    uint      `gorm:"not null;uniqueIndex" json:"taskId"`
	CreatedAt time.Time `json:"createdAt"`
}
