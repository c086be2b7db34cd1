package models

import "time"

// Message types understood by clients.
const (
	MessageTypeText  = "TEXT"
	MessageTypeImage = "IMAGE"
	MessageTypeFile  = "FILE"
	MessageTypeAudio = "AUDIO"
	MessageTypeVideo = "VIDEO"
)

// Message is a persisted chat message. Exactly one of ConversationID or
// TaskConversationID is set, tying the row to a direct thread or a task
// thread. Content holds plain text, or a JSON file envelope when a file is
// attached (MessageType then says what kind of file).
type Message struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Content            string    `gorm:"type:text" json:"content"`
	SenderID           uint      `gorm:"not null;index" json:"senderId"`
	ConversationID     *uint     `gorm:"index" json:"conversationId,omitempty"`
	TaskConversationID *uint     `gorm:"index" json:"taskConversationId,omitempty"`
	MessageType        string    `gorm:"size:8;default:TEXT" json:"messageType"`
	FileName           string    `gorm:"size:256" json:"fileName,omitempty"`
	FileSize           int64     `json:"fileSize,omitempty"`
	ReplyToID          *uint     `json:"replyToId,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`

	Sender  User     `gorm:"foreignKey:SenderID" json:"sender"`
	ReplyTo *Message `gorm:"foreignKey:ReplyToID" json:"replyTo,omitempty"`
}

// MessageRead tracks per-user read receipts for a message.
type MessageRead struct {
	MessageID uint      `gorm:"primaryKey" json:"messageId"`
	UserID    uint      `gorm:"primaryKey" json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}
