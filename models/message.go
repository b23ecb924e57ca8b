package models

import (
	"time"
)

type MessageKind string

const (
	KindText  MessageKind = "text"
	KindMedia MessageKind = "media"
)

// Message is one chat message as relayed and kept in room history.
// Seq and SentAt are assigned by the server when the message is appended;
// ClientTime is whatever the sender claimed and is only for display.
type Message struct {
	ID         string      `json:"id"`
	RoomID     string      `json:"room_id"`
	Seq        uint64      `json:"seq"`
	Author     Identity    `json:"author"`
	Kind       MessageKind `json:"kind"`
	Body       string      `json:"body"`
	SentAt     time.Time   `json:"sent_at"`
	ClientTime *time.Time  `json:"client_time,omitempty"`
}

// MessageRecord is the archived form of a Message.
type MessageRecord struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	RoomID     string     `gorm:"size:128;not null;index:idx_room_seq" json:"room_id"`
	Seq        uint64     `gorm:"not null;index:idx_room_seq" json:"seq"`
	AuthorID   string     `gorm:"size:64;not null" json:"author_id"`
	AuthorName string     `gorm:"size:255" json:"author_name"`
	Kind       string     `gorm:"size:16;not null" json:"kind"`
	Body       string     `gorm:"type:text;not null" json:"body"`
	SentAt     time.Time  `gorm:"not null" json:"sent_at"`
	ClientTime *time.Time `json:"client_time,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (MessageRecord) TableName() string {
	return "messages"
}

// NewMessageRecord converts a relayed message into its archived row.
func NewMessageRecord(m Message) MessageRecord {
	return MessageRecord{
		ID:         m.ID,
		RoomID:     m.RoomID,
		Seq:        m.Seq,
		AuthorID:   m.Author.UserID,
		AuthorName: m.Author.DisplayName,
		Kind:       string(m.Kind),
		Body:       m.Body,
		SentAt:     m.SentAt,
		ClientTime: m.ClientTime,
	}
}
