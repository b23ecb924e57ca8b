package websocket

import (
	"encoding/json"
	"time"

	"github.com/CUknot/chat_relay/models"
)

// Client to server event types.
const (
	EventAuth  = "auth"
	EventJoin  = "join"
	EventLeave = "leave"
	EventSend  = "send"
)

// Server to client event types.
const (
	EventAdmitted = "admitted"
	EventHistory  = "history"
	EventMessage  = "message"
	EventPresence = "presence"
	EventError    = "error"
)

// Envelope is the frame every event travels in, in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type AuthPayload struct {
	Token string `json:"token" validate:"required"`
}

type RoomPayload struct {
	RoomID string `json:"room_id" validate:"required,max=128,printascii"`
}

type SendPayload struct {
	RoomID          string             `json:"room_id" validate:"required,max=128,printascii"`
	Body            string             `json:"body"`
	Kind            models.MessageKind `json:"kind,omitempty" validate:"omitempty,oneof=text media"`
	ClientTimestamp *time.Time         `json:"client_timestamp,omitempty"`
}

type AdmittedPayload struct {
	User models.Identity `json:"user"`
}

type HistoryPayload struct {
	RoomID   string           `json:"room_id"`
	Messages []models.Message `json:"messages"`
}

type MessagePayload struct {
	RoomID  string         `json:"room_id"`
	Message models.Message `json:"message"`
}

type PresencePayload struct {
	RoomID string          `json:"room_id"`
	User   models.Identity `json:"user"`
	Online bool            `json:"online"`
}

type ErrorPayload struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
	RoomID  string `json:"room_id,omitempty"`
}

// encode builds a server frame.
func encode(eventType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Payload: raw})
}
