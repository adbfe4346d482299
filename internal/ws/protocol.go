package ws

import (
	"github.com/mep-live/mep/internal/status"
)

type MessageType string

const (
	MsgStatus MessageType = "status"
	MsgEvent  MessageType = "event"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

type StatusPayload struct {
	State status.State `json:"state"`
}

type EventPayload struct {
	Event status.Event `json:"event"`
}
