// Package irisfast is the client for the Iris KakaoTalk bridge: a
// reconnecting WebSocket for inbound chat events and a fasthttp client
// for replies. The bridge may deliver the same event more than once; the
// session layer answers duplicates instead of crashing on them.
package irisfast

import "context"

// Message is one inbound chat event from the bridge.
type Message struct {
	Room       string `json:"room"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Msg        string `json:"msg"`
}

// ReplyRequest is the bridge's outbound frame.
type ReplyRequest struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Data string `json:"data"`
}

// HeaderProvider injects per-request headers (auth identities).
type HeaderProvider func() map[string]string

// MessageCallback receives each inbound event.
type MessageCallback func(message *Message)

// StateCallback observes WebSocket lifecycle changes.
type StateCallback func(state WebSocketState)

// WebSocketState is the connection lifecycle.
type WebSocketState string

const (
	WSStateDisconnected WebSocketState = "disconnected"
	WSStateConnecting   WebSocketState = "connecting"
	WSStateConnected    WebSocketState = "connected"
	WSStateReconnecting WebSocketState = "reconnecting"
	WSStateFailed       WebSocketState = "failed"
)

// Sender is the narrow egress seam the bot loop depends on.
type Sender interface {
	SendMessage(ctx context.Context, room, message string) error
}
