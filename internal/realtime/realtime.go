// Package realtime provides the push channel to the storefront: STOMP frames
// carried over a WebSocket.
package realtime

import (
	"context"
	"errors"
)

// ErrNotConnected is returned when an operation needs a live connection.
var ErrNotConnected = errors.New("realtime: not connected")

// Destinations used by the storefront chat.
const (
	PersonalQueue = "/user/queue/chat"
	ChatUpdates   = "/topic/chat-updates"
	TypingSend    = "/app/chat.typing"
)

// ConversationTopic is the broadcast topic of a conversation.
func ConversationTopic(id string) string {
	return "/topic/chat/" + id
}

// TypingTopic carries typing notices for a conversation.
func TypingTopic(id string) string {
	return "/topic/chat/" + id + "/typing"
}

// Handler receives the body of each message delivered on a subscription.
// It runs on the subscription's own goroutine.
type Handler func(body []byte)

// Subscription is an active topic subscription.
type Subscription interface {
	Unsubscribe() error
}

// Conn is an established push connection.
type Conn interface {
	Subscribe(destination string, h Handler) (Subscription, error)
	Send(destination string, body []byte) error
	// Done is closed once the connection is lost or closed.
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Transport opens push connections.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}
