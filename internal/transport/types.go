// Package transport abstracts the chat backend notifications are sent to.
package transport

import (
	"context"
	"errors"
)

// ChatTarget identifies where a tenant's notifications land.
type ChatTarget struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 }

// MessageRef points at a previously sent message so it can be edited later.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

func (r MessageRef) IsZero() bool { return r.MessageID == 0 }

// Preview controls the link preview attached to an outgoing message.
type Preview struct {
	URL   string
	Large bool
}

// Message is a rendered notification ready for delivery.
type Message struct {
	Text    string
	Preview *Preview
}

// ErrMessageGone reports that the message an edit targeted no longer
// exists or is no longer reachable. Callers fall back to a fresh send.
var ErrMessageGone = errors.New("transport: message gone")

// Adapter delivers and edits notification messages.
type Adapter interface {
	Send(ctx context.Context, to ChatTarget, msg Message) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, msg Message) error
}
