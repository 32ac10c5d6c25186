package messaging

import (
	"context"
	"errors"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
)

// ErrServiceStopped is returned by sends issued after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines a pluggable message transport.
// It supports sending text and media, and provides channels for inbound
// conversation events and operator sends.
type Service interface {
	// Start begins background processing (e.g., registering event handlers).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channels.
	Stop() error

	// Inbound returns a channel of conversation-originated events.
	Inbound() <-chan models.InboundEvent

	// OperatorSends returns a channel of messages the operator sent directly.
	OperatorSends() <-chan models.OperatorSend

	// SendText sends a text message to a conversation.
	SendText(ctx context.Context, to models.Address, body string) error

	// SendMedia sends a medium with optional caption to a conversation.
	SendMedia(ctx context.Context, to models.Address, media models.OutboundMedia) error

	// DownloadMedia fetches the bytes and MIME type of an inbound medium.
	DownloadMedia(ctx context.Context, evt models.InboundEvent) ([]byte, string, error)

	// SendTyping shows a composing indicator in a conversation.
	SendTyping(ctx context.Context, to models.Address) error
}
