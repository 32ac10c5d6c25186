// Package flow implements the conversation session engine: the dialog router
// state machine, the handoff and takeover manager, the attachment pipeline,
// the follow-up sweep and the debounce and session stores they share.
package flow

import (
	"context"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
)

// Sender is the outbound send path used by the engine. In production it is
// the bot-send tracking decorator around the transport.
type Sender interface {
	SendText(ctx context.Context, to models.Address, body string) error
	SendMedia(ctx context.Context, to models.Address, media models.OutboundMedia) error
}

// TypingNotifier is optionally implemented by a Sender that can show a
// composing indicator before a reply.
type TypingNotifier interface {
	SendTyping(ctx context.Context, to models.Address) error
}

// MediaDownloader fetches the bytes and MIME type of an inbound medium.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, evt models.InboundEvent) ([]byte, string, error)
}

// BotSendTracker reports the time of the bot's most recent send to an address.
type BotSendTracker interface {
	LastBotSend(to models.Address) (time.Time, bool)
}

// Clock abstracts time for the engine.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// Default durations, overridable through options.
const (
	DefaultHandoffSilence    = 30 * time.Minute
	DefaultTakeoverSilence   = 60 * time.Minute
	DefaultAttachmentSilence = 20 * time.Minute
	DefaultBotSendGrace      = 8 * time.Second
	DefaultDebounceWindow    = 15 * time.Second
	DefaultPendingForwardTTL = 3 * time.Minute
	DefaultFollowUpThreshold = 48 * time.Hour
	DefaultFollowUpInterval  = 30 * time.Minute
)

// Debounce tags.
const (
	TagMenuSent = "menu-sent"
)
