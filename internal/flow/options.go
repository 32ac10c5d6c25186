package flow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
)

// ErrNotConversation is returned for events that do not come from a
// one-to-one conversation address.
var ErrNotConversation = errors.New("not a one-to-one conversation address")

// Opts holds the timing and addressing parameters of the engine.
type Opts struct {
	HandoffSilence    time.Duration
	TakeoverSilence   time.Duration
	AttachmentSilence time.Duration
	BotSendGrace      time.Duration
	DebounceWindow    time.Duration
	PendingForwardTTL time.Duration
	FollowUpThreshold time.Duration
	TypingDelay       time.Duration

	OperatorAddress   models.Address // receives handoff notices
	BackOfficeAddress models.Address // receives attachments; falls back to OperatorAddress

	// IsConversation filters inbound addresses; nil accepts any non-empty address.
	IsConversation func(models.Address) bool
}

// Option defines a configuration option for the engine components.
type Option func(*Opts)

func defaultOpts() Opts {
	return Opts{
		HandoffSilence:    DefaultHandoffSilence,
		TakeoverSilence:   DefaultTakeoverSilence,
		AttachmentSilence: DefaultAttachmentSilence,
		BotSendGrace:      DefaultBotSendGrace,
		DebounceWindow:    DefaultDebounceWindow,
		PendingForwardTTL: DefaultPendingForwardTTL,
		FollowUpThreshold: DefaultFollowUpThreshold,
	}
}

func buildOpts(opts []Option) Opts {
	cfg := defaultOpts()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BackOfficeAddress == "" {
		cfg.BackOfficeAddress = cfg.OperatorAddress
	}
	return cfg
}

// WithHandoffSilence sets the silence after a conversation-initiated handoff.
func WithHandoffSilence(d time.Duration) Option {
	return func(o *Opts) { o.HandoffSilence = d }
}

// WithTakeoverSilence sets the silence after an operator writes to a conversation.
func WithTakeoverSilence(d time.Duration) Option {
	return func(o *Opts) { o.TakeoverSilence = d }
}

// WithAttachmentSilence sets the silence after an attachment is received.
func WithAttachmentSilence(d time.Duration) Option {
	return func(o *Opts) { o.AttachmentSilence = d }
}

// WithBotSendGrace sets the window in which a reported operator send is
// attributed to the bot's own send.
func WithBotSendGrace(d time.Duration) Option {
	return func(o *Opts) { o.BotSendGrace = d }
}

// WithDebounceWindow sets the menu debounce window.
func WithDebounceWindow(d time.Duration) Option {
	return func(o *Opts) { o.DebounceWindow = d }
}

// WithPendingForwardTTL sets how long a caption-less attachment waits for its text.
func WithPendingForwardTTL(d time.Duration) Option {
	return func(o *Opts) { o.PendingForwardTTL = d }
}

// WithFollowUpThreshold sets the inactivity threshold after an attachment.
func WithFollowUpThreshold(d time.Duration) Option {
	return func(o *Opts) { o.FollowUpThreshold = d }
}

// WithTypingDelay sets the composing pause before menu sends.
func WithTypingDelay(d time.Duration) Option {
	return func(o *Opts) { o.TypingDelay = d }
}

// WithOperatorAddress sets the handoff notice recipient.
func WithOperatorAddress(addr models.Address) Option {
	return func(o *Opts) { o.OperatorAddress = addr }
}

// WithBackOfficeAddress sets the attachment forward recipient.
func WithBackOfficeAddress(addr models.Address) Option {
	return func(o *Opts) { o.BackOfficeAddress = addr }
}

// WithAddressFilter sets the one-to-one address predicate.
func WithAddressFilter(fn func(models.Address) bool) Option {
	return func(o *Opts) { o.IsConversation = fn }
}

// sendText sends body and logs a failure. Failed sends are not retried and
// do not roll back state; it reports whether the send succeeded.
func sendText(ctx context.Context, s Sender, to models.Address, body string) bool {
	if to == "" || body == "" {
		return false
	}
	if err := s.SendText(ctx, to, body); err != nil {
		slog.Error("Flow send failed", "to", to, "error", err)
		return false
	}
	return true
}

// typing shows a composing indicator and pauses, when supported.
func typing(ctx context.Context, s Sender, to models.Address, delay time.Duration) {
	if delay <= 0 {
		return
	}
	if tn, ok := s.(TypingNotifier); ok {
		if err := tn.SendTyping(ctx, to); err != nil {
			slog.Debug("Flow typing indicator failed", "to", to, "error", err)
		}
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
