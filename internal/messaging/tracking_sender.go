package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/flow"
	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"github.com/11996262609/CrossFit-ChatBot/internal/whatsapp"
)

// TrackingSender is the only send path used by the engine. It records the
// time of every bot-originated send per address so that operator sends
// echoed by the transport can be told apart from the bot's own.
type TrackingSender struct {
	next  Service
	clock flow.Clock

	mu   sync.Mutex
	last map[models.Address]time.Time
}

// NewTrackingSender wraps next.
func NewTrackingSender(next Service, clock flow.Clock) *TrackingSender {
	if clock == nil {
		clock = flow.SystemClock{}
	}
	return &TrackingSender{
		next:  next,
		clock: clock,
		last:  make(map[models.Address]time.Time),
	}
}

// canonical keys the tracker by JID so "5511..." and "5511...@s.whatsapp.net"
// refer to the same conversation.
func canonical(addr models.Address) models.Address {
	if jid, err := whatsapp.ToJID(addr); err == nil {
		return whatsapp.ToAddress(jid)
	}
	return addr
}

// mark stamps the send before and after it is issued; the transport may
// echo the message before the send call returns.
func (t *TrackingSender) mark(to models.Address) {
	now := t.clock.Now()
	key := canonical(to)
	t.mu.Lock()
	t.last[key] = now
	t.mu.Unlock()
}

// SendText sends and records a text message.
func (t *TrackingSender) SendText(ctx context.Context, to models.Address, body string) error {
	t.mark(to)
	defer t.mark(to)
	return t.next.SendText(ctx, to, body)
}

// SendMedia sends and records a medium.
func (t *TrackingSender) SendMedia(ctx context.Context, to models.Address, media models.OutboundMedia) error {
	t.mark(to)
	defer t.mark(to)
	return t.next.SendMedia(ctx, to, media)
}

// SendTyping shows a composing indicator. It is not a message and is not recorded.
func (t *TrackingSender) SendTyping(ctx context.Context, to models.Address) error {
	return t.next.SendTyping(ctx, to)
}

// LastBotSend returns the time of the most recent bot send to an address.
func (t *TrackingSender) LastBotSend(to models.Address) (time.Time, bool) {
	key := canonical(to)
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.last[key]
	return ts, ok
}

var (
	_ flow.Sender         = (*TrackingSender)(nil)
	_ flow.TypingNotifier = (*TrackingSender)(nil)
	_ flow.BotSendTracker = (*TrackingSender)(nil)
)
