package flow

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"github.com/11996262609/CrossFit-ChatBot/internal/textnorm"
)

// trivialAckMaxRunes is the length at or below which an operator message is
// treated as a trivial acknowledgment.
const trivialAckMaxRunes = 2

// HandoffManager owns the HUMAN_SILENCED window: operator takeovers, silence
// extension, natural expiry and wake.
type HandoffManager struct {
	sessions *SessionStore
	tracker  BotSendTracker
	clock    Clock
	opts     Opts
	ackWords map[string]bool
}

// NewHandoffManager creates a HandoffManager. ackWords are operator messages
// that never trigger a takeover.
func NewHandoffManager(sessions *SessionStore, tracker BotSendTracker, clock Clock, ackWords []string, opts ...Option) *HandoffManager {
	if clock == nil {
		clock = SystemClock{}
	}
	acks := make(map[string]bool, len(ackWords))
	for _, w := range ackWords {
		if n := textnorm.Normalize(w); n != "" {
			acks[n] = true
		}
	}
	return &HandoffManager{
		sessions: sessions,
		tracker:  tracker,
		clock:    clock,
		opts:     buildOpts(opts),
		ackWords: acks,
	}
}

// IsTrivialAck reports whether an operator message is too small to mean a
// takeover: at most two characters, or one of the ack words.
func (m *HandoffManager) IsTrivialAck(text string) bool {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) <= trivialAckMaxRunes {
		return true
	}
	return m.ackWords[textnorm.Normalize(trimmed)]
}

// attributedToBot reports whether a send to addr at sentAt falls within the
// grace window of the bot's own last send to addr.
func (m *HandoffManager) attributedToBot(addr models.Address, sentAt time.Time) bool {
	if m.tracker == nil {
		return false
	}
	last, ok := m.tracker.LastBotSend(addr)
	if !ok {
		return false
	}
	d := sentAt.Sub(last)
	if d < 0 {
		d = -d
	}
	return d <= m.opts.BotSendGrace
}

// HandleOperatorSend applies an operator takeover for a message the operator
// sent directly to a conversation. It reports whether the silence window was
// set or extended.
func (m *HandoffManager) HandleOperatorSend(ctx context.Context, evt models.OperatorSend) (bool, error) {
	if evt.To == "" {
		return false, models.ErrEmptyAddress
	}
	now := m.clock.Now()
	// The echo of a bot send can sit in the address queue behind slow work,
	// so the transport timestamp is compared, not the processing time.
	sentAt := evt.Timestamp
	if sentAt.IsZero() {
		sentAt = now
	}

	if m.attributedToBot(evt.To, sentAt) {
		slog.Debug("HandoffManager operator send attributed to bot", "address", evt.To, "sent_at", sentAt)
		return false, nil
	}
	if !evt.HasMedia && m.IsTrivialAck(evt.Text) {
		slog.Debug("HandoffManager operator send is a trivial ack", "address", evt.To)
		return false, nil
	}

	var applied bool
	err := m.sessions.Update(evt.To, func(rec *models.SessionRecord) error {
		applied = m.Silence(rec, now, now.Add(m.opts.TakeoverSilence))
		return nil
	})
	if applied {
		slog.Info("HandoffManager operator takeover", "address", evt.To, "until", now.Add(m.opts.TakeoverSilence))
	}
	return applied, err
}

// Silence puts rec into HUMAN_SILENCED until the given deadline. An active
// window is only replaced by a later deadline, never shortened. It reports
// whether rec changed.
func (m *HandoffManager) Silence(rec *models.SessionRecord, now, until time.Time) bool {
	if rec.Silenced(now) && !until.After(rec.SilencedUntil) {
		return false
	}
	rec.State = models.StateHumanSilenced
	rec.SilencedUntil = until
	return true
}

// Expire moves rec back to MAIN if its silence window has run out. It
// reports whether rec changed.
func (m *HandoffManager) Expire(rec *models.SessionRecord, now time.Time) bool {
	if rec.State != models.StateHumanSilenced || rec.Silenced(now) {
		return false
	}
	slog.Debug("HandoffManager silence expired", "address", rec.Address, "until", rec.SilencedUntil)
	rec.State = models.StateMain
	rec.SilencedUntil = time.Time{}
	return true
}

// Release ends the silence window immediately, as on a wake keyword.
func (m *HandoffManager) Release(rec *models.SessionRecord) {
	rec.State = models.StateMain
	rec.SilencedUntil = time.Time{}
}
