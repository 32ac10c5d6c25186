package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/catalog"
	"github.com/11996262609/CrossFit-ChatBot/internal/intent"
	"github.com/11996262609/CrossFit-ChatBot/internal/models"
)

// Router is the dialog state machine. It receives every inbound event in
// per-address order, decides the reply, updates the session and issues sends.
type Router struct {
	sessions    *SessionStore
	debounce    *DebounceGuard
	classifier  *intent.Classifier
	handoff     *HandoffManager
	attachments *AttachmentPipeline
	sender      Sender
	cat         *catalog.Catalog
	clock       Clock
	opts        Opts
}

// NewRouter creates a Router over its collaborators.
func NewRouter(sessions *SessionStore, debounce *DebounceGuard, classifier *intent.Classifier, handoff *HandoffManager, attachments *AttachmentPipeline, sender Sender, cat *catalog.Catalog, clock Clock, opts ...Option) *Router {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Router{
		sessions:    sessions,
		debounce:    debounce,
		classifier:  classifier,
		handoff:     handoff,
		attachments: attachments,
		sender:      sender,
		cat:         cat,
		clock:       clock,
		opts:        buildOpts(opts),
	}
}

// HandleEvent routes one inbound event. Events from the same address must
// not be delivered concurrently out of order; the session lock serializes
// them but does not order them.
func (r *Router) HandleEvent(ctx context.Context, evt models.InboundEvent) (err error) {
	if evt.From == "" {
		return models.ErrEmptyAddress
	}
	if r.opts.IsConversation != nil && !r.opts.IsConversation(evt.From) {
		return fmt.Errorf("%w: %s", ErrNotConversation, evt.From)
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Router.HandleEvent: recovered from panic", "address", evt.From, "panic", rec)
			err = fmt.Errorf("panic while routing event from %s: %v", evt.From, rec)
			if !r.sessions.Get(evt.From).Silenced(r.clock.Now()) {
				sendText(ctx, r.sender, evt.From, r.cat.GenericFailure)
			}
		}
	}()

	return r.sessions.Update(evt.From, func(rec *models.SessionRecord) error {
		return r.route(ctx, evt, rec)
	})
}

// HandleOperatorSend applies an operator takeover, if the send qualifies.
func (r *Router) HandleOperatorSend(ctx context.Context, evt models.OperatorSend) error {
	_, err := r.handoff.HandleOperatorSend(ctx, evt)
	return err
}

func (r *Router) route(ctx context.Context, evt models.InboundEvent, rec *models.SessionRecord) error {
	now := r.clock.Now()

	if evt.Kind == models.KindMedia && evt.Media != nil {
		return r.attachments.Handle(ctx, evt, rec)
	}

	if r.attachments.ConsumePendingForward(ctx, evt, rec) {
		return nil
	}

	r.handoff.Expire(rec, now)
	if rec.State == models.StateHumanSilenced {
		res := r.classifier.Classify(intent.Input{Text: evt.Text, Silenced: true})
		if res.Kind != intent.Wake {
			slog.Debug("Router ignoring message while silenced", "address", evt.From, "until", rec.SilencedUntil)
			return nil
		}
		slog.Info("Router wake keyword, leaving silence", "address", evt.From)
		r.handoff.Release(rec)
		r.sendMainMenu(ctx, evt, false)
		return nil
	}

	if rec.State == models.StateAwaitingHandoffReason {
		r.completeHandoff(ctx, evt, rec, now)
		return nil
	}

	res := r.classifier.Classify(intent.Input{Text: evt.Text, SelectionID: evt.SelectionID})
	slog.Debug("Router classified", "address", evt.From, "state", rec.State, "intent", res.Kind, "normalized", res.Normalized)

	if rec.State == models.StateTopicFollowup {
		r.routeFollowup(ctx, evt, rec, res)
		return nil
	}
	r.routeMain(ctx, evt, rec, res)
	return nil
}

func (r *Router) routeMain(ctx context.Context, evt models.InboundEvent, rec *models.SessionRecord, res intent.Result) {
	name := models.FirstName(evt.PushName)
	switch res.Kind {
	case intent.Greeting:
		r.sendMainMenu(ctx, evt, true)
	case intent.Selection:
		r.selectTopic(ctx, evt, rec, res.Topic)
	case intent.Price:
		r.sendWithSubMenu(ctx, evt, rec, r.cat.Pricing)
	case intent.Schedule:
		r.sendWithSubMenu(ctx, evt, rec, r.cat.Scheduling)
	case intent.PaymentReceipt:
		sendText(ctx, r.sender, evt.From, r.cat.PaymentAck)
	case intent.Handoff:
		r.askHandoffReason(ctx, evt, rec)
	case intent.Exit:
		sendText(ctx, r.sender, evt.From, r.cat.Closing)
	default:
		typing(ctx, r.sender, evt.From, r.opts.TypingDelay)
		sendText(ctx, r.sender, evt.From, r.cat.NotUnderstood)
		sendText(ctx, r.sender, evt.From, r.cat.MainMenu(name))
		r.debounce.Mark(evt.From, TagMenuSent)
	}
}

func (r *Router) routeFollowup(ctx context.Context, evt models.InboundEvent, rec *models.SessionRecord, res intent.Result) {
	switch res.Kind {
	case intent.MoreInfo, intent.Price:
		r.sendWithSubMenu(ctx, evt, rec, r.cat.Pricing)
	case intent.Schedule:
		r.sendWithSubMenu(ctx, evt, rec, r.cat.Scheduling)
	case intent.Greeting:
		rec.State = models.StateMain
		r.sendMainMenu(ctx, evt, false)
	case intent.Exit:
		rec.State = models.StateMain
		sendText(ctx, r.sender, evt.From, r.cat.Closing)
	case intent.Selection, intent.Handoff, intent.PaymentReceipt:
		rec.State = models.StateMain
		r.routeMain(ctx, evt, rec, res)
	default:
		typing(ctx, r.sender, evt.From, r.opts.TypingDelay)
		sendText(ctx, r.sender, evt.From, r.cat.SubMenu(models.FirstName(evt.PushName)))
	}
}

// sendMainMenu sends the main menu. With debounced set, a menu already sent
// to the address within the debounce window suppresses this one.
func (r *Router) sendMainMenu(ctx context.Context, evt models.InboundEvent, debounced bool) {
	if debounced {
		if r.debounce.ShouldSkip(evt.From, TagMenuSent, r.opts.DebounceWindow) {
			slog.Debug("Router menu debounced", "address", evt.From)
			return
		}
	} else {
		r.debounce.Mark(evt.From, TagMenuSent)
	}
	typing(ctx, r.sender, evt.From, r.opts.TypingDelay)
	sendText(ctx, r.sender, evt.From, r.cat.MainMenu(models.FirstName(evt.PushName)))
}

func (r *Router) sendWithSubMenu(ctx context.Context, evt models.InboundEvent, rec *models.SessionRecord, content string) {
	typing(ctx, r.sender, evt.From, r.opts.TypingDelay)
	sendText(ctx, r.sender, evt.From, content)
	sendText(ctx, r.sender, evt.From, r.cat.SubMenu(models.FirstName(evt.PushName)))
	rec.State = models.StateTopicFollowup
}

func (r *Router) selectTopic(ctx context.Context, evt models.InboundEvent, rec *models.SessionRecord, t *catalog.Topic) {
	if t == nil {
		return
	}
	slog.Debug("Router topic selected", "address", evt.From, "topic", t.ID)
	switch {
	case t.Handoff:
		r.askHandoffReason(ctx, evt, rec)
	case t.DrillDown:
		r.sendWithSubMenu(ctx, evt, rec, t.Content)
	default:
		typing(ctx, r.sender, evt.From, r.opts.TypingDelay)
		sendText(ctx, r.sender, evt.From, t.Content)
		sendText(ctx, r.sender, evt.From, r.cat.MainMenu(models.FirstName(evt.PushName)))
		r.debounce.Mark(evt.From, TagMenuSent)
		rec.State = models.StateMain
	}
}

func (r *Router) askHandoffReason(ctx context.Context, evt models.InboundEvent, rec *models.SessionRecord) {
	sendText(ctx, r.sender, evt.From, r.cat.HandoffPrompt)
	rec.State = models.StateAwaitingHandoffReason
}

// completeHandoff takes the event as the handoff reason, notifies the
// operator, acknowledges the party and silences the conversation.
func (r *Router) completeHandoff(ctx context.Context, evt models.InboundEvent, rec *models.SessionRecord, now time.Time) {
	reason := strings.TrimSpace(evt.Text)
	if reason == "" {
		reason = strings.TrimSpace(evt.SelectionID)
	}

	to := r.opts.OperatorAddress
	if to == "" {
		to = r.opts.BackOfficeAddress
	}
	if to == "" {
		slog.Warn("Router no operator address, handoff notice not sent", "address", evt.From)
	} else {
		notice := r.cat.HandoffNotice(evt.PushName, evt.From.Number(), reason, now)
		sendText(ctx, r.sender, to, notice)
	}

	sendText(ctx, r.sender, evt.From, r.cat.HandoffAck)
	until := now.Add(r.opts.HandoffSilence)
	r.handoff.Silence(rec, now, until)
	slog.Info("Router handoff requested", "address", evt.From, "until", rec.SilencedUntil)
}
