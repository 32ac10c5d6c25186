package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/11996262609/CrossFit-ChatBot/internal/flow"
	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"github.com/11996262609/CrossFit-ChatBot/internal/store"
)

// EventHandler processes events for one conversation at a time.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt models.InboundEvent) error
	HandleOperatorSend(ctx context.Context, evt models.OperatorSend) error
}

type task struct {
	inbound  *models.InboundEvent
	operator *models.OperatorSend
}

type addrQueue struct {
	tasks   []task
	running bool
}

// Dispatcher feeds transport events to the handler. Events for one address
// are handled in arrival order by a single worker; different addresses run
// concurrently. A worker exits once its queue is empty.
type Dispatcher struct {
	handler EventHandler
	dedup   store.DedupRepo

	mu     sync.Mutex
	queues map[models.Address]*addrQueue
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. dedup may be nil to disable redelivery
// detection.
func NewDispatcher(handler EventHandler, dedup store.DedupRepo) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		dedup:   dedup,
		queues:  make(map[models.Address]*addrQueue),
	}
}

// Run consumes the service channels until both are closed or ctx is done.
func (d *Dispatcher) Run(ctx context.Context, svc Service) {
	slog.Info("Dispatcher starting event processing")
	defer slog.Info("Dispatcher stopped event processing")

	inbound, operator := svc.Inbound(), svc.OperatorSends()
	for inbound != nil || operator != nil {
		select {
		case evt, ok := <-inbound:
			if !ok {
				slog.Debug("Dispatcher inbound channel closed")
				inbound = nil
				continue
			}
			d.Submit(ctx, evt)
		case evt, ok := <-operator:
			if !ok {
				slog.Debug("Dispatcher operator channel closed")
				operator = nil
				continue
			}
			d.SubmitOperatorSend(ctx, evt)
		case <-ctx.Done():
			slog.Debug("Dispatcher stopping due to context cancellation")
			return
		}
	}
}

// Submit queues an inbound event behind earlier events from the same address.
func (d *Dispatcher) Submit(ctx context.Context, evt models.InboundEvent) {
	d.enqueue(ctx, evt.From, task{inbound: &evt})
}

// SubmitOperatorSend queues an operator send behind earlier events for the same address.
func (d *Dispatcher) SubmitOperatorSend(ctx context.Context, evt models.OperatorSend) {
	d.enqueue(ctx, evt.To, task{operator: &evt})
}

// Wait blocks until all queued events are handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) enqueue(ctx context.Context, addr models.Address, t task) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[addr]
	if !ok {
		q = &addrQueue{}
		d.queues[addr] = q
	}
	q.tasks = append(q.tasks, t)
	if !q.running {
		q.running = true
		d.wg.Add(1)
		go d.drain(ctx, addr, q)
	}
}

func (d *Dispatcher) drain(ctx context.Context, addr models.Address, q *addrQueue) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			delete(d.queues, addr)
			d.mu.Unlock()
			return
		}
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		d.mu.Unlock()

		d.process(ctx, t)
	}
}

// process handles one task. Errors and panics are logged and the event is
// dropped; one conversation's failure never stops the others.
func (d *Dispatcher) process(ctx context.Context, t task) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher recovered from panic", "panic", r)
		}
	}()

	if t.operator != nil {
		if err := d.handler.HandleOperatorSend(ctx, *t.operator); err != nil {
			slog.Error("Dispatcher failed to process operator send", "error", err, "to", t.operator.To)
		}
		return
	}

	evt := *t.inbound
	if !d.firstDelivery(ctx, evt) {
		slog.Debug("Dispatcher dropping redelivered event", "id", evt.ID, "from", evt.From)
		return
	}

	err := d.handler.HandleEvent(ctx, evt)
	switch {
	case errors.Is(err, flow.ErrNotConversation):
		slog.Debug("Dispatcher dropped non-conversation event", "from", evt.From)
	case err != nil:
		slog.Error("Dispatcher failed to process event", "error", err, "from", evt.From, "id", evt.ID)
	}

	if d.dedup != nil && evt.ID != "" {
		if err := d.dedup.MarkProcessed(ctx, evt.ID); err != nil {
			slog.Warn("Dispatcher failed to mark event processed", "error", err, "id", evt.ID)
		}
	}
}

// firstDelivery records the event id and reports whether it is new. Events
// without an id, or a failing dedup store, are always processed.
func (d *Dispatcher) firstDelivery(ctx context.Context, evt models.InboundEvent) bool {
	if d.dedup == nil || evt.ID == "" {
		return true
	}
	fresh, err := d.dedup.RecordInbound(ctx, evt.ID, evt.From)
	if err != nil {
		slog.Warn("Dispatcher dedup check failed, processing anyway", "error", err, "id", evt.ID)
		return true
	}
	return fresh
}
