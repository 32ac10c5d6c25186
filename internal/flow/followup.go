package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/11996262609/CrossFit-ChatBot/internal/catalog"
	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"github.com/11996262609/CrossFit-ChatBot/internal/store"
)

// SweepResult counts the outcome of one follow-up sweep.
type SweepResult struct {
	Checked int
	Sent    int
	Failed  int
}

// FollowUp sends one reminder per attachment to parties that went quiet
// after sending it.
type FollowUp struct {
	users  store.UserStore
	sender Sender
	cat    *catalog.Catalog
	clock  Clock
	opts   Opts

	running sync.Mutex
}

// NewFollowUp creates a FollowUp sweeper.
func NewFollowUp(users store.UserStore, sender Sender, cat *catalog.Catalog, clock Clock, opts ...Option) *FollowUp {
	if clock == nil {
		clock = SystemClock{}
	}
	return &FollowUp{
		users:  users,
		sender: sender,
		cat:    cat,
		clock:  clock,
		opts:   buildOpts(opts),
	}
}

// Sweep scans every user record and reminds each one whose last attachment
// is older than the threshold and not yet reminded. Records are handled
// independently: a send or persistence failure is counted and the sweep
// moves on. A record is marked reminded only after its send succeeds.
// Overlapping sweeps are skipped.
func (f *FollowUp) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if !f.running.TryLock() {
		slog.Debug("FollowUp sweep already running, skipping")
		return res, nil
	}
	defer f.running.Unlock()

	users, err := f.users.ListUsers(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list users: %w", err)
	}
	now := f.clock.Now()

	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Checked++
		if !u.ReminderDue(now, f.opts.FollowUpThreshold) {
			continue
		}
		body := f.cat.Reminder(models.FirstName(u.DisplayName))
		if err := f.sender.SendText(ctx, u.Address, body); err != nil {
			slog.Error("FollowUp reminder send failed", "address", u.Address, "error", err)
			res.Failed++
			continue
		}
		ok, err := f.users.MarkReminded(ctx, u.Address, *u.LastAttachmentAt, now)
		if err != nil {
			slog.Error("FollowUp failed to persist reminder", "address", u.Address, "error", err)
			res.Failed++
			continue
		}
		if !ok {
			slog.Warn("FollowUp record changed during sweep", "address", u.Address)
		}
		res.Sent++
		slog.Info("FollowUp reminder sent", "address", u.Address)
	}

	slog.Debug("FollowUp sweep finished", "checked", res.Checked, "sent", res.Sent, "failed", res.Failed)
	return res, nil
}
