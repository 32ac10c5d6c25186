package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/catalog"
	"github.com/11996262609/CrossFit-ChatBot/internal/media"
	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"github.com/11996262609/CrossFit-ChatBot/internal/store"
)

// AttachmentStorage persists attachment bytes under a given name and returns
// the stored location.
type AttachmentStorage interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// AttachmentPipeline handles inbound media: download, store, acknowledge,
// record, silence and forward to the back office.
type AttachmentPipeline struct {
	sender     Sender
	downloader MediaDownloader
	files      AttachmentStorage
	users      store.UserStore
	handoff    *HandoffManager
	cat        *catalog.Catalog
	clock      Clock
	opts       Opts
}

// NewAttachmentPipeline creates an AttachmentPipeline.
func NewAttachmentPipeline(sender Sender, downloader MediaDownloader, files AttachmentStorage, users store.UserStore, handoff *HandoffManager, cat *catalog.Catalog, clock Clock, opts ...Option) *AttachmentPipeline {
	if clock == nil {
		clock = SystemClock{}
	}
	return &AttachmentPipeline{
		sender:     sender,
		downloader: downloader,
		files:      files,
		users:      users,
		handoff:    handoff,
		cat:        cat,
		clock:      clock,
		opts:       buildOpts(opts),
	}
}

// Handle processes a media event against the conversation's session record.
// It runs in every dialog state. Download and storage failures stop the
// pipeline before any record is touched; a failed user record update does not.
func (p *AttachmentPipeline) Handle(ctx context.Context, evt models.InboundEvent, rec *models.SessionRecord) error {
	if evt.Media == nil {
		return models.ErrEmptyMedia
	}
	addr := evt.From
	now := p.clock.Now()

	data, mimeType, err := p.downloader.DownloadMedia(ctx, evt)
	if err == nil && len(data) == 0 {
		err = models.ErrEmptyMedia
	}
	if err != nil {
		slog.Warn("AttachmentPipeline download failed", "address", addr, "type", evt.Media.Type, "error", err)
		sendText(ctx, p.sender, addr, p.cat.ResendRequest)
		return fmt.Errorf("failed to download attachment from %s: %w", addr, err)
	}

	if mimeType == "" {
		mimeType = evt.Media.MimeType
	}
	mimeType = media.DetectMimeType(data, mimeType)
	ext := media.NormalizeExtension(evt.Media.FileName, mimeType, evt.Media.Type)
	name := media.StorageName(now, addr, evt.Media.FileName, ext, data)

	path, err := p.files.Save(ctx, name, data)
	if err != nil {
		slog.Error("AttachmentPipeline store failed", "address", addr, "name", name, "error", err)
		sendText(ctx, p.sender, addr, p.cat.GenericFailure)
		return fmt.Errorf("failed to store attachment from %s: %w", addr, err)
	}
	slog.Info("AttachmentPipeline stored attachment", "address", addr, "path", path, "mime", mimeType, "size", len(data))

	sendText(ctx, p.sender, addr, p.cat.AttachmentAck)

	var errs []error
	if err := p.users.RecordAttachment(ctx, addr, evt.PushName, now); err != nil {
		slog.Error("AttachmentPipeline record failed", "address", addr, "error", err)
		errs = append(errs, fmt.Errorf("failed to record attachment for %s: %w", addr, err))
	}

	p.handoff.Silence(rec, now, now.Add(p.opts.AttachmentSilence))

	p.forward(ctx, evt, data, mimeType, filepath.Base(path), now)

	if !evt.HasText() {
		rec.PendingForwardDeadline = now.Add(p.opts.PendingForwardTTL)
		slog.Debug("AttachmentPipeline armed pending forward", "address", addr, "deadline", rec.PendingForwardDeadline)
	}
	return errors.Join(errs...)
}

// forward relays the attachment and its summary to the back office.
func (p *AttachmentPipeline) forward(ctx context.Context, evt models.InboundEvent, data []byte, mimeType, storedAs string, at time.Time) {
	to := p.opts.BackOfficeAddress
	if to == "" {
		slog.Warn("AttachmentPipeline no back-office address, not forwarding", "address", evt.From)
		return
	}
	summary := p.cat.Summary(catalog.AttachmentSummary{
		Name:     evt.PushName,
		Number:   evt.From.Number(),
		Type:     string(evt.Media.Type),
		StoredAs: storedAs,
		Caption:  strings.TrimSpace(evt.Media.Caption),
		Time:     at,
	})
	sendText(ctx, p.sender, to, summary)

	out := models.OutboundMedia{
		Type:     evt.Media.Type,
		Data:     data,
		MimeType: mimeType,
		FileName: storedAs,
		Caption:  strings.TrimSpace(evt.Media.Caption),
	}
	if err := p.sender.SendMedia(ctx, to, out); err != nil {
		slog.Error("AttachmentPipeline forward failed", "address", evt.From, "to", to, "error", err)
	}
}

// ConsumePendingForward relays a plain-text message to the back office when
// it arrives before the pending-forward deadline armed by a caption-less
// attachment. Any armed deadline is cleared. It reports whether the event
// was consumed.
func (p *AttachmentPipeline) ConsumePendingForward(ctx context.Context, evt models.InboundEvent, rec *models.SessionRecord) bool {
	if rec.PendingForwardDeadline.IsZero() || evt.Kind != models.KindText {
		return false
	}
	deadline := rec.PendingForwardDeadline
	rec.PendingForwardDeadline = time.Time{}

	if !p.clock.Now().Before(deadline) {
		slog.Debug("AttachmentPipeline pending forward expired", "address", evt.From, "deadline", deadline)
		return false
	}
	to := p.opts.BackOfficeAddress
	if to == "" || strings.TrimSpace(evt.Text) == "" {
		return false
	}
	sendText(ctx, p.sender, to, p.cat.PendingForwardHeader(evt.PushName, evt.From.Number()))
	sendText(ctx, p.sender, to, evt.Text)
	slog.Info("AttachmentPipeline relayed follow-up text", "address", evt.From, "to", to)
	return true
}
