package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/catalog"
	"github.com/11996262609/CrossFit-ChatBot/internal/intent"
	"github.com/11996262609/CrossFit-ChatBot/internal/media"
	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"github.com/11996262609/CrossFit-ChatBot/internal/store"
	"github.com/11996262609/CrossFit-ChatBot/internal/testutil"
)

const (
	testUser       models.Address = "5511999999999@s.whatsapp.net"
	testOperator   models.Address = "5511900000001@s.whatsapp.net"
	testBackOffice models.Address = "5511900000002@s.whatsapp.net"
)

var testStart = time.Date(2025, 9, 24, 10, 0, 0, 0, time.UTC)

// harness wires the engine over in-memory fakes.
type harness struct {
	clock       *testutil.ManualClock
	sender      *testutil.FakeSender
	downloader  *testutil.FakeDownloader
	users       *store.InMemoryStore
	files       AttachmentStorage
	cat         *catalog.Catalog
	sessions    *SessionStore
	debounce    *DebounceGuard
	handoff     *HandoffManager
	attachments *AttachmentPipeline
	router      *Router
	followUp    *FollowUp
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	cat, err := catalog.Default()
	if err != nil {
		t.Fatalf("catalog.Default: %v", err)
	}
	fs, err := media.NewFileStore(media.WithBaseDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return newHarnessWithFiles(t, cat, fs, opts...)
}

func newHarnessWithFiles(t *testing.T, cat *catalog.Catalog, files AttachmentStorage, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:      testutil.NewManualClock(testStart),
		downloader: &testutil.FakeDownloader{Data: []byte("\xff\xd8\xff\xe0 jpeg bytes"), MimeType: "image/jpeg"},
		users:      store.NewInMemoryStore(),
		files:      files,
		cat:        cat,
	}
	h.sender = testutil.NewFakeSender(h.clock)

	all := append([]Option{
		WithOperatorAddress(testOperator),
		WithBackOfficeAddress(testBackOffice),
	}, opts...)

	h.sessions = NewSessionStore(h.clock)
	h.debounce = NewDebounceGuard(h.clock)
	h.handoff = NewHandoffManager(h.sessions, h.sender, h.clock, cat.Keywords.Ack, all...)
	h.attachments = NewAttachmentPipeline(h.sender, h.downloader, h.files, h.users, h.handoff, cat, h.clock, all...)
	h.router = NewRouter(h.sessions, h.debounce, intent.NewClassifier(cat), h.handoff, h.attachments, h.sender, cat, h.clock, all...)
	h.followUp = NewFollowUp(h.users, h.sender, cat, h.clock, all...)
	return h
}

func (h *harness) text(t *testing.T, from models.Address, body string) {
	t.Helper()
	evt := models.InboundEvent{From: from, Kind: models.KindText, Text: body, PushName: "Maria Silva", Timestamp: h.clock.Now()}
	if err := h.router.HandleEvent(context.Background(), evt); err != nil {
		t.Fatalf("HandleEvent(%q): %v", body, err)
	}
}

func (h *harness) attachment(caption string) models.InboundEvent {
	return models.InboundEvent{
		ID:       "media-1",
		From:     testUser,
		Kind:     models.KindMedia,
		PushName: "Maria Silva",
		Media: &models.MediaInfo{
			Type:     models.MediaImage,
			MimeType: "image/jpeg",
			FileName: "comprovante.jpg",
			Caption:  caption,
		},
		Timestamp: h.clock.Now(),
	}
}

func (h *harness) state(addr models.Address) models.DialogState {
	return h.sessions.Get(addr).State
}

// failingFiles is an AttachmentStorage that always fails.
type failingFiles struct{}

func (failingFiles) Save(ctx context.Context, name string, data []byte) (string, error) {
	return "", errors.New("disk full")
}

// failingUsers wraps the in-memory store with injectable persistence failures.
type failingUsers struct {
	*store.InMemoryStore
	recordErr error
	markErr   error
}

func (f *failingUsers) RecordAttachment(ctx context.Context, addr models.Address, name string, at time.Time) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	return f.InMemoryStore.RecordAttachment(ctx, addr, name, at)
}

func (f *failingUsers) MarkReminded(ctx context.Context, addr models.Address, attachmentAt, remindedAt time.Time) (bool, error) {
	if f.markErr != nil {
		return false, f.markErr
	}
	return f.InMemoryStore.MarkReminded(ctx, addr, attachmentAt, remindedAt)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
