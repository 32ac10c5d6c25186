package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/flow"
	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"github.com/11996262609/CrossFit-ChatBot/internal/store"
	"github.com/11996262609/CrossFit-ChatBot/internal/testutil"
	"github.com/11996262609/CrossFit-ChatBot/internal/whatsapp"
	"github.com/stretchr/testify/require"
)

// recordingHandler records handled events per address.
type recordingHandler struct {
	mu        sync.Mutex
	seen      map[models.Address][]string
	operators []models.OperatorSend
	delay     time.Duration
	panicOn   string
	errOn     map[string]error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(map[models.Address][]string), errOn: make(map[string]error)}
}

func (h *recordingHandler) HandleEvent(ctx context.Context, evt models.InboundEvent) error {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if evt.Text == h.panicOn {
		panic("boom")
	}
	h.mu.Lock()
	h.seen[evt.From] = append(h.seen[evt.From], evt.Text)
	h.mu.Unlock()
	return h.errOn[evt.Text]
}

func (h *recordingHandler) HandleOperatorSend(ctx context.Context, evt models.OperatorSend) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.operators = append(h.operators, evt)
	h.seen[evt.To] = append(h.seen[evt.To], "op:"+evt.Text)
	return nil
}

func (h *recordingHandler) texts(addr models.Address) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen[addr]...)
}

func TestDispatcherPreservesPerAddressOrder(t *testing.T) {
	h := newRecordingHandler()
	h.delay = time.Millisecond
	d := NewDispatcher(h, nil)
	ctx := context.Background()

	a := models.Address("a@s.whatsapp.net")
	b := models.Address("b@s.whatsapp.net")
	var want []string
	for i := 0; i < 20; i++ {
		text := fmt.Sprintf("m%d", i)
		want = append(want, text)
		d.Submit(ctx, models.InboundEvent{From: a, Text: text})
		d.Submit(ctx, models.InboundEvent{From: b, Text: text})
	}
	d.SubmitOperatorSend(ctx, models.OperatorSend{To: a, Text: "last"})
	d.Wait()

	require.Equal(t, append(want, "op:last"), h.texts(a))
	require.Equal(t, want, h.texts(b))
}

func TestDispatcherDropsRedeliveries(t *testing.T) {
	h := newRecordingHandler()
	dedup := store.NewInMemoryStore()
	d := NewDispatcher(h, dedup)
	ctx := context.Background()
	a := models.Address("a@s.whatsapp.net")

	d.Submit(ctx, models.InboundEvent{ID: "X1", From: a, Text: "oi"})
	d.Submit(ctx, models.InboundEvent{ID: "X1", From: a, Text: "oi"})
	d.Submit(ctx, models.InboundEvent{From: a, Text: "no id"})
	d.Submit(ctx, models.InboundEvent{From: a, Text: "no id"})
	d.Wait()

	require.Equal(t, []string{"oi", "no id", "no id"}, h.texts(a))
}

func TestDispatcherRetriesUnprocessedRedelivery(t *testing.T) {
	h := newRecordingHandler()
	dedup := store.NewInMemoryStore()
	ctx := context.Background()
	a := models.Address("a@s.whatsapp.net")

	// Recorded before a crash, never marked processed.
	_, err := dedup.RecordInbound(ctx, "X2", a)
	require.NoError(t, err)

	d := NewDispatcher(h, dedup)
	d.Submit(ctx, models.InboundEvent{ID: "X2", From: a, Text: "retry"})
	d.Submit(ctx, models.InboundEvent{ID: "X2", From: a, Text: "retry"})
	d.Wait()

	require.Equal(t, []string{"retry"}, h.texts(a))
}

func TestDispatcherSurvivesPanicsAndErrors(t *testing.T) {
	h := newRecordingHandler()
	h.panicOn = "explode"
	h.errOn["fail"] = errors.New("handler failed")
	h.errOn["group"] = flow.ErrNotConversation
	d := NewDispatcher(h, nil)
	ctx := context.Background()
	a := models.Address("a@s.whatsapp.net")

	for _, text := range []string{"explode", "fail", "group", "after"} {
		d.Submit(ctx, models.InboundEvent{From: a, Text: text})
	}
	d.Wait()

	require.Equal(t, []string{"fail", "group", "after"}, h.texts(a))
}

func TestDispatcherRunStopsWhenChannelsClose(t *testing.T) {
	h := newRecordingHandler()
	d := NewDispatcher(h, nil)
	svc := NewWhatsAppService(whatsapp.NewMockClient())

	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), svc)
		close(done)
	}()

	svc.inbound <- models.InboundEvent{From: "a@s.whatsapp.net", Text: "oi"}
	svc.operator <- models.OperatorSend{To: "a@s.whatsapp.net", Text: "olá"}
	require.Eventually(t, func() bool { return len(h.texts("a@s.whatsapp.net")) == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Stop())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
	d.Wait()
}

func TestTrackingSender(t *testing.T) {
	clock := testutil.NewManualClock(time.Date(2025, 9, 24, 10, 0, 0, 0, time.UTC))
	mock := whatsapp.NewMockClient()
	ts := NewTrackingSender(NewWhatsAppService(mock), clock)
	ctx := context.Background()

	_, ok := ts.LastBotSend("5511999999999@s.whatsapp.net")
	require.False(t, ok)

	require.NoError(t, ts.SendText(ctx, "5511999999999", "oi"))
	at, ok := ts.LastBotSend("5511999999999@s.whatsapp.net")
	require.True(t, ok, "bare and full addresses share a key")
	require.Equal(t, clock.Now(), at)

	clock.Advance(time.Minute)
	require.NoError(t, ts.SendMedia(ctx, "5511999999999@s.whatsapp.net", models.OutboundMedia{Data: []byte("x")}))
	at, _ = ts.LastBotSend("5511999999999")
	require.Equal(t, clock.Now(), at)

	require.NoError(t, ts.SendTyping(ctx, "5511999999999"))
	require.Len(t, mock.SentTexts(), 1)
}

func TestTrackingSenderRecordsFailedSends(t *testing.T) {
	clock := testutil.NewManualClock(time.Date(2025, 9, 24, 10, 0, 0, 0, time.UTC))
	svc := NewWhatsAppService(whatsapp.NewMockClient())
	require.NoError(t, svc.Stop())
	ts := NewTrackingSender(svc, clock)

	err := ts.SendText(context.Background(), "5511999999999", "oi")
	require.ErrorIs(t, err, ErrServiceStopped)
	_, ok := ts.LastBotSend("5511999999999")
	require.True(t, ok, "an attempted send may still be echoed by the transport")
}
