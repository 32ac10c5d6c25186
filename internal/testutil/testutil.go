// Package testutil provides common test doubles and helpers for the chatbot tests.
package testutil

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
)

// ManualClock is a settable clock for deterministic tests.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock stopped at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// SentMessage is one send recorded by FakeSender.
type SentMessage struct {
	To    models.Address
	Text  string
	Media *models.OutboundMedia
	At    time.Time
}

// FakeSender records sends in order. It also reports the last successful
// send per address, standing in for the bot-send tracker.
type FakeSender struct {
	mu     sync.Mutex
	clock  interface{ Now() time.Time }
	sent   []SentMessage
	typing []models.Address
	fail   map[models.Address]error
	last   map[models.Address]time.Time
}

// NewFakeSender creates a FakeSender stamping sends with clock; nil uses time.Now.
func NewFakeSender(clock interface{ Now() time.Time }) *FakeSender {
	return &FakeSender{
		clock: clock,
		fail:  make(map[models.Address]error),
		last:  make(map[models.Address]time.Time),
	}
}

func (s *FakeSender) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}

// FailFor makes every send to addr return err; a nil err clears it.
func (s *FakeSender) FailFor(addr models.Address, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, addr)
		return
	}
	s.fail[addr] = err
}

// SendText records a text send.
func (s *FakeSender) SendText(ctx context.Context, to models.Address, body string) error {
	return s.record(SentMessage{To: to, Text: body})
}

// SendMedia records a media send.
func (s *FakeSender) SendMedia(ctx context.Context, to models.Address, m models.OutboundMedia) error {
	return s.record(SentMessage{To: to, Text: m.Caption, Media: &m})
}

// SendTyping records a composing indicator.
func (s *FakeSender) SendTyping(ctx context.Context, to models.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, to)
	return nil
}

func (s *FakeSender) record(m SentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[m.To]; err != nil {
		return err
	}
	m.At = s.now()
	s.sent = append(s.sent, m)
	s.last[m.To] = m.At
	return nil
}

// LastBotSend returns the time of the last successful send to addr.
func (s *FakeSender) LastBotSend(to models.Address) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.last[to]
	return t, ok
}

// Sent returns a copy of all recorded sends.
func (s *FakeSender) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentMessage(nil), s.sent...)
}

// SentTo returns the recorded sends to addr.
func (s *FakeSender) SentTo(addr models.Address) []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SentMessage
	for _, m := range s.sent {
		if m.To == addr {
			out = append(out, m)
		}
	}
	return out
}

// Texts returns the text bodies sent to addr, in order.
func (s *FakeSender) Texts(addr models.Address) []string {
	var out []string
	for _, m := range s.SentTo(addr) {
		if m.Media == nil {
			out = append(out, m.Text)
		}
	}
	return out
}

// Typing returns the addresses that received a composing indicator.
func (s *FakeSender) Typing() []models.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Address(nil), s.typing...)
}

// Reset forgets all recorded sends.
func (s *FakeSender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
	s.typing = nil
}

// FakeDownloader returns fixed media bytes, or Err when set.
type FakeDownloader struct {
	Data     []byte
	MimeType string
	Err      error

	mu    sync.Mutex
	calls int
}

// DownloadMedia returns the configured bytes.
func (d *FakeDownloader) DownloadMedia(ctx context.Context, evt models.InboundEvent) ([]byte, string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.Err != nil {
		return nil, "", d.Err
	}
	return d.Data, d.MimeType, nil
}

// Calls returns how many downloads were requested.
func (d *FakeDownloader) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON response and validates the status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}
	return response
}
