package whatsapp

import (
	"context"
	"sync"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"go.mau.fi/whatsmeow/types"
)

// MockClient implements WhatsAppSender without a connection (for tests).
// It records text sends and returns DownloadData for downloads.
type MockClient struct {
	mu           sync.Mutex
	Texts        []MockText
	Media        []models.OutboundMedia
	DownloadData []byte
	// LIDs maps hidden-user JIDs to phone JIDs for ResolvePhoneJID.
	LIDs map[types.JID]types.JID
}

// MockText is one text send recorded by MockClient.
type MockText struct {
	To   models.Address
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendText(ctx context.Context, to models.Address, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Texts = append(m.Texts, MockText{To: to, Body: body})
	return nil
}

func (m *MockClient) SendMedia(ctx context.Context, to models.Address, media models.OutboundMedia) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Media = append(m.Media, media)
	return nil
}

func (m *MockClient) DownloadMedia(ctx context.Context, evt models.InboundEvent) ([]byte, string, error) {
	if evt.Media == nil {
		return nil, "", ErrNoMediaHandle
	}
	return m.DownloadData, evt.Media.MimeType, nil
}

// ResolvePhoneJID returns the mapped phone JID from LIDs, or jid unchanged.
func (m *MockClient) ResolvePhoneJID(ctx context.Context, jid types.JID) types.JID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pn, ok := m.LIDs[jid]; ok {
		return pn
	}
	return jid
}

func (m *MockClient) SendTyping(ctx context.Context, to models.Address) error {
	return nil
}

// SentTexts returns a copy of the recorded text sends.
func (m *MockClient) SentTexts() []MockText {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockText(nil), m.Texts...)
}

var _ WhatsAppSender = (*MockClient)(nil)
