package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"github.com/11996262609/CrossFit-ChatBot/internal/whatsapp"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// eventSource is implemented by clients that deliver whatsmeow events.
type eventSource interface {
	AddEventHandler(handler func(evt interface{})) uint32
}

// lidResolver is implemented by clients that can map hidden-user (LID) chats
// to phone numbers.
type lidResolver interface {
	ResolvePhoneJID(ctx context.Context, jid types.JID) types.JID
}

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	source   eventSource
	lids     lidResolver
	inbound  chan models.InboundEvent
	operator chan models.OperatorSend

	mu      sync.RWMutex
	stopped bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:   client,
		inbound:  make(chan models.InboundEvent, DefaultChannelBufferSize),
		operator: make(chan models.OperatorSend, DefaultChannelBufferSize),
	}
	if src, ok := client.(eventSource); ok {
		service.source = src
		slog.Debug("WhatsAppService created with event source")
	} else {
		slog.Debug("WhatsAppService created without event source (likely mock)")
	}
	if r, ok := client.(lidResolver); ok {
		service.lids = r
	}
	return service
}

// Start registers the event handler on the client.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	if s.source == nil {
		slog.Debug("WhatsAppService no event source available, skipping event handling (likely mock)")
		return nil
	}
	s.source.AddEventHandler(s.HandleEvent)
	slog.Debug("WhatsAppService event handler registered")
	return nil
}

// Stop stops background processing and closes the event channels.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.inbound)
	close(s.operator)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

func (s *WhatsAppService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// Inbound returns a channel of conversation-originated events.
func (s *WhatsAppService) Inbound() <-chan models.InboundEvent {
	return s.inbound
}

// OperatorSends returns a channel of messages the operator sent directly.
func (s *WhatsAppService) OperatorSends() <-chan models.OperatorSend {
	return s.operator
}

// SendText sends a text message.
func (s *WhatsAppService) SendText(ctx context.Context, to models.Address, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	slog.Debug("WhatsAppService SendText invoked", "to", to, "body_length", len(body))
	if err := s.client.SendText(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendText error", "error", err, "to", to)
		return err
	}
	return nil
}

// SendMedia sends a medium with optional caption.
func (s *WhatsAppService) SendMedia(ctx context.Context, to models.Address, media models.OutboundMedia) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	if err := s.client.SendMedia(ctx, to, media); err != nil {
		slog.Error("WhatsAppService SendMedia error", "error", err, "to", to, "type", media.Type)
		return err
	}
	return nil
}

// DownloadMedia fetches the bytes of an inbound medium.
func (s *WhatsAppService) DownloadMedia(ctx context.Context, evt models.InboundEvent) ([]byte, string, error) {
	return s.client.DownloadMedia(ctx, evt)
}

// SendTyping shows a composing indicator.
func (s *WhatsAppService) SendTyping(ctx context.Context, to models.Address) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return s.client.SendTyping(ctx, to)
}

// HandleEvent maps a whatsmeow event onto the service channels. Messages
// outside one-to-one conversations are dropped here.
func (s *WhatsAppService) HandleEvent(evt interface{}) {
	msg, ok := evt.(*events.Message)
	if !ok {
		return
	}
	chatJID := msg.Info.Chat
	if chatJID.Server == types.HiddenUserServer && s.lids != nil {
		chatJID = s.lids.ResolvePhoneJID(context.Background(), chatJID)
	}
	chat := whatsapp.ToAddress(chatJID)
	if !whatsapp.IsConversationAddress(chat) {
		slog.Debug("WhatsAppService ignoring non-conversation message", "chat", msg.Info.Chat.String())
		return
	}

	if msg.Info.IsFromMe {
		op, ok := convertOperatorSend(msg, chat)
		if !ok {
			return
		}
		s.emitOperator(op)
		return
	}

	in, ok := convertMessage(msg, chat)
	if !ok {
		slog.Debug("WhatsAppService ignoring unsupported message", "from", chat)
		return
	}
	s.emitInbound(in)
}

func (s *WhatsAppService) emitInbound(evt models.InboundEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.inbound <- evt:
		slog.Debug("WhatsAppService inbound event forwarded", "from", evt.From, "kind", evt.Kind)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService inbound channel blocked, dropping event", "from", evt.From, "timeout", DefaultChannelTimeout)
	}
}

func (s *WhatsAppService) emitOperator(evt models.OperatorSend) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.operator <- evt:
		slog.Debug("WhatsAppService operator send forwarded", "to", evt.To)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService operator channel blocked, dropping event", "to", evt.To, "timeout", DefaultChannelTimeout)
	}
}

// convertMessage maps a conversation-originated message. It reports false
// for message types the bot does not handle (reactions, polls, protocol).
func convertMessage(evt *events.Message, from models.Address) (models.InboundEvent, bool) {
	out := models.InboundEvent{
		ID:        string(evt.Info.ID),
		From:      from,
		Kind:      models.KindText,
		PushName:  evt.Info.PushName,
		Timestamp: evt.Info.Timestamp,
	}
	m := evt.Message
	if m == nil {
		return out, false
	}

	switch {
	case m.Conversation != nil:
		out.Text = m.GetConversation()
	case m.ExtendedTextMessage != nil:
		out.Text = m.GetExtendedTextMessage().GetText()
	case m.ListResponseMessage != nil:
		r := m.GetListResponseMessage()
		out.Kind = models.KindSelection
		out.SelectionID = r.GetSingleSelectReply().GetSelectedRowID()
		out.Text = r.GetTitle()
	case m.ButtonsResponseMessage != nil:
		r := m.GetButtonsResponseMessage()
		out.Kind = models.KindSelection
		out.SelectionID = r.GetSelectedButtonID()
		out.Text = r.GetSelectedDisplayText()
	default:
		media := mediaInfo(m)
		if media == nil {
			return out, false
		}
		out.Kind = models.KindMedia
		out.Media = media
	}
	return out, true
}

// convertOperatorSend maps a message sent from the linked phone.
func convertOperatorSend(evt *events.Message, to models.Address) (models.OperatorSend, bool) {
	m := evt.Message
	if m == nil {
		return models.OperatorSend{}, false
	}
	out := models.OperatorSend{
		ID:        string(evt.Info.ID),
		To:        to,
		Timestamp: evt.Info.Timestamp,
	}
	switch {
	case m.Conversation != nil:
		out.Text = m.GetConversation()
	case m.ExtendedTextMessage != nil:
		out.Text = m.GetExtendedTextMessage().GetText()
	default:
		media := mediaInfo(m)
		if media == nil {
			return out, false
		}
		out.HasMedia = true
		out.Text = media.Caption
	}
	return out, true
}

// mediaInfo extracts the attached medium, keeping the proto message as the
// download handle.
func mediaInfo(m *waE2E.Message) *models.MediaInfo {
	switch {
	case m.ImageMessage != nil:
		img := m.GetImageMessage()
		return &models.MediaInfo{Type: models.MediaImage, MimeType: img.GetMimetype(), Caption: img.GetCaption(), Size: img.GetFileLength(), Handle: img}
	case m.DocumentMessage != nil:
		doc := m.GetDocumentMessage()
		return &models.MediaInfo{Type: models.MediaDocument, MimeType: doc.GetMimetype(), FileName: doc.GetFileName(), Caption: doc.GetCaption(), Size: doc.GetFileLength(), Handle: doc}
	case m.AudioMessage != nil:
		audio := m.GetAudioMessage()
		mt := models.MediaAudio
		if audio.GetPTT() {
			mt = models.MediaVoice
		}
		return &models.MediaInfo{Type: mt, MimeType: audio.GetMimetype(), Size: audio.GetFileLength(), Handle: audio}
	case m.VideoMessage != nil:
		video := m.GetVideoMessage()
		return &models.MediaInfo{Type: models.MediaVideo, MimeType: video.GetMimetype(), Caption: video.GetCaption(), Size: video.GetFileLength(), Handle: video}
	case m.StickerMessage != nil:
		sticker := m.GetStickerMessage()
		return &models.MediaInfo{Type: models.MediaSticker, MimeType: sticker.GetMimetype(), Size: sticker.GetFileLength(), Handle: sticker}
	default:
		return nil
	}
}

var _ Service = (*WhatsAppService)(nil)
