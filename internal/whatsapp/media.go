package whatsapp

import (
	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

// uploadType maps a medium to the whatsmeow upload class.
func uploadType(mt models.MediaType) whatsmeow.MediaType {
	switch mt {
	case models.MediaImage:
		return whatsmeow.MediaImage
	case models.MediaVideo:
		return whatsmeow.MediaVideo
	case models.MediaAudio, models.MediaVoice:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

// buildMediaMessage builds the message for an uploaded medium. Stickers and
// unknown types go out as documents so they keep their caption and file name.
func buildMediaMessage(up whatsmeow.UploadResponse, m models.OutboundMedia) *waE2E.Message {
	var caption *string
	if m.Caption != "" {
		caption = proto.String(m.Caption)
	}
	mimeType := proto.String(m.MimeType)

	switch m.Type {
	case models.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       caption,
			Mimetype:      mimeType,
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case models.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       caption,
			Mimetype:      mimeType,
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case models.MediaAudio, models.MediaVoice:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      mimeType,
			PTT:           proto.Bool(m.Type == models.MediaVoice),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       caption,
			Mimetype:      mimeType,
			Title:         proto.String(m.FileName),
			FileName:      proto.String(m.FileName),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}
}
