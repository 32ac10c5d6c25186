// Package media stores received attachments on the local filesystem.
package media

import (
	"encoding/hex"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
	"github.com/11996262609/CrossFit-ChatBot/internal/textnorm"
	"github.com/zeebo/blake3"
)

// Naming limits.
const (
	maxBaseLen   = 40
	digestHexLen = 12
)

// preferredExt pins the extension for MIME types whose mime.ExtensionsByType
// result is ambiguous or platform dependent.
var preferredExt = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"audio/mp4":       ".m4a",
	"video/mp4":       ".mp4",
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       ".xlsx",
}

// defaultExt is used when neither the file name nor the MIME type give one.
var defaultExt = map[models.MediaType]string{
	models.MediaImage:    ".jpg",
	models.MediaSticker:  ".webp",
	models.MediaAudio:    ".ogg",
	models.MediaVoice:    ".ogg",
	models.MediaVideo:    ".mp4",
	models.MediaDocument: ".bin",
}

// NormalizeExtension picks a lower-case extension (with dot) for a medium,
// preferring the original file name, then the MIME type, then the media type.
func NormalizeExtension(fileName, mimeType string, mt models.MediaType) string {
	if ext := strings.ToLower(filepath.Ext(fileName)); isCleanExt(ext) {
		if ext == ".jpeg" {
			return ".jpg"
		}
		return ext
	}
	base := strings.TrimSpace(strings.Split(mimeType, ";")[0])
	if ext, ok := preferredExt[base]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(base); err == nil && len(exts) > 0 {
		return exts[0]
	}
	if ext, ok := defaultExt[mt]; ok {
		return ext
	}
	return ".bin"
}

func isCleanExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 6 {
		return false
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// DetectMimeType returns the declared MIME type, or sniffs the content when
// the transport did not provide one.
func DetectMimeType(data []byte, declared string) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	return http.DetectContentType(data)
}

// StorageName derives a collision-resistant file name from the receive time,
// the conversation address, the original base name, the normalized
// extension and a content digest:
//
//	20250924T101500.123Z_5511999999999_comprovante-pix_1a2b3c4d5e6f.pdf
func StorageName(at time.Time, addr models.Address, originalName string, ext string, data []byte) string {
	stamp := at.UTC().Format("20060102T150405.000Z")
	number := textnorm.Slug(addr.User(), 32)
	base := textnorm.Slug(strings.TrimSuffix(originalName, filepath.Ext(originalName)), maxBaseLen)

	sum := blake3.Sum256(data)
	digest := hex.EncodeToString(sum[:])[:digestHexLen]

	if ext == "" {
		ext = ".bin"
	}
	return stamp + "_" + number + "_" + base + "_" + digest + ext
}
