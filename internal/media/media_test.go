package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/11996262609/CrossFit-ChatBot/internal/models"
)

func TestNormalizeExtension(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		mime     string
		mt       models.MediaType
		want     string
	}{
		{"file name wins", "Comprovante.PDF", "application/octet-stream", models.MediaDocument, ".pdf"},
		{"jpeg alias", "foto.jpeg", "", models.MediaImage, ".jpg"},
		{"from mime", "", "image/jpeg", models.MediaImage, ".jpg"},
		{"mime with params", "", "audio/ogg; codecs=opus", models.MediaVoice, ".ogg"},
		{"junk extension ignored", "arquivo.p d f", "application/pdf", models.MediaDocument, ".pdf"},
		{"media type fallback", "", "", models.MediaSticker, ".webp"},
		{"unknown everything", "", "", "", ".bin"},
	}
	for _, tt := range tests {
		if got := NormalizeExtension(tt.fileName, tt.mime, tt.mt); got != tt.want {
			t.Errorf("%s: NormalizeExtension(%q, %q) = %q, want %q", tt.name, tt.fileName, tt.mime, got, tt.want)
		}
	}
}

func TestStorageName(t *testing.T) {
	at := time.Date(2025, 9, 24, 10, 15, 0, 123e6, time.UTC)
	addr := models.Address("5511999999999@s.whatsapp.net")

	name := StorageName(at, addr, "Comprovante PIX.pdf", ".pdf", []byte("pdf-bytes"))
	if !strings.HasPrefix(name, "20250924T101500.123Z_5511999999999_comprovante-pix_") {
		t.Errorf("unexpected name prefix: %q", name)
	}
	if !strings.HasSuffix(name, ".pdf") {
		t.Errorf("unexpected name suffix: %q", name)
	}

	// Same instant and address, different content: names differ.
	other := StorageName(at, addr, "Comprovante PIX.pdf", ".pdf", []byte("other-bytes"))
	if other == name {
		t.Error("different content should yield different names")
	}

	// Same content, different address: names differ.
	if StorageName(at, "5511888888888@s.whatsapp.net", "Comprovante PIX.pdf", ".pdf", []byte("pdf-bytes")) == name {
		t.Error("different address should yield different names")
	}

	anon := StorageName(at, addr, "", ".jpg", []byte("x"))
	if !strings.Contains(anon, "_file_") {
		t.Errorf("missing original name should use a placeholder: %q", anon)
	}
}

func TestFileStoreSave(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(WithBaseDir(dir), WithMaxFileSize(16))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()

	path, err := fs.Save(ctx, "20250924T101500.123Z_55119_foto_abc.jpg", []byte("image"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Dir(path) != filepath.Join(dir, "202509") {
		t.Errorf("file should be grouped by month, got %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "image" {
		t.Fatalf("stored content = %q, %v", data, err)
	}

	if _, err := fs.Save(ctx, "20250924_x.jpg", nil); !errors.Is(err, ErrEmptyData) {
		t.Errorf("expected ErrEmptyData, got %v", err)
	}
	if _, err := fs.Save(ctx, "20250924_x.jpg", make([]byte, 17)); !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if _, err := fs.Save(ctx, "../escape.jpg", []byte("x")); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}

	entries, _ := os.ReadDir(filepath.Join(dir, "202509"))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestNewFileStoreRequiresDir(t *testing.T) {
	if _, err := NewFileStore(); !errors.Is(err, ErrNoBaseDir) {
		t.Errorf("expected ErrNoBaseDir, got %v", err)
	}
}

func TestDetectMimeType(t *testing.T) {
	if got := DetectMimeType([]byte("%PDF-1.4"), ""); got != "application/pdf" {
		t.Errorf("DetectMimeType sniff = %q", got)
	}
	if got := DetectMimeType(nil, " image/png "); got != "image/png" {
		t.Errorf("DetectMimeType declared = %q", got)
	}
}
