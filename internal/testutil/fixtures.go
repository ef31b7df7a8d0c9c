package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/treonstudio/chatuploads/internal/models"
)

// SampleUploadRequest returns a document upload request for chatID.
func SampleUploadRequest(chatID string) models.UploadRequest {
	return models.UploadRequest{
		ChatID:        chatID,
		FileName:      "notes.txt",
		FileType:      models.FileTypeDocument,
		MimeType:      "text/plain",
		TempMessageID: "tmp_" + chatID,
		UserID:        "user-1",
		UserName:      "Test User",
	}
}

// SamplePNG encodes a w x h gradient PNG.
func SamplePNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}
