// Package media implements the compression step applied to image and video
// payloads before they are transferred.
package media

import (
	"context"

	"github.com/treonstudio/chatuploads/internal/metrics"
	"github.com/treonstudio/chatuploads/internal/models"
)

// Compression results recorded in metrics.CompressionTotal.
const (
	ResultCompressed = "compressed"
	ResultSkipped    = "skipped"
	ResultFailed     = "failed"
)

// Input is a payload offered for compression.
type Input struct {
	FileType models.FileType
	MimeType string
	FileName string
	Data     []byte
}

// Output is the payload to transfer. When Compressed is false, Data and MimeType
// are the input's own.
type Output struct {
	Data       []byte
	MimeType   string
	Compressed bool
}

// Compressor returns a possibly smaller payload or fails.
type Compressor interface {
	Compress(ctx context.Context, in Input) (Output, error)
}

// Passthrough never alters the payload. It is used when compression is disabled
// and for file types without an encoder.
type Passthrough struct{}

// Compress implements Compressor.
func (Passthrough) Compress(ctx context.Context, in Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}
	metrics.CompressionTotal.WithLabelValues(ResultSkipped).Inc()
	return unchanged(in), nil
}

func unchanged(in Input) Output {
	return Output{Data: in.Data, MimeType: in.MimeType}
}
