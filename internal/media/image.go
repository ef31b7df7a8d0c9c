package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"

	"golang.org/x/image/draw"

	"github.com/treonstudio/chatuploads/internal/metrics"
	"github.com/treonstudio/chatuploads/internal/models"
)

const (
	DefaultImageQuality      = 80
	DefaultImageMaxDimension = 2048
)

// ImageCompressor re-encodes JPEG and PNG images, downscaling them so neither side
// exceeds MaxDimension. Other payloads pass through untouched.
type ImageCompressor struct {
	Quality      int // JPEG quality, 1-100
	MaxDimension int // longest side in pixels, 0 disables downscaling
	Logger       *slog.Logger
}

// NewImageCompressor creates an ImageCompressor, substituting defaults for zero values.
func NewImageCompressor(quality, maxDimension int) *ImageCompressor {
	if quality <= 0 || quality > 100 {
		quality = DefaultImageQuality
	}
	if maxDimension < 0 {
		maxDimension = DefaultImageMaxDimension
	}
	return &ImageCompressor{Quality: quality, MaxDimension: maxDimension, Logger: slog.Default()}
}

// Compress implements Compressor. The re-encoded image is returned only when it is
// smaller than the input.
func (c *ImageCompressor) Compress(ctx context.Context, in Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	if in.FileType != models.FileTypeImage || (in.MimeType != "image/jpeg" && in.MimeType != "image/png") {
		metrics.CompressionTotal.WithLabelValues(ResultSkipped).Inc()
		return unchanged(in), nil
	}

	img, format, err := image.Decode(bytes.NewReader(in.Data))
	if err != nil {
		metrics.CompressionTotal.WithLabelValues(ResultFailed).Inc()
		return Output{}, fmt.Errorf("decode %s: %w", in.FileName, err)
	}

	img = c.downscale(img)

	var buf bytes.Buffer
	mimeType := in.MimeType
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.Quality})
		mimeType = "image/jpeg"
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(&buf, img)
		mimeType = "image/png"
	default:
		metrics.CompressionTotal.WithLabelValues(ResultSkipped).Inc()
		return unchanged(in), nil
	}
	if err != nil {
		metrics.CompressionTotal.WithLabelValues(ResultFailed).Inc()
		return Output{}, fmt.Errorf("encode %s: %w", in.FileName, err)
	}

	if buf.Len() >= len(in.Data) {
		metrics.CompressionTotal.WithLabelValues(ResultSkipped).Inc()
		return unchanged(in), nil
	}

	metrics.CompressionTotal.WithLabelValues(ResultCompressed).Inc()
	c.logger().Debug("image compressed",
		"file_name", in.FileName,
		"original_size", len(in.Data),
		"compressed_size", buf.Len(),
	)

	return Output{Data: buf.Bytes(), MimeType: mimeType, Compressed: true}, nil
}

// downscale fits img inside MaxDimension x MaxDimension keeping its aspect ratio.
func (c *ImageCompressor) downscale(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if c.MaxDimension <= 0 || (w <= c.MaxDimension && h <= c.MaxDimension) {
		return img
	}

	nw, nh := c.MaxDimension, c.MaxDimension
	if w >= h {
		nh = max(1, h*c.MaxDimension/w)
	} else {
		nw = max(1, w*c.MaxDimension/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func (c *ImageCompressor) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
