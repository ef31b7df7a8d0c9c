package storage

import (
	"context"
	"io"
)

// progressReader wraps an io.Reader to report read progress as a percentage.
// It stops at 99 so 100 is only ever reported once the transport confirms delivery.
// It also aborts reads once ctx is done.
type progressReader struct {
	ctx        context.Context
	reader     io.Reader
	size       int64
	read       int64
	last       int
	onProgress ProgressFunc
}

// NewProgressReader returns a reader that reports progress for a body of the given size.
func NewProgressReader(ctx context.Context, r io.Reader, size int64, onProgress ProgressFunc) io.Reader {
	return &progressReader{ctx: ctx, reader: r, size: size, last: -1, onProgress: onProgress}
}

func (pr *progressReader) Read(p []byte) (int, error) {
	if err := pr.ctx.Err(); err != nil {
		return 0, ErrTransferAborted
	}

	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.report()
	}
	return n, err
}

func (pr *progressReader) report() {
	if pr.onProgress == nil || pr.size <= 0 {
		return
	}
	percent := int(pr.read * 100 / pr.size)
	if percent > 99 {
		percent = 99
	}
	if percent > pr.last {
		pr.last = percent
		pr.onProgress(percent)
	}
}
