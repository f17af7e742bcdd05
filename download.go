package azs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
)

const (
	downloadBufferSize = 1024 * 1024 // 1MB
)

var bufPool = &sync.Pool{
	New: func() any {
		buf := make([]byte, downloadBufferSize)
		return &buf
	},
}

// Download copies the blob, or count bytes of it starting at offset, to w.
// A zero count reads to the end of the blob.
func Download(ctx context.Context, b BlobReader, w io.Writer, offset, count int64, cond Conditions) (int64, error) {
	if offset < 0 {
		return 0, &ConversionError{What: "offset", Value: offset}
	}
	if count < 0 {
		return 0, &ConversionError{What: "count", Value: count}
	}

	rc, err := b.Download(ctx, offset, count, cond)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	n, err := copyBuffer(w, rc)
	if err != nil {
		return n, fmt.Errorf("failed to download blob after %d bytes: %w", n, err)
	}
	slog.DebugContext(ctx, "downloaded blob", "size", humanize.IBytes(uint64(n)))
	return n, nil
}

// copyBuffer is similar to io.Copy but it tries to read the full buffer size
// from the reader before writing to the writer.
// This helps prevent excessive small writes to the destination.
func copyBuffer(w io.Writer, rdr io.Reader) (int64, error) {
	bufPtr := bufPool.Get().(*[]byte)
	defer bufPool.Put(bufPtr)
	buf := *bufPtr

	var total int64
	for {
		nr, err := io.ReadFull(rdr, buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			total += int64(nw)
			if werr != nil {
				return total, fmt.Errorf("failed to write data: %w", werr)
			}
			if nw != nr {
				return total, fmt.Errorf("short write: expected %d, got %d", nr, nw)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return total, nil
			}
			return total, err
		}
	}
}
