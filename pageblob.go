package azs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dustin/go-humanize"
)

const (
	// DefaultPageWindowSize is how much of the file is read and written per
	// page write when no window size is given.
	DefaultPageWindowSize = 4 * 1024 * 1024

	// MaxPageWriteSize is the largest range a single page write may cover.
	MaxPageWriteSize = 4 * 1024 * 1024
)

// UploadPageBlob uploads the file at req.Path as a page blob.
//
// The blob is created with the file length rounded up to a whole page, then
// the file is written in windows of req.BlockSize bytes. A short final window
// is padded with zeros to the next page boundary. Page writes take effect
// one by one, so a failure leaves the pages written so far in place.
func UploadPageBlob(ctx context.Context, client PageBlobWriter, req UploadRequest) (*UploadResult, error) {
	window := req.BlockSize
	if window == 0 {
		window = DefaultPageWindowSize
	}
	if err := validatePageWindow(window); err != nil {
		return nil, err
	}

	src, err := OpenSource(req.Path, req.BufferSize)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	size := src.TotalLength()
	padded, err := pageAlign(size)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "creating page blob",
		"path", src.Path(),
		"size", humanize.IBytes(uint64(size)),
		"allocated", padded,
		"window", humanize.IBytes(uint64(window)),
		"concurrency", max(req.Concurrency, 1),
	)

	version, err := client.CreatePageBlob(ctx, padded, req.pageBlobOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create page blob: %w", err)
	}
	slog.DebugContext(ctx, "created page blob", "etag", version.ETag)

	var (
		mu        sync.Mutex
		lastStart int64 = -1
		pages     []PageRange
	)

	d := newWriteDispatcher(ctx, req.Concurrency)
	for start := int64(0); src.Remaining() > 0; {
		want := min(window, src.Remaining())
		dt, err := src.ReadWindow(int(want))
		if err != nil {
			d.Wait()
			return nil, err
		}
		if len(dt) == 0 {
			break
		}
		if int64(len(dt)) != want {
			d.Wait()
			return nil, &FileError{
				Op:   "read",
				Path: src.Path(),
				Kind: IO,
				Err:  fmt.Errorf("expected %d bytes at offset %d, got %d: %w", want, start, len(dt), io.ErrUnexpectedEOF),
			}
		}

		rng, buf, err := padToPage(start, dt)
		if err != nil {
			d.Wait()
			return nil, err
		}
		pages = append(pages, rng)

		err = d.Go(buf, func(ctx context.Context, data []byte) error {
			v, err := client.UploadPages(ctx, rng, data, req.LeaseID)
			if err != nil {
				return fmt.Errorf("failed to write pages %s: %w", rng, err)
			}
			slog.DebugContext(ctx, "wrote pages", "range", rng.String(), "etag", v.ETag)

			mu.Lock()
			if rng.Start > lastStart {
				lastStart = rng.Start
				version = v
			}
			mu.Unlock()
			return nil
		})
		if err != nil {
			d.Wait()
			return nil, err
		}

		// Advance by what was consumed from the file, not by the padded length.
		start += int64(len(dt))
	}

	if err := d.Wait(); err != nil {
		return nil, err
	}

	return &UploadResult{
		Version: version,
		Size:    src.Position(),
		Pages:   pages,
	}, nil
}

func validatePageWindow(window int64) error {
	switch {
	case window <= 0:
		return &ConversionError{What: "page window size", Value: window, Reason: "must be positive"}
	case window%PageSize != 0:
		return &ConversionError{What: "page window size", Value: window, Reason: fmt.Sprintf("must be a multiple of %d", PageSize)}
	case window > MaxPageWriteSize:
		return &ConversionError{What: "page window size", Value: window, Reason: fmt.Sprintf("must be at most %d", MaxPageWriteSize)}
	}
	return nil
}

// padToPage extends dt with zeros to the next page boundary and returns the
// page range it covers when written at start. dt must have spare capacity
// for the padding, which holds for windows that are a multiple of PageSize.
func padToPage(start int64, dt []byte) (PageRange, []byte, error) {
	if start%PageSize != 0 {
		return PageRange{}, nil, &ConversionError{What: "page offset", Value: start, Reason: fmt.Sprintf("not a multiple of %d", PageSize)}
	}
	rounded, err := pageAlign(int64(len(dt)))
	if err != nil {
		return PageRange{}, nil, err
	}

	buf := dt
	if int64(cap(buf)) < rounded {
		buf = make([]byte, len(dt), rounded)
		copy(buf, dt)
	}
	buf = buf[:rounded]
	clear(buf[len(dt):])

	return PageRange{Start: start, End: start + rounded - 1}, buf, nil
}
