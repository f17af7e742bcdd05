package azs

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/dustin/go-humanize"
)

const (
	// DefaultAppendBlockSize is how much of the file goes into one append
	// when no block size is given.
	DefaultAppendBlockSize = 4 * 1024 * 1024

	// MaxAppendBlockSize is the largest body a single append may carry.
	MaxAppendBlockSize = 100 * 1024 * 1024
)

// AppendRequest describes a local file to add to the end of an existing
// append blob.
type AppendRequest struct {
	Path string
	// BlockSize is the size of each append. Zero selects
	// DefaultAppendBlockSize.
	BlockSize  int64
	BufferSize int

	LeaseID *string
	IfTags  *string
	// MaxSize fails any append that would grow the blob beyond it.
	MaxSize *int64
	// AppendPosition fails the upload unless the blob is exactly this long
	// when it starts.
	AppendPosition *int64
}

type AppendResult struct {
	Version ObjectVersion `json:"version"`
	// Size is the number of bytes read from the source.
	Size   int64           `json:"size"`
	Blocks []AppendedBlock `json:"blocks,omitempty"`
}

// AppendFile appends the file at req.Path to an append blob.
//
// The file is sent as a sequence of appends of req.BlockSize bytes, one at
// a time and in file order. With req.AppendPosition set, every append is
// pinned to the offset where the previous one ended, so a concurrent writer
// makes the upload fail instead of interleaving with it. Appends are not
// atomic: a failure leaves the blocks appended so far in the blob. An empty
// file sends nothing.
func AppendFile(ctx context.Context, client AppendBlobWriter, req AppendRequest) (*AppendResult, error) {
	blockSize := req.BlockSize
	if blockSize == 0 {
		blockSize = DefaultAppendBlockSize
	}
	switch {
	case blockSize < 0:
		return nil, &ConversionError{What: "append block size", Value: blockSize, Reason: "must be positive"}
	case blockSize > MaxAppendBlockSize:
		return nil, &ConversionError{What: "append block size", Value: blockSize, Reason: fmt.Sprintf("must be at most %d", MaxAppendBlockSize)}
	}

	src, err := OpenSource(req.Path, req.BufferSize)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	slog.DebugContext(ctx, "appending file",
		"path", src.Path(),
		"size", humanize.IBytes(uint64(src.TotalLength())),
		"blockSize", humanize.IBytes(uint64(blockSize)),
	)

	cond := AppendConditions{
		Conditions: Conditions{LeaseID: req.LeaseID, IfTags: req.IfTags},
		MaxSize:    req.MaxSize,
	}
	position := req.AppendPosition

	res := &AppendResult{}
	for src.Remaining() > 0 {
		offset := src.Position()
		want := min(blockSize, src.Remaining())
		dt, err := src.ReadWindow(int(want))
		if err != nil {
			return nil, err
		}
		if int64(len(dt)) != want {
			return nil, &FileError{
				Op:   "read",
				Path: src.Path(),
				Kind: IO,
				Err:  fmt.Errorf("expected %d bytes at offset %d, got %d: %w", want, offset, len(dt), io.ErrUnexpectedEOF),
			}
		}

		if position != nil {
			at := *position + offset
			cond.AppendPosition = &at
		}
		blk, err := client.AppendBlock(ctx, dt, cond)
		if err != nil {
			return nil, fmt.Errorf("failed to append bytes %d-%d of %s: %w", offset, offset+want-1, src.Path(), err)
		}
		slog.DebugContext(ctx, "appended block", "offset", blk.Offset, "size", len(dt), "committedBlocks", blk.CommittedBlocks)

		res.Blocks = append(res.Blocks, blk)
		res.Version = blk.ObjectVersion
	}

	res.Size = src.Position()
	return res, nil
}
