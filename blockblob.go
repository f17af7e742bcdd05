package azs

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"

	"github.com/dustin/go-humanize"
)

const (
	// MaxBlocksPerBlob is the service limit on blocks in a committed block list.
	MaxBlocksPerBlob = 50000

	// minBlockIDWidth is the number of hex digits in a block id for any blob
	// smaller than 4GiB.
	minBlockIDWidth = 8
)

// UploadBlockBlob uploads the file at req.Path as a block blob.
//
// Without a block size the whole file is sent in one request. With a block
// size the file is cut into blocks of that size, each block is staged under
// an id derived from its offset and the ordered list of ids is committed once
// at the end. Blocks staged before a failure are left uncommitted.
func UploadBlockBlob(ctx context.Context, client BlockBlobWriter, req UploadRequest) (*UploadResult, error) {
	if req.BlockSize < 0 {
		return nil, &ConversionError{What: "block size", Value: req.BlockSize}
	}

	src, err := OpenSource(req.Path, req.BufferSize)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	opts := req.blockBlobOptions()
	if req.BlockSize == 0 {
		return putWholeBlob(ctx, client, src, opts)
	}
	return putBlocks(ctx, client, src, req, opts)
}

func putWholeBlob(ctx context.Context, client BlockBlobWriter, src *SourceReader, opts *BlockBlobOptions) (*UploadResult, error) {
	size := src.TotalLength()
	slog.DebugContext(ctx, "uploading blob in a single request", "path", src.Path(), "size", humanize.IBytes(uint64(size)))

	version, err := client.PutBlob(ctx, src.File(), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", src.Path(), err)
	}
	slog.DebugContext(ctx, "put blob", "etag", version.ETag, "versionID", version.VersionID)

	return &UploadResult{
		Version:    version,
		Size:       size,
		SingleShot: true,
	}, nil
}

func putBlocks(ctx context.Context, client BlockBlobWriter, src *SourceReader, req UploadRequest, opts *BlockBlobOptions) (*UploadResult, error) {
	size := src.TotalLength()
	blockSize := req.BlockSize

	if int64(int(blockSize)) != blockSize {
		return nil, &ConversionError{What: "block size", Value: blockSize, Reason: "does not fit in memory on this platform"}
	}

	numBlocks := blockCount(size, blockSize)
	if numBlocks > MaxBlocksPerBlob {
		return nil, &ConversionError{
			What:   "block size",
			Value:  blockSize,
			Reason: fmt.Sprintf("%d bytes would need %d blocks, the limit is %d", size, numBlocks, MaxBlocksPerBlob),
		}
	}

	slog.DebugContext(ctx, "uploading blob in blocks",
		"path", src.Path(),
		"size", humanize.IBytes(uint64(size)),
		"blockSize", humanize.IBytes(uint64(blockSize)),
		"blocks", numBlocks,
		"concurrency", max(req.Concurrency, 1),
	)

	width := blockIDWidth(size, blockSize)
	blockIDs := make([]string, 0, numBlocks)
	sizes := make(map[string]int64, numBlocks)

	d := newWriteDispatcher(ctx, req.Concurrency)
	for offset := int64(0); src.Remaining() > 0; offset += blockSize {
		want := min(blockSize, src.Remaining())
		dt, err := src.ReadWindow(int(want))
		if err != nil {
			d.Wait()
			return nil, err
		}
		if int64(len(dt)) != want {
			d.Wait()
			return nil, &FileError{
				Op:   "read",
				Path: src.Path(),
				Kind: IO,
				Err:  fmt.Errorf("expected %d bytes at offset %d, got %d: %w", want, offset, len(dt), io.ErrUnexpectedEOF),
			}
		}

		blockID := offsetToBlockID(offset, width)
		blockIDs = append(blockIDs, blockID)
		sizes[blockID] = want

		err = d.Go(dt, func(ctx context.Context, data []byte) error {
			if err := client.StageBlock(ctx, blockID, data, req.LeaseID); err != nil {
				return fmt.Errorf("failed to stage block %s: %w", blockID, err)
			}
			slog.DebugContext(ctx, "staged block", "blockID", blockID, "size", len(data))
			return nil
		})
		if err != nil {
			d.Wait()
			return nil, err
		}
	}

	if err := d.Wait(); err != nil {
		return nil, err
	}

	if err := sortBlockIDs(blockIDs); err != nil {
		return nil, err
	}
	if err := validateBlockList(blockIDs, sizes, size); err != nil {
		return nil, fmt.Errorf("failed to validate block list, this is a bug: %w", err)
	}

	version, err := client.CommitBlockList(ctx, blockIDs, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to commit block list: %w", err)
	}
	slog.DebugContext(ctx, "committed block list", "blocks", len(blockIDs), "etag", version.ETag, "versionID", version.VersionID)

	return &UploadResult{
		Version:  version,
		Size:     src.Position(),
		BlockIDs: blockIDs,
	}, nil
}

func blockCount(size, blockSize int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size-1)/blockSize + 1
}

// blockIDWidth returns the number of hex digits needed for the offset of the
// last block. Every id of a blob must have the same length, so the width is
// fixed per upload.
func blockIDWidth(size, blockSize int64) int {
	if size <= blockSize {
		return minBlockIDWidth
	}
	last := ((size - 1) / blockSize) * blockSize
	return max(minBlockIDWidth, len(strconv.FormatInt(last, 16)))
}

func offsetToBlockID(offset int64, width int) string {
	return fmt.Sprintf("%0*X", width, offset)
}

func blockIDToOffset(blockID string) (int64, error) {
	if len(blockID) < minBlockIDWidth {
		return 0, fmt.Errorf("block ID %q is shorter than %d characters", blockID, minBlockIDWidth)
	}
	for _, c := range blockID {
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return 0, fmt.Errorf("block ID %q is not upper case hex", blockID)
		}
	}
	offset, err := strconv.ParseInt(blockID, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse offset from block ID %q: %w", blockID, err)
	}
	return offset, nil
}

// sortBlockIDs orders block ids by the offset they encode.
func sortBlockIDs(blockIDs []string) error {
	offsets := make(map[string]int64, len(blockIDs))
	for _, id := range blockIDs {
		offset, err := blockIDToOffset(id)
		if err != nil {
			return err
		}
		offsets[id] = offset
	}
	slices.SortFunc(blockIDs, func(a, b string) int {
		return cmp.Compare(offsets[a], offsets[b])
	})
	return nil
}

// validateBlockList ensures that the provided block IDs are sequential with no
// gaps or overlap, and that their sizes add up to the expected total size.
//
// It is expected that the block IDs are sorted.
func validateBlockList(blockIDs []string, sizes map[string]int64, expectedSize int64) error {
	var nextOffset int64
	for _, id := range blockIDs {
		offset, err := blockIDToOffset(id)
		if err != nil {
			return err
		}

		if offset < 0 || offset >= expectedSize {
			return fmt.Errorf("invalid block ID %q with offset %d, expected offset in range [0, %d)", id, offset, expectedSize)
		}

		if offset != nextOffset {
			return fmt.Errorf("gap in block IDs: expected offset %d, got %d from block ID %q", nextOffset, offset, id)
		}

		size, ok := sizes[id]
		if !ok {
			return fmt.Errorf("missing size for block ID %q", id)
		}
		nextOffset += size
	}

	if nextOffset != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d bytes from block IDs", expectedSize, nextOffset)
	}
	return nil
}
