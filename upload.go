package azs

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// UploadRequest describes a local file and how to lay it out remotely.
type UploadRequest struct {
	Path string
	// BlockSize is the block size for block blobs and the read window for
	// page blobs. Zero selects the driver default.
	BlockSize int64
	// BufferSize is the size of the in-memory read buffer. Zero reads the
	// file directly.
	BufferSize int
	// Concurrency bounds the number of writes in flight. Values below 2 keep
	// the upload strictly sequential.
	Concurrency int

	Headers  ContentHeaders
	Tags     map[string]string
	Metadata map[string]string
	LeaseID  *string
	IfTags   *string

	// AccessTier only applies to block blobs.
	AccessTier *string
	// SequenceNumber only applies to page blobs.
	SequenceNumber *int64
}

func (r *UploadRequest) blockBlobOptions() *BlockBlobOptions {
	return &BlockBlobOptions{
		Headers:    r.Headers,
		Tags:       r.Tags,
		Metadata:   r.Metadata,
		IfTags:     r.IfTags,
		LeaseID:    r.LeaseID,
		AccessTier: r.AccessTier,
	}
}

func (r *UploadRequest) pageBlobOptions() *PageBlobOptions {
	return &PageBlobOptions{
		Headers:        r.Headers,
		Tags:           r.Tags,
		Metadata:       r.Metadata,
		LeaseID:        r.LeaseID,
		SequenceNumber: r.SequenceNumber,
	}
}

// UploadResult is what a driver reports once the upload has finished.
type UploadResult struct {
	Version ObjectVersion `json:"version"`
	// Size is the number of bytes read from the source.
	Size int64 `json:"size"`
	// SingleShot is set when the blob was written with one request.
	SingleShot bool        `json:"single_shot,omitempty"`
	BlockIDs   []string    `json:"block_ids,omitempty"`
	Pages      []PageRange `json:"pages,omitempty"`
}

// writeDispatcher runs remote writes either inline or on a bounded set of
// goroutines. In the concurrent case every write gets its own copy of the
// data so the caller can reuse its read buffer straight away. Pooled copies
// grow to the largest write seen, never to the configured block size.
type writeDispatcher struct {
	ctx   context.Context
	sem   *semaphore.Weighted
	group *errgroup.Group
	pool  *sync.Pool
}

func newWriteDispatcher(ctx context.Context, concurrency int) *writeDispatcher {
	if concurrency < 2 {
		return &writeDispatcher{ctx: ctx}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	return &writeDispatcher{
		ctx:   groupCtx,
		sem:   semaphore.NewWeighted(int64(concurrency)),
		group: group,
		pool: &sync.Pool{
			New: func() any {
				return new([]byte)
			},
		},
	}
}

// Go runs fn with data. In sequential mode the error from fn is returned
// directly. In concurrent mode an error is returned only if the dispatcher
// could not schedule the write, which happens after an earlier write failed.
func (d *writeDispatcher) Go(data []byte, fn func(ctx context.Context, data []byte) error) error {
	if d.group == nil {
		return fn(d.ctx, data)
	}

	err := d.ctx.Err()
	if err == nil {
		err = d.sem.Acquire(d.ctx, 1)
	}
	if err != nil {
		if werr := d.group.Wait(); werr != nil {
			return werr
		}
		return err
	}

	bufPtr := d.pool.Get().(*[]byte)
	buf := *bufPtr
	if cap(buf) < len(data) {
		buf = make([]byte, len(data))
		*bufPtr = buf
	}
	n := copy(buf[:len(data)], data)

	d.group.Go(func() error {
		defer func() {
			d.pool.Put(bufPtr)
			d.sem.Release(1)
		}()
		return fn(d.ctx, buf[:n])
	})
	return nil
}

// Wait blocks until all scheduled writes are done and returns the first error.
func (d *writeDispatcher) Wait() error {
	if d.group == nil {
		return nil
	}
	return d.group.Wait()
}
