package azs

import (
	"context"
	"fmt"
	"io"
	"time"
)

type BlobClient interface {
	Blob(container, name string) Blob
}

// Blob is every operation the CLI performs against a single blob.
type Blob interface {
	BlockBlobWriter
	PageBlobWriter
	AppendBlobWriter
	BlobReader
	Delete(ctx context.Context, opts DeleteOptions) error
	SetTags(ctx context.Context, tags map[string]string, cond Conditions) error
	SetTier(ctx context.Context, tier string, opts TierOptions) error
	CreateSnapshot(ctx context.Context, opts SnapshotOptions) (SnapshotInfo, error)
}

// BlockBlobWriter is the remote side of a block blob upload.
type BlockBlobWriter interface {
	// PutBlob writes the whole body in a single request.
	PutBlob(ctx context.Context, body io.ReadSeekCloser, opts *BlockBlobOptions) (ObjectVersion, error)
	// StageBlock uploads an uncommitted block.
	StageBlock(ctx context.Context, blockID string, body []byte, leaseID *string) error
	// CommitBlockList makes the blob equal to the listed blocks, in order.
	CommitBlockList(ctx context.Context, blockIDs []string, opts *BlockBlobOptions) (ObjectVersion, error)
}

// PageBlobWriter is the remote side of a page blob upload.
type PageBlobWriter interface {
	// CreatePageBlob allocates a zero filled page blob of size bytes.
	CreatePageBlob(ctx context.Context, size int64, opts *PageBlobOptions) (ObjectVersion, error)
	// UploadPages writes body to the given range. len(body) must equal r.Len().
	UploadPages(ctx context.Context, r PageRange, body []byte, leaseID *string) (ObjectVersion, error)
}

// AppendBlobWriter is the remote side of an append blob.
type AppendBlobWriter interface {
	// CreateAppendBlob creates an empty append blob, replacing any blob of
	// the same name.
	CreateAppendBlob(ctx context.Context, opts *AppendBlobOptions) (ObjectVersion, error)
	// AppendBlock adds body to the end of the blob.
	AppendBlock(ctx context.Context, body []byte, cond AppendConditions) (AppendedBlock, error)
}

type BlobReader interface {
	Download(ctx context.Context, offset, count int64, cond Conditions) (io.ReadCloser, error)
	Properties(ctx context.Context, cond Conditions) (BlobProperties, error)
	BlockList(ctx context.Context) (BlockListInfo, error)
	Tags(ctx context.Context, cond Conditions) (map[string]string, error)
}

// ObjectVersion identifies the state of a blob after a write.
type ObjectVersion struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
	VersionID    string    `json:"version_id,omitempty"`
}

// PageRange is an inclusive byte range of a page blob.
type PageRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (r PageRange) Len() int64 {
	return r.End - r.Start + 1
}

func (r PageRange) String() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Aligned reports whether both ends of the range sit on page boundaries.
func (r PageRange) Aligned() bool {
	return r.Start >= 0 && r.End >= r.Start && r.Start%PageSize == 0 && r.Len()%PageSize == 0
}

type BlobProperties struct {
	Size           int64             `json:"size"`
	BlobType       string            `json:"blob_type,omitempty"`
	ContentType    string            `json:"content_type,omitempty"`
	AccessTier     string            `json:"access_tier,omitempty"`
	SequenceNumber *int64            `json:"sequence_number,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	TagCount       int64             `json:"tag_count,omitempty"`
	ObjectVersion
}

// AppendedBlock is the service's answer to a single append.
type AppendedBlock struct {
	// Offset is where the block starts in the blob.
	Offset          int64 `json:"offset"`
	CommittedBlocks int32 `json:"committed_blocks"`
	ObjectVersion
}

type SnapshotInfo struct {
	Snapshot string `json:"snapshot"`
	ObjectVersion
}

type BlockListInfo struct {
	Committed   []BlockInfo `json:"committed"`
	Uncommitted []BlockInfo `json:"uncommitted"`
}

type BlockInfo struct {
	// Offset is -1 when the id was not written by this tool.
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	ID     string `json:"id"`
}
