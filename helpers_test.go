package azs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

type testCall struct {
	Op      string
	BlockID string
	Range   PageRange
	Len     int
}

// testBlob is an in-memory blob. It records every call so tests can check
// what would have gone over the wire.
type testBlob struct {
	mu sync.Mutex

	exists   bool
	blobType string
	content  []byte
	staged   map[string][]byte
	commit   []string
	tags     map[string]string
	metadata map[string]string
	calls    []testCall
	etag     int

	blockOpts   *BlockBlobOptions
	pageOpts    *PageBlobOptions
	appendOpts  *AppendBlobOptions
	appendConds []AppendConditions
	deleteOpts  *DeleteOptions
	tier        string
	tierOpts    *TierOptions
	snapshots   map[string][]byte
	leases      []*string

	// failStage and failPage return an error for the matching call.
	failStage func(blockID string) error
	failPage  func(r PageRange) error
	failPut   error
	// failAppend fails the append that would start at offset.
	failAppend func(offset int64) error
	// delay is slept before every staged block or page write.
	delay time.Duration
}

var errInjected = errors.New("injected failure")

func (b *testBlob) record(c testCall) {
	b.calls = append(b.calls, c)
}

func (b *testBlob) nextVersion() ObjectVersion {
	b.etag++
	return ObjectVersion{ETag: fmt.Sprintf("\"0x%X\"", b.etag), LastModified: time.Unix(int64(b.etag), 0).UTC()}
}

func (b *testBlob) PutBlob(ctx context.Context, body io.ReadSeekCloser, opts *BlockBlobOptions) (ObjectVersion, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return ObjectVersion{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(testCall{Op: "PutBlob", Len: len(data)})
	if b.failPut != nil {
		return ObjectVersion{}, remoteErr("put blob", b.failPut)
	}
	b.exists = true
	b.blobType = "BlockBlob"
	b.content = data
	b.blockOpts = opts
	b.applyCommon(opts.Tags, opts.Metadata)
	return b.nextVersion(), nil
}

func (b *testBlob) StageBlock(ctx context.Context, blockID string, body []byte, leaseID *string) error {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(testCall{Op: "StageBlock", BlockID: blockID, Len: len(body)})
	b.leases = append(b.leases, leaseID)
	if b.failStage != nil {
		if err := b.failStage(blockID); err != nil {
			return remoteErr("put block "+blockID, err)
		}
	}
	b.staged[blockID] = bytes.Clone(body)
	return nil
}

func (b *testBlob) CommitBlockList(ctx context.Context, blockIDs []string, opts *BlockBlobOptions) (ObjectVersion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(testCall{Op: "CommitBlockList", Len: len(blockIDs)})

	var content []byte
	for _, id := range blockIDs {
		data, ok := b.staged[id]
		if !ok {
			return ObjectVersion{}, remoteErr("put block list", fmt.Errorf("InvalidBlockList: %s", id))
		}
		content = append(content, data...)
	}
	b.exists = true
	b.blobType = "BlockBlob"
	b.content = content
	b.commit = slices.Clone(blockIDs)
	b.blockOpts = opts
	b.applyCommon(opts.Tags, opts.Metadata)
	return b.nextVersion(), nil
}

func (b *testBlob) CreatePageBlob(ctx context.Context, size int64, opts *PageBlobOptions) (ObjectVersion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(testCall{Op: "CreatePageBlob", Len: int(size)})
	if size%PageSize != 0 {
		return ObjectVersion{}, remoteErr("put page blob", fmt.Errorf("InvalidHeaderValue: %d", size))
	}
	b.exists = true
	b.blobType = "PageBlob"
	b.content = make([]byte, size)
	b.pageOpts = opts
	b.applyCommon(opts.Tags, opts.Metadata)
	return b.nextVersion(), nil
}

func (b *testBlob) UploadPages(ctx context.Context, r PageRange, body []byte, leaseID *string) (ObjectVersion, error) {
	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(testCall{Op: "UploadPages", Range: r, Len: len(body)})
	b.leases = append(b.leases, leaseID)
	if b.failPage != nil {
		if err := b.failPage(r); err != nil {
			return ObjectVersion{}, remoteErr("put page "+r.String(), err)
		}
	}
	if !r.Aligned() || r.Len() != int64(len(body)) || r.End >= int64(len(b.content)) {
		return ObjectVersion{}, remoteErr("put page "+r.String(), errors.New("InvalidPageRange"))
	}
	copy(b.content[r.Start:], body)
	return b.nextVersion(), nil
}

func (b *testBlob) CreateAppendBlob(ctx context.Context, opts *AppendBlobOptions) (ObjectVersion, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(testCall{Op: "CreateAppendBlob"})
	b.exists = true
	b.blobType = "AppendBlob"
	b.content = []byte{}
	b.appendOpts = opts
	b.applyCommon(opts.Tags, opts.Metadata)
	return b.nextVersion(), nil
}

func (b *testBlob) AppendBlock(ctx context.Context, body []byte, cond AppendConditions) (AppendedBlock, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(testCall{Op: "AppendBlock", Len: len(body)})
	b.appendConds = append(b.appendConds, cond)
	b.leases = append(b.leases, cond.LeaseID)

	offset := int64(len(b.content))
	switch {
	case !b.exists || b.blobType != "AppendBlob":
		return AppendedBlock{}, remoteErr("append block", errors.New("InvalidBlobType"))
	case cond.AppendPosition != nil && *cond.AppendPosition != offset:
		return AppendedBlock{}, remoteErr("append block", errors.New("AppendPositionConditionNotMet"))
	case cond.MaxSize != nil && offset+int64(len(body)) > *cond.MaxSize:
		return AppendedBlock{}, remoteErr("append block", errors.New("MaxBlobSizeConditionNotMet"))
	}
	if b.failAppend != nil {
		if err := b.failAppend(offset); err != nil {
			return AppendedBlock{}, remoteErr("append block", err)
		}
	}
	b.content = append(b.content, body...)
	return AppendedBlock{
		Offset:          offset,
		CommittedBlocks: int32(len(b.appendConds)),
		ObjectVersion:   b.nextVersion(),
	}, nil
}

func (b *testBlob) SetTier(ctx context.Context, tier string, opts TierOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(testCall{Op: "SetTier"})
	if !b.exists {
		return remoteErr("set blob tier", errors.New("BlobNotFound"))
	}
	b.tier = tier
	b.tierOpts = &opts
	return nil
}

func (b *testBlob) CreateSnapshot(ctx context.Context, opts SnapshotOptions) (SnapshotInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(testCall{Op: "CreateSnapshot"})
	if !b.exists {
		return SnapshotInfo{}, remoteErr("snapshot blob", errors.New("BlobNotFound"))
	}
	if b.snapshots == nil {
		b.snapshots = make(map[string][]byte)
	}
	version := b.nextVersion()
	snapshot := version.LastModified.Format(time.RFC3339Nano)
	b.snapshots[snapshot] = bytes.Clone(b.content)
	return SnapshotInfo{Snapshot: snapshot, ObjectVersion: version}, nil
}

func (b *testBlob) Download(ctx context.Context, offset, count int64, cond Conditions) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.exists {
		return nil, remoteErr("get blob", errors.New("BlobNotFound"))
	}
	data := b.content
	if offset > int64(len(data)) {
		offset = int64(len(data))
	}
	data = data[offset:]
	if count > 0 && count < int64(len(data)) {
		data = data[:count]
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

func (b *testBlob) Properties(ctx context.Context, cond Conditions) (BlobProperties, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.exists {
		return BlobProperties{}, remoteErr("get blob properties", errors.New("BlobNotFound"))
	}
	return BlobProperties{
		Size:     int64(len(b.content)),
		BlobType: b.blobType,
		Metadata: b.metadata,
		TagCount: int64(len(b.tags)),
	}, nil
}

func (b *testBlob) BlockList(ctx context.Context) (BlockListInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out BlockListInfo
	committed := make(map[string]bool, len(b.commit))
	for _, id := range b.commit {
		committed[id] = true
		out.Committed = append(out.Committed, b.blockInfo(id))
	}
	for id := range b.staged {
		if !committed[id] {
			out.Uncommitted = append(out.Uncommitted, b.blockInfo(id))
		}
	}
	slices.SortFunc(out.Uncommitted, func(x, y BlockInfo) int { return int(x.Offset - y.Offset) })
	return out, nil
}

func (b *testBlob) blockInfo(id string) BlockInfo {
	offset, err := blockIDToOffset(id)
	if err != nil {
		offset = -1
	}
	return BlockInfo{Offset: offset, Size: int64(len(b.staged[id])), ID: id}
}

func (b *testBlob) Tags(ctx context.Context, cond Conditions) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tags, nil
}

func (b *testBlob) SetTags(ctx context.Context, tags map[string]string, cond Conditions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tags = tags
	return nil
}

func (b *testBlob) Delete(ctx context.Context, opts DeleteOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(testCall{Op: "Delete"})
	b.deleteOpts = &opts

	if opts.Snapshot != nil {
		if _, ok := b.snapshots[*opts.Snapshot]; !ok {
			return remoteErr("delete blob", errors.New("BlobNotFound"))
		}
		delete(b.snapshots, *opts.Snapshot)
		return nil
	}
	if !b.exists {
		return remoteErr("delete blob", errors.New("BlobNotFound"))
	}
	if len(b.snapshots) > 0 && opts.Snapshots == nil {
		return remoteErr("delete blob", errors.New("SnapshotsPresent"))
	}
	if opts.Snapshots == nil || *opts.Snapshots != "only" {
		b.exists = false
		b.content = nil
	}
	b.snapshots = nil
	return nil
}

func (b *testBlob) applyCommon(tags, metadata map[string]string) {
	if tags != nil {
		b.tags = tags
	}
	if metadata != nil {
		b.metadata = metadata
	}
}

func (b *testBlob) ops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.calls))
	for i, c := range b.calls {
		out[i] = c.Op
	}
	return out
}

func (b *testBlob) callsOf(op string) []testCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []testCall
	for _, c := range b.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// writeTestFile writes data to a new file in a per-test directory.
func writeTestFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// patterned returns n bytes whose values depend on their position, so
// misplaced data shows up in comparisons.
func patterned(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i%251 + 1)
	}
	return out
}
