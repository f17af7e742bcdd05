package azs

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/appendblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/pageblob"
)

type azblobClient struct {
	az *azblob.Client
}

func NewAzBlobClient(client *azblob.Client) BlobClient {
	return &azblobClient{az: client}
}

func (c *azblobClient) Blob(container, name string) Blob {
	cc := c.az.ServiceClient().NewContainerClient(container)
	return &azblobBlob{
		name:       name,
		blob:       cc.NewBlobClient(name),
		block:      cc.NewBlockBlobClient(name),
		page:       cc.NewPageBlobClient(name),
		appendBlob: cc.NewAppendBlobClient(name),
	}
}

type azblobBlob struct {
	name       string
	blob       *blob.Client
	block      *blockblob.Client
	page       *pageblob.Client
	appendBlob *appendblob.Client
}

func (b *azblobBlob) PutBlob(ctx context.Context, body io.ReadSeekCloser, opts *BlockBlobOptions) (ObjectVersion, error) {
	// The transport closes request bodies; the caller owns the file.
	resp, err := b.block.Upload(ctx, streaming.NopCloser(body), opts.uploadOptions())
	if err != nil {
		return ObjectVersion{}, remoteErr("put blob "+b.name, err)
	}
	return versionOf(resp.ETag, resp.LastModified, resp.VersionID), nil
}

func (b *azblobBlob) StageBlock(ctx context.Context, blockID string, body []byte, leaseID *string) error {
	var opts *blockblob.StageBlockOptions
	if leaseID != nil {
		opts = &blockblob.StageBlockOptions{
			LeaseAccessConditions: &blob.LeaseAccessConditions{LeaseID: leaseID},
		}
	}
	_, err := b.block.StageBlock(ctx, encodeBlockID(blockID), streaming.NopCloser(bytes.NewReader(body)), opts)
	return remoteErr("put block "+blockID, err)
}

func (b *azblobBlob) CommitBlockList(ctx context.Context, blockIDs []string, opts *BlockBlobOptions) (ObjectVersion, error) {
	encoded := make([]string, len(blockIDs))
	for i, id := range blockIDs {
		encoded[i] = encodeBlockID(id)
	}
	resp, err := b.block.CommitBlockList(ctx, encoded, opts.commitOptions())
	if err != nil {
		return ObjectVersion{}, remoteErr("put block list "+b.name, err)
	}
	return versionOf(resp.ETag, resp.LastModified, resp.VersionID), nil
}

func (b *azblobBlob) CreatePageBlob(ctx context.Context, size int64, opts *PageBlobOptions) (ObjectVersion, error) {
	resp, err := b.page.Create(ctx, size, opts.createOptions())
	if err != nil {
		return ObjectVersion{}, remoteErr("put page blob "+b.name, err)
	}
	return versionOf(resp.ETag, resp.LastModified, resp.VersionID), nil
}

func (b *azblobBlob) UploadPages(ctx context.Context, r PageRange, body []byte, leaseID *string) (ObjectVersion, error) {
	if !r.Aligned() || r.Len() != int64(len(body)) {
		return ObjectVersion{}, &ConversionError{What: "page range length", Value: int64(len(body)), Reason: "does not match " + r.String()}
	}

	var opts *pageblob.UploadPagesOptions
	if cond := accessConditions(leaseID, nil); cond != nil {
		opts = &pageblob.UploadPagesOptions{AccessConditions: cond}
	}
	resp, err := b.page.UploadPages(ctx, streaming.NopCloser(bytes.NewReader(body)), blob.HTTPRange{Offset: r.Start, Count: r.Len()}, opts)
	if err != nil {
		return ObjectVersion{}, remoteErr("put page "+r.String(), err)
	}
	return versionOf(resp.ETag, resp.LastModified, nil), nil
}

func (b *azblobBlob) CreateAppendBlob(ctx context.Context, opts *AppendBlobOptions) (ObjectVersion, error) {
	resp, err := b.appendBlob.Create(ctx, opts.createOptions())
	if err != nil {
		return ObjectVersion{}, remoteErr("put append blob "+b.name, err)
	}
	return versionOf(resp.ETag, resp.LastModified, resp.VersionID), nil
}

func (b *azblobBlob) AppendBlock(ctx context.Context, body []byte, cond AppendConditions) (AppendedBlock, error) {
	resp, err := b.appendBlob.AppendBlock(ctx, streaming.NopCloser(bytes.NewReader(body)), cond.appendBlockOptions())
	if err != nil {
		return AppendedBlock{}, remoteErr("append block "+b.name, err)
	}

	blk := AppendedBlock{
		CommittedBlocks: deref(resp.BlobCommittedBlockCount),
		ObjectVersion:   versionOf(resp.ETag, resp.LastModified, nil),
	}
	if resp.BlobAppendOffset != nil {
		blk.Offset, err = strconv.ParseInt(*resp.BlobAppendOffset, 10, 64)
		if err != nil {
			return AppendedBlock{}, fmt.Errorf("invalid append offset %q in response: %w", *resp.BlobAppendOffset, err)
		}
	}
	return blk, nil
}

func (b *azblobBlob) Download(ctx context.Context, offset, count int64, cond Conditions) (io.ReadCloser, error) {
	var opts *blob.DownloadStreamOptions
	ac := accessConditions(cond.LeaseID, cond.IfTags)
	if offset > 0 || count > 0 || ac != nil {
		opts = &blob.DownloadStreamOptions{
			Range: blob.HTTPRange{
				Offset: offset,
				Count:  count,
			},
			AccessConditions: ac,
		}
	}

	resp, err := b.blob.DownloadStream(ctx, opts)
	if err != nil {
		return nil, remoteErr("get blob "+b.name, err)
	}
	return resp.Body, nil
}

func (b *azblobBlob) Properties(ctx context.Context, cond Conditions) (BlobProperties, error) {
	var opts *blob.GetPropertiesOptions
	if ac := accessConditions(cond.LeaseID, cond.IfTags); ac != nil {
		opts = &blob.GetPropertiesOptions{AccessConditions: ac}
	}
	resp, err := b.blob.GetProperties(ctx, opts)
	if err != nil {
		return BlobProperties{}, remoteErr("get blob properties "+b.name, err)
	}

	props := BlobProperties{
		Size:           deref(resp.ContentLength),
		ContentType:    deref(resp.ContentType),
		AccessTier:     deref(resp.AccessTier),
		SequenceNumber: resp.BlobSequenceNumber,
		TagCount:       deref(resp.TagCount),
		ObjectVersion:  versionOf(resp.ETag, resp.LastModified, resp.VersionID),
	}
	if resp.BlobType != nil {
		props.BlobType = string(*resp.BlobType)
	}
	if len(resp.Metadata) > 0 {
		props.Metadata = make(map[string]string, len(resp.Metadata))
		for k, v := range resp.Metadata {
			props.Metadata[k] = deref(v)
		}
	}
	return props, nil
}

func (b *azblobBlob) BlockList(ctx context.Context) (BlockListInfo, error) {
	resp, err := b.block.GetBlockList(ctx, blockblob.BlockListTypeAll, nil)
	if err != nil {
		return BlockListInfo{}, remoteErr("get block list "+b.name, err)
	}
	return BlockListInfo{
		Committed:   blockInfos(resp.CommittedBlocks),
		Uncommitted: blockInfos(resp.UncommittedBlocks),
	}, nil
}

func (b *azblobBlob) Tags(ctx context.Context, cond Conditions) (map[string]string, error) {
	var opts *blob.GetTagsOptions
	if ac := accessConditions(cond.LeaseID, cond.IfTags); ac != nil {
		opts = &blob.GetTagsOptions{BlobAccessConditions: ac}
	}
	resp, err := b.blob.GetTags(ctx, opts)
	if err != nil {
		return nil, remoteErr("get blob tags "+b.name, err)
	}
	tags := make(map[string]string, len(resp.BlobTagSet))
	for _, t := range resp.BlobTagSet {
		if t == nil || t.Key == nil {
			continue
		}
		tags[*t.Key] = deref(t.Value)
	}
	return tags, nil
}

func (b *azblobBlob) SetTags(ctx context.Context, tags map[string]string, cond Conditions) error {
	var opts *blob.SetTagsOptions
	if ac := accessConditions(cond.LeaseID, cond.IfTags); ac != nil {
		opts = &blob.SetTagsOptions{AccessConditions: ac}
	}
	_, err := b.blob.SetTags(ctx, tags, opts)
	return remoteErr("set blob tags "+b.name, err)
}

func (b *azblobBlob) Delete(ctx context.Context, opts DeleteOptions) error {
	c, err := b.target(opts.Snapshot, opts.VersionID)
	if err != nil {
		return err
	}
	_, err = c.Delete(ctx, opts.deleteOptions())
	return remoteErr("delete blob "+b.name, err)
}

func (b *azblobBlob) SetTier(ctx context.Context, tier string, opts TierOptions) error {
	c, err := b.target(opts.Snapshot, opts.VersionID)
	if err != nil {
		return err
	}
	_, err = c.SetTier(ctx, blob.AccessTier(tier), opts.setTierOptions())
	return remoteErr("set blob tier "+b.name, err)
}

func (b *azblobBlob) CreateSnapshot(ctx context.Context, opts SnapshotOptions) (SnapshotInfo, error) {
	resp, err := b.blob.CreateSnapshot(ctx, opts.snapshotOptions())
	if err != nil {
		return SnapshotInfo{}, remoteErr("snapshot blob "+b.name, err)
	}
	return SnapshotInfo{
		Snapshot:      deref(resp.Snapshot),
		ObjectVersion: versionOf(resp.ETag, resp.LastModified, resp.VersionID),
	}, nil
}

// target returns a client for the base blob, or for one of its snapshots or
// versions.
func (b *azblobBlob) target(snapshot, versionID *string) (*blob.Client, error) {
	switch {
	case snapshot != nil && versionID != nil:
		return nil, errors.New("a snapshot and a version id cannot be addressed together")
	case snapshot != nil:
		return b.blob.WithSnapshot(*snapshot)
	case versionID != nil:
		return b.blob.WithVersionID(*versionID)
	}
	return b.blob, nil
}

func (o *BlockBlobOptions) uploadOptions() *blockblob.UploadOptions {
	if o == nil {
		return nil
	}
	var out blockblob.UploadOptions
	applyOptions(
		setIf(o.IfTags, func(v string) { out.AccessConditions = withIfTags(out.AccessConditions, v) }),
		setIf(o.LeaseID, func(v string) { out.AccessConditions = withLease(out.AccessConditions, v) }),
		setIf(o.AccessTier, func(v string) { out.Tier = to.Ptr(blob.AccessTier(v)) }),
		setIfAny(o.Tags, func(m map[string]string) { out.Tags = m }),
		setIfAny(o.Metadata, func(m map[string]string) { out.Metadata = toMetadata(m) }),
	)
	out.HTTPHeaders = blobHTTPHeaders(o.Headers)
	return &out
}

func (o *BlockBlobOptions) commitOptions() *blockblob.CommitBlockListOptions {
	if o == nil {
		return nil
	}
	var out blockblob.CommitBlockListOptions
	applyOptions(
		setIf(o.IfTags, func(v string) { out.AccessConditions = withIfTags(out.AccessConditions, v) }),
		setIf(o.LeaseID, func(v string) { out.AccessConditions = withLease(out.AccessConditions, v) }),
		setIf(o.AccessTier, func(v string) { out.Tier = to.Ptr(blob.AccessTier(v)) }),
		setIfAny(o.Tags, func(m map[string]string) { out.Tags = m }),
		setIfAny(o.Metadata, func(m map[string]string) { out.Metadata = toMetadata(m) }),
	)
	out.HTTPHeaders = blobHTTPHeaders(o.Headers)
	return &out
}

func (o *PageBlobOptions) createOptions() *pageblob.CreateOptions {
	if o == nil {
		return nil
	}
	var out pageblob.CreateOptions
	applyOptions(
		setIfAny(o.Tags, func(m map[string]string) { out.Tags = m }),
		setIfAny(o.Metadata, func(m map[string]string) { out.Metadata = toMetadata(m) }),
		setIf(o.LeaseID, func(v string) { out.AccessConditions = withLease(out.AccessConditions, v) }),
		setIf(o.SequenceNumber, func(v int64) { out.SequenceNumber = &v }),
	)
	out.HTTPHeaders = blobHTTPHeaders(o.Headers)
	return &out
}

func (o *AppendBlobOptions) createOptions() *appendblob.CreateOptions {
	if o == nil {
		return nil
	}
	var out appendblob.CreateOptions
	applyOptions(
		setIf(o.IfTags, func(v string) { out.AccessConditions = withIfTags(out.AccessConditions, v) }),
		setIf(o.LeaseID, func(v string) { out.AccessConditions = withLease(out.AccessConditions, v) }),
		setIfAny(o.Tags, func(m map[string]string) { out.Tags = m }),
		setIfAny(o.Metadata, func(m map[string]string) { out.Metadata = toMetadata(m) }),
	)
	out.HTTPHeaders = blobHTTPHeaders(o.Headers)
	return &out
}

func (c AppendConditions) appendBlockOptions() *appendblob.AppendBlockOptions {
	var out appendblob.AppendBlockOptions
	position := func() *appendblob.AppendPositionAccessConditions {
		if out.AppendPositionAccessConditions == nil {
			out.AppendPositionAccessConditions = &appendblob.AppendPositionAccessConditions{}
		}
		return out.AppendPositionAccessConditions
	}
	n := applyOptions(
		setIf(c.IfTags, func(v string) { out.AccessConditions = withIfTags(out.AccessConditions, v) }),
		setIf(c.LeaseID, func(v string) { out.AccessConditions = withLease(out.AccessConditions, v) }),
		setIf(c.MaxSize, func(v int64) { position().MaxSize = &v }),
		setIf(c.AppendPosition, func(v int64) { position().AppendPosition = &v }),
	)
	if n == 0 {
		return nil
	}
	return &out
}

func (o DeleteOptions) deleteOptions() *blob.DeleteOptions {
	var out blob.DeleteOptions
	n := applyOptions(
		setIf(o.IfTags, func(v string) { out.AccessConditions = withIfTags(out.AccessConditions, v) }),
		setIf(o.LeaseID, func(v string) { out.AccessConditions = withLease(out.AccessConditions, v) }),
		setIf(o.Snapshots, func(v string) { out.DeleteSnapshots = to.Ptr(blob.DeleteSnapshotsOptionType(v)) }),
	)
	if o.Permanent {
		out.BlobDeleteType = to.Ptr(blob.DeleteTypePermanent)
		n++
	}
	if n == 0 {
		return nil
	}
	return &out
}

func (o TierOptions) setTierOptions() *blob.SetTierOptions {
	var out blob.SetTierOptions
	n := applyOptions(
		setIf(o.IfTags, func(v string) { out.AccessConditions = withIfTags(out.AccessConditions, v) }),
		setIf(o.LeaseID, func(v string) { out.AccessConditions = withLease(out.AccessConditions, v) }),
		setIf(o.RehydratePriority, func(v string) { out.RehydratePriority = to.Ptr(blob.RehydratePriority(v)) }),
	)
	if n == 0 {
		return nil
	}
	return &out
}

func (o SnapshotOptions) snapshotOptions() *blob.CreateSnapshotOptions {
	var out blob.CreateSnapshotOptions
	n := applyOptions(
		setIf(o.IfTags, func(v string) { out.AccessConditions = withIfTags(out.AccessConditions, v) }),
		setIf(o.LeaseID, func(v string) { out.AccessConditions = withLease(out.AccessConditions, v) }),
		setIfAny(o.Metadata, func(m map[string]string) { out.Metadata = toMetadata(m) }),
	)
	if n == 0 {
		return nil
	}
	return &out
}

// blobHTTPHeaders returns nil when no header is set so that the service
// keeps its defaults.
func blobHTTPHeaders(h ContentHeaders) *blob.HTTPHeaders {
	var out blob.HTTPHeaders
	n := applyOptions(
		setIf(h.ContentType, func(v string) { out.BlobContentType = &v }),
		setIf(h.ContentLanguage, func(v string) { out.BlobContentLanguage = &v }),
		setIf(h.ContentDisposition, func(v string) { out.BlobContentDisposition = &v }),
		setIf(h.ContentEncoding, func(v string) { out.BlobContentEncoding = &v }),
	)
	if n == 0 {
		return nil
	}
	return &out
}

func accessConditions(leaseID, ifTags *string) *blob.AccessConditions {
	var out *blob.AccessConditions
	applyOptions(
		setIf(ifTags, func(v string) { out = withIfTags(out, v) }),
		setIf(leaseID, func(v string) { out = withLease(out, v) }),
	)
	return out
}

func withLease(ac *blob.AccessConditions, leaseID string) *blob.AccessConditions {
	if ac == nil {
		ac = &blob.AccessConditions{}
	}
	ac.LeaseAccessConditions = &blob.LeaseAccessConditions{LeaseID: &leaseID}
	return ac
}

func withIfTags(ac *blob.AccessConditions, ifTags string) *blob.AccessConditions {
	if ac == nil {
		ac = &blob.AccessConditions{}
	}
	if ac.ModifiedAccessConditions == nil {
		ac.ModifiedAccessConditions = &blob.ModifiedAccessConditions{}
	}
	ac.ModifiedAccessConditions.IfTags = &ifTags
	return ac
}

func toMetadata(m map[string]string) map[string]*string {
	out := make(map[string]*string, len(m))
	for k, v := range m {
		out[k] = to.Ptr(v)
	}
	return out
}

// encodeBlockID returns the wire form of a block id, which the service
// requires to be base64.
func encodeBlockID(blockID string) string {
	return base64.StdEncoding.EncodeToString([]byte(blockID))
}

func blockInfos(blocks []*blockblob.Block) []BlockInfo {
	out := make([]BlockInfo, 0, len(blocks))
	for _, block := range blocks {
		if block == nil || block.Name == nil {
			continue
		}
		id := *block.Name
		if decoded, err := base64.StdEncoding.DecodeString(id); err == nil {
			id = string(decoded)
		}
		offset, err := blockIDToOffset(id)
		if err != nil {
			offset = -1
		}
		out = append(out, BlockInfo{
			Offset: offset,
			Size:   deref(block.Size),
			ID:     id,
		})
	}
	return out
}

func versionOf(etag *azcore.ETag, lastModified *time.Time, versionID *string) ObjectVersion {
	var v ObjectVersion
	if etag != nil {
		v.ETag = string(*etag)
	}
	if lastModified != nil {
		v.LastModified = *lastModified
	}
	v.VersionID = deref(versionID)
	return v
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

// ParseAccessTier returns the canonical spelling of an access tier name.
func ParseAccessTier(s string) (string, error) {
	return parseEnum("access tier", s, blob.PossibleAccessTierValues())
}

// ParseRehydratePriority returns the canonical spelling of a rehydrate
// priority, High or Standard.
func ParseRehydratePriority(s string) (string, error) {
	return parseEnum("rehydrate priority", s, blob.PossibleRehydratePriorityValues())
}

// ParseDeleteSnapshots accepts "include" or "only".
func ParseDeleteSnapshots(s string) (string, error) {
	return parseEnum("delete snapshots method", s, blob.PossibleDeleteSnapshotsOptionTypeValues())
}

func parseEnum[T ~string](what, s string, values []T) (string, error) {
	valid := make([]string, 0, len(values))
	for _, v := range values {
		if strings.EqualFold(string(v), s) {
			return string(v), nil
		}
		valid = append(valid, string(v))
	}
	return "", fmt.Errorf("invalid %s %q, expected one of %s", what, s, strings.Join(valid, ", "))
}

// IsNotFound reports whether err says the blob or its container does not exist.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}
