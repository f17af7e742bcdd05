package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Azure/azs"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBlob keeps just enough state for the commands. Methods a test does
// not expect panic through the nil embedded interface.
type fakeBlob struct {
	azs.Blob

	mu         sync.Mutex
	staged     map[string][]byte
	content    []byte
	tags       map[string]string
	cond       azs.Conditions
	deleted    bool
	deleteOpts azs.DeleteOptions
	appendOpts *azs.AppendBlobOptions
	appends    []azs.AppendConditions
	tier       string
	tierOpts   azs.TierOptions
	snapOpts   azs.SnapshotOptions
}

func (f *fakeBlob) PutBlob(ctx context.Context, body io.ReadSeekCloser, opts *azs.BlockBlobOptions) (azs.ObjectVersion, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return azs.ObjectVersion{}, err
	}
	f.content = data
	return azs.ObjectVersion{ETag: "put"}, nil
}

func (f *fakeBlob) StageBlock(ctx context.Context, blockID string, body []byte, leaseID *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged[blockID] = bytes.Clone(body)
	return nil
}

func (f *fakeBlob) CommitBlockList(ctx context.Context, blockIDs []string, opts *azs.BlockBlobOptions) (azs.ObjectVersion, error) {
	f.content = nil
	for _, id := range blockIDs {
		f.content = append(f.content, f.staged[id]...)
	}
	f.tags = opts.Tags
	return azs.ObjectVersion{ETag: "committed"}, nil
}

func (f *fakeBlob) CreatePageBlob(ctx context.Context, size int64, opts *azs.PageBlobOptions) (azs.ObjectVersion, error) {
	f.content = make([]byte, size)
	return azs.ObjectVersion{ETag: "created"}, nil
}

func (f *fakeBlob) UploadPages(ctx context.Context, r azs.PageRange, body []byte, leaseID *string) (azs.ObjectVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy(f.content[r.Start:], body)
	return azs.ObjectVersion{ETag: r.String()}, nil
}

func (f *fakeBlob) CreateAppendBlob(ctx context.Context, opts *azs.AppendBlobOptions) (azs.ObjectVersion, error) {
	f.content = []byte{}
	f.appendOpts = opts
	return azs.ObjectVersion{ETag: "append"}, nil
}

func (f *fakeBlob) AppendBlock(ctx context.Context, body []byte, cond azs.AppendConditions) (azs.AppendedBlock, error) {
	offset := int64(len(f.content))
	f.content = append(f.content, body...)
	f.appends = append(f.appends, cond)
	return azs.AppendedBlock{Offset: offset, CommittedBlocks: int32(len(f.appends))}, nil
}

func (f *fakeBlob) SetTier(ctx context.Context, tier string, opts azs.TierOptions) error {
	f.tier = tier
	f.tierOpts = opts
	return nil
}

func (f *fakeBlob) CreateSnapshot(ctx context.Context, opts azs.SnapshotOptions) (azs.SnapshotInfo, error) {
	f.snapOpts = opts
	return azs.SnapshotInfo{Snapshot: "2024-01-01T00:00:00.0000000Z"}, nil
}

func (f *fakeBlob) Download(ctx context.Context, offset, count int64, cond azs.Conditions) (io.ReadCloser, error) {
	if f.content == nil {
		return nil, errors.New("BlobNotFound")
	}
	data := f.content[offset:]
	if count > 0 {
		data = data[:count]
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlob) Tags(ctx context.Context, cond azs.Conditions) (map[string]string, error) {
	return f.tags, nil
}

func (f *fakeBlob) SetTags(ctx context.Context, tags map[string]string, cond azs.Conditions) error {
	f.tags = tags
	f.cond = cond
	return nil
}

func (f *fakeBlob) Delete(ctx context.Context, opts azs.DeleteOptions) error {
	if f.deleted {
		return errors.New("BlobNotFound")
	}
	f.deleted = true
	f.deleteOpts = opts
	f.cond = opts.Conditions
	return nil
}

func (f *fakeBlob) BlockList(ctx context.Context) (azs.BlockListInfo, error) {
	return azs.BlockListInfo{
		Uncommitted: []azs.BlockInfo{{Offset: 0, Size: 3, ID: "00000000"}},
	}, nil
}

type fakeClient struct {
	blobs map[string]*fakeBlob
	cfg   azs.AccountConfig
}

func (c *fakeClient) Blob(container, name string) azs.Blob {
	key := container + "/" + name
	if b, ok := c.blobs[key]; ok {
		return b
	}
	b := &fakeBlob{staged: make(map[string][]byte)}
	c.blobs[key] = b
	return b
}

func withFakeClient(t *testing.T) *fakeClient {
	t.Helper()
	fake := &fakeClient{blobs: make(map[string]*fakeBlob)}

	orig := newBlobClient
	newBlobClient = func(cfg azs.AccountConfig) (azs.BlobClient, error) {
		fake.cfg = cfg
		return fake, nil
	}
	t.Cleanup(func() { newBlobClient = orig })

	t.Setenv("HOME", t.TempDir())
	t.Setenv("STORAGE_ACCOUNT", "")
	t.Setenv("AZS_ACCOUNT", "")
	return fake
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	t.Log(stderr.String())
	return stdout.String(), err
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestCreateBlockBlobCmd(t *testing.T) {
	fake := withFakeClient(t)
	data := bytes.Repeat([]byte("0123456789"), 100)
	path := writeFile(t, data)

	out, err := run(t, "--account", "acct", "blob", "create-block-blob", "c", "b", path,
		"--upload-block-size", "400", "--tags", "k=v")
	require.NoError(t, err)

	var res azs.UploadResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, []string{"00000000", "00000190", "00000320"}, res.BlockIDs)
	assert.Equal(t, "committed", res.Version.ETag)

	b := fake.blobs["c/b"]
	assert.Equal(t, data, b.content)
	assert.Equal(t, map[string]string{"k": "v"}, b.tags)
	assert.Equal(t, "https://acct.blob.core.windows.net", fake.cfg.ServiceURL)
}

func TestCreateBlockBlobCmdSingleShot(t *testing.T) {
	fake := withFakeClient(t)
	t.Setenv("STORAGE_ACCOUNT", "fromenv")
	path := writeFile(t, []byte("hello"))

	out, err := run(t, "blob", "create-block-blob", "c", "b", path, "--access-tier", "cool")
	require.NoError(t, err)

	var res azs.UploadResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.SingleShot)
	assert.Equal(t, []byte("hello"), fake.blobs["c/b"].content)
	assert.Equal(t, "https://fromenv.blob.core.windows.net", fake.cfg.ServiceURL)
}

func TestCreateBlockBlobCmdErrors(t *testing.T) {
	withFakeClient(t)
	path := writeFile(t, []byte("hello"))

	_, err := run(t, "blob", "create-block-blob", "c", "b", path)
	assert.ErrorContains(t, err, "storage account is required")

	_, err = run(t, "--account", "a", "blob", "create-block-blob", "c", "b", path, "--access-tier", "tepid")
	assert.ErrorContains(t, err, "invalid access tier")

	_, err = run(t, "--account", "a", "blob", "create-block-blob", "c", "b")
	assert.Error(t, err)

	_, err = run(t, "--account", "a", "--log-level", "loud", "blob", "get-tags", "c", "b")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestCreatePageBlobCmd(t *testing.T) {
	fake := withFakeClient(t)
	data := bytes.Repeat([]byte{7}, 5000)
	path := writeFile(t, data)

	out, err := run(t, "--account", "acct", "blob", "create-page-blob", "c", "p", path,
		"--upload-block-size", "2KiB", "--concurrency", "2")
	require.NoError(t, err)

	var res azs.UploadResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, []azs.PageRange{{Start: 0, End: 2047}, {Start: 2048, End: 4095}, {Start: 4096, End: 5119}}, res.Pages)
	assert.Equal(t, "bytes=4096-5119", res.Version.ETag)

	content := fake.blobs["c/p"].content
	require.Len(t, content, 5120)
	assert.Equal(t, data, content[:5000])

	_, err = run(t, "--account", "acct", "blob", "create-page-blob", "c", "p", path, "--upload-block-size", "1000")
	assert.ErrorContains(t, err, "multiple of 512")
}

func TestGetCmd(t *testing.T) {
	fake := withFakeClient(t)
	fake.Blob("c", "b").(*fakeBlob).content = []byte("hello world")

	out, err := run(t, "--account", "acct", "blob", "get", "c", "b", "--offset", "6", "--count", "5")
	require.NoError(t, err)
	assert.Equal(t, "world", out)

	dest := filepath.Join(t.TempDir(), "out")
	out, err = run(t, "--account", "acct", "blob", "get", "c", "b", "-o", dest)
	require.NoError(t, err)
	assert.Empty(t, out)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func TestGetCmdRemovesFileOnFailure(t *testing.T) {
	withFakeClient(t)

	dest := filepath.Join(t.TempDir(), "out")
	_, err := run(t, "--account", "acct", "blob", "get", "c", "missing", "-o", dest)
	assert.ErrorContains(t, err, "BlobNotFound")
	assert.NoFileExists(t, dest)
}

func TestAppendBlobCmds(t *testing.T) {
	fake := withFakeClient(t)

	out, err := run(t, "--account", "acct", "blob", "put-append-blob", "c", "log",
		"--metadata", "kind=log", "--content-type", "text/plain")
	require.NoError(t, err)
	var version azs.ObjectVersion
	require.NoError(t, json.Unmarshal([]byte(out), &version))
	assert.Equal(t, "append", version.ETag)

	b := fake.blobs["c/log"]
	require.NotNil(t, b.appendOpts)
	assert.Equal(t, map[string]string{"kind": "log"}, b.appendOpts.Metadata)
	assert.Equal(t, "text/plain", *b.appendOpts.Headers.ContentType)
	assert.Nil(t, b.appendOpts.Tags)

	data := bytes.Repeat([]byte("line\n"), 200)
	out, err = run(t, "--account", "acct", "blob", "append-block", "c", "log", writeFile(t, data),
		"--upload-block-size", "400", "--condition-max-size", "1MiB", "--condition-append-position", "0")
	require.NoError(t, err)

	var res azs.AppendResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Blocks, 3)
	assert.Equal(t, int64(800), res.Blocks[2].Offset)
	assert.Equal(t, data, b.content)

	require.Len(t, b.appends, 3)
	for i, cond := range b.appends {
		assert.Equal(t, int64(1<<20), *cond.MaxSize)
		assert.Equal(t, int64(i*400), *cond.AppendPosition)
		assert.Nil(t, cond.LeaseID)
	}

	b.appends = nil
	_, err = run(t, "--account", "acct", "blob", "append-block", "c", "log", writeFile(t, []byte("x")))
	require.NoError(t, err)
	require.Len(t, b.appends, 1)
	assert.Nil(t, b.appends[0].MaxSize, "unset conditions stay absent")
	assert.Nil(t, b.appends[0].AppendPosition)
}

func TestSetBlobTierCmd(t *testing.T) {
	fake := withFakeClient(t)

	_, err := run(t, "--account", "acct", "blob", "set-blob-tier", "c", "b",
		"--tier", "archive", "--rehydrate-priority", "standard", "--version-id", "v1")
	require.NoError(t, err)
	b := fake.blobs["c/b"]
	assert.Equal(t, "Archive", b.tier)
	assert.Equal(t, "Standard", *b.tierOpts.RehydratePriority)
	assert.Equal(t, "v1", *b.tierOpts.VersionID)
	assert.Nil(t, b.tierOpts.Snapshot)

	_, err = run(t, "--account", "acct", "blob", "set-blob-tier", "c", "b")
	assert.ErrorContains(t, err, "tier")

	_, err = run(t, "--account", "acct", "blob", "set-blob-tier", "c", "b", "--tier", "frozen")
	assert.ErrorContains(t, err, "invalid access tier")

	_, err = run(t, "--account", "acct", "blob", "set-blob-tier", "c", "b", "--tier", "hot", "--snapshot", "s", "--version-id", "v")
	assert.Error(t, err)
}

func TestSnapshotCmd(t *testing.T) {
	fake := withFakeClient(t)

	out, err := run(t, "--account", "acct", "blob", "snapshot", "c", "b", "--metadata", "reason=backup")
	require.NoError(t, err)

	var snap azs.SnapshotInfo
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, "2024-01-01T00:00:00.0000000Z", snap.Snapshot)
	assert.Equal(t, map[string]string{"reason": "backup"}, fake.blobs["c/b"].snapOpts.Metadata)
}

func TestTagsCmds(t *testing.T) {
	fake := withFakeClient(t)

	_, err := run(t, "--account", "acct", "blob", "set-tags", "c", "b", "--tags", "a=1", "--if-tags", "a = '0'")
	require.NoError(t, err)
	b := fake.blobs["c/b"]
	assert.Equal(t, map[string]string{"a": "1"}, b.tags)
	require.NotNil(t, b.cond.IfTags)
	assert.Equal(t, "a = '0'", *b.cond.IfTags)

	out, err := run(t, "--account", "acct", "blob", "get-tags", "c", "b")
	require.NoError(t, err)
	var tags map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &tags))
	assert.Equal(t, map[string]string{"a": "1"}, tags)

	_, err = run(t, "--account", "acct", "blob", "set-tags", "c", "b")
	require.NoError(t, err)
	assert.Empty(t, b.tags)
	assert.NotNil(t, b.tags, "no --tags clears the tags")
}

func TestDeleteCmd(t *testing.T) {
	fake := withFakeClient(t)

	_, err := run(t, "--account", "acct", "blob", "delete", "c", "b", "--lease-id", "7c9e6679-7425-40de-944b-e07fc1f90ae7")
	require.NoError(t, err)
	assert.True(t, fake.blobs["c/b"].deleted)
	require.NotNil(t, fake.blobs["c/b"].cond.LeaseID)

	_, err = run(t, "--account", "acct", "blob", "delete", "c", "b")
	assert.Error(t, err)
}

func TestDeleteCmdVariants(t *testing.T) {
	fake := withFakeClient(t)

	_, err := run(t, "--account", "acct", "blob", "delete", "c", "a", "--delete-snapshots-method", "Include")
	require.NoError(t, err)
	opts := fake.blobs["c/a"].deleteOpts
	assert.Equal(t, "include", *opts.Snapshots)
	assert.Nil(t, opts.Snapshot)
	assert.False(t, opts.Permanent)

	_, err = run(t, "--account", "acct", "blob", "delete", "c", "x", "--delete-snapshots-method", "all")
	assert.ErrorContains(t, err, "invalid delete snapshots method")

	_, err = run(t, "--account", "acct", "blob", "delete-version-id", "c", "v", "2024-01-01T00:00:00.0000000Z", "--permanent")
	require.NoError(t, err)
	opts = fake.blobs["c/v"].deleteOpts
	assert.Equal(t, "2024-01-01T00:00:00.0000000Z", *opts.VersionID)
	assert.True(t, opts.Permanent)
	assert.Nil(t, opts.Snapshots)

	_, err = run(t, "--account", "acct", "blob", "delete-snapshot", "c", "s", "2024-01-02T00:00:00.0000000Z")
	require.NoError(t, err)
	opts = fake.blobs["c/s"].deleteOpts
	assert.Equal(t, "2024-01-02T00:00:00.0000000Z", *opts.Snapshot)
	assert.Nil(t, opts.VersionID)
	assert.False(t, opts.Permanent)
}

func TestGetBlockListCmd(t *testing.T) {
	withFakeClient(t)

	out, err := run(t, "--account", "acct", "blob", "get-block-list", "c", "b")
	require.NoError(t, err)

	var list azs.BlockListInfo
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Empty(t, list.Committed)
	require.Len(t, list.Uncommitted, 1)
	assert.Equal(t, "00000000", list.Uncommitted[0].ID)
}
