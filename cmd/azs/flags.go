package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Azure/azs"
	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/spf13/pflag"
)

// sizeValue is a byte count flag that accepts plain numbers as well as
// binary suffixes such as 512KiB or 4M.
type sizeValue int64

func (s *sizeValue) Set(v string) error {
	n, err := parseSize(v)
	if err != nil {
		return err
	}
	*s = sizeValue(n)
	return nil
}

func (s *sizeValue) String() string {
	if *s == 0 {
		return ""
	}
	return units.BytesSize(float64(*s))
}

func (s *sizeValue) Type() string {
	return "size"
}

func parseSize(v string) (int64, error) {
	v = strings.TrimSpace(v)
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("size must not be negative: %s", v)
		}
		return n, nil
	}
	n, err := units.RAMInBytes(v)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", v, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("size must not be negative: %s", v)
	}
	return n, nil
}

// optString returns the flag's value, or nil when it was not given.
func optString(fs *pflag.FlagSet, name string) *string {
	if !fs.Changed(name) {
		return nil
	}
	v, err := fs.GetString(name)
	if err != nil {
		return nil
	}
	return &v
}

func optInt64(fs *pflag.FlagSet, name string) (*int64, error) {
	if !fs.Changed(name) {
		return nil, nil
	}
	v, err := fs.GetInt64(name)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// optSize returns v when the size flag name was given.
func optSize(fs *pflag.FlagSet, name string, v sizeValue) *int64 {
	if !fs.Changed(name) {
		return nil
	}
	n := int64(v)
	return &n
}

func parseLeaseID(fs *pflag.FlagSet) (*string, error) {
	v := optString(fs, "lease-id")
	if v == nil {
		return nil, nil
	}
	id, err := uuid.Parse(*v)
	if err != nil {
		return nil, fmt.Errorf("invalid --lease-id %q: %w", *v, err)
	}
	s := id.String()
	return &s, nil
}

func parseKeyValueFlag(fs *pflag.FlagSet, name string) (map[string]string, error) {
	pairs, err := fs.GetStringArray(name)
	if err != nil {
		return nil, err
	}
	m, err := azs.ParseKeyValues(pairs)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return m, nil
}

func addHeaderFlags(fs *pflag.FlagSet) {
	fs.String("content-type", "", "Content-Type stored with the blob")
	fs.String("content-encoding", "", "Content-Encoding stored with the blob")
	fs.String("content-language", "", "Content-Language stored with the blob")
	fs.String("content-disposition", "", "Content-Disposition stored with the blob")
}

func contentHeaders(fs *pflag.FlagSet) azs.ContentHeaders {
	return azs.ContentHeaders{
		ContentType:        optString(fs, "content-type"),
		ContentEncoding:    optString(fs, "content-encoding"),
		ContentLanguage:    optString(fs, "content-language"),
		ContentDisposition: optString(fs, "content-disposition"),
	}
}

func addConditionFlags(fs *pflag.FlagSet, ifTags bool) {
	fs.String("lease-id", "", "Only act on the blob while holding this lease")
	if ifTags {
		fs.String("if-tags", "", "Only act on the blob if its tags match this SQL predicate")
	}
}

func conditions(fs *pflag.FlagSet) (azs.Conditions, error) {
	lease, err := parseLeaseID(fs)
	if err != nil {
		return azs.Conditions{}, err
	}
	return azs.Conditions{LeaseID: lease, IfTags: optString(fs, "if-tags")}, nil
}

func addUploadFlags(fs *pflag.FlagSet, blockSize *sizeValue, bufferSize *sizeValue) {
	fs.Var(blockSize, "upload-block-size", "Upload the file in blocks (pages: writes) of this size")
	fs.Var(bufferSize, "buffer-size", "How much to buffer in memory while reading the file")
	fs.Int("concurrency", 1, "Number of block or page writes in flight")
	fs.StringArray("tags", nil, "Blob tag as KEY=VALUE, may be repeated")
	fs.StringArray("metadata", nil, "Blob metadata as KEY=VALUE, may be repeated")
	addHeaderFlags(fs)
}

// uploadRequest collects the flags shared by both upload commands.
func uploadRequest(fs *pflag.FlagSet, path string, blockSize, bufferSize sizeValue) (azs.UploadRequest, error) {
	req := azs.UploadRequest{
		Path:      path,
		BlockSize: int64(blockSize),
		Headers:   contentHeaders(fs),
	}
	if int64(bufferSize) != int64(int(bufferSize)) {
		return req, fmt.Errorf("--buffer-size too large: %d", bufferSize)
	}
	req.BufferSize = int(bufferSize)

	var err error
	if req.Concurrency, err = fs.GetInt("concurrency"); err != nil {
		return req, err
	}
	if req.Tags, err = parseKeyValueFlag(fs, "tags"); err != nil {
		return req, err
	}
	if req.Metadata, err = parseKeyValueFlag(fs, "metadata"); err != nil {
		return req, err
	}
	if req.LeaseID, err = parseLeaseID(fs); err != nil {
		return req, err
	}
	return req, nil
}
