package azs

import (
	"errors"
	"fmt"
	"io/fs"
)

// FileErrorKind classifies local filesystem failures.
type FileErrorKind int

const (
	IO FileErrorKind = iota
	NotFound
	PermissionDenied
)

func (k FileErrorKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case PermissionDenied:
		return "permission denied"
	default:
		return "i/o error"
	}
}

// FileError is returned when the local source file cannot be opened, stat'ed or read.
type FileError struct {
	Op   string
	Path string
	Kind FileErrorKind
	Err  error
}

func newFileError(op, path string, err error) *FileError {
	kind := IO
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = NotFound
	case errors.Is(err, fs.ErrPermission):
		kind = PermissionDenied
	}
	return &FileError{Op: op, Path: path, Kind: kind, Err: err}
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// ConversionError reports a size or offset that cannot be represented or is
// not acceptable for the requested operation.
type ConversionError struct {
	What   string
	Value  int64
	Reason string
}

func (e *ConversionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid %s %d", e.What, e.Value)
	}
	return fmt.Sprintf("invalid %s %d: %s", e.What, e.Value, e.Reason)
}

// RemoteError wraps a failure returned by the storage service for a single call.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func remoteErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RemoteError{Op: op, Err: err}
}
