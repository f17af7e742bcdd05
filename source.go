package azs

import (
	"bufio"
	"errors"
	"io"
	"os"
)

// SourceReader reads a local file front to back in caller-sized windows,
// tracking how much of it has been consumed.
type SourceReader struct {
	path string
	f    *os.File
	rdr  io.Reader
	size int64
	pos  int64
	buf  []byte
	eof  bool
}

// OpenSource opens path for sequential reading. The total length is taken
// from the file's size at open time. A positive bufferSize puts a read
// buffer of that many bytes in front of the file.
func OpenSource(path string, bufferSize int) (*SourceReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newFileError("open", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newFileError("stat", path, err)
	}
	if fi.IsDir() {
		f.Close()
		return nil, &FileError{Op: "open", Path: path, Kind: IO, Err: errors.New("is a directory")}
	}

	var rdr io.Reader = f
	if bufferSize > 0 {
		rdr = bufio.NewReaderSize(f, bufferSize)
	}
	return &SourceReader{path: path, f: f, rdr: rdr, size: fi.Size()}, nil
}

// ReadWindow returns the next maxLen bytes of the file, or fewer at the end
// of the file. Once the file is exhausted it returns an empty slice, however
// many times it is called. The slice is reused by the next call.
func (s *SourceReader) ReadWindow(maxLen int) ([]byte, error) {
	if maxLen <= 0 {
		return nil, &ConversionError{What: "window size", Value: int64(maxLen)}
	}
	if s.eof {
		return s.buf[:0], nil
	}
	if cap(s.buf) < maxLen {
		s.buf = make([]byte, maxLen)
	}
	buf := s.buf[:maxLen]

	n, err := io.ReadFull(s.rdr, buf)
	s.pos += int64(n)
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, newFileError("read", s.path, err)
		}
		s.eof = true
	}
	return buf[:n], nil
}

func (s *SourceReader) Position() int64 {
	return s.pos
}

func (s *SourceReader) TotalLength() int64 {
	return s.size
}

func (s *SourceReader) Remaining() int64 {
	return max(s.size-s.pos, 0)
}

func (s *SourceReader) Path() string {
	return s.path
}

// File exposes the underlying handle for a whole-file single request.
// Mixing it with ReadWindow is not supported.
func (s *SourceReader) File() io.ReadSeekCloser {
	return s.f
}

func (s *SourceReader) Close() error {
	return s.f.Close()
}
