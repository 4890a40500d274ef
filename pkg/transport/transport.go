// Package transport defines the byte-stream collaborator the gzip codec
// drives, plus local-file, S3 and SFTP implementations. A transport only
// has to move raw bytes; everything gzip-specific lives above it.
package transport

import (
	"errors"
	"io"

	"github.com/hashmap-kz/gzstream/pkg/ioutils"
)

// Stream is the minimal contract the codec needs from an underlying byte
// stream. One-directional transports satisfy it through FromReader or
// FromWriter, which fail the unsupported direction.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Optional capabilities, probed with type assertions. The codec degrades
// gracefully when a transport does not provide them.
type (
	// Flusher pushes buffered bytes towards durable storage.
	Flusher interface {
		Flush() error
	}
	// Fder exposes an OS file descriptor.
	Fder interface {
		Fd() uintptr
	}
	// Namer exposes the transport's target name.
	Namer interface {
		Name() string
	}
)

var (
	ErrNotReadable = errors.New("transport: stream is not readable")
	ErrNotWritable = errors.New("transport: stream is not writable")
)

// FromReader adapts a read-only source into a Stream. Extra closers (a
// connection backing the reader, for example) are closed after the reader.
func FromReader(r io.Reader, extra ...io.Closer) Stream {
	closers := make([]io.Closer, 0, len(extra)+1)
	if c, ok := r.(io.Closer); ok {
		closers = append(closers, c)
	}
	closers = append(closers, extra...)
	return &readerStream{rc: ioutils.NewMultiCloser(r, closers...)}
}

type readerStream struct {
	rc io.ReadCloser
}

func (s *readerStream) Read(p []byte) (int, error)  { return s.rc.Read(p) }
func (s *readerStream) Write(p []byte) (int, error) { return 0, ErrNotWritable }
func (s *readerStream) Close() error                { return s.rc.Close() }

// FromWriter adapts a write-only sink into a Stream.
func FromWriter(w io.Writer, extra ...io.Closer) Stream {
	closers := make([]io.Closer, 0, len(extra)+1)
	if c, ok := w.(io.Closer); ok {
		closers = append(closers, c)
	}
	closers = append(closers, extra...)
	return &writerStream{wc: ioutils.NewWriteMultiCloser(w, closers...)}
}

type writerStream struct {
	wc io.WriteCloser
}

func (s *writerStream) Read(p []byte) (int, error)  { return 0, ErrNotReadable }
func (s *writerStream) Write(p []byte) (int, error) { return s.wc.Write(p) }
func (s *writerStream) Close() error                { return s.wc.Close() }
