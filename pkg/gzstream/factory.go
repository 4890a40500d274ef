package gzstream

import (
	"io"

	"github.com/hashmap-kz/gzstream/pkg/fmode"
	"github.com/hashmap-kz/gzstream/pkg/transport"
)

// File is the surface shared by binary and text streams. Reads and writes
// are not part of it since the two layers deal in different units; type
// assert to *BinaryFile or *TextFile for those.
type File interface {
	io.Closer
	Flush() error
	Tell() (int64, error)
	Seek(offset int64, whence int) (int64, error)
	Readable() bool
	Writable() bool
	Seekable() bool
	Closed() bool
	Name() string
}

var (
	_ File = &BinaryFile{}
	_ File = &TextFile{}
)

// Open opens path as a binary or text gzip stream depending on the mode
// string: a "t" flag selects the text layer, anything else is binary.
func Open(path, mode string, opts ...Option) (File, error) {
	spec, err := fmode.Parse(mode)
	if err != nil {
		return nil, err
	}
	if spec.Text {
		return OpenText(path, mode, opts...)
	}
	return OpenBinary(path, mode, opts...)
}

// New wraps an already-open transport, dispatching on the mode string the
// same way Open does.
func New(s transport.Stream, mode string, opts ...Option) (File, error) {
	spec, err := fmode.Parse(mode)
	if err != nil {
		return nil, err
	}
	if spec.Text {
		return NewText(s, mode, opts...)
	}
	return NewBinary(s, mode, opts...)
}
