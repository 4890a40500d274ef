// Package ioutils holds small composition helpers for transports that are
// built from several underlying resources (remote body + connection, pipe
// + uploader).
package ioutils

import (
	"fmt"
	"io"
)

// MultiCloser wraps an io.Reader and a set of io.Closers. Useful when a
// read transport is composed of a payload reader plus the resources that
// back it and all of them must be released on Close.
type MultiCloser struct {
	io.Reader
	closers []io.Closer
}

// NewMultiCloser constructs a ReadCloser from a reader and multiple
// closers. Closers are closed in order when Close is called; duplicates
// are closed once.
func NewMultiCloser(reader io.Reader, closers ...io.Closer) io.ReadCloser {
	return &MultiCloser{
		Reader:  reader,
		closers: closers,
	}
}

func (r *MultiCloser) Close() error {
	return closeAll(r.closers)
}

// WriteMultiCloser is the write-side counterpart of MultiCloser.
type WriteMultiCloser struct {
	io.Writer
	closers []io.Closer
}

func NewWriteMultiCloser(writer io.Writer, closers ...io.Closer) io.WriteCloser {
	return &WriteMultiCloser{
		Writer:  writer,
		closers: closers,
	}
}

func (w *WriteMultiCloser) Close() error {
	return closeAll(w.closers)
}

func closeAll(closers []io.Closer) error {
	var firstErr error
	seen := make(map[io.Closer]struct{})
	for _, closer := range closers {
		if _, ok := seen[closer]; ok {
			continue
		}
		seen[closer] = struct{}{}
		if err := closer.Close(); err != nil {
			if firstErr != nil {
				firstErr = fmt.Errorf("%w; %v", firstErr, err)
			} else {
				firstErr = err
			}
		}
	}
	return firstErr
}
