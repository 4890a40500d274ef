// Package gzstream is a gzip stream codec: it reads and writes RFC 1952
// byte streams through a chunked, position-tracking binary stream, plus a
// text layer with incremental decoding, newline translation and seek
// cookies. Output is bit-for-bit interoperable with reference gzip.
//
// A stream instance is not safe for concurrent use; callers needing that
// must synchronize externally.
package gzstream

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/hashmap-kz/gzstream/pkg/fmode"
	"github.com/hashmap-kz/gzstream/pkg/gzhdr"
	"github.com/hashmap-kz/gzstream/pkg/transport"
)

// Consumed buffer prefix is dropped once it grows past this, so many
// small reads do not retain the whole history.
const compactThreshold = 64 << 10

// BinaryFile is a gzip codec over a byte-stream transport. In write mode
// it emits a single gzip member (header on open, trailer on close); in
// read mode it transparently concatenates all members of the input.
type BinaryFile struct {
	name      string
	spec      fmode.Spec
	chunkSize int
	level     int
	stream    transport.Stream
	ownStream bool

	// read state
	inf *inflator
	buf []byte
	off int
	eof bool

	// write state
	fw      *flate.Writer
	digest  uint32
	isize   uint32
	modTime time.Time

	pos    int64
	closed bool
}

var (
	_ io.Reader = &BinaryFile{}
	_ io.Writer = &BinaryFile{}
	_ io.Seeker = &BinaryFile{}
	_ io.Closer = &BinaryFile{}
)

// OpenBinary opens path in the given mode ("rb", "wb", "ab", "xb",
// optionally with "+"). The stream owns the file transport it opens.
func OpenBinary(path, mode string, opts ...Option) (*BinaryFile, error) {
	cfg := newConfig().apply(opts)
	if err := cfg.rejectTextOnly(); err != nil {
		return nil, err
	}
	spec, err := fmode.Parse(mode)
	if err != nil {
		return nil, err
	}
	if spec.Text {
		return nil, fmt.Errorf("%w: binary stream cannot take a text mode %q", fmode.ErrInvalidMode, mode)
	}
	if path == "" {
		return nil, errors.New("gzstream: path must not be empty")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	f, err := transport.OpenFile(path, spec, cfg.fsyncEnabled)
	if err != nil {
		return nil, err
	}
	b, err := newBinary(f, path, spec, cfg, true)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return b, nil
}

// NewBinary wraps an already-open transport. The stream does not close the
// transport unless WithOwnedTransport(true) is given.
func NewBinary(s transport.Stream, mode string, opts ...Option) (*BinaryFile, error) {
	cfg := newConfig().apply(opts)
	if err := cfg.rejectTextOnly(); err != nil {
		return nil, err
	}
	spec, err := fmode.Parse(mode)
	if err != nil {
		return nil, err
	}
	if spec.Text {
		return nil, fmt.Errorf("%w: binary stream cannot take a text mode %q", fmode.ErrInvalidMode, mode)
	}
	if s == nil {
		return nil, errors.New("gzstream: transport must not be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	name := ""
	if n, ok := s.(transport.Namer); ok {
		name = n.Name()
	}
	return newBinary(s, name, spec, cfg, cfg.ownStreamSet && cfg.ownStream)
}

func newBinary(s transport.Stream, name string, spec fmode.Spec, cfg *config, own bool) (*BinaryFile, error) {
	b := &BinaryFile{
		name:      name,
		spec:      spec,
		chunkSize: cfg.chunkSize,
		level:     cfg.level,
		stream:    s,
		ownStream: own,
	}
	if spec.Writing() {
		b.modTime = cfg.modTime
		if b.modTime.IsZero() {
			b.modTime = time.Now()
		}
		hdr := gzhdr.BuildHeader(gzhdr.DeriveName(cfg.headerName, name), b.modTime, cfg.level)
		if _, err := s.Write(hdr); err != nil {
			return nil, err
		}
		fw, err := flate.NewWriter(s, cfg.level)
		if err != nil {
			return nil, errors.Wrap(err, "gzstream: deflate init")
		}
		b.fw = fw
	} else {
		b.inf = newInflator(s, cfg.chunkSize)
	}
	logrus.Debugf("gzstream: opened binary stream (name=%q mode=%s level=%d chunk=%d)",
		name, spec.String(), cfg.level, cfg.chunkSize)
	return b, nil
}

func (b *BinaryFile) checkRead() error {
	if b.closed {
		return ErrClosed
	}
	if !b.spec.Reading() {
		return ErrNotOpenForReading
	}
	return nil
}

func (b *BinaryFile) checkWrite() error {
	if b.closed {
		return ErrClosed
	}
	if !b.spec.Writing() {
		return ErrNotOpenForWriting
	}
	return nil
}

// Write compresses p. The returned count is the uncompressed bytes
// accepted, always len(p) on success; compressed output goes straight to
// the transport with no extra buffering.
func (b *BinaryFile) Write(p []byte) (int, error) {
	if err := b.checkWrite(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	b.digest = crc32.Update(b.digest, crc32.IEEETable, p)
	b.isize += uint32(len(p))
	if _, err := b.fw.Write(p); err != nil {
		return 0, errors.Wrap(err, "gzstream: write")
	}
	b.pos += int64(len(p))
	return len(p), nil
}

// WriteLines writes each byte slice in turn. No line separators are added.
func (b *BinaryFile) WriteLines(lines [][]byte) error {
	for _, line := range lines {
		if _, err := b.Write(line); err != nil {
			return err
		}
	}
	return nil
}

// Read implements io.Reader over the decompressed payload.
func (b *BinaryFile) Read(p []byte) (int, error) {
	if err := b.checkRead(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if b.off >= len(b.buf) {
		if b.eof {
			return 0, io.EOF
		}
		b.resetBuffer()
		n, err := b.inf.Read(p)
		b.pos += int64(n)
		if err == io.EOF {
			b.eof = true
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		return n, err
	}
	n := copy(p, b.buf[b.off:])
	b.consume(n)
	return n, nil
}

// ReadN reads up to size decompressed bytes. size < 0 drains to EOF,
// size == 0 returns empty without touching the transport. At EOF the
// result is shorter than requested; an empty result means exhaustion.
func (b *BinaryFile) ReadN(size int) ([]byte, error) {
	if err := b.checkRead(); err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	if size < 0 {
		return b.readAll()
	}
	if err := b.fillBuffer(size); err != nil {
		return nil, err
	}
	n := len(b.buf) - b.off
	if n > size {
		n = size
	}
	out := make([]byte, n)
	copy(out, b.buf[b.off:b.off+n])
	b.consume(n)
	return out, nil
}

// readAll accumulates chunks and joins once, instead of growing one slice.
func (b *BinaryFile) readAll() ([]byte, error) {
	var pieces [][]byte
	if b.off < len(b.buf) {
		head := make([]byte, len(b.buf)-b.off)
		copy(head, b.buf[b.off:])
		pieces = append(pieces, head)
		b.consume(len(head))
	}
	for !b.eof {
		chunk := make([]byte, b.chunkSize)
		n, err := b.inf.Read(chunk)
		if n > 0 {
			pieces = append(pieces, chunk[:n])
			b.pos += int64(n)
		}
		if err == io.EOF {
			b.eof = true
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return bytes.Join(pieces, nil), nil
}

// fillBuffer pulls decompressed chunks until at least need unconsumed
// bytes are buffered or EOF is reached.
func (b *BinaryFile) fillBuffer(need int) error {
	for len(b.buf)-b.off < need && !b.eof {
		if b.off > compactThreshold {
			b.buf = append([]byte(nil), b.buf[b.off:]...)
			b.off = 0
		}
		chunk := make([]byte, b.chunkSize)
		n, err := b.inf.Read(chunk)
		if n > 0 {
			b.buf = append(b.buf, chunk[:n]...)
		}
		if err == io.EOF {
			b.eof = true
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *BinaryFile) consume(n int) {
	b.off += n
	b.pos += int64(n)
	if b.off >= len(b.buf) {
		b.resetBuffer()
	}
}

func (b *BinaryFile) resetBuffer() {
	b.buf = b.buf[:0]
	b.off = 0
}

// Peek returns up to size unconsumed bytes without advancing the position.
// A non-positive size returns whatever is buffered, at least one byte when
// any remains.
func (b *BinaryFile) Peek(size int) ([]byte, error) {
	if err := b.checkRead(); err != nil {
		return nil, err
	}
	want := size
	if want <= 0 {
		want = 1
	}
	if err := b.fillBuffer(want); err != nil {
		return nil, err
	}
	avail := b.buf[b.off:]
	if size > 0 && len(avail) > size {
		avail = avail[:size]
	}
	out := make([]byte, len(avail))
	copy(out, avail)
	return out, nil
}

// ReadLine returns bytes through and including the next \n. With limit > 0
// at most limit bytes are returned, excess staying buffered. At EOF the
// remainder comes back without a terminator; empty means exhausted.
func (b *BinaryFile) ReadLine(limit int) ([]byte, error) {
	if err := b.checkRead(); err != nil {
		return nil, err
	}
	for {
		if idx := bytes.IndexByte(b.buf[b.off:], '\n'); idx >= 0 {
			end := idx + 1
			if limit > 0 && end > limit {
				end = limit
			}
			return b.takeBuffered(end), nil
		}
		if limit > 0 && len(b.buf)-b.off >= limit {
			return b.takeBuffered(limit), nil
		}
		if b.eof {
			return b.takeBuffered(len(b.buf) - b.off), nil
		}
		if err := b.fillBuffer(len(b.buf) - b.off + 1); err != nil {
			return nil, err
		}
	}
}

func (b *BinaryFile) takeBuffered(n int) []byte {
	out := make([]byte, n)
	copy(out, b.buf[b.off:b.off+n])
	b.consume(n)
	return out
}

// ReadLines collects lines until EOF, or until at least hint bytes have
// been returned when hint > 0.
func (b *BinaryFile) ReadLines(hint int) ([][]byte, error) {
	var lines [][]byte
	total := 0
	for {
		line, err := b.ReadLine(0)
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			return lines, nil
		}
		lines = append(lines, line)
		total += len(line)
		if hint > 0 && total >= hint {
			return lines, nil
		}
	}
}

// Flush forces a sync flush: all pending compressed bytes are emitted
// without terminating the member, then the transport is flushed when it
// supports that. Read-mode Flush is a no-op.
func (b *BinaryFile) Flush() error {
	if b.closed {
		return ErrClosed
	}
	if !b.spec.Writing() {
		return nil
	}
	if err := b.fw.Flush(); err != nil {
		return errors.Wrap(err, "gzstream: flush")
	}
	if fl, ok := b.stream.(transport.Flusher); ok {
		return fl.Flush()
	}
	return nil
}

// Tell reports the logical uncompressed position: bytes written so far, or
// bytes yielded to the caller so far.
func (b *BinaryFile) Tell() (int64, error) {
	if b.closed {
		return 0, ErrClosed
	}
	return b.pos, nil
}

// Seek moves the logical uncompressed position. Write mode allows forward
// seeks only, realized by compressing zero padding up to the target. Read
// mode seeks backward by rewinding the transport and re-scanning forward;
// whence io.SeekEnd is unsupported in both, since the uncompressed length
// is unknown without a full scan.
func (b *BinaryFile) Seek(offset int64, whence int) (int64, error) {
	if b.closed {
		return 0, ErrClosed
	}
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = b.pos + offset
	case io.SeekEnd:
		return 0, errors.New("gzstream: seek from end is not supported")
	default:
		return 0, errors.Errorf("gzstream: invalid seek whence %d", whence)
	}
	if target < 0 {
		return 0, errors.New("gzstream: negative seek target")
	}
	if b.spec.Writing() {
		return b.seekWrite(target)
	}
	return b.seekRead(target)
}

func (b *BinaryFile) seekWrite(target int64) (int64, error) {
	if target < b.pos {
		return 0, errors.New("gzstream: cannot seek backwards in write mode")
	}
	zeros := make([]byte, 1024)
	for b.pos < target {
		n := target - b.pos
		if n > int64(len(zeros)) {
			n = int64(len(zeros))
		}
		if _, err := b.Write(zeros[:n]); err != nil {
			return b.pos, err
		}
	}
	return b.pos, nil
}

func (b *BinaryFile) seekRead(target int64) (int64, error) {
	if target < b.pos {
		if err := b.rewind(); err != nil {
			return b.pos, err
		}
	}
	for b.pos < target {
		n := target - b.pos
		if n > int64(b.chunkSize) {
			n = int64(b.chunkSize)
		}
		chunk, err := b.ReadN(int(n))
		if err != nil {
			return b.pos, err
		}
		if len(chunk) == 0 {
			break // EOF before target
		}
	}
	return b.pos, nil
}

// Rewind returns a read stream to the start of the payload. The transport
// must support seeking.
func (b *BinaryFile) Rewind() error {
	if err := b.checkRead(); err != nil {
		return err
	}
	return b.rewind()
}

func (b *BinaryFile) rewind() error {
	sk, ok := b.stream.(io.Seeker)
	if !ok {
		return errors.New("gzstream: transport does not support rewinding")
	}
	if _, err := sk.Seek(0, io.SeekStart); err != nil {
		return err
	}
	b.inf = newInflator(b.stream, b.chunkSize)
	b.resetBuffer()
	b.eof = false
	b.pos = 0
	logrus.Debugf("gzstream: rewound stream (name=%q)", b.name)
	return nil
}

// Close is idempotent. The first call on a write stream terminates the
// deflate body and appends the CRC-32/ISIZE trailer; the transport is then
// closed when this stream owns it. The stream is marked closed before the
// flush so a partial failure cannot be retried into a corrupt tail.
func (b *BinaryFile) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	var firstErr error
	if b.spec.Writing() {
		if err := b.fw.Close(); err != nil {
			firstErr = errors.Wrap(err, "gzstream: close")
		}
		if firstErr == nil {
			if _, err := b.stream.Write(gzhdr.BuildTrailer(b.digest, b.isize)); err != nil {
				firstErr = err
			}
		}
	}
	if b.ownStream {
		if err := b.stream.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	logrus.Debugf("gzstream: closed binary stream (name=%q)", b.name)
	return firstErr
}

// Mtime reports the stream's member mtime: the header value written in
// write mode, or the first member's header field in read mode (parsed on
// demand). ok is false when no member header exists yet.
func (b *BinaryFile) Mtime() (time.Time, bool) {
	if b.spec.Writing() {
		return b.modTime, true
	}
	if b.closed {
		return time.Time{}, false
	}
	if err := b.inf.ensureHeader(); err != nil {
		return time.Time{}, false
	}
	if !b.inf.hasHeader {
		return time.Time{}, false
	}
	return b.inf.header.ModTime, true
}

// Header exposes the first member's parsed header in read mode.
func (b *BinaryFile) Header() (gzhdr.Header, bool) {
	if b.closed || b.spec.Writing() {
		return gzhdr.Header{}, false
	}
	if err := b.inf.ensureHeader(); err != nil {
		return gzhdr.Header{}, false
	}
	return b.inf.header, b.inf.hasHeader
}

func (b *BinaryFile) Readable() bool { return b.spec.Reading() }
func (b *BinaryFile) Writable() bool { return b.spec.Writing() }
func (b *BinaryFile) Closed() bool   { return b.closed }

// Seekable reports whether Seek can do useful work: forward zero-fill in
// write mode, transport rewind in read mode.
func (b *BinaryFile) Seekable() bool {
	if b.spec.Writing() {
		return true
	}
	_, ok := b.stream.(io.Seeker)
	return ok
}

// Name returns the target name the stream was opened with.
func (b *BinaryFile) Name() string { return b.name }

// Raw exposes the underlying transport.
func (b *BinaryFile) Raw() transport.Stream { return b.stream }

// Fd reports the transport's file descriptor when it has one.
func (b *BinaryFile) Fd() (uintptr, bool) {
	if f, ok := b.stream.(transport.Fder); ok {
		return f.Fd(), true
	}
	return 0, false
}
