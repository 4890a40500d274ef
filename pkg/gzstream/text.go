package gzstream

import (
	"fmt"
	"io"
	"iter"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"

	"github.com/hashmap-kz/gzstream/pkg/fmode"
	"github.com/hashmap-kz/gzstream/pkg/textcodec"
	"github.com/hashmap-kz/gzstream/pkg/transport"
)

func platformNewline() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}

// textSnapshot is the restoration state behind a seek cookie.
type textSnapshot struct {
	binOff     int64
	dec        textcodec.State
	buf        []rune
	trailingCR bool
	binEOF     bool
}

// TextFile layers character-based reads and writes over a BinaryFile:
// incremental decoding, newline translation, line splitting, and
// tell/seek via opaque cookies backed by a bounded snapshot cache.
type TextFile struct {
	bin     *BinaryFile
	encName string
	policy  textcodec.Policy
	dec     *textcodec.Decoder
	enc     *textcodec.Encoder

	// newline == nil is universal mode: normalize on read, platform
	// separator on write. "" disables translation; "\n", "\r" and
	// "\r\n" translate literally.
	newline  *string
	writeSep string

	buf        []rune
	trailingCR bool
	binEOF     bool

	cookies   map[int64]textSnapshot
	order     []int64
	cacheSize int

	closed bool
}

// textConfig is the validated text-layer slice of the option set,
// resolved before any transport or header side effects happen.
type textConfig struct {
	enc       encoding.Encoding
	encName   string
	policy    textcodec.Policy
	newline   *string
	cacheSize int
}

func resolveTextConfig(cfg *config) (*textConfig, error) {
	enc, err := textcodec.Lookup(cfg.encoding)
	if err != nil {
		return nil, fmt.Errorf("gzstream: %w", err)
	}
	policy, err := cfg.textPolicy()
	if err != nil {
		return nil, err
	}
	if cfg.newline != nil {
		switch *cfg.newline {
		case "", "\n", "\r", "\r\n":
		default:
			return nil, errors.Errorf("gzstream: illegal newline value %q", *cfg.newline)
		}
	}
	if cfg.cookieCacheSize <= 0 {
		return nil, errors.Errorf("gzstream: cookie cache size must be positive, got %d", cfg.cookieCacheSize)
	}
	return &textConfig{
		enc:       enc,
		encName:   cfg.encoding,
		policy:    policy,
		newline:   cfg.newline,
		cacheSize: cfg.cookieCacheSize,
	}, nil
}

// OpenText opens path as a gzip text stream ("rt", "wt", "at", "xt", or
// the same without the explicit t).
func OpenText(path, mode string, opts ...Option) (*TextFile, error) {
	cfg := newConfig().apply(opts)
	spec, err := fmode.Parse(mode)
	if err != nil {
		return nil, err
	}
	if spec.Binary {
		return nil, fmt.Errorf("%w: text stream cannot take a binary mode %q", fmode.ErrInvalidMode, mode)
	}
	if path == "" {
		return nil, errors.New("gzstream: path must not be empty")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	tc, err := resolveTextConfig(cfg)
	if err != nil {
		return nil, err
	}
	binSpec := spec.AsBinary()
	f, err := transport.OpenFile(path, binSpec, cfg.fsyncEnabled)
	if err != nil {
		return nil, err
	}
	bin, err := newBinary(f, path, binSpec, cfg, true)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return newText(bin, tc), nil
}

// NewText wraps an already-open transport as a gzip text stream.
func NewText(s transport.Stream, mode string, opts ...Option) (*TextFile, error) {
	cfg := newConfig().apply(opts)
	spec, err := fmode.Parse(mode)
	if err != nil {
		return nil, err
	}
	if spec.Binary {
		return nil, fmt.Errorf("%w: text stream cannot take a binary mode %q", fmode.ErrInvalidMode, mode)
	}
	if s == nil {
		return nil, errors.New("gzstream: transport must not be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	tc, err := resolveTextConfig(cfg)
	if err != nil {
		return nil, err
	}
	name := ""
	if n, ok := s.(transport.Namer); ok {
		name = n.Name()
	}
	bin, err := newBinary(s, name, spec.AsBinary(), cfg, cfg.ownStreamSet && cfg.ownStream)
	if err != nil {
		return nil, err
	}
	return newText(bin, tc), nil
}

func newText(bin *BinaryFile, tc *textConfig) *TextFile {
	t := &TextFile{
		bin:       bin,
		encName:   tc.encName,
		policy:    tc.policy,
		dec:       textcodec.NewDecoder(tc.enc, tc.policy),
		enc:       textcodec.NewEncoder(tc.enc, tc.policy),
		newline:   tc.newline,
		cookies:   make(map[int64]textSnapshot),
		cacheSize: tc.cacheSize,
	}
	switch {
	case t.newline == nil:
		t.writeSep = platformNewline()
	case *t.newline == "":
		t.writeSep = ""
	default:
		t.writeSep = *t.newline
	}
	logrus.Debugf("gzstream: opened text stream (name=%q encoding=%q policy=%s)",
		bin.Name(), tc.encName, tc.policy)
	return t
}

func (t *TextFile) checkRead() error {
	if t.closed {
		return ErrClosed
	}
	return t.bin.checkRead()
}

func (t *TextFile) checkWrite() error {
	if t.closed {
		return ErrClosed
	}
	return t.bin.checkWrite()
}

// Write encodes s and feeds it to the binary stream, translating \n per
// the newline mode first. The returned count is in characters.
func (t *TextFile) Write(s string) (int, error) {
	if err := t.checkWrite(); err != nil {
		return 0, err
	}
	chars := utf8.RuneCountInString(s)
	if t.writeSep != "" && t.writeSep != "\n" {
		s = strings.ReplaceAll(s, "\n", t.writeSep)
	}
	raw, err := t.enc.Encode(s)
	if err != nil {
		return 0, fmt.Errorf("gzstream: %w", err)
	}
	if _, err := t.bin.Write(raw); err != nil {
		return 0, err
	}
	return chars, nil
}

// WriteLines writes each string in turn. No line separators are added.
func (t *TextFile) WriteLines(lines []string) error {
	for _, line := range lines {
		if _, err := t.Write(line); err != nil {
			return err
		}
	}
	return nil
}

// fill decodes one binary chunk into the text buffer. At binary EOF it
// flushes the decoder once, surfacing any truncated multi-byte sequence
// per the error policy.
func (t *TextFile) fill() error {
	raw, err := t.bin.ReadN(t.bin.chunkSize)
	if err != nil {
		return err
	}
	final := len(raw) == 0
	s, err := t.dec.Decode(raw, final)
	if err != nil {
		return fmt.Errorf("gzstream: %w", err)
	}
	t.appendText(s)
	if final {
		t.binEOF = true
		t.trailingCR = false
	}
	return nil
}

// appendText pushes decoded characters into the buffer, normalizing
// newlines in universal mode: CR becomes LF immediately and an LF that
// follows a CR across any boundary is dropped as the second half of CRLF.
func (t *TextFile) appendText(s string) {
	if t.newline != nil {
		for _, r := range s {
			t.buf = append(t.buf, r)
		}
		return
	}
	for _, r := range s {
		if t.trailingCR {
			t.trailingCR = false
			if r == '\n' {
				continue
			}
		}
		if r == '\r' {
			t.trailingCR = true
			t.buf = append(t.buf, '\n')
			continue
		}
		t.buf = append(t.buf, r)
	}
}

// ReadN returns up to size characters. size < 0 drains to EOF, size == 0
// returns empty without consuming, and a short result signals EOF.
func (t *TextFile) ReadN(size int) (string, error) {
	if err := t.checkRead(); err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	if size < 0 {
		return t.readAll()
	}
	for len(t.buf) < size && !t.binEOF {
		if err := t.fill(); err != nil {
			return "", err
		}
	}
	n := size
	if n > len(t.buf) {
		n = len(t.buf)
	}
	return t.take(n), nil
}

// ReadAll drains the stream to EOF and returns the remaining text.
func (t *TextFile) ReadAll() (string, error) {
	if err := t.checkRead(); err != nil {
		return "", err
	}
	return t.readAll()
}

func (t *TextFile) readAll() (string, error) {
	for !t.binEOF {
		if err := t.fill(); err != nil {
			return "", err
		}
	}
	return t.take(len(t.buf)), nil
}

func (t *TextFile) take(n int) string {
	out := string(t.buf[:n])
	t.buf = append(t.buf[:0], t.buf[n:]...)
	return out
}

// scanLineEnd finds the end of the first complete line in the buffer,
// returning the index just past its terminator. In universal mode the
// buffer is already normalized so only \n terminates. With newline ""
// any of \n, \r or \r\n terminates, but a CR that is the last buffered
// character waits for more input unless the stream has ended, since its
// LF may still be in flight.
func (t *TextFile) scanLineEnd() (int, bool) {
	buf := t.buf
	switch {
	case t.newline == nil:
		for i, r := range buf {
			if r == '\n' {
				return i + 1, true
			}
		}
	case *t.newline == "":
		for i, r := range buf {
			if r == '\n' {
				return i + 1, true
			}
			if r == '\r' {
				if i+1 < len(buf) {
					if buf[i+1] == '\n' {
						return i + 2, true
					}
					return i + 1, true
				}
				if t.binEOF {
					return i + 1, true
				}
				return 0, false
			}
		}
	case *t.newline == "\r\n":
		for i := 0; i+1 < len(buf); i++ {
			if buf[i] == '\r' && buf[i+1] == '\n' {
				return i + 2, true
			}
		}
	default:
		sep := []rune(*t.newline)[0]
		for i, r := range buf {
			if r == sep {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// ReadLine returns the next line including its terminator. With limit > 0
// at most limit characters come back, excess staying buffered. At EOF the
// remainder is returned without a terminator; empty means exhausted.
func (t *TextFile) ReadLine(limit int) (string, error) {
	if err := t.checkRead(); err != nil {
		return "", err
	}
	for {
		if end, ok := t.scanLineEnd(); ok {
			if limit > 0 && end > limit {
				end = limit
			}
			return t.take(end), nil
		}
		if limit > 0 && len(t.buf) >= limit {
			return t.take(limit), nil
		}
		if t.binEOF {
			return t.take(len(t.buf)), nil
		}
		if err := t.fill(); err != nil {
			return "", err
		}
	}
}

// ReadLines collects lines until EOF, or until at least hint characters
// have been returned when hint > 0.
func (t *TextFile) ReadLines(hint int) ([]string, error) {
	var lines []string
	total := 0
	for {
		line, err := t.ReadLine(0)
		if err != nil {
			return nil, err
		}
		if line == "" {
			return lines, nil
		}
		lines = append(lines, line)
		total += len(line)
		if hint > 0 && total >= hint {
			return lines, nil
		}
	}
}

// Lines iterates over the remaining lines. Iteration stops at the first
// error; the error is yielded with an empty line.
func (t *TextFile) Lines() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			line, err := t.ReadLine(0)
			if err != nil {
				yield("", err)
				return
			}
			if line == "" {
				return
			}
			if !yield(line, nil) {
				return
			}
		}
	}
}

// Tell returns an opaque cookie for the current position: the underlying
// binary byte offset shifted left once, with the low bit set when the
// decoder holds a partial multi-byte sequence. The full restoration state
// is snapshotted into the bounded cookie cache.
func (t *TextFile) Tell() (int64, error) {
	if t.closed {
		return 0, ErrClosed
	}
	off, err := t.bin.Tell()
	if err != nil {
		return 0, err
	}
	cookie := off << 1
	if t.dec.Pending() {
		cookie |= 1
	}
	t.remember(cookie, off)
	return cookie, nil
}

func (t *TextFile) remember(cookie, binOff int64) {
	if _, exists := t.cookies[cookie]; !exists {
		if len(t.order) >= t.cacheSize {
			drop := len(t.order) / 2
			if drop == 0 {
				drop = 1
			}
			for _, old := range t.order[:drop] {
				delete(t.cookies, old)
			}
			t.order = append(t.order[:0], t.order[drop:]...)
		}
		t.order = append(t.order, cookie)
	}
	t.cookies[cookie] = textSnapshot{
		binOff:     binOff,
		dec:        t.dec.State(),
		buf:        append([]rune(nil), t.buf...),
		trailingCR: t.trailingCR,
		binEOF:     t.binEOF,
	}
}

// Seek restores a position previously obtained from Tell. Only three
// forms are supported: an absolute cookie (0 resets to start of stream,
// anything else must be cached), a zero current-relative seek, and a zero
// end-relative seek, which drains the stream and reports the end cookie.
func (t *TextFile) Seek(cookie int64, whence int) (int64, error) {
	if err := t.checkRead(); err != nil {
		return 0, err
	}
	switch whence {
	case io.SeekCurrent:
		if cookie != 0 {
			return 0, errors.New("gzstream: nonzero seeks relative to current position are not supported in text mode")
		}
		return t.Tell()
	case io.SeekEnd:
		if cookie != 0 {
			return 0, errors.New("gzstream: nonzero seeks relative to end are not supported in text mode")
		}
		if _, err := t.readAll(); err != nil {
			return 0, err
		}
		return t.Tell()
	case io.SeekStart:
		// handled below
	default:
		return 0, errors.Errorf("gzstream: invalid seek whence %d", whence)
	}
	if cookie == 0 {
		if _, err := t.bin.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
		t.dec.Reset()
		t.buf = t.buf[:0]
		t.trailingCR = false
		t.binEOF = false
		return 0, nil
	}
	snap, ok := t.cookies[cookie]
	if !ok {
		return 0, errors.Errorf("gzstream: cookie %d was not produced by Tell on this stream", cookie)
	}
	if _, err := t.bin.Seek(snap.binOff, io.SeekStart); err != nil {
		return 0, err
	}
	t.dec.Restore(snap.dec)
	t.buf = append(t.buf[:0], snap.buf...)
	t.trailingCR = snap.trailingCR
	t.binEOF = snap.binEOF
	return cookie, nil
}

// Flush delegates to the binary stream.
func (t *TextFile) Flush() error {
	if t.closed {
		return ErrClosed
	}
	return t.bin.Flush()
}

// Close is idempotent. The first call flushes the decoder in read mode so
// a truncated trailing multi-byte sequence still surfaces, clears the
// cookie cache, and always closes the binary stream.
func (t *TextFile) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	var decErr error
	if t.bin.spec.Reading() && !t.binEOF {
		if _, err := t.dec.Decode(nil, true); err != nil {
			decErr = fmt.Errorf("gzstream: %w", err)
		}
	}
	t.cookies = nil
	t.order = nil
	if err := t.bin.Close(); err != nil {
		return err
	}
	return decErr
}

// Buffer exposes the underlying binary stream.
func (t *TextFile) Buffer() *BinaryFile { return t.bin }

// Encoding reports the configured encoding name, empty meaning UTF-8.
func (t *TextFile) Encoding() string { return t.encName }

// ErrorPolicy reports the configured decode/encode error policy.
func (t *TextFile) ErrorPolicy() string { return string(t.policy) }

// Newline reports the explicit newline override and whether one is set;
// ok == false means universal newline mode.
func (t *TextFile) Newline() (string, bool) {
	if t.newline == nil {
		return "", false
	}
	return *t.newline, true
}

func (t *TextFile) Readable() bool { return t.bin.Readable() }
func (t *TextFile) Writable() bool { return t.bin.Writable() }
func (t *TextFile) Seekable() bool { return t.bin.Seekable() }
func (t *TextFile) Closed() bool   { return t.closed }
func (t *TextFile) Name() string   { return t.bin.Name() }
