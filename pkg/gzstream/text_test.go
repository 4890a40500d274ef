package gzstream

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTextFile(t *testing.T, content string, opts ...Option) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "text.gz")
	w, err := OpenText(path, "wt", opts...)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return path
}

func TestTextUniversalNewlineRoundTrip(t *testing.T) {
	content := "alpha\nbeta\ngamma\n"
	path := writeTextFile(t, content)

	r, err := OpenText(path, "rt")
	require.NoError(t, err)
	defer r.Close()
	got, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestTextExplicitCRLFRoundTrip(t *testing.T) {
	path := writeTextFile(t, "a\nb\n", WithNewline("\r\n"))

	// literal bytes carry CRLF
	rb, err := OpenBinary(path, "rb")
	require.NoError(t, err)
	raw, err := rb.ReadN(-1)
	require.NoError(t, err)
	require.NoError(t, rb.Close())
	assert.Equal(t, "a\r\nb\r\n", string(raw))

	// same explicit override on read keeps them untranslated
	r, err := OpenText(path, "rt", WithNewline("\r\n"))
	require.NoError(t, err)
	got, err := r.ReadAll()
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "a\r\nb\r\n", got)

	// universal mode normalizes them back
	r2, err := OpenText(path, "rt")
	require.NoError(t, err)
	got, err = r2.ReadAll()
	require.NoError(t, err)
	require.NoError(t, r2.Close())
	assert.Equal(t, "a\nb\n", got)
}

func TestTextNoTranslationMode(t *testing.T) {
	path := writeTextFile(t, "a\rb\r\nc\n", WithNewline(""))

	r, err := OpenText(path, "rt", WithNewline(""))
	require.NoError(t, err)
	defer r.Close()

	line, err := r.ReadLine(0)
	require.NoError(t, err)
	assert.Equal(t, "a\r", line)

	line, err = r.ReadLine(0)
	require.NoError(t, err)
	assert.Equal(t, "b\r\n", line)

	line, err = r.ReadLine(0)
	require.NoError(t, err)
	assert.Equal(t, "c\n", line)
}

func TestTextCRLFSplitAcrossChunks(t *testing.T) {
	// tiny chunk size forces the CR and LF into separate decoded chunks
	path := writeTextFile(t, "x\r\ny", WithNewline(""))

	r, err := OpenText(path, "rt", WithChunkSize(1))
	require.NoError(t, err)
	defer r.Close()
	got, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "x\ny", got)
}

func TestTextLoneCRNormalized(t *testing.T) {
	path := writeTextFile(t, "x\ry", WithNewline(""))

	r, err := OpenText(path, "rt")
	require.NoError(t, err)
	defer r.Close()
	got, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "x\ny", got)
}

func TestTextThousandLines(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(&sb, "line %d\n", i)
	}
	path := writeTextFile(t, sb.String())

	r, err := OpenText(path, "rt")
	require.NoError(t, err)
	count := 0
	for line, err := range r.Lines() {
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("line %d\n", count), line)
		count++
	}
	assert.Equal(t, 1000, count)
	require.NoError(t, r.Close())

	r2, err := OpenText(path, "rt")
	require.NoError(t, err)
	defer r2.Close()
	lines, err := r2.ReadLines(0)
	require.NoError(t, err)
	require.Len(t, lines, 1000)
	for i, line := range lines {
		assert.Equal(t, fmt.Sprintf("line %d\n", i), line)
	}
}

func TestTextReadN(t *testing.T) {
	path := writeTextFile(t, "héllo wörld")

	r, err := OpenText(path, "rt", WithChunkSize(3))
	require.NoError(t, err)
	defer r.Close()

	empty, err := r.ReadN(0)
	require.NoError(t, err)
	assert.Equal(t, "", empty)

	got, err := r.ReadN(5)
	require.NoError(t, err)
	assert.Equal(t, "héllo", got)

	rest, err := r.ReadN(-1)
	require.NoError(t, err)
	assert.Equal(t, " wörld", rest)

	end, err := r.ReadN(10)
	require.NoError(t, err)
	assert.Equal(t, "", end)
}

func TestTextReadLineLimit(t *testing.T) {
	path := writeTextFile(t, "abcdef\nxy\n")

	r, err := OpenText(path, "rt")
	require.NoError(t, err)
	defer r.Close()

	line, err := r.ReadLine(3)
	require.NoError(t, err)
	assert.Equal(t, "abc", line)

	line, err = r.ReadLine(0)
	require.NoError(t, err)
	assert.Equal(t, "def\n", line)

	line, err = r.ReadLine(0)
	require.NoError(t, err)
	assert.Equal(t, "xy\n", line)

	line, err = r.ReadLine(0)
	require.NoError(t, err)
	assert.Equal(t, "", line)
}

func TestTextWriteLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.gz")
	w, err := OpenText(path, "wt")
	require.NoError(t, err)
	require.NoError(t, w.WriteLines([]string{"one\n", "two\n"}))
	require.NoError(t, w.Close())

	r, err := OpenText(path, "rt")
	require.NoError(t, err)
	defer r.Close()
	got, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", got)
}

func TestTextWriteReturnsCharCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chars.gz")
	w, err := OpenText(path, "wt")
	require.NoError(t, err)
	defer w.Close()

	n, err := w.Write("héllo\n")
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestTextTellSeekRoundTrip(t *testing.T) {
	path := writeTextFile(t, "first part|second part")

	r, err := OpenText(path, "rt", WithChunkSize(4))
	require.NoError(t, err)
	defer r.Close()

	head, err := r.ReadN(11)
	require.NoError(t, err)
	assert.Equal(t, "first part|", head)

	cookie, err := r.Tell()
	require.NoError(t, err)

	rest, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "second part", rest)

	pos, err := r.Seek(cookie, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, cookie, pos)

	again, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, rest, again)
}

func TestTextTellSeekWithPendingBytes(t *testing.T) {
	// multibyte characters split across 1-byte chunks leave the decoder
	// with pending state at most positions
	path := writeTextFile(t, "ééé|ööö")

	r, err := OpenText(path, "rt", WithChunkSize(1))
	require.NoError(t, err)
	defer r.Close()

	head, err := r.ReadN(4)
	require.NoError(t, err)
	assert.Equal(t, "ééé|", head)

	cookie, err := r.Tell()
	require.NoError(t, err)

	rest, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "ööö", rest)

	_, err = r.Seek(cookie, io.SeekStart)
	require.NoError(t, err)

	again, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, rest, again)
}

func TestTextSeekRules(t *testing.T) {
	path := writeTextFile(t, "some content here")

	r, err := OpenText(path, "rt")
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Seek(5, io.SeekCurrent)
	require.Error(t, err, "nonzero cur-relative")

	_, err = r.Seek(5, io.SeekEnd)
	require.Error(t, err, "nonzero end-relative")

	// end-relative zero drains and reports the end position
	endCookie, err := r.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	got, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "", got)

	// reset to start
	pos, err := r.Seek(0, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
	got, err = r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "some content here", got)

	// the end cookie is cached and restorable
	_, err = r.Seek(endCookie, io.SeekStart)
	require.NoError(t, err)
	got, err = r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "", got)

	// arbitrary uncached cookies are rejected
	_, err = r.Seek(99991, io.SeekStart)
	require.Error(t, err)
}

func TestTextCookieCacheEviction(t *testing.T) {
	path := writeTextFile(t, "abcdefghijklmnop")

	r, err := OpenText(path, "rt", WithChunkSize(1), WithCookieCacheSize(4))
	require.NoError(t, err)
	defer r.Close()

	var cookies []int64
	for i := 0; i < 6; i++ {
		_, err := r.ReadN(1)
		require.NoError(t, err)
		c, err := r.Tell()
		require.NoError(t, err)
		cookies = append(cookies, c)
	}

	// the oldest half was evicted once the cache filled
	_, err = r.Seek(cookies[0], io.SeekStart)
	require.Error(t, err)

	_, err = r.Seek(cookies[len(cookies)-1], io.SeekStart)
	require.NoError(t, err)
}

func TestTextLatin1Encoding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latin1.gz")
	w, err := OpenText(path, "wt", WithEncoding("ISO-8859-1"))
	require.NoError(t, err)
	_, err = w.Write("café")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// single-byte encoding on the wire
	rb, err := OpenBinary(path, "rb")
	require.NoError(t, err)
	raw, err := rb.ReadN(-1)
	require.NoError(t, err)
	require.NoError(t, rb.Close())
	assert.Equal(t, []byte{'c', 'a', 'f', 0xe9}, raw)

	r, err := OpenText(path, "rt", WithEncoding("ISO-8859-1"))
	require.NoError(t, err)
	defer r.Close()
	got, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "café", got)
}

func TestTextErrorPolicies(t *testing.T) {
	// invalid UTF-8 payload written through the binary layer
	path := filepath.Join(t.TempDir(), "bad.gz")
	w, err := OpenBinary(path, "wb")
	require.NoError(t, err)
	_, err = w.Write([]byte{'a', 0xff, 'b'})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	t.Run("strict", func(t *testing.T) {
		r, err := OpenText(path, "rt")
		require.NoError(t, err)
		defer r.Close()
		_, err = r.ReadAll()
		require.Error(t, err)
	})

	t.Run("replace", func(t *testing.T) {
		r, err := OpenText(path, "rt", WithErrorPolicy("replace"))
		require.NoError(t, err)
		defer r.Close()
		got, err := r.ReadAll()
		require.NoError(t, err)
		assert.Equal(t, "a�b", got)
	})

	t.Run("ignore", func(t *testing.T) {
		r, err := OpenText(path, "rt", WithErrorPolicy("ignore"))
		require.NoError(t, err)
		defer r.Close()
		got, err := r.ReadAll()
		require.NoError(t, err)
		assert.Equal(t, "ab", got)
	})
}

func TestTextTruncatedSequenceSurfacesOnClose(t *testing.T) {
	// payload ends mid-character: "é" is two bytes, keep only the first
	path := filepath.Join(t.TempDir(), "cut.gz")
	w, err := OpenBinary(path, "wb")
	require.NoError(t, err)
	_, err = w.Write([]byte{'a', 0xc3})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := OpenText(path, "rt", WithChunkSize(16))
	require.NoError(t, err)
	got, err := r.ReadN(1)
	require.NoError(t, err)
	assert.Equal(t, "a", got)
	require.Error(t, r.Close(), "pending bytes never completed")
	require.NoError(t, r.Close(), "second close is a no-op")
}

func TestTextStateErrors(t *testing.T) {
	dir := t.TempDir()

	w, err := OpenText(filepath.Join(dir, "w.gz"), "wt")
	require.NoError(t, err)
	_, err = w.ReadN(1)
	require.ErrorIs(t, err, ErrNotOpenForReading)
	_, err = w.ReadLine(0)
	require.ErrorIs(t, err, ErrNotOpenForReading)
	require.NoError(t, w.Close())
	_, err = w.Write("x")
	require.ErrorIs(t, err, ErrClosed)
	_, err = w.Tell()
	require.ErrorIs(t, err, ErrClosed)

	r, err := OpenText(filepath.Join(dir, "w.gz"), "rt")
	require.NoError(t, err)
	_, err = r.Write("x")
	require.ErrorIs(t, err, ErrNotOpenForWriting)
	require.NoError(t, r.Close())
	_, err = r.ReadN(1)
	require.ErrorIs(t, err, ErrClosed)
}

func TestTextConstructionErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenText(filepath.Join(dir, "x.gz"), "rb")
	require.Error(t, err, "binary mode on text constructor")

	_, err = OpenText(filepath.Join(dir, "x.gz"), "wt", WithEncoding("no-such-encoding"))
	require.Error(t, err)

	_, err = OpenText(filepath.Join(dir, "x.gz"), "wt", WithErrorPolicy("lenient"))
	require.Error(t, err)

	_, err = OpenText(filepath.Join(dir, "x.gz"), "wt", WithNewline("\r\r"))
	require.Error(t, err)

	_, err = OpenText(filepath.Join(dir, "x.gz"), "wt", WithCookieCacheSize(0))
	require.Error(t, err)

	// config errors fire before any bytes hit the target
	_, statErr := os.Stat(filepath.Join(dir, "x.gz"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestTextIntrospection(t *testing.T) {
	path := writeTextFile(t, "x", WithNewline("\r\n"), WithEncoding("ISO-8859-1"), WithErrorPolicy("replace"))

	r, err := OpenText(path, "rt", WithNewline("\r\n"), WithEncoding("ISO-8859-1"), WithErrorPolicy("replace"))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "ISO-8859-1", r.Encoding())
	assert.Equal(t, "replace", r.ErrorPolicy())
	nl, explicit := r.Newline()
	assert.True(t, explicit)
	assert.Equal(t, "\r\n", nl)
	assert.True(t, r.Readable())
	assert.False(t, r.Writable())
	assert.NotNil(t, r.Buffer())
	assert.Equal(t, path, r.Name())
}
