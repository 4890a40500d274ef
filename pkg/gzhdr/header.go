// Package gzhdr builds and parses RFC 1952 gzip member headers and trailers.
package gzhdr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
)

// Header field constants (RFC 1952 section 2.3).
const (
	Magic1 = 0x1f
	Magic2 = 0x8b

	MethodDeflate = 8

	FlagText    = 0x01
	FlagHdrCRC  = 0x02
	FlagExtra   = 0x04
	FlagName    = 0x08
	FlagComment = 0x10

	OSUnknown = 255

	levelFast = 1
	levelBest = 9
)

// ErrHeader reports bytes that are not a gzip member header.
var ErrHeader = errors.New("gzhdr: invalid gzip header")

// Header holds the fields of a parsed gzip member header.
type Header struct {
	ModTime time.Time
	Name    string
	Comment string
	OS      byte
}

// BuildHeader emits the fixed 10-byte gzip header, followed by a
// NUL-terminated filename when name is non-empty. A zero modTime falls
// back to the current time. The XFL byte is derived from level
// (best=2, fastest=4, otherwise 0).
func BuildHeader(name []byte, modTime time.Time, level int) []byte {
	hdr := make([]byte, 10, 10+len(name)+1)
	hdr[0] = Magic1
	hdr[1] = Magic2
	hdr[2] = MethodDeflate
	if len(name) > 0 {
		hdr[3] = FlagName
	}
	if modTime.IsZero() {
		modTime = time.Now()
	}
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(modTime.Unix()))
	switch level {
	case levelBest:
		hdr[8] = 2
	case levelFast:
		hdr[8] = 4
	default:
		hdr[8] = 0
	}
	hdr[9] = OSUnknown
	if len(name) > 0 {
		hdr = append(hdr, name...)
		hdr = append(hdr, 0)
	}
	return hdr
}

// BuildTrailer emits the 8-byte gzip trailer: little-endian CRC-32 of the
// uncompressed payload, then the payload size modulo 2^32.
func BuildTrailer(crc, size uint32) []byte {
	trailer := make([]byte, 8)
	binary.LittleEndian.PutUint32(trailer[0:4], crc)
	binary.LittleEndian.PutUint32(trailer[4:8], size)
	return trailer
}

// TryParseMtime attempts to parse the mtime field from however many header
// bytes have arrived so far. complete=false means more bytes are needed to
// get past the variable-length optional fields. complete=true with ok=false
// means the bytes are not a gzip header at all and probing should stop.
func TryParseMtime(data []byte) (mtime time.Time, ok, complete bool) {
	if len(data) < 10 {
		return time.Time{}, false, false
	}
	if data[0] != Magic1 || data[1] != Magic2 || data[2] != MethodDeflate {
		return time.Time{}, false, true
	}

	flags := data[3]
	seconds := binary.LittleEndian.Uint32(data[4:8])
	pos := 10

	if flags&FlagExtra != 0 {
		if len(data) < pos+2 {
			return time.Time{}, false, false
		}
		xlen := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
		pos += 2 + xlen
		if len(data) < pos {
			return time.Time{}, false, false
		}
	}
	if flags&FlagName != 0 {
		term := indexByte(data, 0, pos)
		if term == -1 {
			return time.Time{}, false, false
		}
		pos = term + 1
	}
	if flags&FlagComment != 0 {
		term := indexByte(data, 0, pos)
		if term == -1 {
			return time.Time{}, false, false
		}
		pos = term + 1
	}
	if flags&FlagHdrCRC != 0 {
		if len(data) < pos+2 {
			return time.Time{}, false, false
		}
	}
	return time.Unix(int64(seconds), 0), true, true
}

func indexByte(data []byte, b byte, from int) int {
	for i := from; i < len(data); i++ {
		if data[i] == b {
			return i
		}
	}
	return -1
}

// ReadHeader consumes exactly one gzip member header from r. The reader
// must implement io.ByteReader so no bytes beyond the header are taken.
// A clean io.EOF before the first byte is returned as io.EOF; a header cut
// short anywhere else is io.ErrUnexpectedEOF. Bad magic, method or header
// CRC is ErrHeader.
func ReadHeader(r interface {
	io.Reader
	io.ByteReader
}) (Header, error) {
	hr := headerReader{r: r}

	var fixed [10]byte
	for i := range fixed {
		b, err := hr.readByte()
		if err != nil {
			if i == 0 && err == io.EOF {
				return Header{}, io.EOF
			}
			return Header{}, eofToUnexpected(err)
		}
		fixed[i] = b
	}
	if fixed[0] != Magic1 || fixed[1] != Magic2 {
		return Header{}, fmt.Errorf("%w: bad magic", ErrHeader)
	}
	if fixed[2] != MethodDeflate {
		return Header{}, fmt.Errorf("%w: unknown compression method", ErrHeader)
	}

	hdr := Header{
		ModTime: time.Unix(int64(binary.LittleEndian.Uint32(fixed[4:8])), 0),
		OS:      fixed[9],
	}
	flags := fixed[3]

	if flags&FlagExtra != 0 {
		lo, err := hr.readByte()
		if err != nil {
			return Header{}, eofToUnexpected(err)
		}
		hi, err := hr.readByte()
		if err != nil {
			return Header{}, eofToUnexpected(err)
		}
		xlen := int(lo) | int(hi)<<8
		for i := 0; i < xlen; i++ {
			if _, err := hr.readByte(); err != nil {
				return Header{}, eofToUnexpected(err)
			}
		}
	}
	if flags&FlagName != 0 {
		s, err := hr.readString()
		if err != nil {
			return Header{}, err
		}
		hdr.Name = s
	}
	if flags&FlagComment != 0 {
		s, err := hr.readString()
		if err != nil {
			return Header{}, err
		}
		hdr.Comment = s
	}
	if flags&FlagHdrCRC != 0 {
		want := uint16(hr.digest)
		lo, err := hr.readByte()
		if err != nil {
			return Header{}, eofToUnexpected(err)
		}
		hi, err := hr.readByte()
		if err != nil {
			return Header{}, eofToUnexpected(err)
		}
		if uint16(lo)|uint16(hi)<<8 != want {
			return Header{}, fmt.Errorf("%w: header checksum mismatch", ErrHeader)
		}
	}
	return hdr, nil
}

// headerReader tracks a running CRC-32 of the consumed header bytes for
// FHCRC verification.
type headerReader struct {
	r      io.ByteReader
	digest uint32
}

func (h *headerReader) readByte() (byte, error) {
	b, err := h.r.ReadByte()
	if err != nil {
		return 0, err
	}
	h.digest = crc32.Update(h.digest, crc32.IEEETable, []byte{b})
	return b, nil
}

func (h *headerReader) readString() (string, error) {
	var raw []byte
	for {
		b, err := h.readByte()
		if err != nil {
			return "", eofToUnexpected(err)
		}
		if b == 0 {
			break
		}
		raw = append(raw, b)
	}
	// Field is Latin-1 per RFC 1952.
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw), nil
	}
	return string(s), nil
}

func eofToUnexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// DeriveName derives the FNAME header field: the explicit override when
// given, otherwise the base name of the target path with a trailing ".gz"
// stripped. Names that cannot be encoded as Latin-1 are omitted.
func DeriveName(explicit, fallback string) []byte {
	candidate := explicit
	if candidate == "" {
		candidate = fallback
	}
	if candidate == "" {
		return nil
	}
	base := filepath.Base(candidate)
	base = strings.TrimSuffix(base, ".gz")
	encoded, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(base))
	if err != nil {
		return nil
	}
	return encoded
}
