package gzstream

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/hashmap-kz/gzstream/pkg/gzhdr"
	"github.com/hashmap-kz/gzstream/pkg/transport"
)

// chunkSource pulls from the transport in chunkSize units and serves the
// inflate engine. It implements io.ByteReader so flate never reads past
// the end of a deflate stream; whatever is left buffered after a member
// body belongs to the trailer, padding, or the next member.
type chunkSource struct {
	stream    transport.Stream
	chunkSize int
	buf       []byte
	off       int
	eof       bool
	err       error
}

func newChunkSource(s transport.Stream, chunkSize int) *chunkSource {
	return &chunkSource{stream: s, chunkSize: chunkSize}
}

func (c *chunkSource) fill() error {
	if c.off < len(c.buf) {
		return nil
	}
	if c.err != nil {
		return c.err
	}
	if c.eof {
		return io.EOF
	}
	chunk := make([]byte, c.chunkSize)
	for {
		n, err := c.stream.Read(chunk)
		if n > 0 {
			c.buf = chunk[:n]
			c.off = 0
			if err == io.EOF {
				c.eof = true
			} else if err != nil {
				c.err = err
			}
			return nil
		}
		if err == io.EOF {
			c.eof = true
			return io.EOF
		}
		if err != nil {
			c.err = err
			return err
		}
	}
}

func (c *chunkSource) Read(p []byte) (int, error) {
	if err := c.fill(); err != nil {
		return 0, err
	}
	n := copy(p, c.buf[c.off:])
	c.off += n
	return n, nil
}

func (c *chunkSource) ReadByte() (byte, error) {
	if err := c.fill(); err != nil {
		return 0, err
	}
	b := c.buf[c.off]
	c.off++
	return b, nil
}

func (c *chunkSource) UnreadByte() error {
	if c.off == 0 {
		return errors.New("gzstream: no byte to unread")
	}
	c.off--
	return nil
}

// inflator decompresses a possibly multi-member gzip stream into one
// logical payload. Each member's CRC-32 and ISIZE trailer fields are
// verified; zero padding between members is tolerated. Corruption
// anywhere surfaces as ErrBadData, transport failures pass through.
type inflator struct {
	src       *chunkSource
	fr        io.ReadCloser
	digest    uint32
	size      uint32
	header    gzhdr.Header
	hasHeader bool
	inMember  bool
	done      bool
}

func newInflator(s transport.Stream, chunkSize int) *inflator {
	return &inflator{src: newChunkSource(s, chunkSize)}
}

func (z *inflator) Read(p []byte) (int, error) {
	for {
		if z.done {
			return 0, io.EOF
		}
		if !z.inMember {
			if err := z.nextMember(); err != nil {
				if err == io.EOF {
					z.done = true
					return 0, io.EOF
				}
				return 0, err
			}
		}
		n, err := z.fr.Read(p)
		if n > 0 {
			z.digest = crc32.Update(z.digest, crc32.IEEETable, p[:n])
			z.size += uint32(n)
		}
		if err == nil {
			return n, nil
		}
		if err != io.EOF {
			return n, classifyInflateErr(err)
		}
		z.inMember = false
		if terr := z.verifyTrailer(); terr != nil {
			return n, terr
		}
		if n > 0 {
			return n, nil
		}
	}
}

// nextMember positions the source at the start of the next gzip member,
// skipping zero padding, and resets the inflate engine for its body.
func (z *inflator) nextMember() error {
	if z.hasHeader {
		for {
			b, err := z.src.ReadByte()
			if err != nil {
				return err
			}
			if b != 0 {
				_ = z.src.UnreadByte()
				break
			}
		}
	}
	hdr, err := gzhdr.ReadHeader(z.src)
	if err != nil {
		if err == io.EOF {
			return io.EOF
		}
		if err == io.ErrUnexpectedEOF || errors.Is(err, gzhdr.ErrHeader) {
			return badData(err, "gzip member header")
		}
		return err
	}
	if !z.hasHeader {
		z.header = hdr
		z.hasHeader = true
	}
	if z.fr == nil {
		z.fr = flate.NewReader(z.src)
	} else if err := z.fr.(flate.Resetter).Reset(z.src, nil); err != nil {
		return badData(err, "inflate reset")
	}
	z.digest = 0
	z.size = 0
	z.inMember = true
	return nil
}

func (z *inflator) verifyTrailer() error {
	var tr [8]byte
	if _, err := io.ReadFull(z.src, tr[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return badData(err, "truncated gzip trailer")
		}
		return err
	}
	if crc := binary.LittleEndian.Uint32(tr[0:4]); crc != z.digest {
		return badData(nil, "checksum mismatch")
	}
	if isize := binary.LittleEndian.Uint32(tr[4:8]); isize != z.size {
		return badData(nil, "size mismatch")
	}
	return nil
}

// ensureHeader parses the first member header if nothing has been read
// yet, so header fields (mtime, name) can be inspected before data flows.
func (z *inflator) ensureHeader() error {
	if z.hasHeader || z.done {
		return nil
	}
	if err := z.nextMember(); err != nil {
		if err == io.EOF {
			z.done = true
			return nil
		}
		return err
	}
	return nil
}

// classifyInflateErr separates corrupt-data conditions reported by the
// inflate engine from transport failures, which pass through unchanged.
func classifyInflateErr(err error) error {
	var corrupt flate.CorruptInputError
	var internal flate.InternalError
	switch {
	case errors.As(err, &corrupt), errors.As(err, &internal), errors.Is(err, io.ErrUnexpectedEOF):
		return badData(err, "inflate")
	default:
		return err
	}
}
