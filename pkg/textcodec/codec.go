// Package textcodec provides incremental text decoding and encoding for the
// gzip text layer. The decoder buffers partial multi-byte sequences across
// chunk boundaries and exposes its pending state as a snapshot, so a text
// stream can save and restore decode positions for seek cookies.
package textcodec

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Policy selects how undecodable or unencodable input is handled.
type Policy string

const (
	Strict  Policy = "strict"
	Replace Policy = "replace"
	Ignore  Policy = "ignore"
)

const replacementChar = "�"

// ParsePolicy validates a policy name, defaulting empty to Strict.
func ParsePolicy(name string) (Policy, error) {
	switch Policy(name) {
	case "":
		return Strict, nil
	case Strict, Replace, Ignore:
		return Policy(name), nil
	default:
		return "", fmt.Errorf("textcodec: unknown error policy %q", name)
	}
}

// Lookup resolves an encoding name (IANA registry plus common aliases).
// Empty name means UTF-8.
func Lookup(name string) (encoding.Encoding, error) {
	normalized := strings.ToLower(strings.ReplaceAll(name, "_", "-"))
	switch normalized {
	case "", "utf8", "utf-8":
		return unicode.UTF8, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("textcodec: unknown encoding %q", name)
	}
	return enc, nil
}

// State is a restorable decoder snapshot: the bytes of an incomplete
// trailing sequence plus a flag recording whether any input was consumed
// yet. Encodings whose decoder keeps hidden state beyond pending bytes
// (BOM-policy UTF-16) restore approximately: the byte-order decision made
// at stream start is not replayed.
type State struct {
	Pending []byte
	Primed  bool
}

// Decoder converts a byte stream to text incrementally.
type Decoder struct {
	enc     encoding.Encoding
	t       transform.Transformer
	isUTF8  bool
	policy  Policy
	pending []byte
	primed  bool
}

func NewDecoder(enc encoding.Encoding, policy Policy) *Decoder {
	return &Decoder{
		enc:    enc,
		t:      enc.NewDecoder().Transformer,
		isUTF8: enc == unicode.UTF8,
		policy: policy,
	}
}

// Decode appends p to any pending bytes and returns the decoded text.
// Incomplete trailing sequences are retained for the next call unless
// final is set, in which case they are resolved per the policy.
func (d *Decoder) Decode(p []byte, final bool) (string, error) {
	if len(p) > 0 {
		d.primed = true
	}
	if d.isUTF8 {
		return d.decodeUTF8(p, final)
	}
	return d.decodeTransform(p, final)
}

func (d *Decoder) decodeUTF8(p []byte, final bool) (string, error) {
	in := p
	if len(d.pending) > 0 {
		in = append(d.pending, p...)
		d.pending = nil
	}
	if !final {
		if tail := incompleteTailLen(in); tail > 0 {
			d.pending = append([]byte(nil), in[len(in)-tail:]...)
			in = in[:len(in)-tail]
		}
	}
	if len(in) == 0 {
		return "", nil
	}
	if utf8.Valid(in) {
		return string(in), nil
	}
	switch d.policy {
	case Replace:
		return strings.ToValidUTF8(string(in), replacementChar), nil
	case Ignore:
		return strings.ToValidUTF8(string(in), ""), nil
	default:
		return "", fmt.Errorf("textcodec: invalid UTF-8 input")
	}
}

func (d *Decoder) decodeTransform(p []byte, final bool) (string, error) {
	src := p
	if len(d.pending) > 0 {
		src = append(d.pending, p...)
		d.pending = nil
	}
	if len(src) == 0 && !final {
		return "", nil
	}

	var out []byte
	dst := make([]byte, len(src)*3+utf8.UTFMax)
	for {
		nDst, nSrc, err := d.t.Transform(dst, src, final)
		out = append(out, dst[:nDst]...)
		src = src[nSrc:]
		switch err {
		case nil:
			if len(src) > 0 && !final {
				d.pending = append([]byte(nil), src...)
			}
		case transform.ErrShortDst:
			continue
		case transform.ErrShortSrc:
			if !final {
				d.pending = append([]byte(nil), src...)
				err = nil
			}
		}
		if err != nil {
			return "", fmt.Errorf("textcodec: decode: %w", err)
		}
		break
	}
	return d.applyReadPolicy(string(out))
}

// x/text decoders substitute U+FFFD for undecodable input instead of
// failing, so the strict policy surfaces a produced replacement char as
// the decode error.
func (d *Decoder) applyReadPolicy(s string) (string, error) {
	if !strings.Contains(s, replacementChar) {
		return s, nil
	}
	switch d.policy {
	case Replace:
		return s, nil
	case Ignore:
		return strings.ReplaceAll(s, replacementChar, ""), nil
	default:
		return "", fmt.Errorf("textcodec: undecodable input for encoding")
	}
}

// Pending reports whether a partial multi-byte sequence is buffered.
func (d *Decoder) Pending() bool {
	return len(d.pending) > 0
}

// State snapshots the decoder for later Restore.
func (d *Decoder) State() State {
	return State{
		Pending: append([]byte(nil), d.pending...),
		Primed:  d.primed,
	}
}

// Restore resets the decoder to a snapshot taken by State.
func (d *Decoder) Restore(s State) {
	d.t = d.enc.NewDecoder().Transformer
	d.pending = append([]byte(nil), s.Pending...)
	d.primed = s.Primed
}

// Reset returns the decoder to its start-of-stream state.
func (d *Decoder) Reset() {
	d.t = d.enc.NewDecoder().Transformer
	d.pending = nil
	d.primed = false
}

// incompleteTailLen returns the length of an incomplete UTF-8 sequence at
// the end of b, or 0 when b ends on a rune boundary (or on bytes that can
// never complete, which are left for validation).
func incompleteTailLen(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < 0x80 {
			return 0
		}
		if c >= 0xC0 {
			need := seqLen(c)
			if need > i {
				return i
			}
			return 0
		}
		// continuation byte, keep scanning backwards
	}
	return 0
}

func seqLen(start byte) int {
	switch {
	case start >= 0xF0:
		return 4
	case start >= 0xE0:
		return 3
	case start >= 0xC0:
		return 2
	default:
		return 0
	}
}

// Encoder converts text to the configured encoding.
type Encoder struct {
	enc    encoding.Encoding
	isUTF8 bool
	policy Policy
}

func NewEncoder(enc encoding.Encoding, policy Policy) *Encoder {
	return &Encoder{enc: enc, isUTF8: enc == unicode.UTF8, policy: policy}
}

func (e *Encoder) Encode(s string) ([]byte, error) {
	if e.isUTF8 {
		if utf8.ValidString(s) {
			return []byte(s), nil
		}
		switch e.policy {
		case Replace:
			return []byte(strings.ToValidUTF8(s, replacementChar)), nil
		case Ignore:
			return []byte(strings.ToValidUTF8(s, "")), nil
		default:
			return nil, fmt.Errorf("textcodec: string contains invalid UTF-8")
		}
	}

	encoder := e.enc.NewEncoder()
	if e.policy == Replace {
		encoder = encoding.ReplaceUnsupported(encoder)
	}
	out, err := encoder.Bytes([]byte(s))
	if err == nil {
		return out, nil
	}
	if e.policy != Ignore {
		return nil, fmt.Errorf("textcodec: encode: %w", err)
	}
	// Ignore policy: encode rune by rune, skipping unsupported ones.
	var buf []byte
	for _, r := range s {
		b, rerr := e.enc.NewEncoder().Bytes([]byte(string(r)))
		if rerr != nil {
			continue
		}
		buf = append(buf, b...)
	}
	return buf, nil
}
