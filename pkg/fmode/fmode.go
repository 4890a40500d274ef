// Package fmode parses and validates gzip file-mode strings
// ("rb", "wt", "a+", ...) into a structured descriptor.
package fmode

import (
	"errors"
	"fmt"
	"os"
)

// Op is the primary operation encoded in a mode string.
type Op byte

const (
	Read      Op = 'r'
	Write     Op = 'w'
	Append    Op = 'a'
	Exclusive Op = 'x'
)

// Compression levels accepted by the codec. gzip's XFL header byte is
// derived from the level, so "library default" (-1) is not accepted.
const (
	MinLevel = 0
	MaxLevel = 9
)

var ErrInvalidMode = errors.New("fmode: invalid mode")

// Spec is the parsed form of a mode string. Exactly one Op is set, and
// Binary/Text are mutually exclusive.
type Spec struct {
	Op     Op
	Binary bool
	Text   bool
	Plus   bool

	raw string
}

// Parse scans a mode string. Character order is irrelevant; any repeated
// or unknown character is rejected.
func Parse(mode string) (Spec, error) {
	if mode == "" {
		return Spec{}, fmt.Errorf("%w: mode string cannot be empty", ErrInvalidMode)
	}
	s := Spec{raw: mode}
	for _, ch := range mode {
		switch ch {
		case 'r', 'w', 'a', 'x':
			if s.Op != 0 {
				return Spec{}, fmt.Errorf("%w: mode string can only specify one of r, w, a, or x", ErrInvalidMode)
			}
			s.Op = Op(ch)
		case 'b':
			if s.Binary {
				return Spec{}, fmt.Errorf("%w: mode string cannot specify 'b' more than once", ErrInvalidMode)
			}
			s.Binary = true
		case 't':
			if s.Text {
				return Spec{}, fmt.Errorf("%w: mode string cannot specify 't' more than once", ErrInvalidMode)
			}
			s.Text = true
		case '+':
			if s.Plus {
				return Spec{}, fmt.Errorf("%w: mode string cannot include '+' more than once", ErrInvalidMode)
			}
			s.Plus = true
		default:
			return Spec{}, fmt.Errorf("%w: invalid mode character %q", ErrInvalidMode, ch)
		}
	}
	if s.Op == 0 {
		return Spec{}, fmt.Errorf("%w: mode string must include one of 'r', 'w', 'a', or 'x'", ErrInvalidMode)
	}
	if s.Binary && s.Text {
		return Spec{}, fmt.Errorf("%w: mode string cannot include both 'b' and 't'", ErrInvalidMode)
	}
	return s, nil
}

// Writing reports whether the operation produces output ('w', 'a' or 'x').
func (s Spec) Writing() bool {
	return s.Op == Write || s.Op == Append || s.Op == Exclusive
}

// Reading reports whether the operation is 'r'.
func (s Spec) Reading() bool {
	return s.Op == Read
}

// String returns the mode string the Spec was parsed from, or a canonical
// rendering for specs built programmatically.
func (s Spec) String() string {
	if s.raw != "" {
		return s.raw
	}
	out := string(rune(s.Op))
	if s.Binary {
		out += "b"
	}
	if s.Text {
		out += "t"
	}
	if s.Plus {
		out += "+"
	}
	return out
}

// AsBinary returns the binary sub-mode used for the stream a text layer
// wraps ("rt+" -> "rb+").
func (s Spec) AsBinary() Spec {
	return Spec{Op: s.Op, Binary: true, Plus: s.Plus}
}

// OSFlags maps the spec onto os.OpenFile flags for a local file transport.
func (s Spec) OSFlags() int {
	var access int
	if s.Plus {
		access = os.O_RDWR
	} else if s.Writing() {
		access = os.O_WRONLY
	} else {
		access = os.O_RDONLY
	}
	switch s.Op {
	case Write:
		return access | os.O_CREATE | os.O_TRUNC
	case Append:
		return access | os.O_CREATE | os.O_APPEND
	case Exclusive:
		return access | os.O_CREATE | os.O_EXCL
	default:
		return access
	}
}

// ValidateChunkSize fails unless the transport read granularity is
// strictly positive.
func ValidateChunkSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", n)
	}
	return nil
}

// ValidateLevel fails unless the compression level is within [0, 9].
func ValidateLevel(level int) error {
	if level < MinLevel || level > MaxLevel {
		return fmt.Errorf("compression level must be between %d and %d, got %d", MinLevel, MaxLevel, level)
	}
	return nil
}
