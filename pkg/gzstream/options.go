package gzstream

import (
	"fmt"
	"time"

	"github.com/hashmap-kz/gzstream/pkg/fmode"
	"github.com/hashmap-kz/gzstream/pkg/textcodec"
)

const (
	// DefaultChunkSize is the transport read granularity.
	DefaultChunkSize = 64 << 10

	// DefaultLevel is the compression level used when none is given.
	DefaultLevel = 6

	// DefaultCookieCacheSize bounds the text-mode seek cookie cache.
	DefaultCookieCacheSize = 1000
)

type config struct {
	chunkSize       int
	level           int
	modTime         time.Time
	headerName      string
	ownStream       bool
	ownStreamSet    bool
	cookieCacheSize int
	encoding        string
	errorPolicy     string
	newline         *string
	fsyncEnabled    bool

	// names of text-only options that were applied, so binary
	// constructors can reject them
	textOnly []string
}

func newConfig() *config {
	return &config{
		chunkSize:       DefaultChunkSize,
		level:           DefaultLevel,
		cookieCacheSize: DefaultCookieCacheSize,
	}
}

func (c *config) apply(opts []Option) *config {
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *config) validate() error {
	if err := fmode.ValidateChunkSize(c.chunkSize); err != nil {
		return fmt.Errorf("gzstream: %w", err)
	}
	if err := fmode.ValidateLevel(c.level); err != nil {
		return fmt.Errorf("gzstream: %w", err)
	}
	return nil
}

func (c *config) rejectTextOnly() error {
	if len(c.textOnly) > 0 {
		return fmt.Errorf("gzstream: option %s only applies to text mode", c.textOnly[0])
	}
	return nil
}

func (c *config) markText(name string) {
	c.textOnly = append(c.textOnly, name)
}

// Option configures a stream at construction time. Validation happens in
// the constructor, not in the option itself.
type Option func(*config)

// WithChunkSize sets the transport read granularity in bytes.
func WithChunkSize(n int) Option {
	return func(c *config) { c.chunkSize = n }
}

// WithLevel sets the compression level (0-9, write mode).
func WithLevel(level int) Option {
	return func(c *config) { c.level = level }
}

// WithModTime sets an explicit header mtime instead of the current time.
func WithModTime(t time.Time) Option {
	return func(c *config) { c.modTime = t }
}

// WithHeaderName overrides the filename recorded in the gzip header.
func WithHeaderName(name string) Option {
	return func(c *config) { c.headerName = name }
}

// WithOwnedTransport controls whether Close propagates to an externally
// supplied transport. Streams that open their own transport always own it.
func WithOwnedTransport(own bool) Option {
	return func(c *config) {
		c.ownStream = own
		c.ownStreamSet = true
	}
}

// WithFsync makes a file transport fsync on Flush and Close.
func WithFsync(enabled bool) Option {
	return func(c *config) { c.fsyncEnabled = enabled }
}

// WithCookieCacheSize bounds the text-mode seek cookie cache. Text mode only.
func WithCookieCacheSize(n int) Option {
	return func(c *config) {
		c.cookieCacheSize = n
		c.markText("WithCookieCacheSize")
	}
}

// WithEncoding sets the text encoding by IANA name. Text mode only;
// defaults to UTF-8.
func WithEncoding(name string) Option {
	return func(c *config) {
		c.encoding = name
		c.markText("WithEncoding")
	}
}

// WithErrorPolicy sets how undecodable or unencodable text is handled:
// "strict" (default), "replace" or "ignore". Text mode only.
func WithErrorPolicy(policy string) Option {
	return func(c *config) {
		c.errorPolicy = policy
		c.markText("WithErrorPolicy")
	}
}

// WithNewline sets an explicit newline mode: "" disables translation,
// "\n", "\r" or "\r\n" translate literally. Without this option newlines
// are universal: normalized to \n on read, platform separator on write.
// Text mode only.
func WithNewline(nl string) Option {
	return func(c *config) {
		v := nl
		c.newline = &v
		c.markText("WithNewline")
	}
}

func (c *config) textPolicy() (textcodec.Policy, error) {
	p, err := textcodec.ParsePolicy(c.errorPolicy)
	if err != nil {
		return "", fmt.Errorf("gzstream: %w", err)
	}
	return p, nil
}
