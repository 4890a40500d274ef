package transport

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/hashmap-kz/gzstream/pkg/fmode"
	"github.com/hashmap-kz/gzstream/pkg/fsync"
)

// File is the local-filesystem transport. It maps the parsed mode onto
// os.OpenFile flags and optionally fsyncs on Flush/Close for durability.
type File struct {
	f            *os.File
	writing      bool
	fsyncEnabled bool
}

var _ Stream = &File{}

// OpenFile opens path according to spec. With enableFsync, Flush fsyncs
// the handle and Close additionally fsyncs the parent directory.
func OpenFile(path string, spec fmode.Spec, enableFsync bool) (*File, error) {
	f, err := os.OpenFile(path, spec.OSFlags(), 0o644)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("transport: opened file %s (mode=%s)", path, spec.String())
	return &File{f: f, writing: spec.Writing() || spec.Plus, fsyncEnabled: enableFsync}, nil
}

func (t *File) Read(p []byte) (int, error)  { return t.f.Read(p) }
func (t *File) Write(p []byte) (int, error) { return t.f.Write(p) }

func (t *File) Seek(offset int64, whence int) (int64, error) {
	return t.f.Seek(offset, whence)
}

func (t *File) Flush() error {
	if !t.fsyncEnabled || !t.writing {
		return nil
	}
	return fsync.Fsync(t.f)
}

func (t *File) Close() error {
	if t.fsyncEnabled && t.writing {
		if err := fsync.Fsync(t.f); err != nil {
			_ = t.f.Close()
			return err
		}
		if err := fsync.FsyncDir(filepath.Dir(t.f.Name())); err != nil {
			_ = t.f.Close()
			return err
		}
	}
	return t.f.Close()
}

func (t *File) Fd() uintptr  { return t.f.Fd() }
func (t *File) Name() string { return t.f.Name() }
