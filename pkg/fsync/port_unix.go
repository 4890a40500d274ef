//go:build !windows
// +build !windows

// Package fsync provides the durability primitives used by the file
// transport when a stream is opened with fsync enabled.
package fsync

import (
	"fmt"
	"os"
	"syscall"
)

func Fsync(f *os.File) error {
	return syscall.Fsync(int(f.Fd()))
}

// FsyncDir fsyncs dir contents, making a freshly created file durable.
func FsyncDir(dirPath string) error {
	d, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("cannot open dir %s: %w", dirPath, err)
	}
	if err := Fsync(d); err != nil {
		_ = d.Close()
		return fmt.Errorf("cannot fsync dir %s: %w", dirPath, err)
	}
	return d.Close()
}
