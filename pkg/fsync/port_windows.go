//go:build windows
// +build windows

package fsync

import (
	"os"
	"syscall"
)

func Fsync(f *os.File) error {
	return syscall.FlushFileBuffers(syscall.Handle(f.Fd()))
}

// FsyncDir is a no-op on Windows; directory handles cannot be flushed.
func FsyncDir(dirPath string) error {
	return nil
}
