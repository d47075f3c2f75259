//go:build !unix

package wal

import "os"

// fdatasync falls back to File.Sync on platforms without a dedicated
// data-only sync syscall exposed via golang.org/x/sys/unix.
func fdatasync(file *os.File) error {
	return file.Sync()
}
