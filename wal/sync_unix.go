//go:build unix

package wal

import (
	"os"

	"golang.org/x/sys/unix"
)

// fdatasync durably persists file, flushing data but not necessarily
// metadata, the cheaper durability primitive the WAL actually needs.
func fdatasync(file *os.File) error {
	return unix.Fdatasync(int(file.Fd()))
}
