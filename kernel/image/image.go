// Package image names the guest-kernel-image contract spec.md §1 places out
// of scope: the FAT32 reader that opens a file on the SD card's boot
// partition. proc.Process.Load consumes a Reader to stream the guest image
// into stage-2 memory; it never knows or cares what filesystem produced it.
package image

import "io"

// Reader is the io.Reader-shaped contract a concrete FAT32 file satisfies.
// Process.Load reads it to EOF, one page at a time.
type Reader interface {
	io.Reader
}
