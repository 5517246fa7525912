// Package ramp turns a color.Ramp into an anonymous shared-memory file
// descriptor ready to hand to the compositor via set_gamma.
package ramp

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/gammarelay/gammarelayd/internal/color"
)

// Publish fills an anonymous memfd with c's ramp for the given ramp size
// and returns an fd owning exactly size*6 bytes, laid out as three
// contiguous little-endian uint16 arrays in R, G, B order.
//
// The returned fd's offset is reset to 0 and is ready to be passed
// directly to the compositor; the caller is responsible for closing it
// once the request has been flushed.
func Publish(c color.Color, size int) (fd int, err error) {
	if size <= 0 {
		return -1, fmt.Errorf("ramp: size must be positive, got %d", size)
	}

	buf := make([]byte, size*6)
	r := color.NewRamp(size)
	color.Fill(r, c)
	encode(buf[0:size*2], r.R)
	encode(buf[size*2:size*4], r.G)
	encode(buf[size*4:size*6], r.B)

	memfd, err := unix.MemfdCreate("gammarelayd-ramp", 0)
	if err != nil {
		return -1, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(memfd, int64(len(buf))); err != nil {
		unix.Close(memfd)
		return -1, fmt.Errorf("ftruncate: %w", err)
	}

	mapped, err := unix.Mmap(memfd, 0, len(buf), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(memfd)
		return -1, fmt.Errorf("mmap: %w", err)
	}
	copy(mapped, buf)
	if err := unix.Munmap(mapped); err != nil {
		unix.Close(memfd)
		return -1, fmt.Errorf("munmap: %w", err)
	}

	if _, err := unix.Seek(memfd, 0, 0); err != nil {
		unix.Close(memfd)
		return -1, fmt.Errorf("seek: %w", err)
	}

	return memfd, nil
}

func encode(dst []byte, channel []uint16) {
	for i, v := range channel {
		binary.LittleEndian.PutUint16(dst[i*2:], v)
	}
}
