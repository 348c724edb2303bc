// Package flash defines the block-device contract the filesystem adapters sit
// on, plus a NOR-flash emulator that honours the same rules real parts do:
// reads anywhere, programs only in whole program units onto erased cells, and
// erases a whole block back to 0xFF.
package flash

import (
	"errors"
	"fmt"
)

// ErasedByte is the value every cell holds after an erase.
const ErasedByte = 0xFF

var (
	// ErrOutOfRange is returned when a block or offset falls outside the device.
	ErrOutOfRange = errors.New("flash: address out of range")

	// ErrUnaligned is returned when a program is not a whole number of
	// program units or does not start on a unit boundary.
	ErrUnaligned = errors.New("flash: program not aligned to program unit")

	// ErrNotErased is returned when a program targets cells that were not
	// erased first.
	ErrNotErased = errors.New("flash: program over non-erased cells")
)

// Geometry describes the physical layout of a device.
type Geometry struct {
	// BlockSize is the erase granularity in bytes.
	BlockSize int
	// BlockCount is the number of erase blocks.
	BlockCount int
	// ProgSize is the program unit in bytes. Every program is a multiple of it.
	ProgSize int
}

// Size returns the total capacity of the device in bytes.
func (g Geometry) Size() int { return g.BlockSize * g.BlockCount }

// Validate reports whether the geometry is usable.
func (g Geometry) Validate() error {
	if g.BlockSize <= 0 || g.BlockCount <= 0 || g.ProgSize <= 0 {
		return fmt.Errorf("flash: geometry %+v must be positive", g)
	}
	if g.BlockSize%g.ProgSize != 0 {
		return fmt.Errorf("flash: block size %d is not a multiple of program size %d",
			g.BlockSize, g.ProgSize)
	}
	return nil
}

// Device is a block-addressed flash medium.
//
// Callers guarantee erase-before-program. Every call blocks until the
// operation completes; there is no cancellation.
type Device interface {
	// Read copies len(buf) bytes starting at block/off into buf.
	Read(block, off int, buf []byte) error

	// Program writes buf at block/off. len(buf) and off must be multiples of
	// Geometry().ProgSize and the target cells must be erased.
	Program(block, off int, buf []byte) error

	// Erase resets a whole block to ErasedByte.
	Erase(block int) error

	// Sync flushes any buffered state to the medium.
	Sync() error

	// Geometry returns the device layout.
	Geometry() Geometry
}

// IsErased reports whether n bytes at block/off all read as ErasedByte.
// It is how bootstrap decides that a medium has never been formatted.
func IsErased(dev Device, block, off, n int) (bool, error) {
	buf := make([]byte, n)
	if err := dev.Read(block, off, buf); err != nil {
		return false, err
	}
	for _, b := range buf {
		if b != ErasedByte {
			return false, nil
		}
	}
	return true, nil
}

// ProgramPadded programs data at the start of block, padding the tail of the
// last program unit with ErasedByte so that arbitrary-length payloads can be
// written without violating the program-unit rule.
func ProgramPadded(dev Device, block int, data []byte) error {
	unit := dev.Geometry().ProgSize
	n := (len(data) + unit - 1) / unit * unit
	buf := make([]byte, n)
	copy(buf, data)
	for i := len(data); i < n; i++ {
		buf[i] = ErasedByte
	}
	return dev.Program(block, 0, buf)
}
