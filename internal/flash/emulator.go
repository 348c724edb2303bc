package flash

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Emulator is an in-memory NOR flash with an optional backing image file.
//
// Each program unit is written inside its own critical section so a single
// unit can never be torn by a concurrent caller. Multi-unit programs and
// multi-call sequences are not atomic, exactly like the hardware.
type Emulator struct {
	geo  Geometry
	cs   sync.Mutex // held around one program unit, one erase, or one read
	mem  []byte
	file *os.File // nil for a RAM-only device
}

// Ensure Emulator satisfies the interface at compile time.
var _ Device = (*Emulator)(nil)

// NewEmulator returns a RAM-only device with every cell erased.
func NewEmulator(geo Geometry) (*Emulator, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	mem := make([]byte, geo.Size())
	for i := range mem {
		mem[i] = ErasedByte
	}
	return &Emulator{geo: geo, mem: mem}, nil
}

// OpenImage opens (or creates) a device image at path. A new or short image
// is extended with erased cells. Programs and erases are written through to
// the file; Sync flushes it.
func OpenImage(path string, geo Geometry) (*Emulator, error) {
	e, err := NewEmulator(geo)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, fmt.Errorf("flash: open image %s: %w", path, err)
	}

	n, err := io.ReadFull(f, e.mem)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		_ = f.Close()
		return nil, fmt.Errorf("flash: read image %s: %w", path, err)
	}
	if n < len(e.mem) {
		// Fresh or truncated image: the unread tail keeps its erased value.
		if _, err := f.WriteAt(e.mem[n:], int64(n)); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("flash: extend image %s: %w", path, err)
		}
	}

	e.file = f
	return e, nil
}

// Geometry returns the device layout.
func (e *Emulator) Geometry() Geometry { return e.geo }

// Read copies len(buf) bytes at block/off into buf.
func (e *Emulator) Read(block, off int, buf []byte) error {
	addr, err := e.addr(block, off, len(buf))
	if err != nil {
		return err
	}
	e.cs.Lock()
	copy(buf, e.mem[addr:addr+len(buf)])
	e.cs.Unlock()
	return nil
}

// Program writes buf at block/off one program unit at a time.
func (e *Emulator) Program(block, off int, buf []byte) error {
	if len(buf) == 0 {
		return fmt.Errorf("flash: empty program: %w", ErrUnaligned)
	}
	unit := e.geo.ProgSize
	if off%unit != 0 || len(buf)%unit != 0 {
		return fmt.Errorf("flash: program %d bytes at offset %d: %w", len(buf), off, ErrUnaligned)
	}
	addr, err := e.addr(block, off, len(buf))
	if err != nil {
		return err
	}

	for i := 0; i < len(buf); i += unit {
		if err := e.programUnit(addr+i, buf[i:i+unit]); err != nil {
			return err
		}
	}
	return nil
}

// programUnit writes exactly one program unit inside the critical section.
func (e *Emulator) programUnit(addr int, unit []byte) error {
	e.cs.Lock()
	defer e.cs.Unlock()

	for i := range unit {
		if e.mem[addr+i] != ErasedByte {
			return fmt.Errorf("flash: program at 0x%x: %w", addr+i, ErrNotErased)
		}
	}
	copy(e.mem[addr:], unit)

	if e.file != nil {
		if _, err := e.file.WriteAt(unit, int64(addr)); err != nil {
			return fmt.Errorf("flash: write image at 0x%x: %w", addr, err)
		}
	}
	return nil
}

// Erase resets block to ErasedByte.
func (e *Emulator) Erase(block int) error {
	addr, err := e.addr(block, 0, e.geo.BlockSize)
	if err != nil {
		return err
	}

	e.cs.Lock()
	defer e.cs.Unlock()

	region := e.mem[addr : addr+e.geo.BlockSize]
	for i := range region {
		region[i] = ErasedByte
	}
	if e.file != nil {
		if _, err := e.file.WriteAt(region, int64(addr)); err != nil {
			return fmt.Errorf("flash: erase image block %d: %w", block, err)
		}
	}
	return nil
}

// Sync flushes the backing image, if any.
func (e *Emulator) Sync() error {
	if e.file == nil {
		return nil
	}
	return e.file.Sync()
}

// Close syncs and closes the backing image. RAM-only devices ignore it.
func (e *Emulator) Close() error {
	if e.file == nil {
		return nil
	}
	if err := e.file.Sync(); err != nil {
		return fmt.Errorf("flash: sync on close: %w", err)
	}
	err := e.file.Close()
	e.file = nil
	return err
}

func (e *Emulator) addr(block, off, n int) (int, error) {
	if block < 0 || block >= e.geo.BlockCount || off < 0 || n < 0 || off+n > e.geo.BlockSize {
		return 0, fmt.Errorf("flash: block %d offset %d len %d: %w", block, off, n, ErrOutOfRange)
	}
	return block*e.geo.BlockSize + off, nil
}
