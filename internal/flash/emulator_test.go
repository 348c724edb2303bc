package flash_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/snehjoshi/nvlog/internal/flash"
)

var testGeo = flash.Geometry{BlockSize: 256, BlockCount: 4, ProgSize: 16}

func newEmulator(t *testing.T) *flash.Emulator {
	t.Helper()
	e, err := flash.NewEmulator(testGeo)
	if err != nil {
		t.Fatalf("NewEmulator: %v", err)
	}
	return e
}

func TestEmulator_StartsErased(t *testing.T) {
	e := newEmulator(t)

	erased, err := flash.IsErased(e, 0, 0, 2)
	if err != nil {
		t.Fatalf("IsErased: %v", err)
	}
	if !erased {
		t.Fatal("fresh device must read as erased")
	}
}

func TestEmulator_ProgramThenRead(t *testing.T) {
	e := newEmulator(t)
	data := bytes.Repeat([]byte{0xA5}, 32)

	if err := e.Program(1, 16, data); err != nil {
		t.Fatalf("Program: %v", err)
	}

	got := make([]byte, 32)
	if err := e.Read(1, 16, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read back %x, want %x", got, data)
	}
}

func TestEmulator_ProgramRequiresWholeUnits(t *testing.T) {
	e := newEmulator(t)

	if err := e.Program(0, 0, make([]byte, 10)); !errors.Is(err, flash.ErrUnaligned) {
		t.Fatalf("partial unit: got %v, want ErrUnaligned", err)
	}
	if err := e.Program(0, 8, make([]byte, 16)); !errors.Is(err, flash.ErrUnaligned) {
		t.Fatalf("unaligned offset: got %v, want ErrUnaligned", err)
	}
}

func TestEmulator_ProgramRequiresErase(t *testing.T) {
	e := newEmulator(t)
	unit := bytes.Repeat([]byte{0x00}, 16)

	if err := e.Program(2, 0, unit); err != nil {
		t.Fatalf("first Program: %v", err)
	}
	if err := e.Program(2, 0, unit); !errors.Is(err, flash.ErrNotErased) {
		t.Fatalf("second Program: got %v, want ErrNotErased", err)
	}

	if err := e.Erase(2); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if err := e.Program(2, 0, unit); err != nil {
		t.Fatalf("Program after erase: %v", err)
	}
}

func TestEmulator_OutOfRange(t *testing.T) {
	e := newEmulator(t)

	if err := e.Read(4, 0, make([]byte, 1)); !errors.Is(err, flash.ErrOutOfRange) {
		t.Fatalf("Read past last block: got %v", err)
	}
	if err := e.Erase(-1); !errors.Is(err, flash.ErrOutOfRange) {
		t.Fatalf("Erase(-1): got %v", err)
	}
	if err := e.Read(0, 250, make([]byte, 16)); !errors.Is(err, flash.ErrOutOfRange) {
		t.Fatalf("Read across block end: got %v", err)
	}
}

func TestProgramPadded_FillsTailWithErasedBytes(t *testing.T) {
	e := newEmulator(t)

	if err := flash.ProgramPadded(e, 0, []byte("abc")); err != nil {
		t.Fatalf("ProgramPadded: %v", err)
	}

	got := make([]byte, 16)
	if err := e.Read(0, 0, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got[:3]) != "abc" {
		t.Fatalf("payload = %q", got[:3])
	}
	for i, b := range got[3:] {
		if b != flash.ErasedByte {
			t.Fatalf("padding byte %d = %#x, want 0xFF", i+3, b)
		}
	}
}

func TestOpenImage_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")

	e, err := flash.OpenImage(path, testGeo)
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	unit := bytes.Repeat([]byte{0x42}, 16)
	if err := e.Program(3, 32, unit); err != nil {
		t.Fatalf("Program: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := flash.OpenImage(path, testGeo)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = e2.Close() })

	got := make([]byte, 16)
	if err := e2.Read(3, 32, got); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, unit) {
		t.Fatalf("after reopen read %x, want %x", got, unit)
	}
	erased, err := flash.IsErased(e2, 0, 0, 2)
	if err != nil {
		t.Fatalf("IsErased: %v", err)
	}
	if !erased {
		t.Fatal("untouched block 0 must still be erased after reopen")
	}
}

func TestGeometry_Validate(t *testing.T) {
	bad := flash.Geometry{BlockSize: 100, BlockCount: 2, ProgSize: 16}
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error when block size is not a multiple of program size")
	}
	if err := testGeo.Validate(); err != nil {
		t.Fatalf("valid geometry rejected: %v", err)
	}
}
