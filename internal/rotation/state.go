package rotation

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/snehjoshi/nvlog/internal/lfs"
)

// Attribute keys on the metadata file.
const (
	AttrNewest uint8 = 0x01 // u16 LE
	AttrOldest uint8 = 0x02 // u16 LE
	AttrOffset uint8 = 0x03 // u32 LE
	AttrActive uint8 = 0x04 // u16 LE
)

// State is the persisted position of the rotation window.
type State struct {
	NewestFileID      uint16
	OldestFileID      uint16
	ActiveFileCount   uint16
	CurrentFileOffset uint32
}

// Consistent reports whether s satisfies the window invariants for maxFiles:
// ids in range, count at most maxFiles, and newest following oldest by
// count-1 positions when any file is active.
func (s State) Consistent(maxFiles int) bool {
	n := uint16(maxFiles)
	if s.NewestFileID >= n || s.OldestFileID >= n || s.ActiveFileCount > n {
		return false
	}
	if s.ActiveFileCount == 0 {
		return true
	}
	return s.NewestFileID == (s.OldestFileID+s.ActiveFileCount-1)%n
}

func (s State) String() string {
	return fmt.Sprintf("newest=%d oldest=%d active=%d offset=%d",
		s.NewestFileID, s.OldestFileID, s.ActiveFileCount, s.CurrentFileOffset)
}

// ─── Persistence ─────────────────────────────────────────────────────────────

// field is one persisted member of State.
type field struct {
	key  uint8
	name string
	size int
	get  func(*State) uint32
	set  func(*State, uint32)
}

var (
	fieldNewest = field{AttrNewest, "newest", 2,
		func(s *State) uint32 { return uint32(s.NewestFileID) },
		func(s *State, v uint32) { s.NewestFileID = uint16(v) }}
	fieldOldest = field{AttrOldest, "oldest", 2,
		func(s *State) uint32 { return uint32(s.OldestFileID) },
		func(s *State, v uint32) { s.OldestFileID = uint16(v) }}
	fieldOffset = field{AttrOffset, "offset", 4,
		func(s *State) uint32 { return s.CurrentFileOffset },
		func(s *State, v uint32) { s.CurrentFileOffset = v }}
	fieldActive = field{AttrActive, "active", 2,
		func(s *State) uint32 { return uint32(s.ActiveFileCount) },
		func(s *State, v uint32) { s.ActiveFileCount = uint16(v) }}
)

// rotateOrder is the order fields are written after a rotation.
var rotateOrder = []field{fieldActive, fieldNewest, fieldOldest, fieldOffset}

func (f field) encode(s *State) []byte {
	buf := make([]byte, f.size)
	if f.size == 2 {
		binary.LittleEndian.PutUint16(buf, uint16(f.get(s)))
	} else {
		binary.LittleEndian.PutUint32(buf, f.get(s))
	}
	return buf
}

func (f field) decode(buf []byte) uint32 {
	if f.size == 2 {
		return uint32(binary.LittleEndian.Uint16(buf))
	}
	return binary.LittleEndian.Uint32(buf)
}

// loadState reads every field from the metadata file. A missing attribute
// leaves its field at zero; other read errors are returned alongside the
// partially loaded state.
func loadState(fs lfs.FS, file string) (State, error) {
	var s State
	var errs []error
	for _, f := range []field{fieldNewest, fieldOldest, fieldOffset, fieldActive} {
		buf := make([]byte, f.size)
		if _, err := fs.GetAttr(file, f.key, buf); err != nil {
			if !errors.Is(err, lfs.ErrNoAttr) {
				errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			}
			continue
		}
		f.set(&s, f.decode(buf))
	}
	return s, errors.Join(errs...)
}
