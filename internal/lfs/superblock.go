package lfs

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/snehjoshi/nvlog/internal/flash"
)

// superblockMagic opens block 0 of every formatted volume.
// Increment superblockVersion if the layout ever changes; old volumes are
// then rejected by Mount and reformatted by bootstrap.
var superblockMagic = [8]byte{'n', 'v', 'l', 'o', 'g', 'f', 's', 0}

const superblockVersion uint16 = 1

// superblockSize: magic(8) + version(2) + volumeID(16) + crc(4).
const superblockSize = 8 + 2 + 16 + 4

// VolumeID is a ULID stamped into the superblock at format time. It is stable
// for the life of the volume and changes on every reformat.
type VolumeID string

func (id VolumeID) String() string { return string(id) }

// monoEntropy is shared so IDs generated within the same millisecond stay
// ordered.
var (
	monoMu      sync.Mutex
	monoEntropy io.Reader = ulid.Monotonic(rand.Reader, 0)
)

func newVolumeID() (ulid.ULID, error) {
	monoMu.Lock()
	defer monoMu.Unlock()
	return ulid.New(ulid.Timestamp(time.Now()), monoEntropy)
}

// WriteSuperblock erases block 0 of dev and programs a fresh superblock.
func WriteSuperblock(dev flash.Device) (VolumeID, error) {
	id, err := newVolumeID()
	if err != nil {
		return "", fmt.Errorf("lfs: generate volume id: %w", err)
	}

	buf := make([]byte, 0, superblockSize)
	buf = append(buf, superblockMagic[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, superblockVersion)
	buf = append(buf, id[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))

	if err := dev.Erase(0); err != nil {
		return "", fmt.Errorf("lfs: erase superblock: %w", err)
	}
	if err := flash.ProgramPadded(dev, 0, buf); err != nil {
		return "", fmt.Errorf("lfs: program superblock: %w", err)
	}
	if err := dev.Sync(); err != nil {
		return "", fmt.Errorf("lfs: sync superblock: %w", err)
	}
	return VolumeID(id.String()), nil
}

// ReadSuperblock validates block 0 of dev and returns the volume id.
// A blank, foreign, or damaged superblock yields ErrCorrupt.
func ReadSuperblock(dev flash.Device) (VolumeID, error) {
	buf := make([]byte, superblockSize)
	if err := dev.Read(0, 0, buf); err != nil {
		return "", fmt.Errorf("lfs: read superblock: %w", err)
	}
	if !bytes.Equal(buf[:8], superblockMagic[:]) {
		return "", fmt.Errorf("lfs: bad superblock magic: %w", ErrCorrupt)
	}

	stored := binary.LittleEndian.Uint32(buf[superblockSize-4:])
	if computed := crc32.ChecksumIEEE(buf[:superblockSize-4]); stored != computed {
		return "", fmt.Errorf("lfs: superblock checksum mismatch (stored=%x computed=%x): %w",
			stored, computed, ErrCorrupt)
	}
	if v := binary.LittleEndian.Uint16(buf[8:]); v != superblockVersion {
		return "", fmt.Errorf("lfs: unsupported superblock version %d: %w", v, ErrCorrupt)
	}

	var id ulid.ULID
	copy(id[:], buf[10:26])
	return VolumeID(id.String()), nil
}
