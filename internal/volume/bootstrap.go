// Package volume brings flash volumes to a mounted state.
//
// Mount implements the boot sequence every volume goes through: a medium
// whose sentinel bytes read erased is formatted before the first mount, and a
// failed mount is answered with exactly one reformat-and-remount. Open
// assembles a host volume (emulated device, adapter, directory lock) from
// config and runs Mount on it.
package volume

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/snehjoshi/nvlog/internal/flash"
	"github.com/snehjoshi/nvlog/internal/lfs"
)

// SentinelSize is how many leading bytes of block 0 are checked for the
// erased pattern.
const SentinelSize = 2

// ErrFatal is returned when a volume still cannot be mounted after the
// reformat retry. The volume is unusable for the rest of the process.
var ErrFatal = errors.New("volume: unrecoverable mount failure")

// Mount formats fs if the sentinel bytes of dev read erased, then mounts it.
// If mounting fails, the volume is reformatted and mounted once more; a
// second failure yields ErrFatal. On success the volume id is returned.
func Mount(dev flash.Device, fs lfs.FS, logger *slog.Logger) (lfs.VolumeID, error) {
	if logger == nil {
		logger = slog.Default()
	}

	blank, err := flash.IsErased(dev, 0, 0, SentinelSize)
	if err != nil {
		return "", fmt.Errorf("volume: read sentinel: %w: %w", ErrFatal, err)
	}
	if blank {
		logger.Info("blank medium, formatting")
		if err := fs.Format(); err != nil {
			// The mount below fails and takes the retry path.
			logger.Warn("format failed", "err", err)
		}
	}

	if err := fs.Mount(); err != nil {
		logger.Warn("mount failed, reformatting", "err", err)
		if err := fs.Format(); err != nil {
			logger.Error("reformat failed", "err", err)
			return "", fmt.Errorf("volume: reformat: %w: %w", ErrFatal, err)
		}
		if err := fs.Mount(); err != nil {
			logger.Error("remount failed", "err", err)
			return "", fmt.Errorf("volume: remount: %w: %w", ErrFatal, err)
		}
	}

	id, err := lfs.ReadSuperblock(dev)
	if err != nil {
		return "", fmt.Errorf("volume: read volume id: %w", err)
	}
	logger.Info("volume mounted", "volume_id", id)
	return id, nil
}
