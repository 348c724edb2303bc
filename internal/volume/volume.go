package volume

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/juju/fslock"
	"github.com/spf13/afero"

	"github.com/snehjoshi/nvlog/internal/config"
	"github.com/snehjoshi/nvlog/internal/flash"
	"github.com/snehjoshi/nvlog/internal/lfs"
	"github.com/snehjoshi/nvlog/internal/lfs/aferofs"
	"github.com/snehjoshi/nvlog/internal/lfs/boltfs"
	"github.com/snehjoshi/nvlog/internal/lfs/pebblefs"
)

// File names inside a volume directory.
const (
	lockFile  = "LOCK"
	imageFile = "flash.img"
	boltFile  = "volume.db"
	pebbleDir = "pebble"
	treeDir   = "fs"
)

// ErrLocked is returned by Open when another process holds the volume.
var ErrLocked = errors.New("volume: locked by another process")

// Volume is a mounted flash volume ready for the rotation manager and the
// parameter store.
type Volume struct {
	Name string
	ID   lfs.VolumeID
	FS   lfs.FS
	Dev  flash.Device

	lock    *fslock.Lock
	closers []io.Closer // closed in reverse order
}

// Open assembles the volume called name from vc and mounts it. Host-backed
// volumes live in dataDir/name and are locked for the life of the Volume.
func Open(name string, vc config.VolumeConfig, dataDir string, logger *slog.Logger) (*Volume, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("volume", name)

	geo := flash.Geometry{BlockSize: vc.BlockSize, BlockCount: vc.BlockCount, ProgSize: vc.ProgSize}
	if err := geo.Validate(); err != nil {
		return nil, fmt.Errorf("volume %s: %w", name, err)
	}

	v := &Volume{Name: name}
	ok := false
	defer func() {
		if !ok {
			v.release()
		}
	}()

	if vc.Backend == config.BackendMem {
		dev, err := flash.NewEmulator(geo)
		if err != nil {
			return nil, fmt.Errorf("volume %s: %w", name, err)
		}
		v.Dev = dev
		v.FS = aferofs.New(afero.NewMemMapFs(), dev)
	} else {
		dir := filepath.Join(dataDir, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("volume %s: create dir: %w", name, err)
		}

		lock := fslock.New(filepath.Join(dir, lockFile))
		if err := lock.TryLock(); err != nil {
			if errors.Is(err, fslock.ErrLocked) {
				return nil, fmt.Errorf("volume %s: %w", name, ErrLocked)
			}
			return nil, fmt.Errorf("volume %s: lock: %w", name, err)
		}
		v.lock = lock

		dev, err := flash.OpenImage(filepath.Join(dir, imageFile), geo)
		if err != nil {
			return nil, fmt.Errorf("volume %s: %w", name, err)
		}
		v.Dev = dev
		v.closers = append(v.closers, dev)

		fs, closer, err := openBackend(vc.Backend, dir, dev)
		if err != nil {
			return nil, fmt.Errorf("volume %s: %w", name, err)
		}
		v.FS = fs
		if closer != nil {
			v.closers = append(v.closers, closer)
		}
	}

	id, err := Mount(v.Dev, v.FS, logger)
	if err != nil {
		return nil, fmt.Errorf("volume %s: %w", name, err)
	}
	v.ID = id
	ok = true
	return v, nil
}

func openBackend(b config.Backend, dir string, dev flash.Device) (lfs.FS, io.Closer, error) {
	switch b {
	case config.BackendDir:
		root := filepath.Join(dir, treeDir)
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create tree: %w", err)
		}
		return aferofs.New(afero.NewBasePathFs(afero.NewOsFs(), root), dev), nil, nil
	case config.BackendBolt:
		fs, err := boltfs.Open(filepath.Join(dir, boltFile), dev)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil
	case config.BackendPebble:
		fs, err := pebblefs.Open(pebblefs.Options{Dir: filepath.Join(dir, pebbleDir)}, dev)
		if err != nil {
			return nil, nil, err
		}
		return fs, fs, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", b)
	}
}

// Close unmounts the volume and releases its files and lock.
func (v *Volume) Close() error {
	var errs []error
	if v.FS != nil {
		if err := v.FS.Unmount(); err != nil {
			errs = append(errs, fmt.Errorf("unmount: %w", err))
		}
	}
	if err := v.release(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("volume %s: close: %w", v.Name, err)
	}
	return nil
}

func (v *Volume) release() error {
	var errs []error
	for i := len(v.closers) - 1; i >= 0; i-- {
		if err := v.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	v.closers = nil
	if v.lock != nil {
		if err := v.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("unlock: %w", err))
		}
		v.lock = nil
	}
	return errors.Join(errs...)
}
