package lfstest

import (
	"sync"

	"github.com/snehjoshi/nvlog/internal/lfs"
)

// Op names an lfs operation FaultFS can fail.
type Op string

const (
	OpFormat  Op = "format"
	OpMount   Op = "mount"
	OpOpen    Op = "open"
	OpRemove  Op = "remove"
	OpStat    Op = "stat"
	OpGetAttr Op = "getattr"
	OpSetAttr Op = "setattr"
	OpRead    Op = "read"
	OpWrite   Op = "write"
	OpSync    Op = "sync"
	OpClose   Op = "close"
)

type fault struct {
	skip  int // calls that still succeed before failing
	times int // failures left; 0 means until cleared
	err   error
}

// FaultFS wraps an lfs.FS and fails selected operations on demand.
// Calls are counted per Op whether they fail or not.
type FaultFS struct {
	lfs.FS

	mu     sync.Mutex
	faults map[Op]*fault
	calls  map[Op]int
}

// Ensure FaultFS satisfies the interface at compile time.
var _ lfs.FS = (*FaultFS)(nil)

// NewFaultFS wraps fs with no faults armed.
func NewFaultFS(fs lfs.FS) *FaultFS {
	return &FaultFS{FS: fs, faults: make(map[Op]*fault), calls: make(map[Op]int)}
}

// Fail makes every call to op return err until Clear.
func (f *FaultFS) Fail(op Op, err error) { f.arm(op, &fault{err: err}) }

// FailOnce makes the next call to op return err.
func (f *FaultFS) FailOnce(op Op, err error) { f.arm(op, &fault{times: 1, err: err}) }

// FailAfter lets n calls to op succeed, then fails every call until Clear.
func (f *FaultFS) FailAfter(op Op, n int, err error) { f.arm(op, &fault{skip: n, err: err}) }

// Clear disarms op.
func (f *FaultFS) Clear(op Op) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.faults, op)
}

// Calls returns how many times op has been invoked.
func (f *FaultFS) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FaultFS) arm(op Op, ft *fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = ft
}

// hit records a call to op and returns the injected error, if any.
func (f *FaultFS) hit(op Op) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	ft, ok := f.faults[op]
	if !ok {
		return nil
	}
	if ft.skip > 0 {
		ft.skip--
		return nil
	}
	if ft.times > 0 {
		ft.times--
		if ft.times == 0 {
			delete(f.faults, op)
		}
	}
	return ft.err
}

func (f *FaultFS) Format() error {
	if err := f.hit(OpFormat); err != nil {
		return err
	}
	return f.FS.Format()
}

func (f *FaultFS) Mount() error {
	if err := f.hit(OpMount); err != nil {
		return err
	}
	return f.FS.Mount()
}

func (f *FaultFS) OpenFile(name string, flag lfs.Flag) (lfs.File, error) {
	if err := f.hit(OpOpen); err != nil {
		return nil, err
	}
	file, err := f.FS.OpenFile(name, flag)
	if err != nil {
		return nil, err
	}
	return &faultFile{File: file, fs: f}, nil
}

func (f *FaultFS) Remove(name string) error {
	if err := f.hit(OpRemove); err != nil {
		return err
	}
	return f.FS.Remove(name)
}

func (f *FaultFS) Stat(name string) (lfs.Info, error) {
	if err := f.hit(OpStat); err != nil {
		return lfs.Info{}, err
	}
	return f.FS.Stat(name)
}

func (f *FaultFS) GetAttr(name string, key uint8, buf []byte) (int, error) {
	if err := f.hit(OpGetAttr); err != nil {
		return 0, err
	}
	return f.FS.GetAttr(name, key, buf)
}

func (f *FaultFS) SetAttr(name string, key uint8, value []byte) error {
	if err := f.hit(OpSetAttr); err != nil {
		return err
	}
	return f.FS.SetAttr(name, key, value)
}

// faultFile routes Read, Write, Sync and Close through the owning FaultFS.
// A failed Read or Write transfers nothing. A failed Close drops the
// uncommitted contents.
type faultFile struct {
	lfs.File
	fs *FaultFS
}

func (f *faultFile) Read(p []byte) (int, error) {
	if err := f.fs.hit(OpRead); err != nil {
		return 0, err
	}
	return f.File.Read(p)
}

func (f *faultFile) Write(p []byte) (int, error) {
	if err := f.fs.hit(OpWrite); err != nil {
		return 0, err
	}
	return f.File.Write(p)
}

func (f *faultFile) Sync() error {
	if err := f.fs.hit(OpSync); err != nil {
		return err
	}
	return f.File.Sync()
}

func (f *faultFile) Close() error {
	if err := f.fs.hit(OpClose); err != nil {
		return err
	}
	return f.File.Close()
}
