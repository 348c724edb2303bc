package lfs

import (
	"fmt"
	"io"
)

// CommitFunc persists the full contents of a file. BufferedFile calls it on
// Sync and on Close when there are pending writes.
type CommitFunc func(data []byte) error

// SpaceFunc reports whether the volume can grow by n bytes beyond what the
// file occupied at its last commit.
type SpaceFunc func(n int64) error

// BufferedFile is a File whose contents live in memory until committed.
//
// Key-value backed adapters use it to get littlefs semantics: writes become
// visible to other handles only on Sync or Close, so a crash mid-sequence
// leaves the previously committed contents intact.
type BufferedFile struct {
	flag      Flag
	data      []byte
	committed int64 // length of the contents as last committed
	pos       int64
	dirty     bool
	closed    bool
	commit    CommitFunc
	space     SpaceFunc
}

// Ensure BufferedFile satisfies the interface at compile time.
var _ File = (*BufferedFile)(nil)

// NewBufferedFile returns a handle over a private copy of data.
// space may be nil when the backend has no capacity limit.
func NewBufferedFile(flag Flag, data []byte, commit CommitFunc, space SpaceFunc) *BufferedFile {
	buf := make([]byte, len(data))
	copy(buf, data)
	f := &BufferedFile{flag: flag, data: buf, committed: int64(len(buf)), commit: commit, space: space}
	if flag&Truncate != 0 && flag.Writable() && len(buf) > 0 {
		f.data = f.data[:0]
		f.dirty = true
	}
	return f
}

// Read reads from the current position.
func (f *BufferedFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, ErrInvalid
	}
	if !f.flag.Readable() {
		return 0, fmt.Errorf("lfs: read: %w", ErrBadFlags)
	}
	if f.pos >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

// Write writes at the current position, or at the end in Append mode.
func (f *BufferedFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, ErrInvalid
	}
	if !f.flag.Writable() {
		return 0, fmt.Errorf("lfs: write: %w", ErrBadFlags)
	}
	if f.flag&Append != 0 {
		f.pos = int64(len(f.data))
	}

	end := f.pos + int64(len(p))
	if end > int64(len(f.data)) && f.space != nil {
		if grow := end - f.committed; grow > 0 {
			if err := f.space(grow); err != nil {
				return 0, err
			}
		}
	}

	if end > int64(len(f.data)) {
		f.data = append(f.data, make([]byte, end-int64(len(f.data)))...)
	}
	copy(f.data[f.pos:], p)
	f.pos = end
	f.dirty = true
	return len(p), nil
}

// Seek sets the position for the next Read or Write.
func (f *BufferedFile) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, ErrInvalid
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		base = int64(len(f.data))
	default:
		return 0, fmt.Errorf("lfs: seek whence %d: %w", whence, ErrInvalid)
	}
	if base+offset < 0 {
		return 0, fmt.Errorf("lfs: seek before start: %w", ErrInvalid)
	}
	f.pos = base + offset
	return f.pos, nil
}

// Size returns the current length including uncommitted writes.
func (f *BufferedFile) Size() (int64, error) {
	if f.closed {
		return 0, ErrInvalid
	}
	return int64(len(f.data)), nil
}

// Sync commits pending writes.
func (f *BufferedFile) Sync() error {
	if f.closed {
		return ErrInvalid
	}
	if !f.dirty {
		return nil
	}
	if err := f.commit(f.data); err != nil {
		return err
	}
	f.committed = int64(len(f.data))
	f.dirty = false
	return nil
}

// Close commits pending writes and invalidates the handle.
func (f *BufferedFile) Close() error {
	if f.closed {
		return nil
	}
	err := f.Sync()
	f.closed = true
	return err
}
