package rotation

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/snehjoshi/nvlog/internal/lfs"
)

// Status tells how a replayed record ended.
type Status int

const (
	// Complete records ended at a delimiter.
	Complete Status = iota
	// Truncated records filled the decode buffer before a delimiter. The
	// bytes that did not fit start the next record.
	Truncated
	// Incomplete records ran into the end of the file.
	Incomplete
)

func (s Status) String() string {
	switch s {
	case Complete:
		return "complete"
	case Truncated:
		return "truncated"
	case Incomplete:
		return "incomplete"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Record is one decoded log record.
type Record struct {
	FileID uint16
	Seq    int // 1-based position within the file
	Data   []byte
	Status Status
}

// ErrStopReplay may be returned by a replay callback to end the replay early
// without error.
var ErrStopReplay = errors.New("rotation: stop replay")

// Decoder splits a delimiter-framed byte stream into records of at most
// size payload bytes. Empty records are skipped.
type Decoder struct {
	r     *bufio.Reader
	delim byte
	buf   []byte
	size  int
	done  bool
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader, delim byte, size int) *Decoder {
	return &Decoder{r: bufio.NewReader(r), delim: delim, buf: make([]byte, 0, size), size: size}
}

// Next returns the next record. It returns io.EOF once the stream is
// exhausted.
func (d *Decoder) Next() ([]byte, Status, error) {
	if d.done {
		return nil, 0, io.EOF
	}
	for {
		c, err := d.r.ReadByte()
		if err != nil {
			d.done = true
			if errors.Is(err, io.EOF) {
				if len(d.buf) > 0 {
					return d.take(), Incomplete, nil
				}
				return nil, 0, io.EOF
			}
			return nil, 0, err
		}

		if c == d.delim {
			if len(d.buf) > 0 {
				return d.take(), Complete, nil
			}
			continue
		}
		if len(d.buf) == d.size {
			rec := d.take()
			d.buf = append(d.buf, c)
			return rec, Truncated, nil
		}
		d.buf = append(d.buf, c)
	}
}

func (d *Decoder) take() []byte {
	rec := append([]byte(nil), d.buf...)
	d.buf = d.buf[:0]
	return rec
}

// ReplayFile decodes the file with the given id and calls fn for every
// record in order. fn must not call back into the Manager.
func (m *Manager) ReplayFile(id uint16, fn func(Record) error) error {
	if int(id) >= m.cfg.MaxFiles {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidFileID, id, m.cfg.MaxFiles-1)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	f, err := m.openForReplay(id)
	if err != nil {
		return err
	}
	defer f.Close()
	return stopOK(m.decodeFile(id, f, fn))
}

// Replay decodes every active file from oldest to newest. Files that cannot
// be opened are skipped. An over-full window left by a failed eviction is
// walked at most once around, so no file is delivered twice.
func (m *Manager) Replay(fn func(Record) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := min(int(m.state.ActiveFileCount), m.cfg.MaxFiles)
	id := m.state.OldestFileID
	for i := 0; i < n; i, id = i+1, (id+1)%uint16(m.cfg.MaxFiles) {
		f, err := m.openForReplay(id)
		if err != nil {
			m.logger.Warn("replay: skipping unreadable file", "file", m.FileName(id), "err", err)
			continue
		}
		err = m.decodeFile(id, f, fn)
		f.Close()
		if err != nil {
			return stopOK(err)
		}
	}
	return nil
}

func (m *Manager) openForReplay(id uint16) (lfs.File, error) {
	name := m.FileName(id)
	f, err := m.fs.OpenFile(name, lfs.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("rotation: open %s: %w", name, err)
	}
	return f, nil
}

func (m *Manager) decodeFile(id uint16, f lfs.File, fn func(Record) error) error {
	dec := NewDecoder(f, m.cfg.Delimiter, m.cfg.DecodeBufferSize)
	for seq := 1; ; seq++ {
		data, status, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("rotation: read %s: %w", m.FileName(id), err)
		}
		if err := fn(Record{FileID: id, Seq: seq, Data: data, Status: status}); err != nil {
			return err
		}
	}
}

func stopOK(err error) error {
	if errors.Is(err, ErrStopReplay) {
		return nil
	}
	return err
}
