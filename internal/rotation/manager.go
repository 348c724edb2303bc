// Package rotation implements the rotating log store: a bounded window of
// log files holding delimiter-framed records, with the window position kept
// in four attributes of a metadata file so it survives restarts.
package rotation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/snehjoshi/nvlog/internal/lfs"
)

// Sentinel errors returned by the Manager.
var (
	ErrEmptyRecord    = errors.New("rotation: empty record")
	ErrRecordTooLarge = errors.New("rotation: record does not fit in one file")
	ErrEvictionFailed = errors.New("rotation: eviction failed")
	ErrInvalidFileID  = errors.New("rotation: invalid file id")
)

// Clock supplies the timestamp of fault records.
type Clock interface {
	NowMillis() uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// NowMillis returns milliseconds since the Unix epoch.
func (SystemClock) NowMillis() uint64 { return uint64(time.Now().UnixMilli()) }

// Observer is notified of write-path events. Implementations must not call
// back into the Manager.
type Observer interface {
	ObserveWrite(bytes int)
	ObserveWriteFailure()
	ObserveRotation()
	ObserveEviction(err error)
}

type nopObserver struct{}

func (nopObserver) ObserveWrite(int)      {}
func (nopObserver) ObserveWriteFailure()  {}
func (nopObserver) ObserveRotation()      {}
func (nopObserver) ObserveEviction(error) {}

// Manager owns one rotation window on one filesystem. It is safe for
// concurrent use; calls are serialised.
type Manager struct {
	fs     lfs.FS
	cfg    Config
	logger *slog.Logger
	clock  Clock
	obs    Observer

	mu    sync.Mutex
	state State
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets the time source used by LogFault. Defaults to SystemClock.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithObserver attaches an event observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.obs = o }
}

// Open creates the metadata file if needed and recovers the window position
// from its attributes. fs must be mounted.
func Open(fs lfs.FS, cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		fs:     fs,
		cfg:    cfg,
		logger: slog.Default(),
		clock:  SystemClock{},
		obs:    nopObserver{},
	}
	for _, o := range opts {
		o(m)
	}

	f, err := fs.OpenFile(cfg.MetadataFile, lfs.WriteOnly|lfs.Create)
	if err != nil {
		return nil, fmt.Errorf("rotation: open %s: %w", cfg.MetadataFile, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("rotation: close %s: %w", cfg.MetadataFile, err)
	}

	st, err := loadState(fs, cfg.MetadataFile)
	if err != nil {
		m.logger.Warn("rotation metadata partially unreadable", "err", err)
	}
	m.state = st
	if !st.Consistent(cfg.MaxFiles) {
		m.logger.Warn("rotation metadata inconsistent, trusting as-is", "state", st.String())
	}
	m.logger.Info("rotation state recovered",
		"newest", st.NewestFileID,
		"oldest", st.OldestFileID,
		"active", st.ActiveFileCount,
		"offset", st.CurrentFileOffset,
	)
	return m, nil
}

// State returns a snapshot of the window position.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Config returns the window configuration.
func (m *Manager) Config() Config { return m.cfg }

// FileName returns the name of the log file with the given id.
func (m *Manager) FileName(id uint16) string {
	return fmt.Sprintf("%s%03d%s", m.cfg.FilePrefix, id, m.cfg.FileExtension)
}

// Write appends data to the newest file, rotating first when data would
// reach MaxFileSize. data should already end with the delimiter.
func (m *Manager) Write(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyRecord
	}
	if len(data) >= m.cfg.MaxFileSize {
		return 0, fmt.Errorf("%w: %d bytes, max file size %d", ErrRecordTooLarge, len(data), m.cfg.MaxFileSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.ActiveFileCount == 0 {
		m.state.ActiveFileCount = 1
		m.persist(fieldActive)
		m.logger.Debug("first write, window opened")
	}

	if int(m.state.CurrentFileOffset)+len(data) >= m.cfg.MaxFileSize {
		if err := m.rotate(); err != nil {
			m.obs.ObserveWriteFailure()
			return 0, err
		}
	}

	name := m.FileName(m.state.NewestFileID)
	n, err := m.appendFile(name, data)
	if err != nil {
		m.logger.Error("log write failed", "file", name, "err", err)
		m.obs.ObserveWriteFailure()
		return 0, fmt.Errorf("rotation: write %s: %w", name, err)
	}

	m.state.CurrentFileOffset += uint32(n)
	m.persist(fieldOffset)
	m.obs.ObserveWrite(n)
	m.logger.Debug("record written", "file", name, "bytes", n, "offset", m.state.CurrentFileOffset)
	return n, nil
}

// WriteBinary appends raw bytes without any framing.
func (m *Manager) WriteBinary(data []byte) (int, error) { return m.Write(data) }

// LogBufferSize bounds a formatted record including its delimiter.
const LogBufferSize = 256

// Logf formats a record and appends it. The text is cut to LogBufferSize-1
// bytes; the delimiter is added unless the text already ends with it or the
// cut left no room.
func (m *Manager) Logf(format string, args ...any) (int, error) {
	rec := []byte(fmt.Sprintf(format, args...))
	if len(rec) > LogBufferSize-1 {
		rec = rec[:LogBufferSize-1]
	}
	if n := len(rec); n > 0 && rec[n-1] != m.cfg.Delimiter && n < LogBufferSize-1 {
		rec = append(rec, m.cfg.Delimiter)
	}
	return m.Write(rec)
}

// LogFault appends an error-code record "<src>-<ms>-<hex fault>".
func (m *Manager) LogFault(src uint8, fault uint16) (int, error) {
	return m.Logf("%d-%d-%x", src, m.clock.NowMillis(), fault)
}

// Reset removes every log file and zeroes the window.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id := 0; id < m.cfg.MaxFiles; id++ {
		name := m.FileName(uint16(id))
		if err := m.fs.Remove(name); err != nil && !errors.Is(err, lfs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := m.fs.GC(); err != nil {
		m.logger.Warn("gc after reset failed", "err", err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("rotation: reset: %w", err)
	}

	m.state = State{}
	m.persistAll()
	m.logger.Info("rotation window reset")
	return nil
}

// ─── Internals (mu held) ─────────────────────────────────────────────────────

// rotate moves the window to the next file, evicting the oldest while the
// window is full.
func (m *Manager) rotate() error {
	for m.state.ActiveFileCount >= uint16(m.cfg.MaxFiles) {
		err := m.evictOldest()
		if err == nil {
			continue
		}
		if m.cfg.Eviction == EvictStrict {
			m.persistAll()
			return fmt.Errorf("%w: %w", ErrEvictionFailed, err)
		}
		m.logger.Warn("eviction failed, rotating anyway", "err", err)
		break
	}

	m.state.NewestFileID = (m.state.NewestFileID + 1) % uint16(m.cfg.MaxFiles)
	m.state.CurrentFileOffset = 0
	m.state.ActiveFileCount++
	m.persistAll()

	m.obs.ObserveRotation()
	m.logger.Info("rotated",
		"file", m.FileName(m.state.NewestFileID),
		"newest", m.state.NewestFileID,
		"oldest", m.state.OldestFileID,
		"active", m.state.ActiveFileCount,
	)
	return nil
}

func (m *Manager) evictOldest() error {
	name := m.FileName(m.state.OldestFileID)
	err := m.fs.Remove(name)
	if gcErr := m.fs.GC(); gcErr != nil {
		m.logger.Warn("gc after eviction failed", "err", gcErr)
	}
	m.obs.ObserveEviction(err)
	if err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	m.state.OldestFileID = (m.state.OldestFileID + 1) % uint16(m.cfg.MaxFiles)
	m.state.ActiveFileCount--
	m.logger.Info("evicted oldest file", "file", name)
	return nil
}

func (m *Manager) appendFile(name string, data []byte) (int, error) {
	f, err := m.fs.OpenFile(name, lfs.WriteOnly|lfs.Create|lfs.Append)
	if err != nil {
		return 0, err
	}
	n, err := f.Write(data)
	if err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return n, nil
}

func (m *Manager) persistAll() {
	for _, f := range rotateOrder {
		m.persist(f)
	}
}

// persist writes one field. Failures are logged only: the in-memory state
// stays authoritative until the next successful persist.
func (m *Manager) persist(f field) {
	if err := m.fs.SetAttr(m.cfg.MetadataFile, f.key, f.encode(&m.state)); err != nil {
		m.logger.Warn("persist rotation metadata failed", "field", f.name, "err", err)
	}
}
