// Package param implements the typed parameter store: a fixed table of
// parameters, each persisted as one attribute of a single file and keyed by
// the parameter id.
package param

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/snehjoshi/nvlog/internal/lfs"
)

// Sentinel errors returned by the Store.
var (
	ErrUnknownID    = errors.New("param: unknown parameter id")
	ErrTypeMismatch = errors.New("param: value type does not match parameter")
	ErrBadTable     = errors.New("param: invalid parameter table")
)

// ID identifies a parameter and doubles as its attribute key.
type ID uint8

func (id ID) String() string { return fmt.Sprintf("0x%02x", uint8(id)) }

// Entry describes one parameter.
type Entry struct {
	ID      ID
	Name    string
	Default Value
	// Cap is the string capacity including the terminator slot; ignored for
	// numeric types.
	Cap int
}

// Type returns the parameter's storage type.
func (e Entry) Type() Type { return e.Default.Type() }

// Snapshot is a parameter with its current value.
type Snapshot struct {
	Entry
	Value     Value
	FromFlash bool
}

// Observer is notified of store activity.
type Observer interface {
	ObserveSet(err error)
	ObserveLoad(fromFlash bool)
}

type nopObserver struct{}

func (nopObserver) ObserveSet(error) {}
func (nopObserver) ObserveLoad(bool) {}

type slot struct {
	entry     Entry
	value     Value
	fromFlash bool
}

// Store caches the parameter table and persists values through an lfs.FS.
type Store struct {
	fs     lfs.FS
	file   string
	logger *slog.Logger
	obs    Observer

	mu    sync.Mutex
	slots []slot
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithObserver attaches an event observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.obs = o }
}

// New validates table and returns a Store persisting to file on fs. Values
// start at their defaults; nothing is read until Get or LoadAll.
func New(fs lfs.FS, file string, table []Entry, opts ...Option) (*Store, error) {
	if file == "" {
		return nil, fmt.Errorf("%w: empty file name", ErrBadTable)
	}
	s := &Store{
		fs:     fs,
		file:   file,
		logger: slog.Default(),
		obs:    nopObserver{},
	}
	for _, o := range opts {
		o(s)
	}

	seen := make(map[ID]bool, len(table))
	for _, e := range table {
		if err := checkEntry(e); err != nil {
			return nil, err
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("%w: duplicate id %s", ErrBadTable, e.ID)
		}
		seen[e.ID] = true
		if e.Type() == TypeString {
			e.Default = String(clip(e.Default.Text(), e.Cap))
		}
		s.slots = append(s.slots, slot{entry: e, value: e.Default})
	}
	return s, nil
}

func checkEntry(e Entry) error {
	if e.Default.IsZero() {
		return fmt.Errorf("%w: %s has no default value", ErrBadTable, e.ID)
	}
	if e.Type() == TypeString && (e.Cap < 1 || e.Cap-1 > lfs.AttrMax) {
		return fmt.Errorf("%w: %s string capacity %d out of range [1, %d]", ErrBadTable, e.ID, e.Cap, lfs.AttrMax+1)
	}
	return nil
}

// Init creates the parameter file if it does not exist.
func (s *Store) Init() error {
	f, err := s.fs.OpenFile(s.file, lfs.WriteOnly|lfs.Create)
	if err != nil {
		s.logger.Error("create parameter file failed", "file", s.file, "err", err)
		return fmt.Errorf("param: init %s: %w", s.file, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("param: init %s: %w", s.file, err)
	}
	s.logger.Debug("parameter file ready", "file", s.file)
	return nil
}

// Set stores v as the value of id. The cached value changes even if the
// attribute write fails.
func (s *Store) Set(id ID, v Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.find(id)
	if sl == nil {
		s.logger.Warn("set: unknown parameter", "id", id)
		s.obs.ObserveSet(ErrUnknownID)
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	if v.IsZero() || v.Type() != sl.entry.Type() {
		s.obs.ObserveSet(ErrTypeMismatch)
		return fmt.Errorf("%w: %s is %s, got %s", ErrTypeMismatch, id, sl.entry.Type(), v.Type())
	}

	if v.Type() == TypeString {
		v = String(clip(v.Text(), sl.entry.Cap))
	}
	sl.value = v

	err := s.fs.SetAttr(s.file, uint8(id), v.encode(sl.entry.Cap))
	s.obs.ObserveSet(err)
	s.logger.Info("parameter set", "id", id, "name", sl.entry.Name, "value", v.String(), "err", err)
	if err != nil {
		return fmt.Errorf("param: set %s: %w", id, err)
	}
	return nil
}

// Get reads id from flash, refreshing the cache. When the read fails the
// cached value is returned instead. Unknown ids yield the zero Value.
func (s *Store) Get(id ID) Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl := s.find(id)
	if sl == nil {
		s.logger.Warn("get: unknown parameter", "id", id)
		return Value{}
	}
	s.load(sl)
	return sl.value
}

// LoadAll refreshes every parameter from flash and returns the table.
func (s *Store) LoadAll() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.slots {
		sl := &s.slots[i]
		s.load(sl)
		s.logger.Info("parameter loaded",
			"id", sl.entry.ID,
			"name", sl.entry.Name,
			"value", sl.value.String(),
			"from_flash", sl.fromFlash,
		)
	}
	return s.snapshot()
}

// Entries returns the cached table without touching flash.
func (s *Store) Entries() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Lookup finds an entry by name.
func (s *Store) Lookup(name string) (Entry, bool) {
	for _, sl := range s.slots {
		if sl.entry.Name == name {
			return sl.entry, true
		}
	}
	return Entry{}, false
}

// Entry returns the table entry for id.
func (s *Store) Entry(id ID) (Entry, bool) {
	for _, sl := range s.slots {
		if sl.entry.ID == id {
			return sl.entry, true
		}
	}
	return Entry{}, false
}

// ─── Internals (mu held) ─────────────────────────────────────────────────────

func (s *Store) find(id ID) *slot {
	for i := range s.slots {
		if s.slots[i].entry.ID == id {
			return &s.slots[i]
		}
	}
	return nil
}

func (s *Store) load(sl *slot) {
	t := sl.entry.Type()
	size := t.size()
	if t == TypeString {
		size = sl.entry.Cap - 1
	}
	buf := make([]byte, size)

	n, err := s.fs.GetAttr(s.file, uint8(sl.entry.ID), buf)
	if err != nil {
		s.obs.ObserveLoad(false)
		if !errors.Is(err, lfs.ErrNoAttr) {
			s.logger.Warn("parameter read failed, using cached value", "id", sl.entry.ID, "err", err)
		}
		return
	}
	if t == TypeString && n < len(buf) {
		buf = buf[:n]
	}
	sl.value = decode(t, buf)
	sl.fromFlash = true
	s.obs.ObserveLoad(true)
}

func (s *Store) snapshot() []Snapshot {
	out := make([]Snapshot, len(s.slots))
	for i, sl := range s.slots {
		out[i] = Snapshot{Entry: sl.entry, Value: sl.value, FromFlash: sl.fromFlash}
	}
	return out
}
