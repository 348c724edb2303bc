// Package nvm assembles the persistence core from a config: it mounts every
// volume, opens one rotation window per log volume and the parameter store,
// and hands them out by name.
//
// Boot order:
//
//	volume.Open (sentinel → format/mount/retry) for each volume
//	param.Store.Init → param.Store.LoadAll
//	rotation.Open for each rotation volume
package nvm

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/snehjoshi/nvlog/internal/config"
	"github.com/snehjoshi/nvlog/internal/metrics"
	"github.com/snehjoshi/nvlog/internal/param"
	"github.com/snehjoshi/nvlog/internal/rotation"
	"github.com/snehjoshi/nvlog/internal/volume"
)

// ─── Error sentinels ──────────────────────────────────────────────────────────

var (
	// ErrUnknownVolume is returned for a volume name that is not configured.
	ErrUnknownVolume = errors.New("nvm: unknown volume")
	// ErrNoLog is returned by Log for a volume without a rotation window.
	ErrNoLog = errors.New("nvm: volume has no log")
)

// ─── Option / functional options ─────────────────────────────────────────────

// Option is a functional option for NVM.
type Option func(*NVM)

// WithLogger sets the logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(n *NVM) { n.logger = l }
}

// WithClock sets the timestamp source of fault records.
func WithClock(c rotation.Clock) Option {
	return func(n *NVM) { n.clock = c }
}

// WithParamTable replaces the default parameter table.
func WithParamTable(table []param.Entry) Option {
	return func(n *NVM) { n.table = table }
}

// WithMetrics counts store activity into reg.
func WithMetrics(reg *metrics.Registry) Option {
	return func(n *NVM) { n.metrics = reg }
}

// ─── NVM ──────────────────────────────────────────────────────────────────────

// NVM owns the mounted volumes and the stores built on them.
type NVM struct {
	cfg     *config.Config
	logger  *slog.Logger
	clock   rotation.Clock
	table   []param.Entry
	metrics *metrics.Registry

	volumes map[string]*volume.Volume
	order   []string // mount order, closed in reverse
	logs    map[string]*rotation.Manager
	params  *param.Store
}

// Open validates cfg, mounts its volumes and opens the stores. A volume that
// cannot be mounted fails the whole Open; everything opened so far is closed.
func Open(cfg *config.Config, opts ...Option) (*NVM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("nvm: invalid config: %w", err)
	}
	n := &NVM{
		cfg:     cfg,
		logger:  slog.Default(),
		clock:   rotation.SystemClock{},
		table:   param.DefaultTable(),
		metrics: &metrics.Registry{},
		volumes: make(map[string]*volume.Volume),
		logs:    make(map[string]*rotation.Manager),
	}
	for _, o := range opts {
		o(n)
	}

	ok := false
	defer func() {
		if !ok {
			n.Close()
		}
	}()

	// ── 1. Mount volumes ──────────────────────────────────────────────────────
	for _, name := range cfg.VolumeNames() {
		v, err := volume.Open(name, cfg.Volumes[name], cfg.DataDir, n.logger)
		if err != nil {
			return nil, fmt.Errorf("nvm: %w", err)
		}
		n.volumes[name] = v
		n.order = append(n.order, name)
	}

	// ── 2. Parameter store ───────────────────────────────────────────────────
	pv := n.volumes[cfg.Params.Volume]
	store, err := param.New(pv.FS, cfg.Params.File, n.table,
		param.WithLogger(n.logger.With("volume", pv.Name)),
		param.WithObserver(n.metrics.ParamObserver()),
	)
	if err != nil {
		return nil, fmt.Errorf("nvm: %w", err)
	}
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("nvm: %w", err)
	}
	store.LoadAll()
	n.params = store

	// ── 3. Rotation windows ──────────────────────────────────────────────────
	rc, err := RotationConfig(cfg.Rotation)
	if err != nil {
		return nil, fmt.Errorf("nvm: %w", err)
	}
	for _, name := range cfg.Rotation.Volumes {
		v := n.volumes[name]
		m, err := rotation.Open(v.FS, rc,
			rotation.WithLogger(n.logger.With("volume", name)),
			rotation.WithClock(n.clock),
			rotation.WithObserver(n.metrics.LogObserver(name)),
		)
		if err != nil {
			return nil, fmt.Errorf("nvm: volume %s: %w", name, err)
		}
		n.logs[name] = m
	}

	n.logger.Info("nvm ready", "volumes", n.order, "logs", cfg.Rotation.Volumes)
	ok = true
	return n, nil
}

// RotationConfig converts the YAML rotation section.
func RotationConfig(rc config.RotationConfig) (rotation.Config, error) {
	policy, err := rotation.ParseEvictionPolicy(string(rc.Eviction))
	if err != nil {
		return rotation.Config{}, err
	}
	if len(rc.Delimiter) != 1 {
		return rotation.Config{}, fmt.Errorf("delimiter %q must be one byte", rc.Delimiter)
	}
	return rotation.Config{
		MaxFiles:         rc.MaxFiles,
		MaxFileSize:      rc.MaxFileSize,
		FilePrefix:       rc.Prefix,
		FileExtension:    rc.Extension,
		MetadataFile:     rc.MetadataFile,
		Delimiter:        rc.Delimiter[0],
		DecodeBufferSize: rc.DecodeBufferSize,
		Eviction:         policy,
	}, nil
}

// Log returns the rotation window of the named volume.
func (n *NVM) Log(name string) (*rotation.Manager, error) {
	if _, ok := n.volumes[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVolume, name)
	}
	m, ok := n.logs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoLog, name)
	}
	return m, nil
}

// LogVolumes returns the names of the volumes carrying a log, in config order.
func (n *NVM) LogVolumes() []string {
	return append([]string(nil), n.cfg.Rotation.Volumes...)
}

// Params returns the parameter store.
func (n *NVM) Params() *param.Store { return n.params }

// Volume returns the named mounted volume.
func (n *NVM) Volume(name string) (*volume.Volume, error) {
	v, ok := n.volumes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVolume, name)
	}
	return v, nil
}

// Volumes returns the mounted volume names in mount order.
func (n *NVM) Volumes() []string { return append([]string(nil), n.order...) }

// Metrics returns the registry the stores count into.
func (n *NVM) Metrics() *metrics.Registry { return n.metrics }

// Config returns the config NVM was opened with.
func (n *NVM) Config() *config.Config { return n.cfg }

// Close unmounts every volume in reverse mount order.
func (n *NVM) Close() error {
	var errs []error
	for i := len(n.order) - 1; i >= 0; i-- {
		if err := n.volumes[n.order[i]].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	n.order = nil
	n.volumes = map[string]*volume.Volume{}
	n.logs = map[string]*rotation.Manager{}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("nvm: close: %w", err)
	}
	return nil
}
