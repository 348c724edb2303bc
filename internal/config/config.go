// Package config holds all configuration types and loading logic for nvlog.
// Fields are only ever added, never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for an nvlog instance.
type Config struct {
	// DataDir holds one subdirectory per host-backed volume.
	DataDir  string                  `yaml:"data_dir"`
	Log      LogConfig               `yaml:"log"`
	Volumes  map[string]VolumeConfig `yaml:"volumes"`
	Rotation RotationConfig          `yaml:"rotation"`
	Params   ParamsConfig            `yaml:"params"`
}

// LogConfig controls the slog handler built by the CLI.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Backend selects the filesystem adapter a volume is stored with.
type Backend string

const (
	BackendMem    Backend = "mem"    // RAM only, lost on exit (tests, dry runs)
	BackendDir    Backend = "dir"    // plain host directory via afero
	BackendBolt   Backend = "bolt"   // single bbolt database file (default)
	BackendPebble Backend = "pebble" // pebble LSM directory
)

// VolumeConfig describes one flash volume: its adapter and the geometry of
// the emulated block device underneath it.
type VolumeConfig struct {
	Backend    Backend `yaml:"backend"`
	BlockSize  int     `yaml:"block_size"`
	BlockCount int     `yaml:"block_count"`
	ProgSize   int     `yaml:"prog_size"`
}

// EvictionPolicy decides what happens when the oldest log file cannot be
// removed during rotation.
type EvictionPolicy string

const (
	EvictBestEffort EvictionPolicy = "best_effort" // log and rotate anyway (default)
	EvictStrict     EvictionPolicy = "strict"      // fail the write, keep state
)

// RotationConfig configures the rotating log store.
type RotationConfig struct {
	// Volumes lists the volumes that each carry their own rotation window.
	Volumes          []string       `yaml:"volumes"`
	MaxFiles         int            `yaml:"max_files"`
	MaxFileSize      int            `yaml:"max_file_size"`
	Prefix           string         `yaml:"prefix"`
	Extension        string         `yaml:"extension"`
	MetadataFile     string         `yaml:"metadata_file"`
	Delimiter        string         `yaml:"delimiter"`
	DecodeBufferSize int            `yaml:"decode_buffer_size"`
	Eviction         EvictionPolicy `yaml:"eviction"`
}

// ParamsConfig locates the parameter file.
type ParamsConfig struct {
	Volume string `yaml:"volume"`
	File   string `yaml:"file"`
}

// DefaultVolume is the geometry used for any volume field left at zero:
// a 64 KiB part with 4 KiB erase blocks.
var DefaultVolume = VolumeConfig{
	Backend:    BackendBolt,
	BlockSize:  4096,
	BlockCount: 16,
	ProgSize:   16,
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Volumes: map[string]VolumeConfig{
			"internal": DefaultVolume,
			"external": DefaultVolume,
		},
		Rotation: RotationConfig{
			Volumes:          []string{"internal", "external"},
			MaxFiles:         3,
			MaxFileSize:      4096,
			Prefix:           "log",
			Extension:        ".txt",
			MetadataFile:     "rotation.txt",
			Delimiter:        "/",
			DecodeBufferSize: 128,
			Eviction:         EvictBestEffort,
		},
		Params: ParamsConfig{
			Volume: "internal",
			File:   "param.txt",
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error,
// making it easy to run nvlog with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	NVLOG_DATA_DIR   sets data_dir
//	NVLOG_BACKEND    sets the backend of every volume
//	NVLOG_LOG_LEVEL  sets log.level
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.fillVolumeDefaults()
	applyEnv(cfg)
	return cfg, nil
}

// fillVolumeDefaults completes volumes declared in YAML with only some fields
// set. yaml.v3 decodes each map value from zero, not from the default entry.
func (c *Config) fillVolumeDefaults() {
	for name, v := range c.Volumes {
		if v.Backend == "" {
			v.Backend = DefaultVolume.Backend
		}
		if v.BlockSize == 0 {
			v.BlockSize = DefaultVolume.BlockSize
		}
		if v.BlockCount == 0 {
			v.BlockCount = DefaultVolume.BlockCount
		}
		if v.ProgSize == 0 {
			v.ProgSize = DefaultVolume.ProgSize
		}
		c.Volumes[name] = v
	}
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("NVLOG_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("NVLOG_BACKEND"); v != "" {
		for name, vc := range cfg.Volumes {
			vc.Backend = Backend(v)
			cfg.Volumes[name] = vc
		}
	}
	if v := os.Getenv("NVLOG_LOG_LEVEL"); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
}

// VolumeNames returns the configured volume names in a stable order.
func (c *Config) VolumeNames() []string {
	names := make([]string, 0, len(c.Volumes))
	for name := range c.Volumes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must not be empty")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return errors.New(`log.level must be one of "debug", "info", "warn", "error"`)
	}
	switch c.Log.Format {
	case "text", "json":
		// valid
	default:
		return errors.New(`log.format must be one of "text", "json"`)
	}

	if len(c.Volumes) == 0 {
		return errors.New("volumes must declare at least one volume")
	}
	for _, name := range c.VolumeNames() {
		if err := c.Volumes[name].validate(); err != nil {
			return fmt.Errorf("volumes.%s: %w", name, err)
		}
	}

	r := c.Rotation
	for _, name := range r.Volumes {
		if _, ok := c.Volumes[name]; !ok {
			return fmt.Errorf("rotation.volumes: unknown volume %q", name)
		}
	}
	if r.MaxFiles < 1 || r.MaxFiles > 1000 {
		return errors.New("rotation.max_files must be between 1 and 1000")
	}
	if r.MaxFileSize < 2 {
		return errors.New("rotation.max_file_size must be at least 2")
	}
	if r.Prefix == "" && r.Extension == "" {
		return errors.New("rotation.prefix and rotation.extension must not both be empty")
	}
	if r.MetadataFile == "" {
		return errors.New("rotation.metadata_file must not be empty")
	}
	if len(r.Delimiter) != 1 {
		return errors.New("rotation.delimiter must be exactly one byte")
	}
	if r.DecodeBufferSize < 1 {
		return errors.New("rotation.decode_buffer_size must be at least 1")
	}
	switch r.Eviction {
	case EvictBestEffort, EvictStrict:
		// valid
	default:
		return errors.New(`rotation.eviction must be one of "best_effort", "strict"`)
	}

	if _, ok := c.Volumes[c.Params.Volume]; !ok {
		return fmt.Errorf("params.volume: unknown volume %q", c.Params.Volume)
	}
	if c.Params.File == "" {
		return errors.New("params.file must not be empty")
	}
	if c.Params.File == r.MetadataFile {
		return errors.New("params.file must differ from rotation.metadata_file")
	}
	if r.isLogName(r.MetadataFile) {
		return fmt.Errorf("rotation.metadata_file %q collides with a log file name", r.MetadataFile)
	}
	if slices.Contains(r.Volumes, c.Params.Volume) && r.isLogName(c.Params.File) {
		return fmt.Errorf("params.file %q collides with a log file name on volume %q", c.Params.File, c.Params.Volume)
	}
	return nil
}

// isLogName reports whether name is one of the rotating log file names.
func (r RotationConfig) isLogName(name string) bool {
	for id := 0; id < r.MaxFiles; id++ {
		if name == fmt.Sprintf("%s%03d%s", r.Prefix, id, r.Extension) {
			return true
		}
	}
	return false
}

func (v VolumeConfig) validate() error {
	switch v.Backend {
	case BackendMem, BackendDir, BackendBolt, BackendPebble:
		// valid
	default:
		return errors.New(`backend must be one of "mem", "dir", "bolt", "pebble"`)
	}
	if v.BlockSize < 1 || v.BlockCount < 2 || v.ProgSize < 1 {
		return errors.New("block_size and prog_size must be positive and block_count at least 2")
	}
	if v.BlockSize%v.ProgSize != 0 {
		return errors.New("block_size must be a multiple of prog_size")
	}
	return nil
}
