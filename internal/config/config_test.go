package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/snehjoshi/nvlog/internal/config"
)

func TestDefault_HasSensibleValues(t *testing.T) {
	cfg := config.Default()

	if cfg.DataDir != "./data" {
		t.Errorf("expected default data_dir ./data, got %s", cfg.DataDir)
	}
	if cfg.Rotation.MaxFiles != 3 {
		t.Errorf("expected default max_files 3, got %d", cfg.Rotation.MaxFiles)
	}
	if cfg.Rotation.MaxFileSize != 4096 {
		t.Errorf("expected default max_file_size 4096, got %d", cfg.Rotation.MaxFileSize)
	}
	if cfg.Rotation.Delimiter != "/" {
		t.Errorf("expected default delimiter /, got %q", cfg.Rotation.Delimiter)
	}
	if cfg.Rotation.DecodeBufferSize != 128 {
		t.Errorf("expected default decode_buffer_size 128, got %d", cfg.Rotation.DecodeBufferSize)
	}
	if cfg.Rotation.Eviction != config.EvictBestEffort {
		t.Errorf("expected default eviction best_effort, got %s", cfg.Rotation.Eviction)
	}
	if cfg.Params.File != "param.txt" {
		t.Errorf("expected default params.file param.txt, got %s", cfg.Params.File)
	}
	if got := cfg.VolumeNames(); len(got) != 2 || got[0] != "external" || got[1] != "internal" {
		t.Errorf("expected volumes [external internal], got %v", got)
	}
}

func TestLoad_MissingFile_ReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nvlog.yaml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.Rotation.MaxFiles != 3 {
		t.Errorf("expected default max_files for missing file, got %d", cfg.Rotation.MaxFiles)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	yaml := `
data_dir: "/tmp/nvlog_test"
log:
  level: debug
volumes:
  external:
    backend: pebble
    block_count: 64
rotation:
  volumes: [external]
  max_files: 5
  eviction: strict
`
	path := writeTempYAML(t, yaml)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.DataDir != "/tmp/nvlog_test" {
		t.Errorf("expected data_dir /tmp/nvlog_test, got %s", cfg.DataDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Log.Level)
	}
	ext := cfg.Volumes["external"]
	if ext.Backend != config.BackendPebble || ext.BlockCount != 64 {
		t.Errorf("expected external pebble/64 blocks, got %+v", ext)
	}
	// Fields the YAML left out fall back to the default geometry.
	if ext.BlockSize != 4096 || ext.ProgSize != 16 {
		t.Errorf("expected default block_size/prog_size, got %+v", ext)
	}
	// Volumes not mentioned in the file keep their defaults.
	if _, ok := cfg.Volumes["internal"]; !ok {
		t.Error("expected default internal volume to survive")
	}
	if len(cfg.Rotation.Volumes) != 1 || cfg.Rotation.Volumes[0] != "external" {
		t.Errorf("expected rotation.volumes [external], got %v", cfg.Rotation.Volumes)
	}
	if cfg.Rotation.MaxFiles != 5 {
		t.Errorf("expected max_files 5, got %d", cfg.Rotation.MaxFiles)
	}
	if cfg.Rotation.Eviction != config.EvictStrict {
		t.Errorf("expected eviction strict, got %s", cfg.Rotation.Eviction)
	}
	// Unset fields keep their defaults.
	if cfg.Rotation.MaxFileSize != 4096 {
		t.Errorf("expected default max_file_size 4096 (unchanged), got %d", cfg.Rotation.MaxFileSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should be valid, got: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NVLOG_DATA_DIR", "/var/lib/nvlog")
	t.Setenv("NVLOG_BACKEND", "mem")
	t.Setenv("NVLOG_LOG_LEVEL", "WARN")

	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DataDir != "/var/lib/nvlog" {
		t.Errorf("expected data_dir from env, got %s", cfg.DataDir)
	}
	for name, v := range cfg.Volumes {
		if v.Backend != config.BackendMem {
			t.Errorf("volume %s: expected backend mem from env, got %s", name, v.Backend)
		}
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected log level warn, got %s", cfg.Log.Level)
	}
}

func TestLoad_InvalidYAML_ReturnsError(t *testing.T) {
	path := writeTempYAML(t, "rotation: [invalid: yaml: {{{}}")
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid, got: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"empty data_dir", func(c *config.Config) { c.DataDir = "" }},
		{"bad log level", func(c *config.Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *config.Config) { c.Log.Format = "xml" }},
		{"no volumes", func(c *config.Config) { c.Volumes = nil }},
		{"bad backend", func(c *config.Config) {
			v := c.Volumes["internal"]
			v.Backend = "tape"
			c.Volumes["internal"] = v
		}},
		{"unaligned geometry", func(c *config.Config) {
			v := c.Volumes["internal"]
			v.ProgSize = 3000
			c.Volumes["internal"] = v
		}},
		{"single block", func(c *config.Config) {
			v := c.Volumes["internal"]
			v.BlockCount = 1
			c.Volumes["internal"] = v
		}},
		{"unknown rotation volume", func(c *config.Config) { c.Rotation.Volumes = []string{"sd"} }},
		{"zero max_files", func(c *config.Config) { c.Rotation.MaxFiles = 0 }},
		{"too many files", func(c *config.Config) { c.Rotation.MaxFiles = 1001 }},
		{"tiny file size", func(c *config.Config) { c.Rotation.MaxFileSize = 1 }},
		{"no name parts", func(c *config.Config) { c.Rotation.Prefix, c.Rotation.Extension = "", "" }},
		{"empty metadata file", func(c *config.Config) { c.Rotation.MetadataFile = "" }},
		{"long delimiter", func(c *config.Config) { c.Rotation.Delimiter = "//" }},
		{"zero decode buffer", func(c *config.Config) { c.Rotation.DecodeBufferSize = 0 }},
		{"bad eviction", func(c *config.Config) { c.Rotation.Eviction = "never" }},
		{"unknown params volume", func(c *config.Config) { c.Params.Volume = "sd" }},
		{"empty params file", func(c *config.Config) { c.Params.File = "" }},
		{"params file clash", func(c *config.Config) { c.Params.File = c.Rotation.MetadataFile }},
		{"metadata file is a log name", func(c *config.Config) { c.Rotation.MetadataFile = "log000.txt" }},
		{"params file is a log name", func(c *config.Config) { c.Params.File = "log002.txt" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tc.name)
			}
		})
	}
}

// writeTempYAML writes content to a temp file and returns its path.
func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writeTempYAML: %v", err)
	}
	return path
}
