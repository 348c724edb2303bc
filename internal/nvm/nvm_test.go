package nvm_test

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/snehjoshi/nvlog/internal/config"
	"github.com/snehjoshi/nvlog/internal/nvm"
	"github.com/snehjoshi/nvlog/internal/param"
	"github.com/snehjoshi/nvlog/internal/rotation"
	"github.com/snehjoshi/nvlog/internal/volume"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixedClock uint64

func (c fixedClock) NowMillis() uint64 { return uint64(c) }

func testConfig(t *testing.T, backend config.Backend) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	for name, vc := range cfg.Volumes {
		vc.Backend = backend
		cfg.Volumes[name] = vc
	}
	return cfg
}

func open(t *testing.T, cfg *config.Config, opts ...nvm.Option) *nvm.NVM {
	t.Helper()
	n, err := nvm.Open(cfg, append([]nvm.Option{nvm.WithLogger(quiet)}, opts...)...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return n
}

func TestOpen_DefaultLayout(t *testing.T) {
	n := open(t, testConfig(t, config.BackendMem))
	defer n.Close()

	if got := n.Volumes(); len(got) != 2 || got[0] != "external" || got[1] != "internal" {
		t.Fatalf("expected [external internal], got %v", got)
	}
	for _, name := range []string{"internal", "external"} {
		if _, err := n.Log(name); err != nil {
			t.Errorf("Log(%s): %v", name, err)
		}
		v, err := n.Volume(name)
		if err != nil || v.ID == "" {
			t.Errorf("Volume(%s): %+v, %v", name, v, err)
		}
	}
	if _, err := n.Log("spare"); !errors.Is(err, nvm.ErrUnknownVolume) {
		t.Errorf("expected ErrUnknownVolume, got %v", err)
	}
	if got := n.Params().Get(param.IDA); got.Int() != 1 {
		t.Errorf("expected default param_a 1, got %s", got)
	}
}

func TestOpen_VolumeWithoutLog(t *testing.T) {
	cfg := testConfig(t, config.BackendMem)
	cfg.Rotation.Volumes = []string{"internal"}
	n := open(t, cfg)
	defer n.Close()

	if _, err := n.Log("external"); !errors.Is(err, nvm.ErrNoLog) {
		t.Fatalf("expected ErrNoLog, got %v", err)
	}
	if got := n.LogVolumes(); len(got) != 1 || got[0] != "internal" {
		t.Fatalf("expected [internal], got %v", got)
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, config.BackendMem)
	cfg.Rotation.MaxFiles = 0
	if _, err := nvm.Open(cfg, nvm.WithLogger(quiet)); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestReopen_KeepsLogAndParams(t *testing.T) {
	cfg := testConfig(t, config.BackendBolt)

	n := open(t, cfg)
	log, err := n.Log("internal")
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if _, err := log.Logf("boot %d", 1); err != nil {
		t.Fatalf("Logf: %v", err)
	}
	if err := n.Params().Set(param.IDSpeed, param.Uint16(1500)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	before := log.State()
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	n = open(t, cfg)
	defer n.Close()
	log, _ = n.Log("internal")
	if got := log.State(); got != before {
		t.Fatalf("expected state %s after reopen, got %s", before, got)
	}
	if got := n.Params().Get(param.IDSpeed); got.Uint16() != 1500 {
		t.Fatalf("expected speed 1500 after reopen, got %s", got)
	}

	var recs []string
	if err := log.Replay(func(r rotation.Record) error {
		recs = append(recs, string(r.Data))
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(recs) != 1 || recs[0] != "boot 1" {
		t.Fatalf("expected [boot 1], got %q", recs)
	}
}

func TestOpen_SecondProcessIsLockedOut(t *testing.T) {
	cfg := testConfig(t, config.BackendBolt)
	n := open(t, cfg)
	defer n.Close()

	if _, err := nvm.Open(cfg, nvm.WithLogger(quiet)); !errors.Is(err, volume.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	log, _ := n.Log("external")
	if _, err := log.Write([]byte("still/")); err != nil {
		t.Fatalf("first instance Write: %v", err)
	}
}

func TestLogsAreIndependentPerVolume(t *testing.T) {
	n := open(t, testConfig(t, config.BackendMem))
	defer n.Close()

	in, _ := n.Log("internal")
	ex, _ := n.Log("external")
	if _, err := in.Write([]byte("abc/")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := ex.State(); got != (rotation.State{}) {
		t.Fatalf("expected external untouched, got %s", got)
	}
}

func TestMetricsAndClockAreWired(t *testing.T) {
	n := open(t, testConfig(t, config.BackendMem), nvm.WithClock(fixedClock(99)))
	defer n.Close()

	log, _ := n.Log("internal")
	if _, err := log.LogFault(1, 0xab); err != nil {
		t.Fatalf("LogFault: %v", err)
	}
	if err := n.Params().Set(param.IDC, param.Int(5)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got string
	_ = log.Replay(func(r rotation.Record) error {
		got = string(r.Data)
		return nil
	})
	if got != "1-99-ab" {
		t.Fatalf("expected fault record 1-99-ab, got %q", got)
	}

	reg := n.Metrics()
	if v := reg.Records.Value("internal"); v != 1 {
		t.Errorf("records = %d, want 1", v)
	}
	if v := reg.ParamSets.Value("ok"); v != 1 {
		t.Errorf("param sets = %d, want 1", v)
	}
	if v := reg.ParamLoads.Value("default"); v != int64(len(param.DefaultTable())) {
		t.Errorf("boot loads = %d, want %d", v, len(param.DefaultTable()))
	}
}

func TestWithParamTable(t *testing.T) {
	table := []param.Entry{{ID: 0x20, Name: "only", Default: param.Uint32(7)}}
	n := open(t, testConfig(t, config.BackendMem), nvm.WithParamTable(table))
	defer n.Close()

	if got := n.Params().Entries(); len(got) != 1 || got[0].Value.Uint32() != 7 {
		t.Fatalf("expected custom table, got %+v", got)
	}
}

func TestRotationConfig(t *testing.T) {
	rc := config.Default().Rotation
	rc.Eviction = config.EvictStrict
	rc.Delimiter = "|"

	got, err := nvm.RotationConfig(rc)
	if err != nil {
		t.Fatalf("RotationConfig: %v", err)
	}
	if got.Delimiter != '|' || got.Eviction != rotation.EvictStrict || got.MaxFiles != 3 || got.MetadataFile != "rotation.txt" {
		t.Fatalf("unexpected conversion: %+v", got)
	}

	rc.Eviction = "sometimes"
	if _, err := nvm.RotationConfig(rc); err == nil {
		t.Fatal("expected error for unknown eviction policy")
	}
}
