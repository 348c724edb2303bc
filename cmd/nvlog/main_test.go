package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/snehjoshi/nvlog/internal/nvm"
	"github.com/snehjoshi/nvlog/internal/param"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nvlog.yaml")
	body := "data_dir: " + filepath.Join(dir, "data") + "\nlog:\n  level: error\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func nvlog(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(append([]string{"--config", cfgPath}, args...), &stdout, &stderr)
	return stdout.String(), err
}

func mustRun(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	out, err := nvlog(t, cfgPath, args...)
	if err != nil {
		t.Fatalf("nvlog %v: %v", args, err)
	}
	return out
}

func mustContain(t *testing.T, out, substr string) {
	t.Helper()
	if !strings.Contains(out, substr) {
		t.Errorf("expected output to contain %q\noutput:\n%s", substr, out)
	}
}

func TestWriteAndDump(t *testing.T) {
	cfg := writeConfig(t)

	mustContain(t, mustRun(t, cfg, "write", "hello", "flash"), "wrote 12 bytes to log000.txt")
	mustRun(t, cfg, "write", "--raw", "raw-tail")

	out := mustRun(t, cfg, "dump")
	mustContain(t, out, "2 records on internal")
	mustContain(t, out, "hello flash")
	mustContain(t, out, "raw-tail")
	mustContain(t, out, "incomplete")
}

func TestFaultRecord(t *testing.T) {
	cfg := writeConfig(t)
	mustRun(t, cfg, "--volume", "external", "fault", "3", "0x1f")

	out := mustRun(t, cfg, "--volume", "external", "dump", "--file", "0")
	mustContain(t, out, "1 records on external")
	mustContain(t, out, "3-")
	mustContain(t, out, "-1f")
}

func TestStateAndClean(t *testing.T) {
	cfg := writeConfig(t)
	mustRun(t, cfg, "write", "one")

	out := mustRun(t, cfg, "state")
	mustContain(t, out, "internal: newest=0 oldest=0 active=1 offset=4")
	mustContain(t, out, "log000.txt")
	mustContain(t, out, "newest, oldest")

	mustContain(t, mustRun(t, cfg, "clean"), "cleaned log on internal")
	mustContain(t, mustRun(t, cfg, "dump"), "0 records on internal")
}

func TestParamCommands(t *testing.T) {
	cfg := writeConfig(t)

	mustContain(t, mustRun(t, cfg, "param", "set", "speed", "1500"), "speed = 1500")
	mustContain(t, mustRun(t, cfg, "param", "get", "0x07"), "1500")
	mustContain(t, mustRun(t, cfg, "param", "set", "device_name", "unit-7"), `device_name = "unit-7"`)

	out := mustRun(t, cfg, "param", "list")
	mustContain(t, out, "voltage")
	mustContain(t, out, "12000")
	mustContain(t, out, "flash")

	if _, err := nvlog(t, cfg, "param", "get", "nope"); !errors.Is(err, param.ErrUnknownID) {
		t.Errorf("expected ErrUnknownID, got %v", err)
	}
	if _, err := nvlog(t, cfg, "param", "set", "speed", "70000"); err == nil {
		t.Error("expected out-of-range u16 to fail")
	}
}

func TestStatsAndConfig(t *testing.T) {
	cfg := writeConfig(t)

	out := mustRun(t, cfg, "stats")
	mustContain(t, out, "internal")
	mustContain(t, out, "bolt")
	mustContain(t, out, "60 KiB")
	mustContain(t, out, `nvlog_param_loads_total{source="default"} 8`)

	out = mustRun(t, cfg, "config")
	mustContain(t, out, "rotation.metadata_file:")
	mustContain(t, out, "rotation.txt")
}

func TestUnknownVolume(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := nvlog(t, cfg, "--volume", "spare", "write", "x"); !errors.Is(err, nvm.ErrUnknownVolume) {
		t.Fatalf("expected ErrUnknownVolume, got %v", err)
	}
}
