package metrics_test

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/snehjoshi/nvlog/internal/metrics"
)

// ─── Observers ────────────────────────────────────────────────────────────────

func TestLogObserver(t *testing.T) {
	var reg metrics.Registry
	obs := reg.LogObserver("internal")

	obs.ObserveWrite(10)
	obs.ObserveWrite(5)
	obs.ObserveWriteFailure()
	obs.ObserveRotation()
	obs.ObserveEviction(nil)
	obs.ObserveEviction(errors.New("boom"))

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"records", reg.Records.Value("internal"), 2},
		{"bytes", reg.RecordBytes.Value("internal"), 15},
		{"failures", reg.WriteFailures.Value("internal"), 1},
		{"rotations", reg.Rotations.Value("internal"), 1},
		{"evictions ok", reg.Evictions.Value(metrics.EvictionKey("internal", true)), 1},
		{"evictions error", reg.Evictions.Value(metrics.EvictionKey("internal", false)), 1},
		{"other volume", reg.Records.Value("external"), 0},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}

func TestParamObserver(t *testing.T) {
	var reg metrics.Registry
	obs := reg.ParamObserver()

	obs.ObserveSet(nil)
	obs.ObserveSet(errors.New("nope"))
	obs.ObserveSet(nil)
	obs.ObserveLoad(true)
	obs.ObserveLoad(false)

	if got := reg.ParamSets.Value("ok"); got != 2 {
		t.Errorf("sets ok = %d, want 2", got)
	}
	if got := reg.ParamSets.Value("error"); got != 1 {
		t.Errorf("sets error = %d, want 1", got)
	}
	if got := reg.ParamLoads.Value("flash"); got != 1 {
		t.Errorf("loads flash = %d, want 1", got)
	}
	if got := reg.ParamLoads.Value("default"); got != 1 {
		t.Errorf("loads default = %d, want 1", got)
	}
}

// ─── Prometheus output format ─────────────────────────────────────────────────

func render(t *testing.T, reg *metrics.Registry) string {
	t.Helper()
	var buf bytes.Buffer
	if err := reg.WriteText(&buf); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	return buf.String()
}

func TestWriteText_EmptyRegistry(t *testing.T) {
	var reg metrics.Registry
	if body := render(t, &reg); body != "" {
		t.Fatalf("expected empty body for empty registry, got:\n%s", body)
	}
}

func TestWriteText_Families(t *testing.T) {
	var reg metrics.Registry
	reg.LogObserver("internal").ObserveWrite(4)
	reg.LogObserver("external").ObserveEviction(errors.New("x"))
	reg.ParamObserver().ObserveLoad(false)

	body := render(t, &reg)

	mustContain(t, body, "# HELP nvlog_records_written_total")
	mustContain(t, body, "# TYPE nvlog_records_written_total counter")
	mustContain(t, body, `nvlog_records_written_total{volume="internal"} 1`)
	mustContain(t, body, `nvlog_record_bytes_written_total{volume="internal"} 4`)
	mustContain(t, body, `nvlog_evictions_total{volume="external",result="error"} 1`)
	mustContain(t, body, `nvlog_param_loads_total{source="default"} 1`)
	if strings.Contains(body, "nvlog_rotations_total") {
		t.Errorf("expected no rotations family without samples\nbody:\n%s", body)
	}
}

func TestWriteText_SortedWithinFamily(t *testing.T) {
	var reg metrics.Registry
	reg.Records.Inc("b")
	reg.Records.Inc("a")
	reg.Records.Inc("c")

	body := render(t, &reg)
	a := strings.Index(body, `volume="a"`)
	b := strings.Index(body, `volume="b"`)
	c := strings.Index(body, `volume="c"`)
	if !(a < b && b < c) {
		t.Fatalf("expected sorted lines, got:\n%s", body)
	}
}

func TestHandler(t *testing.T) {
	var reg metrics.Registry
	reg.Rotations.Inc("internal")

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("Content-Type = %q, want text/plain", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	mustContain(t, string(body), `nvlog_rotations_total{volume="internal"} 1`)
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func mustContain(t *testing.T, body, substr string) {
	t.Helper()
	if !strings.Contains(body, substr) {
		t.Errorf("expected body to contain %q\nbody:\n%s", substr, body)
	}
}

// ─── Concurrent safety ────────────────────────────────────────────────────────

func TestRegistry_ConcurrentInc(t *testing.T) {
	var reg metrics.Registry
	obs := reg.LogObserver("load")

	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		go func() {
			obs.ObserveWrite(1)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}

	if got := reg.Records.Value("load"); got != 100 {
		t.Fatalf("concurrent ObserveWrite: got %d, want 100", got)
	}
}
