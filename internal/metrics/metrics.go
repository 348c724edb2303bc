// Package metrics provides a lightweight Prometheus-compatible metrics
// registry for the log and parameter stores.
//
// # Counter naming convention
//
// Every counter uses a tab-separated string as its label key so that a single
// sync.Map can hold all label combinations without additional map nesting.
//
//	Records / RecordBytes / WriteFailures / Rotations  →  key = "volume"
//	Evictions                                          →  key = "volume\tresult"
//	ParamSets                                          →  key = "result"
//	ParamLoads                                         →  key = "source"
//
// # Prometheus text output
//
// Registry.WriteText renders all counters in the Prometheus exposition format;
// Registry.Handler serves the same text over HTTP.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/snehjoshi/nvlog/internal/param"
	"github.com/snehjoshi/nvlog/internal/rotation"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

// labelCounter is a lock-free, label-keyed counter map backed by sync.Map and
// atomic.Int64 values.
type labelCounter struct {
	vals sync.Map // key string → *atomic.Int64
}

func (lc *labelCounter) get(key string) *atomic.Int64 {
	v, _ := lc.vals.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc increments the counter for key by 1.
func (lc *labelCounter) Inc(key string) { lc.get(key).Add(1) }

// Add increments the counter for key by n.
func (lc *labelCounter) Add(key string, n int64) { lc.get(key).Add(n) }

// Value returns the current count for key.
func (lc *labelCounter) Value(key string) int64 {
	v, ok := lc.vals.Load(key)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Each calls fn for every key/value pair. The order is non-deterministic.
func (lc *labelCounter) Each(fn func(key string, val int64)) {
	lc.vals.Range(func(k, v any) bool {
		fn(k.(string), v.(*atomic.Int64).Load())
		return true
	})
}

// ─── Registry ─────────────────────────────────────────────────────────────────

// Registry holds all store metrics.
type Registry struct {
	// Log counters.  key = "volume" (Evictions: "volume\tresult")
	Records       labelCounter
	RecordBytes   labelCounter
	WriteFailures labelCounter
	Rotations     labelCounter
	Evictions     labelCounter

	// Parameter counters.  key = "ok"/"error" (Sets) or "flash"/"default" (Loads)
	ParamSets  labelCounter
	ParamLoads labelCounter
}

// ─── Observers ────────────────────────────────────────────────────────────────

// LogObserver returns a rotation.Observer counting into r under volume.
func (r *Registry) LogObserver(volume string) rotation.Observer {
	return &logObserver{r: r, volume: volume}
}

// ParamObserver returns a param.Observer counting into r.
func (r *Registry) ParamObserver() param.Observer { return paramObserver{r} }

type logObserver struct {
	r      *Registry
	volume string
}

var _ rotation.Observer = (*logObserver)(nil)

func (o *logObserver) ObserveWrite(n int) {
	o.r.Records.Inc(o.volume)
	o.r.RecordBytes.Add(o.volume, int64(n))
}

func (o *logObserver) ObserveWriteFailure() { o.r.WriteFailures.Inc(o.volume) }
func (o *logObserver) ObserveRotation()     { o.r.Rotations.Inc(o.volume) }

func (o *logObserver) ObserveEviction(err error) {
	o.r.Evictions.Inc(EvictionKey(o.volume, err == nil))
}

type paramObserver struct{ r *Registry }

var _ param.Observer = paramObserver{}

func (o paramObserver) ObserveSet(err error) {
	if err != nil {
		o.r.ParamSets.Inc("error")
		return
	}
	o.r.ParamSets.Inc("ok")
}

func (o paramObserver) ObserveLoad(fromFlash bool) {
	if fromFlash {
		o.r.ParamLoads.Inc("flash")
		return
	}
	o.r.ParamLoads.Inc("default")
}

// ─── Prometheus text serialisation ────────────────────────────────────────────

// WriteText renders all metrics in the Prometheus plain-text exposition
// format. Lines within a family are sorted.
func (r *Registry) WriteText(w io.Writer) error {
	var b strings.Builder

	// ── log counters ──────────────────────────────────────────────────────
	byVolume := func(lc *labelCounter) func(fn func(labels, val string)) {
		return func(fn func(labels, val string)) {
			lc.Each(func(key string, val int64) {
				fn(fmt.Sprintf(`volume=%q`, key), fmt.Sprintf("%d", val))
			})
		}
	}
	writeFamily(&b, "nvlog_records_written_total",
		"Total log records written", "counter", byVolume(&r.Records))
	writeFamily(&b, "nvlog_record_bytes_written_total",
		"Total log bytes written", "counter", byVolume(&r.RecordBytes))
	writeFamily(&b, "nvlog_write_failures_total",
		"Total log writes that failed", "counter", byVolume(&r.WriteFailures))
	writeFamily(&b, "nvlog_rotations_total",
		"Total switches to a new log file", "counter", byVolume(&r.Rotations))
	writeFamily(&b, "nvlog_evictions_total",
		"Total attempts to delete the oldest log file", "counter",
		func(fn func(labels, val string)) {
			r.Evictions.Each(func(key string, val int64) {
				vol, result := splitTwo(key)
				fn(fmt.Sprintf(`volume=%q,result=%q`, vol, result), fmt.Sprintf("%d", val))
			})
		})

	// ── parameter counters ────────────────────────────────────────────────
	writeFamily(&b, "nvlog_param_sets_total",
		"Total parameter writes by result", "counter",
		func(fn func(labels, val string)) {
			r.ParamSets.Each(func(key string, val int64) {
				fn(fmt.Sprintf(`result=%q`, key), fmt.Sprintf("%d", val))
			})
		})
	writeFamily(&b, "nvlog_param_loads_total",
		"Total parameter reads by source", "counter",
		func(fn func(labels, val string)) {
			r.ParamLoads.Each(func(key string, val int64) {
				fn(fmt.Sprintf(`source=%q`, key), fmt.Sprintf("%d", val))
			})
		})

	_, err := io.WriteString(w, b.String())
	return err
}

// Handler returns an http.Handler that serves WriteText
// (text/plain; version=0.0.4).
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = r.WriteText(w)
	})
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// writeFamily writes a single Prometheus metric family to b.
// fill is called with a writer function that appends individual label+value lines.
func writeFamily(
	b *strings.Builder,
	name, help, typ string,
	fill func(fn func(labels, val string)),
) {
	// Buffer individual metric lines so we can skip the header when empty.
	var lines []string
	fill(func(labels, val string) {
		lines = append(lines, fmt.Sprintf("%s{%s} %s\n", name, labels, val))
	})
	if len(lines) == 0 {
		return
	}
	sort.Strings(lines)
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
	for _, l := range lines {
		b.WriteString(l)
	}
}

// splitTwo splits a tab-delimited key of the form "a\tb" into (a, b).
// If there is no tab, the whole string is returned as the first component.
func splitTwo(key string) (string, string) {
	i := strings.IndexByte(key, '\t')
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}

// ─── Convenience key builders ─────────────────────────────────────────────────

// EvictionKey builds the label key used by Evictions.
func EvictionKey(volume string, ok bool) string {
	if ok {
		return volume + "\tok"
	}
	return volume + "\terror"
}
