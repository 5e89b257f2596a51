// Package metrics defines the pluggable collector the pipeline emits
// counters, histograms and gauges through. The zero-cost Nop collector is
// the default; a Prometheus-backed implementation is provided for callers
// that already run a registry.
package metrics

// Collector receives pipeline measurements. Implementations must be safe
// for concurrent use.
type Collector interface {
	// Count increments a named counter.
	Count(name string, delta float64, labels map[string]string)
	// Observe records a value into a named histogram.
	Observe(name string, value float64, labels map[string]string)
	// Gauge sets a named gauge.
	Gauge(name string, value float64, labels map[string]string)
}

// Metric names emitted by the pipeline.
const (
	FetchAttempts      = "vast_fetch_attempts_total"
	FetchFailures      = "vast_fetch_failures_total"
	FetchDuration      = "vast_fetch_duration_seconds"
	TrackFires         = "vast_track_fires_total"
	TrackFailures      = "vast_track_failures_total"
	TrackDuration      = "vast_track_duration_seconds"
	WrapperDepth       = "vast_wrapper_depth"
	PlaybackTransition = "vast_playback_transitions_total"
)

type nop struct{}

func (nop) Count(string, float64, map[string]string)   {}
func (nop) Observe(string, float64, map[string]string) {}
func (nop) Gauge(string, float64, map[string]string)   {}

// Nop returns a collector that discards everything without allocating.
func Nop() Collector { return nop{} }
