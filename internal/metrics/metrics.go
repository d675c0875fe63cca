// Package metrics exposes pyramid generation counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Failure stages reported in slicer_tile_failures_total.
const (
	StageEncode = "encode"
	StageWrite  = "write"
)

// Collector records tile and level statistics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	tilesWritten  *prometheus.CounterVec
	tileFailures  *prometheus.CounterVec
	levelDuration *prometheus.HistogramVec
	bytesWritten  prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which tests use to read values directly.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tilesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slicer_tiles_written_total",
			Help: "Number of tiles written, by zoom level.",
		}, []string{"zoom"}),
		tileFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "slicer_tile_failures_total",
			Help: "Number of tiles that could not be encoded or written, by stage.",
		}, []string{"stage"}),
		levelDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "slicer_level_duration_seconds",
			Help:    "Time spent resampling and writing one zoom level.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"zoom"}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "slicer_bytes_written_total",
			Help: "Encoded tile bytes handed to the sink.",
		}),
	}

	if reg != nil {
		reg.MustRegister(c.tilesWritten, c.tileFailures, c.levelDuration, c.bytesWritten)
	}
	return c
}

// TileWritten counts one stored tile of n bytes.
func (c *Collector) TileWritten(zoom, n int) {
	if c == nil {
		return
	}
	c.tilesWritten.WithLabelValues(strconv.Itoa(zoom)).Inc()
	c.bytesWritten.Add(float64(n))
}

// TileFailed counts one tile lost at stage.
func (c *Collector) TileFailed(stage string) {
	if c == nil {
		return
	}
	c.tileFailures.WithLabelValues(stage).Inc()
}

// LevelDone observes the wall time of one zoom level.
func (c *Collector) LevelDone(zoom int, d time.Duration) {
	if c == nil {
		return
	}
	c.levelDuration.WithLabelValues(strconv.Itoa(zoom)).Observe(d.Seconds())
}
