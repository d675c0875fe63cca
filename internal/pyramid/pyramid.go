// Package pyramid writes a raster as a tile pyramid: one square grid of
// 256x256 tiles per zoom level, with the resampled edge doubling from one
// level to the next.
package pyramid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb/maptile"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/kiesman99/slicer/internal/logging"
	"github.com/kiesman99/slicer/internal/metrics"
	"github.com/kiesman99/slicer/internal/partition"
	"github.com/kiesman99/slicer/internal/raster"
	"github.com/kiesman99/slicer/internal/sink"
	"github.com/kiesman99/slicer/pkg/tile"
)

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger for progress and per-tile failures.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) { g.log = logging.OrDiscard(l) }
}

// WithMetrics sets the collector fed with tile and level statistics.
func WithMetrics(c *metrics.Collector) Option {
	return func(g *Generator) { g.metrics = c }
}

// Generator writes tile pyramids through a sink.
type Generator struct {
	cfg       tile.Config
	sink      sink.Sink
	processor *tile.Processor
	scaler    xdraw.Scaler
	log       *slog.Logger
	metrics   *metrics.Collector
}

// New creates a generator for cfg. The configuration is copied and must
// be valid.
func New(cfg tile.Config, s sink.Sink, opts ...Option) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	scaler, err := raster.ParseFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("no tile sink configured")
	}

	g := &Generator{
		cfg:       cfg,
		sink:      s,
		processor: tile.NewProcessor(cfg),
		scaler:    scaler,
		log:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// LevelStats describes one written zoom level.
type LevelStats struct {
	Zoom     int
	Edge     int
	Columns  int
	Rows     int
	Written  int
	Failed   int
	Bytes    int64
	Parallel bool
	Duration time.Duration
}

// Report summarizes a Generate run.
type Report struct {
	Levels   []LevelStats
	Duration time.Duration
}

// Tiles returns the number of tiles written over all levels.
func (r *Report) Tiles() int {
	n := 0
	for _, l := range r.Levels {
		n += l.Written
	}
	return n
}

// Generate writes zoom levels 0 through the configured maximum, in order.
//
// A level whose tiles partly failed stops the run unless ContinueOnError is
// set; in that case the remaining levels are written and all level errors
// are returned together. Resample failures and cancellation always stop
// the run. The report covers every level that was attempted.
func (g *Generator) Generate(ctx context.Context, src *raster.Raster) (*Report, error) {
	start := time.Now()
	report := &Report{}
	var errs []error

	if !src.Empty() {
		if err := raster.CheckTarget(g.cfg.TileEdge()<<g.cfg.MaxZoom, src.Format()); err != nil {
			return report, err
		}
	}

	for zoom := 0; zoom <= g.cfg.MaxZoom; zoom++ {
		stats, err := g.WriteLevel(ctx, src, zoom)
		report.Levels = append(report.Levels, stats)
		if err == nil {
			continue
		}

		errs = append(errs, err)
		var levelErr *LevelError
		if !g.cfg.ContinueOnError || !errors.As(err, &levelErr) {
			break
		}
		g.log.Warn("continuing after failed level", "zoom", zoom, "failed", stats.Failed)
	}

	report.Duration = time.Since(start)
	g.log.Info("pyramid done",
		"levels", len(report.Levels),
		"tiles", report.Tiles(),
		"duration", report.Duration)
	return report, errors.Join(errs...)
}

// WriteLevel resamples src to the square edge of zoom and writes every tile
// of the resulting grid.
//
// Columns are written sequentially when zoom is below the parallel
// threshold and on a bounded pool of workers otherwise. Within a column
// tiles are written in increasing y. WriteLevel returns once every column
// has finished.
func (g *Generator) WriteLevel(ctx context.Context, src *raster.Raster, zoom int) (LevelStats, error) {
	start := time.Now()
	edge := g.cfg.TileEdge()
	stats := LevelStats{Zoom: zoom}
	if zoom < 0 || zoom > tile.MaxZoom {
		return stats, fmt.Errorf("zoom %d out of range [0, %d]", zoom, tile.MaxZoom)
	}
	stats.Edge = edge << zoom

	scaled, err := raster.Resample(src, stats.Edge, g.scaler)
	if err != nil {
		return stats, err
	}

	maxX, maxY := partition.GridSize(scaled.Width(), scaled.Height(), edge)
	stats.Columns, stats.Rows = maxX, maxY
	stats.Parallel = zoom >= g.cfg.ParallelThreshold

	g.log.Debug("writing level",
		"zoom", zoom,
		"edge", stats.Edge,
		"columns", maxX,
		"rows", maxY,
		"parallel", stats.Parallel)

	// One slot per column; each column task only touches its own.
	results := make([]columnResult, maxX)
	if stats.Parallel {
		var group errgroup.Group
		group.SetLimit(g.cfg.Workers)
		for x := range maxX {
			group.Go(func() error {
				results[x] = g.writeColumn(ctx, scaled, zoom, x)
				return nil
			})
		}
		group.Wait()
	} else {
		for x := range maxX {
			results[x] = g.writeColumn(ctx, scaled, zoom, x)
		}
	}

	var failed []FailedTile
	for _, r := range results {
		stats.Written += r.written
		stats.Bytes += r.bytes
		failed = append(failed, r.failed...)
	}
	stats.Failed = len(failed)
	stats.Duration = time.Since(start)
	g.metrics.LevelDone(zoom, stats.Duration)

	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("zoom %d cancelled after %d tiles: %w", zoom, stats.Written, err)
	}
	if len(failed) > 0 {
		return stats, &LevelError{Zoom: zoom, Failed: failed, Total: maxX * maxY}
	}

	g.log.Info("level written",
		"zoom", zoom,
		"tiles", stats.Written,
		"bytes", stats.Bytes,
		"duration", stats.Duration)
	return stats, nil
}

type columnResult struct {
	written int
	bytes   int64
	failed  []FailedTile
}

func (g *Generator) writeColumn(ctx context.Context, scaled *raster.Raster, zoom, x int) columnResult {
	var r columnResult
	for y, t := range partition.Column(scaled, x, g.cfg.TileEdge()) {
		if ctx.Err() != nil {
			break
		}

		coord := tile.New(zoom, x, y)
		n, stage, err := g.writeTile(ctx, coord, t)
		if err != nil {
			g.log.Error("tile failed",
				"zoom", zoom,
				"x", x,
				"y", y,
				"stage", stage,
				"err", err)
			g.metrics.TileFailed(stage)
			r.failed = append(r.failed, FailedTile{Tile: coord, Stage: stage, Err: err})
			continue
		}

		g.metrics.TileWritten(zoom, n)
		r.written++
		r.bytes += int64(n)
	}
	return r
}

func (g *Generator) writeTile(ctx context.Context, coord maptile.Tile, t *raster.Raster) (int, string, error) {
	data, err := g.processor.EncodeBytes(t)
	if err != nil {
		return 0, metrics.StageEncode, &tile.EncodeError{Tile: coord, Format: g.cfg.Format, Err: err}
	}
	if err := g.sink.WriteTile(ctx, coord, g.cfg.Extension, data); err != nil {
		return 0, metrics.StageWrite, err
	}
	return len(data), "", nil
}
