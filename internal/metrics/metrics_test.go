package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	c := New(nil)
	c.TileWritten(3, 100)
	c.TileWritten(3, 50)
	c.TileWritten(4, 10)
	c.TileFailed(StageWrite)
	c.LevelDone(3, time.Second)

	if got := testutil.ToFloat64(c.tilesWritten.WithLabelValues("3")); got != 2 {
		t.Errorf("tiles written at zoom 3: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.tilesWritten.WithLabelValues("4")); got != 1 {
		t.Errorf("tiles written at zoom 4: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.bytesWritten); got != 160 {
		t.Errorf("bytes written: got %v, want 160", got)
	}
	if got := testutil.ToFloat64(c.tileFailures.WithLabelValues(StageWrite)); got != 1 {
		t.Errorf("write failures: got %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.levelDuration); got != 1 {
		t.Errorf("level duration series: got %d, want 1", got)
	}
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.TileWritten(0, 1)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"slicer_tiles_written_total", "slicer_bytes_written_total"} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.TileWritten(1, 1)
	c.TileFailed(StageEncode)
	c.LevelDone(1, time.Millisecond)
}
