package o11y

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeriesKey(t *testing.T) {
	assert.Equal(t, "plain", SeriesKey("plain", nil))
	assert.Equal(t, `m{a="1",b="2"}`, SeriesKey("m", []Label{L("b", "2"), L("a", "1")}))
}

func TestMemoryProvider(t *testing.T) {
	ctx := context.Background()
	p := NewMemoryProvider("")

	frames := p.Counter("frames_total")
	frames.Add(ctx, 1, L("action", "ack"))
	frames.Add(ctx, 2, L("action", "ack"))
	frames.Add(ctx, 1, L("action", "message"))

	p.Histogram("duration").Record(ctx, 0.5)
	p.Histogram("duration").Record(ctx, 1.5)

	depth := p.Gauge("depth")
	depth.Set(ctx, 4)
	depth.Set(ctx, 2)

	assert.Equal(t, int64(3), p.CounterValue("frames_total", L("action", "ack")))
	assert.Equal(t, int64(1), p.CounterValue("frames_total", L("action", "message")))
	assert.Equal(t, int64(0), p.CounterValue("frames_total"))
	assert.Equal(t, 2.0, p.GaugeValue("depth"))

	snap := p.Snapshot()
	assert.Equal(t, "unknown", snap.ServiceName)
	assert.Equal(t, []float64{0.5, 1.5}, snap.Histograms["duration"])
	assert.Len(t, snap.Counters, 2)

	// snapshots are copies
	snap.Histograms["duration"][0] = 99
	assert.Equal(t, 0.5, p.Snapshot().Histograms["duration"][0])
}
