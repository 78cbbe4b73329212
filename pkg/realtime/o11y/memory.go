package o11y

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricsSnapshot is a point-in-time copy of the values held by a MemoryProvider.
// Series are keyed by metric name followed by sorted labels, e.g.
// `frames_total{action="ack"}`.
type MetricsSnapshot struct {
	Timestamp   time.Time            `json:"timestamp" yaml:"timestamp"`
	ServiceName string               `json:"service_name" yaml:"service_name"`
	Counters    map[string]int64     `json:"counters" yaml:"counters"`
	Histograms  map[string][]float64 `json:"histograms" yaml:"histograms"`
	Gauges      map[string]float64   `json:"gauges" yaml:"gauges"`
}

// MemoryProvider keeps metrics in process. It backs the CLI's --stats output
// and is convenient in tests.
type MemoryProvider struct {
	serviceName string

	mu         sync.Mutex
	counters   map[string]int64
	histograms map[string][]float64
	gauges     map[string]float64
}

var _ MetricsProvider = (*MemoryProvider)(nil)

// NewMemoryProvider creates an empty MemoryProvider.
func NewMemoryProvider(serviceName string) *MemoryProvider {
	if serviceName == "" {
		serviceName = "unknown"
	}
	return &MemoryProvider{
		serviceName: serviceName,
		counters:    make(map[string]int64),
		histograms:  make(map[string][]float64),
		gauges:      make(map[string]float64),
	}
}

func (p *MemoryProvider) Counter(name string) Counter {
	return &memoryCounter{p: p, name: name}
}

func (p *MemoryProvider) Histogram(name string) Histogram {
	return &memoryHistogram{p: p, name: name}
}

func (p *MemoryProvider) Gauge(name string) Gauge {
	return &memoryGauge{p: p, name: name}
}

// CounterValue returns the current value of one counter series.
func (p *MemoryProvider) CounterValue(name string, labels ...Label) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counters[SeriesKey(name, labels)]
}

// GaugeValue returns the current value of one gauge series.
func (p *MemoryProvider) GaugeValue(name string, labels ...Label) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gauges[SeriesKey(name, labels)]
}

// Snapshot copies every series.
func (p *MemoryProvider) Snapshot() MetricsSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := MetricsSnapshot{
		Timestamp:   time.Now(),
		ServiceName: p.serviceName,
		Counters:    make(map[string]int64, len(p.counters)),
		Histograms:  make(map[string][]float64, len(p.histograms)),
		Gauges:      make(map[string]float64, len(p.gauges)),
	}
	for k, v := range p.counters {
		snap.Counters[k] = v
	}
	for k, v := range p.histograms {
		snap.Histograms[k] = append([]float64(nil), v...)
	}
	for k, v := range p.gauges {
		snap.Gauges[k] = v
	}
	return snap
}

// SeriesKey renders a metric name and labels as a single series key.
func SeriesKey(name string, labels []Label) string {
	if len(labels) == 0 {
		return name
	}

	sorted := make([]Label, len(labels))
	copy(sorted, labels)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteByte('{')
	for i, l := range sorted {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(l.Key)
		sb.WriteString(`="`)
		sb.WriteString(l.Value)
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}

type memoryCounter struct {
	p    *MemoryProvider
	name string
}

func (c *memoryCounter) Add(ctx context.Context, value int64, labels ...Label) {
	c.p.mu.Lock()
	c.p.counters[SeriesKey(c.name, labels)] += value
	c.p.mu.Unlock()
}

type memoryHistogram struct {
	p    *MemoryProvider
	name string
}

func (h *memoryHistogram) Record(ctx context.Context, value float64, labels ...Label) {
	key := SeriesKey(h.name, labels)
	h.p.mu.Lock()
	h.p.histograms[key] = append(h.p.histograms[key], value)
	h.p.mu.Unlock()
}

type memoryGauge struct {
	p    *MemoryProvider
	name string
}

func (g *memoryGauge) Set(ctx context.Context, value float64, labels ...Label) {
	g.p.mu.Lock()
	g.p.gauges[SeriesKey(g.name, labels)] = value
	g.p.mu.Unlock()
}
