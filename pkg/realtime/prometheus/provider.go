// Package prometheus provides a Prometheus implementation of o11y.MetricsProvider.
package prometheus

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tsarna/realtime/pkg/realtime/o11y"
)

// Provider registers one metric vector per metric name. The label names of a
// vector are fixed by WithLabelNames or, failing that, by the labels of its
// first observation. Later observations fill missing labels with "" and drop
// unknown ones.
type Provider struct {
	registerer prometheus.Registerer
	namespace  string
	logger     *zap.Logger
	buckets    []float64
	labelNames map[string][]string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

var _ o11y.MetricsProvider = (*Provider)(nil)

// NewProvider creates a provider registering with registerer. A nil
// registerer means prometheus.DefaultRegisterer.
func NewProvider(registerer prometheus.Registerer, namespace string) *Provider {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Provider{
		registerer: registerer,
		namespace:  namespace,
		logger:     zap.NewNop(),
		buckets:    prometheus.DefBuckets,
		labelNames: make(map[string][]string),
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

// WithLogger sets the logger used for registration problems.
func (p *Provider) WithLogger(logger *zap.Logger) *Provider {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// WithBuckets sets the histogram buckets.
func (p *Provider) WithBuckets(buckets ...float64) *Provider {
	p.buckets = buckets
	return p
}

// WithLabelNames declares the label names of a metric up front.
func (p *Provider) WithLabelNames(metric string, names ...string) *Provider {
	p.labelNames[metric] = names
	return p
}

func (p *Provider) Counter(name string) o11y.Counter {
	return &counter{p: p, name: name}
}

func (p *Provider) Histogram(name string) o11y.Histogram {
	return &histogram{p: p, name: name}
}

func (p *Provider) Gauge(name string) o11y.Gauge {
	return &gauge{p: p, name: name}
}

// namesFor returns the label names for metric, fixing them from labels if
// they were not declared. Must be called with p.mu held.
func (p *Provider) namesFor(metric string, labels []o11y.Label) []string {
	if names, ok := p.labelNames[metric]; ok {
		return names
	}
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Key
	}
	sort.Strings(names)
	p.labelNames[metric] = names
	return names
}

func values(names []string, labels []o11y.Label) []string {
	out := make([]string, len(names))
	for i, name := range names {
		for _, l := range labels {
			if l.Key == name {
				out[i] = l.Value
				break
			}
		}
	}
	return out
}

// register registers c, returning the already registered collector when an
// equivalent one exists.
func (p *Provider) register(c prometheus.Collector) prometheus.Collector {
	if err := p.registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
		p.logger.Error("Failed to register metric", zap.Error(err))
	}
	return c
}

func (p *Provider) counterVec(name string, labels []o11y.Label) (*prometheus.CounterVec, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := p.namesFor(name, labels)
	if v, ok := p.counters[name]; ok {
		return v, names
	}
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      name,
	}, names)
	if existing, ok := p.register(v).(*prometheus.CounterVec); ok {
		v = existing
	}
	p.counters[name] = v
	return v, names
}

func (p *Provider) histogramVec(name string, labels []o11y.Label) (*prometheus.HistogramVec, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := p.namesFor(name, labels)
	if v, ok := p.histograms[name]; ok {
		return v, names
	}
	v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      name,
		Buckets:   p.buckets,
	}, names)
	if existing, ok := p.register(v).(*prometheus.HistogramVec); ok {
		v = existing
	}
	p.histograms[name] = v
	return v, names
}

func (p *Provider) gaugeVec(name string, labels []o11y.Label) (*prometheus.GaugeVec, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := p.namesFor(name, labels)
	if v, ok := p.gauges[name]; ok {
		return v, names
	}
	v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: p.namespace,
		Name:      name,
		Help:      name,
	}, names)
	if existing, ok := p.register(v).(*prometheus.GaugeVec); ok {
		v = existing
	}
	p.gauges[name] = v
	return v, names
}

type counter struct {
	p    *Provider
	name string
}

func (c *counter) Add(ctx context.Context, value int64, labels ...o11y.Label) {
	vec, names := c.p.counterVec(c.name, labels)
	vec.WithLabelValues(values(names, labels)...).Add(float64(value))
}

type histogram struct {
	p    *Provider
	name string
}

func (h *histogram) Record(ctx context.Context, value float64, labels ...o11y.Label) {
	vec, names := h.p.histogramVec(h.name, labels)
	vec.WithLabelValues(values(names, labels)...).Observe(value)
}

type gauge struct {
	p    *Provider
	name string
}

func (g *gauge) Set(ctx context.Context, value float64, labels ...o11y.Label) {
	vec, names := g.p.gaugeVec(g.name, labels)
	vec.WithLabelValues(values(names, labels)...).Set(value)
}
