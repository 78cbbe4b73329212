package benchmarks

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tsarna/realtime/pkg/realtime/ack"
	"github.com/tsarna/realtime/pkg/realtime/bus"
	"github.com/tsarna/realtime/pkg/realtime/channel"
	"github.com/tsarna/realtime/pkg/realtime/connection"
	"github.com/tsarna/realtime/pkg/realtime/dispatch"
	"github.com/tsarna/realtime/pkg/realtime/o11y"
	"github.com/tsarna/realtime/pkg/realtime/otel"
	rtprom "github.com/tsarna/realtime/pkg/realtime/prometheus"
	"github.com/tsarna/realtime/pkg/realtime/protocol"
)

func newDispatcher(b *testing.B, metrics o11y.MetricsProvider, tracing o11y.TracingProvider) *dispatch.Dispatcher {
	b.Helper()
	logger := zap.NewNop()

	registry := channel.NewRegistry(logger)
	ch, err := registry.GetOrCreate("bench")
	if err != nil {
		b.Fatalf("GetOrCreate() returned error: %v", err)
	}
	if _, err := ch.SubscribeMessages(func(*protocol.Message) error { return nil }); err != nil {
		b.Fatalf("SubscribeMessages() returned error: %v", err)
	}

	d, err := dispatch.NewDispatcher().
		WithConnection(connection.New(logger)).
		WithChannels(registry).
		WithLogger(logger).
		WithMetrics(metrics).
		WithTracing(tracing).
		Build()
	if err != nil {
		b.Fatalf("Build() returned error: %v", err)
	}
	return d
}

func messageFrame() *protocol.ProtocolMessage {
	return &protocol.ProtocolMessage{
		Action:  protocol.ActionMessage,
		ID:      "conn:1",
		Channel: "bench",
		Messages: []*protocol.Message{
			{Name: "tick", Data: "benchmark message"},
		},
	}
}

func benchmarkDispatch(b *testing.B, metrics o11y.MetricsProvider, tracing o11y.TracingProvider) {
	d := newDispatcher(b, metrics, tracing)
	ctx := context.Background()

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		if err := d.Dispatch(ctx, messageFrame()); err != nil {
			b.Fatalf("Dispatch() returned error: %v", err)
		}
	}
}

func BenchmarkDispatchNoObservability(b *testing.B) {
	benchmarkDispatch(b, nil, nil)
}

func BenchmarkDispatchWithMemoryMetrics(b *testing.B) {
	benchmarkDispatch(b, o11y.NewMemoryProvider("benchmark"), nil)
}

func BenchmarkDispatchWithOpenTelemetry(b *testing.B) {
	p := otel.NewProviderFrom(noop.NewMeterProvider().Meter("benchmark"), tracenoop.NewTracerProvider().Tracer("benchmark"))
	benchmarkDispatch(b, p, p)
}

func BenchmarkDispatchWithPrometheus(b *testing.B) {
	benchmarkDispatch(b, rtprom.NewProvider(prometheus.NewRegistry(), "benchmark"), nil)
}

func BenchmarkBusPublish(b *testing.B) {
	events := bus.NewBus().WithName("bench").WithVocabulary("message").MustBuild()
	for i := 0; i < 4; i++ {
		if _, err := events.Subscribe("message", func(string, ...any) error { return nil }); err != nil {
			b.Fatalf("Subscribe() returned error: %v", err)
		}
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		_ = events.Publish("message", i)
	}
}

// BenchmarkAckResolution pushes batches of frames and resolves each batch
// with a single cumulative ack.
func BenchmarkAckResolution(b *testing.B) {
	const batch = 16
	q := ack.NewQueue(zap.NewNop())
	var serial int64

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		for j := 0; j < batch; j++ {
			pm := protocol.NewMessageFrame("bench", protocol.NewMessage("tick", nil))
			pm.SetSerial(serial)
			serial++
			if err := q.Push(pm); err != nil {
				b.Fatalf("Push() returned error: %v", err)
			}
		}
		if acked := q.Ack(serial - 1); len(acked) != batch {
			b.Fatalf("Ack() resolved %d frames, want %d", len(acked), batch)
		}
	}
}
