package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tsarna/realtime/pkg/realtime"
	"github.com/tsarna/realtime/pkg/realtime/bus"
	"github.com/tsarna/realtime/pkg/realtime/channel"
	"github.com/tsarna/realtime/pkg/realtime/config"
	"github.com/tsarna/realtime/pkg/realtime/connection"
	rtprom "github.com/tsarna/realtime/pkg/realtime/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// subscribeCmd represents the subscribe command
var subscribeCmd = &cobra.Command{
	Use:   "subscribe <websocket-url> [channels...]",
	Short: "Attach channels and print the messages they receive",
	Long: `Attach one or more channels and print every message received on them to stdout,
one "channel<TAB>name<TAB>payload" line per message.

The first argument is the WebSocket URL to connect to. It may be "-" to use the
URL from the configuration file. Channels given on the command line are
attached in addition to the ones listed in the configuration file.

With --verbose, channel state changes and errors are logged as well.

--filter takes an MQTT-style pattern matched against message names. Named
wildcards such as "+device" are available to --jq queries in $fields.

Examples:
  realtime subscribe ws://localhost:8080/realtime orders
  realtime subscribe ws://localhost:8080/realtime sensors --filter "temperature/+room"
  realtime subscribe ws://localhost:8080/realtime sensors --jq '{room: $fields.room, value: .value}'
  realtime subscribe - --config client.hcl --metrics-listen :9090`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubscribe,
}

var (
	nameFilter    string
	jqQuery       string
	metricsListen string
	closeTimeout  time.Duration
)

func init() {
	rootCmd.AddCommand(subscribeCmd)

	subscribeCmd.Flags().StringVar(&nameFilter, "filter", "", "MQTT-style pattern for message names")
	subscribeCmd.Flags().StringVar(&jqQuery, "jq", "", "jq query applied to each payload")
	subscribeCmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "address to serve Prometheus metrics on")
	subscribeCmd.Flags().DurationVar(&closeTimeout, "close-timeout", 5*time.Second, "time to wait for the service to confirm close")
}

func urlArg(arg string) string {
	if arg == "-" {
		return ""
	}
	return arg
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(urlArg(args[0]))
	if err != nil {
		return err
	}

	// Setup logger
	logger, err := setupLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	channels := append(append([]string{}, cfg.Channels...), args[1:]...)
	if len(channels) == 0 {
		return fmt.Errorf("no channels to subscribe to")
	}

	printer, err := newMessagePrinter(os.Stdout, logger, nameFilter, jqQuery)
	if err != nil {
		return err
	}

	if metricsListen != "" {
		cfg.Metrics.Listen = metricsListen
	}

	builder := realtime.NewClient().WithConfig(cfg).WithLogger(logger)

	var metricsServer *http.Server
	if cfg.Metrics.Listen != "" {
		registry := prometheus.NewRegistry()
		builder = builder.WithMetrics(rtprom.NewProvider(registry, cfg.Metrics.Namespace).WithLogger(logger))
		metricsServer = startMetricsServer(logger, registry, cfg.Metrics)
		defer metricsServer.Close()
	}

	client, err := builder.Build()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	// Create a context that can be cancelled on signal
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Starting subscription",
		zap.String("url", cfg.URL),
		zap.Strings("channels", channels),
		zap.String("filter", nameFilter),
	)

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	for _, name := range channels {
		ch, err := client.Attach(ctx, name)
		if err != nil {
			logger.Error("Failed to attach channel", zap.String("channel", name), zap.Error(err))
			continue
		}
		if _, err := ch.SubscribeMessages(printer.handler(name)); err != nil {
			return err
		}
		if GetVerbose() {
			if err := logChannelEvents(ch, logger); err != nil {
				return err
			}
		}
		logger.Info("Attached channel", zap.String("channel", name))
	}

	lost := make(chan error, 1)
	_, err = client.Connection().Once(string(connection.StateDisconnected), func(event string, args ...any) error {
		lost <- disconnectReason(args)
		return nil
	})
	if err != nil {
		return err
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Listening for messages... (Press Ctrl+C to exit)")

	var result error
	select {
	case sig := <-sigChan:
		logger.Debug("Signal received, exiting", zap.String("signal", sig.String()))
	case err := <-lost:
		result = fmt.Errorf("connection lost: %w", err)
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
	defer closeCancel()
	if err := client.Close(closeCtx); err != nil {
		logger.Warn("Error during client close", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return result
}

// logChannelEvents logs every state change and error event of ch.
func logChannelEvents(ch *channel.Channel, logger *zap.Logger) error {
	handler := bus.LoggingHandler(logger, zapcore.InfoLevel, "channel "+ch.Name())
	for _, event := range ch.Events().Vocabulary() {
		if _, err := ch.Subscribe(event, handler); err != nil {
			return err
		}
	}
	return nil
}

func disconnectReason(args []any) error {
	for _, arg := range args {
		if err, ok := arg.(error); ok && err != nil {
			return err
		}
	}
	return errors.New("disconnected by service")
}

func startMetricsServer(logger *zap.Logger, registry *prometheus.Registry, cfg config.MetricsConfig) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", zap.String("listen", cfg.Listen), zap.String("path", cfg.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return server
}
