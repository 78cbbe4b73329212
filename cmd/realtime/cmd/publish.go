package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/realtime/pkg/realtime"
	"github.com/tsarna/realtime/pkg/realtime/protocol"
	"go.uber.org/zap"
)

// publishCmd represents the publish command
var publishCmd = &cobra.Command{
	Use:   "publish <websocket-url> <channel> <name> [data]",
	Short: "Publish a message and wait for the service to acknowledge it",
	Long: `Publish a message to a channel and wait until the service acknowledges it.

The first argument is the WebSocket URL to connect to, or "-" to use the URL
from the configuration file. The data argument is sent as JSON if it parses as
JSON and as a plain string otherwise.

Examples:
  realtime publish ws://localhost:8080/realtime sensors temperature/kitchen 21.5
  realtime publish ws://localhost:8080/realtime orders created '{"id":42,"total":"9.99"}'
  realtime publish - --config client.yaml alerts maintenance "Back in 10 minutes"`,
	Args: cobra.RangeArgs(3, 4),
	RunE: runPublish,
}

var publishTimeout time.Duration

func init() {
	rootCmd.AddCommand(publishCmd)

	publishCmd.Flags().DurationVar(&publishTimeout, "timeout", 30*time.Second, "Total operation timeout")
}

// parseData returns the JSON value of s, or s itself if it is not JSON.
func parseData(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}

func runPublish(cmd *cobra.Command, args []string) error {
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

	channel := args[1]
	msg := protocol.NewMessage(args[2], nil)
	if len(args) == 4 {
		msg.Data = parseData(args[3])
	}

	// Create a context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	client, err := realtime.NewClient().WithConfig(cfg).WithLogger(logger).Build()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() {
		if closeErr := client.Close(ctx); closeErr != nil {
			logger.Warn("Error during client close", zap.Error(closeErr))
		}
	}()

	deliveries, err := client.Publish(ctx, channel, msg)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	if err := deliveries[0].Wait(ctx); err != nil {
		return fmt.Errorf("message not acknowledged: %w", err)
	}

	id, _ := msg.ResolvedID()
	logger.Info("Message published successfully",
		zap.String("channel", channel),
		zap.String("name", msg.Name),
		zap.String("id", id),
	)

	return nil
}
