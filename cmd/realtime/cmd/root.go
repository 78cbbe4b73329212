package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tsarna/realtime/pkg/realtime/config"
)

var (
	verbose    bool
	debug      bool
	logLevel   string
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "realtime",
	Short: "Realtime pub/sub client",
	Long: `realtime is a command line client for a realtime pub/sub service.

It connects over WebSocket, attaches channels and prints the messages it
receives, or publishes messages and waits for the service to acknowledge them.

Settings not given on the command line can be read from an HCL or YAML
configuration file with --config.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug output")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file (.hcl, .yaml or .yml)")
}

// GetVerbose returns the verbose flag value
func GetVerbose() bool {
	return verbose
}

// GetDebug returns the debug flag value
func GetDebug() bool {
	return debug
}

// loadConfig reads --config if given and lets a URL from the command line
// override the one in the file.
func loadConfig(url string) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if url != "" {
		cfg.URL = url
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
