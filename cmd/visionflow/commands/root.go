// Package commands implements the visionflow command line.
package commands

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/visionflow/visionflow/internal/config"
	"github.com/visionflow/visionflow/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "visionflow",
	Short: "VisionFlow - object detection service",
	Long: `VisionFlow runs object detection on uploaded images, keeps a history of
every result, and reports per-class detection statistics.

Available commands:
  serve    - Start the HTTP API (and optional gRPC health endpoint)
  detect   - Run detection on an image file
  history  - List stored detection results
  classes  - Show detection counts per class
  version  - Show version information

Examples:
  visionflow serve --config config/config.yaml
  visionflow detect street.jpg --classes car,person
  visionflow history --page 2 --page-size 20
  visionflow classes --limit 5`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(classesCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command and prints any error
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err.Error())
		return err
	}
	return nil
}

// loadConfig loads and validates configuration and builds the logger
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// cliLogger keeps one-shot commands quiet unless the config asks for debug
func cliLogger(cfg *config.Config, log *logger.Logger) *logger.Logger {
	if cfg.Log.Level == "debug" {
		return log
	}
	quiet, err := logger.New(logger.LogConfig{Level: "error", Format: cfg.Log.Format, Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		return log
	}
	return quiet
}
