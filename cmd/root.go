package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kozaktomas/cin-capture/internal/config"
	"github.com/kozaktomas/cin-capture/internal/logger"
)

var captureDir string

var rootCmd = &cobra.Command{
	Use:   "cin-capture",
	Short: "Capture national ID cards into the CIN document service",
	Long: `CIN Capture digitises national identity cards. The recto and verso of a card are
sent to a recognition backend, merged into one record, reviewed and saved to the
CIN document service. Stored documents can be listed, filtered, searched by term
or by a face photo.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&captureDir, "capture", "", "Directory to save API responses for testing")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// setup loads and validates the configuration and builds the logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg := config.Load()
	if captureDir != "" {
		cfg.API.CaptureDir = captureDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.NewLogger(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}
