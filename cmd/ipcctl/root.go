package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danmuck/ipcmux/internal/config"
	"github.com/danmuck/ipcmux/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
	jsonOut    bool
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "ipcctl",
	Short: "Run and inspect shared memory RPC links",
	Long: `ipcctl drives the ipcmux stack: a shared memory packet transport between two
peers and the command/event RPC multiplexer running over it.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Node config file (TOML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored log output")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ipcctl: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig returns the node config named by --config, or the defaults.
func loadConfig() (config.NodeConfig, error) {
	if strings.TrimSpace(configPath) == "" {
		return config.DefaultNodeConfig(), nil
	}
	return config.LoadNodeConfig(configPath)
}

func setupLogger(cfg config.NodeConfig) zerolog.Logger {
	lc := cfg.Logging()
	if logLevel != "" {
		if level, ok := logging.ParseLevel(logLevel); ok {
			lc.Level = level
		}
	}
	if noColor {
		lc.NoColor = true
	}
	return logging.Install(lc)
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
