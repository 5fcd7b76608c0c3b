package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/downfa11-org/tapestore/pkg/config"
	"github.com/downfa11-org/tapestore/util"
	"github.com/spf13/cobra"
)

type globalFlags struct {
	configPath string
	dataDir    string
	store      string
	backend    string
	logLevel   string
}

func main() {
	var gf globalFlags

	rootCmd := &cobra.Command{
		Use:           "tapestore",
		Short:         "Append-only event store CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&gf.configPath, "config", "", "config file (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&gf.dataDir, "data-dir", "", "data directory")
	rootCmd.PersistentFlags().StringVar(&gf.store, "store", "default", "store name")
	rootCmd.PersistentFlags().StringVar(&gf.backend, "backend", "", "file|pebble|memory")
	rootCmd.PersistentFlags().StringVar(&gf.logLevel, "log-level", "", "debug|info|warn|error")

	rootCmd.AddCommand(
		newAppendCmd(&gf),
		newReadCmd(&gf),
		newVersionCmd(&gf),
		newResetCmd(&gf),
		newInspectCmd(),
		newServeCmd(&gf),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

// loadConfig applies command line flags on top of the file and env config.
func (gf *globalFlags) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(gf.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if gf.dataDir != "" {
		cfg.DataDir = gf.dataDir
	}
	if b := strings.ToLower(strings.TrimSpace(gf.backend)); b != "" {
		cfg.Backend = b
	}
	if gf.logLevel != "" {
		cfg.LogLevel = util.ParseLogLevel(gf.logLevel)
		util.SetLevel(cfg.LogLevel)
	}
	return cfg, nil
}
