// Command nvdsync mirrors NVD JSON feed shards into a local archive and
// tracks their sync state in a SQLite metadata database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nvdmirror/nvdsync/internal/config"
	"github.com/nvdmirror/nvdsync/internal/logging"
	"github.com/nvdmirror/nvdsync/internal/ui"
)

// Version is set at build time.
var Version = "dev"

var (
	// Flag values
	dbPath      string
	dataDir     string
	configPath  string
	verboseFlag bool
	noColor     bool

	settings   config.Settings
	sink       *logging.Sink
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:   "nvdsync",
	Short: "nvdsync - incremental NVD feed mirror",
	Long: `Keep a local copy of the NVD JSON vulnerability feeds up to date.

Each run checks the small .meta descriptor of every shard and downloads the
full payload only for shards whose lastModifiedDate moved forward.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			ui.DisableColor()
		}

		if configPath != "" {
			config.SetConfigFile(configPath)
		}
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		applyFlagOverrides(cmd)

		var err error
		settings, err = config.Load()
		if err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		sink, err = logging.New(logging.Options{
			File:       settings.LogFile,
			MaxSizeMB:  settings.LogMaxSizeMB,
			MaxBackups: settings.LogMaxBackups,
			MaxAgeDays: settings.LogMaxAgeDays,
			Verbose:    settings.Verbose,
		})
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}

		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		return nil
	},
}

// cleanup releases what PersistentPreRunE set up. main calls it after every
// command, including failed ones, since cobra skips post-run hooks on error.
func cleanup() {
	if rootCancel != nil {
		rootCancel()
		rootCancel = nil
	}
	if sink != nil {
		_ = sink.Close()
		sink = nil
	}
}

// applyFlagOverrides copies explicitly set flags over file and env values.
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("db") {
		config.Set("db", dbPath)
	}
	if flags.Changed("data-dir") {
		config.Set("data-dir", dataDir)
	}
	if flags.Changed("verbose") {
		config.Set("verbose", verboseFlag)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Metadata database path (default: db/nvd-metadata.db)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Directory for descriptors and payloads (default: data)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./config.yaml, then ~/.config/nvdsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log every request")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

func main() {
	err := rootCmd.Execute()
	cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
