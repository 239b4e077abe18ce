package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvdmirror/nvdsync/internal/sync"
	"github.com/nvdmirror/nvdsync/internal/transport"
	"github.com/nvdmirror/nvdsync/internal/ui"
)

var syncPhase string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one incremental sync",
	Long: `Check descriptors of CURRENT shards and download payloads of STALE ones.

Phases:
  all     detect, then fetch everything stale (default)
  detect  only compare descriptors and mark changed shards stale
  fetch   only download shards already marked stale

Shards that fail are reported and retried on the next run. Ctrl+C stops
after the shard in progress; completed work is kept.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validatePhase(syncPhase); err != nil {
			return err
		}

		st, err := openExistingStore()
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer st.Close()

		arch, err := openArchive()
		if err != nil {
			return fmt.Errorf("opening data directory: %w", err)
		}

		ctrl, err := sync.New(st, newTransport(), arch, arch, &sync.Config{
			BaseURL: settings.BaseURL,
			Logger:  sink.Logger("sync"),
		})
		if err != nil {
			return fmt.Errorf("creating controller: %w", err)
		}

		fmt.Printf("%s Syncing %s into %s...\n", ui.RenderAccent("→"), settings.BaseURL, arch.Root())
		start := time.Now()

		report := &sync.Report{}
		switch syncPhase {
		case "detect":
			report.Detect, err = ctrl.Detect(rootCtx)
		case "fetch":
			report.Fetch, err = ctrl.Fetch(rootCtx)
		default:
			report, err = ctrl.Run(rootCtx)
		}

		printReport(report)
		if err != nil {
			if rootCtx.Err() != nil {
				fmt.Fprintf(os.Stderr, "%s Interrupted; completed shards were saved\n", ui.RenderWarnIcon())
			}
			return fmt.Errorf("sync: %w", err)
		}

		fmt.Printf("%s Sync complete in %v\n", ui.RenderPassIcon(), time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func validatePhase(phase string) error {
	switch phase {
	case "all", "detect", "fetch":
		return nil
	default:
		return fmt.Errorf("invalid phase %q (valid: all, detect, fetch)", phase)
	}
}

func printReport(report *sync.Report) {
	if report == nil {
		return
	}
	if d := report.Detect; d != nil {
		fmt.Printf("   Checked: %d (stale: %d, unchanged: %d)\n", d.Targets, d.Changed, d.Unchanged)
	}
	if f := report.Fetch; f != nil {
		fmt.Printf("   Fetched: %d of %d\n", f.Changed, f.Targets)
	}
	for _, failure := range report.Failures() {
		fmt.Printf("%s %s\n", ui.RenderFailIcon(), failureLine(failure))
	}
}

// failureLine renders a skipped shard, calling out request timeouts so the
// user knows raising the timeout setting may help.
func failureLine(f sync.ShardFailure) string {
	if transport.IsTimeout(f) {
		return f.Error() + " (timed out after " + settings.Timeout.String() + ")"
	}
	return f.Error()
}

func init() {
	syncCmd.Flags().StringVar(&syncPhase, "phase", "all", "Phase to run: all, detect, fetch")
	rootCmd.AddCommand(syncCmd)
}
