package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvdmirror/nvdsync/internal/seed"
	"github.com/nvdmirror/nvdsync/internal/ui"
)

var (
	seedRemote []string
	seedDryRun bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create shard records",
	Long: `Insert a CURRENT record for each shard that has none yet.

Without --remote, every *.meta file in the data directory is loaded. With
--remote, the named descriptors are downloaded first:

  nvdsync seed --remote nvdcve-1.1-2023 --remote nvdcve-1.1-modified

Existing records are never changed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer st.Close()

		arch, err := openArchive()
		if err != nil {
			return fmt.Errorf("opening data directory: %w", err)
		}

		s := seed.New(st, arch, newTransport(), seed.Options{
			BaseURL: settings.BaseURL,
			DryRun:  seedDryRun,
			Logger:  sink.Logger("seed"),
		})

		var result *seed.Result
		if len(seedRemote) > 0 {
			result, err = s.FromRemote(rootCtx, seedRemote)
		} else {
			result, err = s.FromArchive(rootCtx)
		}
		if err != nil {
			return fmt.Errorf("seeding: %w", err)
		}

		printSeedResult(result)
		return nil
	},
}

func printSeedResult(result *seed.Result) {
	verb := "Inserted"
	if seedDryRun {
		verb = "Would insert"
	}
	fmt.Printf("%s %s %d record(s), %d already present\n",
		ui.RenderPassIcon(), verb, result.Inserted, result.Existing)
	for _, f := range result.Failed {
		fmt.Printf("%s %s\n", ui.RenderWarnIcon(), f)
	}
}

func init() {
	seedCmd.Flags().StringArrayVar(&seedRemote, "remote", nil, "Download and seed the named shard (repeatable)")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "Show what would be inserted without writing")
	rootCmd.AddCommand(seedCmd)
}
