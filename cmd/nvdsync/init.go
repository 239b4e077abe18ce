package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvdmirror/nvdsync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the metadata database",
	Long: `Create the metadata database and its schema. Safe to run more than once;
existing records are left alone.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		defer st.Close()

		arch, err := openArchive()
		if err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		fmt.Printf("%s Initialized %s\n", ui.RenderPassIcon(), st.Path())
		fmt.Printf("   Data: %s\n", arch.Root())
		fmt.Printf("   Next: nvdsync seed\n")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
