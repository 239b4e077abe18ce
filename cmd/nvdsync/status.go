package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nvdmirror/nvdsync/internal/feed"
	"github.com/nvdmirror/nvdsync/internal/store"
	"github.com/nvdmirror/nvdsync/internal/ui"
)

var (
	statusYAML  bool
	statusTOML  bool
	statusState string
	statusSince string
)

type shardStatus struct {
	Name         string `yaml:"name" toml:"name"`
	State        string `yaml:"state" toml:"state"`
	LastModified string `yaml:"last_modified" toml:"last_modified"`
	SHA256       string `yaml:"sha256,omitempty" toml:"sha256,omitempty"`
	CheckedAt    string `yaml:"checked_at,omitempty" toml:"checked_at,omitempty"`
	ImportedAt   string `yaml:"imported_at,omitempty" toml:"imported_at,omitempty"`
}

type statusOutput struct {
	Database string        `yaml:"database" toml:"database"`
	Current  int           `yaml:"current" toml:"current"`
	Stale    int           `yaml:"stale" toml:"stale"`
	Shards   []shardStatus `yaml:"shards" toml:"shards"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show shard records",
	Long: `List every shard record with its state and stored lastModifiedDate.

  nvdsync status --state stale
  nvdsync status --since "3 days ago"
  nvdsync status --yaml > status.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusYAML && statusTOML {
			return fmt.Errorf("--yaml and --toml are mutually exclusive")
		}

		var filter statusFilter
		if statusState != "" {
			state, err := store.ParseState(statusState)
			if err != nil {
				return err
			}
			filter.state = &state
		}
		if statusSince != "" {
			since, err := parseSince(statusSince, time.Now())
			if err != nil {
				return err
			}
			filter.since = since
		}

		st, err := openExistingStore()
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer st.Close()

		shards, err := st.AllContext(rootCtx)
		if err != nil {
			return fmt.Errorf("listing shards: %w", err)
		}
		counts, err := st.CountsContext(rootCtx)
		if err != nil {
			return fmt.Errorf("counting shards: %w", err)
		}

		out := buildStatus(st.Path(), shards, counts, filter)
		switch {
		case statusYAML:
			err = writeStatusYAML(os.Stdout, out)
		case statusTOML:
			err = toml.NewEncoder(os.Stdout).Encode(out)
		default:
			printStatus(out)
		}
		if err != nil {
			return fmt.Errorf("encoding status: %w", err)
		}
		return nil
	},
}

// statusFilter narrows the listing. Zero values match everything.
type statusFilter struct {
	state *store.State
	since time.Time
}

func (f statusFilter) match(s *store.Shard) bool {
	if f.state != nil && s.State != *f.state {
		return false
	}
	if !f.since.IsZero() && s.LastModified.Before(f.since) {
		return false
	}
	return true
}

func buildStatus(path string, shards []*store.Shard, counts map[store.State]int, filter statusFilter) statusOutput {
	out := statusOutput{
		Database: path,
		Current:  counts[store.Current],
		Stale:    counts[store.Stale],
		Shards:   []shardStatus{},
	}
	for _, s := range shards {
		if !filter.match(s) {
			continue
		}
		row := shardStatus{
			Name:         s.Name,
			State:        s.State.String(),
			LastModified: feed.FormatTimestamp(s.LastModified),
			SHA256:       s.SHA256,
		}
		if s.CheckedAt != nil {
			row.CheckedAt = feed.FormatTimestamp(*s.CheckedAt)
		}
		if s.ImportedAt != nil {
			row.ImportedAt = feed.FormatTimestamp(*s.ImportedAt)
		}
		out.Shards = append(out.Shards, row)
	}
	return out
}

func writeStatusYAML(w io.Writer, out statusOutput) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}

func printStatus(out statusOutput) {
	fmt.Printf("\n%s\n", ui.RenderCategory("Shards"))
	fmt.Printf("Database: %s\n", out.Database)
	fmt.Printf("Current: %s  Stale: %s\n",
		ui.RenderPass(fmt.Sprint(out.Current)), ui.RenderWarn(fmt.Sprint(out.Stale)))
	fmt.Println(ui.RenderSeparator())

	for _, s := range out.Shards {
		fmt.Printf("%-28s %-8s %s\n", s.Name, ui.RenderState(s.State), s.LastModified)
		if s.ImportedAt != "" {
			fmt.Printf("   %s\n", ui.RenderMuted("imported "+s.ImportedAt))
		}
	}
	if len(out.Shards) == 0 {
		fmt.Println(ui.RenderMuted("(no records; run 'nvdsync seed')"))
	}
	fmt.Println()
}

func init() {
	statusCmd.Flags().BoolVar(&statusYAML, "yaml", false, "Output in YAML format")
	statusCmd.Flags().BoolVar(&statusTOML, "toml", false, "Output in TOML format")
	statusCmd.Flags().StringVar(&statusState, "state", "", "Only show shards in this state (current, stale)")
	statusCmd.Flags().StringVar(&statusSince, "since", "", "Only show shards modified at or after this time (timestamp or e.g. \"yesterday\")")
	rootCmd.AddCommand(statusCmd)
}
