package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillreg/pkg/registry"
	skilltypes "github.com/jingkaihe/skillreg/pkg/types/skills"
)

var showCmd = withTracing(&cobra.Command{
	Use:   "show <id>",
	Short: "Show a skill with its registry state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		m, err := loadManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		entry, ok := m.Registry().Get(args[0])
		if !ok {
			return errors.Errorf("skill '%s' not found", args[0])
		}
		if asJSON {
			return writeJSON(os.Stdout, entry)
		}
		return printEntry(os.Stdout, entry, m.Registry())
	},
})

var triggerCmd = withTracing(&cobra.Command{
	Use:   "trigger <phrase>",
	Short: "List the enabled skills a trigger phrase activates",
	Long: `List the enabled skills claiming a trigger, highest priority first.
Matching ignores case and surrounding whitespace.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		m, err := loadManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		entries := m.Registry().GetByTrigger(args[0])
		if asJSON {
			return writeJSON(os.Stdout, entries)
		}
		return printEntries(os.Stdout, entries)
	},
})

func init() {
	showCmd.Flags().Bool("json", false, "Output as JSON")
	triggerCmd.Flags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(triggerCmd)
}

func printEntry(w io.Writer, e *skilltypes.RegistryEntry, reg *registry.Registry) error {
	s := e.Skill
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", label, value)
		}
	}

	row("ID", s.ID)
	row("Version", s.Version)
	row("Name", fmt.Sprintf("%s / %s", s.Metadata.Name.EN, s.Metadata.Name.ZH))
	row("Description", s.Metadata.Description.EN)
	row("Category", string(s.Metadata.Category))
	row("Priority", fmt.Sprintf("%d", s.EffectivePriority()))
	row("Tags", strings.Join(s.Metadata.Tags, ", "))
	row("Triggers", strings.Join(s.Triggers, ", "))
	row("Depends on", strings.Join(s.Dependencies, ", "))
	row("Required by", strings.Join(reg.GetDependents(s.ID), ", "))
	row("Enabled", fmt.Sprintf("%t", e.Enabled))
	row("Source", string(e.Source))
	row("Migrated from", e.OriginalVersion)
	row("File", e.FilePath)
	row("Tokens", "~"+humanize.Comma(int64(e.EstimatedTokenCount)))
	row("Registered", humanize.Time(e.RegisteredAt))
	row("Modified", humanize.Time(e.ModifiedAt))
	row("Checksum", e.Checksum)
	if err := tw.Flush(); err != nil {
		return err
	}

	if s.Template != "" {
		fmt.Fprintf(w, "\n%s\n", strings.TrimRight(s.Template, "\n"))
	}
	return nil
}
