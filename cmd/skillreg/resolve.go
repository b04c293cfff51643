package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillreg/pkg/events"
	"github.com/jingkaihe/skillreg/pkg/registry"
	skilltypes "github.com/jingkaihe/skillreg/pkg/types/skills"
)

var resolveCmd = withTracing(&cobra.Command{
	Use:   "resolve",
	Short: "Resolve skill dependencies into a load order",
	Long: `Resolve the dependency graph of every registered skill. Prints the load
order, missing dependencies and dependency cycles. Exits non-zero when the
graph cannot be fully resolved.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		m, err := loadManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		res := m.Registry().ResolveDependencies()
		if asJSON {
			if err := writeJSON(os.Stdout, res); err != nil {
				return err
			}
		} else {
			printResolution(os.Stdout, res)
		}
		if !res.Success {
			return errors.New("dependency resolution failed")
		}
		return nil
	},
})

var conflictsCmd = withTracing(&cobra.Command{
	Use:   "conflicts",
	Short: "List triggers claimed by more than one skill",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		m, err := loadManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		conflicts := m.Registry().GetAllConflicts()
		if asJSON {
			return writeJSON(os.Stdout, conflicts)
		}
		printConflicts(os.Stdout, conflicts)
		return nil
	},
})

var statsCmd = withTracing(&cobra.Command{
	Use:   "stats",
	Short: "Show registry statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		m, err := loadManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		stats := m.Registry().GetStats()
		if asJSON {
			return writeJSON(os.Stdout, stats)
		}
		return printStats(os.Stdout, stats)
	},
})

func init() {
	for _, cmd := range []*cobra.Command{resolveCmd, conflictsCmd, statsCmd} {
		cmd.Flags().Bool("json", false, "Output as JSON")
		rootCmd.AddCommand(cmd)
	}
}

func printResolution(w io.Writer, res *registry.DependencyResolution) {
	fmt.Fprintln(w, "Load order:")
	for i, id := range res.Order {
		fmt.Fprintf(w, "  %d. %s\n", i+1, id)
	}

	if len(res.Missing) > 0 {
		ids := make([]string, 0, len(res.Missing))
		for id := range res.Missing {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		fmt.Fprintln(w, "\nMissing dependencies:")
		for _, id := range ids {
			fmt.Fprintf(w, "  %s requires %s\n", id, strings.Join(res.Missing[id], ", "))
		}
	}

	if len(res.Circular) > 0 {
		fmt.Fprintln(w, "\nCircular dependencies:")
		for _, cycle := range res.Circular {
			fmt.Fprintf(w, "  %s\n", strings.Join(cycle, " -> "))
		}
	}
}

func printConflicts(w io.Writer, conflicts []events.Conflict) {
	if len(conflicts) == 0 {
		fmt.Fprintln(w, "No trigger conflicts.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TRIGGER\tSKILLS\tSUGGESTION")
	for _, c := range conflicts {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Trigger, strings.Join(c.SkillIDs, ", "), c.Suggestion)
	}
	tw.Flush()
}

func printStats(w io.Writer, stats *registry.Stats) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total:\t%d\n", stats.Total)
	fmt.Fprintf(tw, "Enabled:\t%d\n", stats.Enabled)
	fmt.Fprintf(tw, "Disabled:\t%d\n", stats.Disabled)
	fmt.Fprintf(tw, "Estimated tokens:\t%s\n", humanize.Comma(int64(stats.TotalTokens)))
	if stats.MostRecentlyRegistered != "" {
		fmt.Fprintf(tw, "Last registered:\t%s\n", stats.MostRecentlyRegistered)
	}
	if stats.MostRecentlyModified != "" {
		fmt.Fprintf(tw, "Last modified:\t%s\n", stats.MostRecentlyModified)
	}

	fmt.Fprintln(tw, "\nCategory\tCount")
	categories := make([]string, 0, len(stats.ByCategory))
	for c := range stats.ByCategory {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)
	for _, c := range categories {
		fmt.Fprintf(tw, "%s\t%d\n", c, stats.ByCategory[skilltypes.Category(c)])
	}

	fmt.Fprintln(tw, "\nSource\tCount")
	sources := make([]string, 0, len(stats.BySource))
	for s := range stats.BySource {
		sources = append(sources, string(s))
	}
	sort.Strings(sources)
	for _, s := range sources {
		fmt.Fprintf(tw, "%s\t%d\n", s, stats.BySource[skilltypes.Source(s)])
	}
	return tw.Flush()
}
