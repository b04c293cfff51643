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

type ListConfig struct {
	Category string
	Source   string
	Tags     []string
	Search   string
	Sort     string
	Desc     bool
	Limit    int
	All      bool
	JSON     bool
}

func NewListConfig() *ListConfig {
	return &ListConfig{
		Sort: string(registry.SortByName),
	}
}

// Filter converts the flags into a registry filter
func (c *ListConfig) Filter() (registry.Filter, error) {
	filter := registry.Filter{
		Category: skilltypes.Category(c.Category),
		Source:   skilltypes.Source(c.Source),
		Tags:     c.Tags,
		Search:   c.Search,
		SortBy:   registry.SortField(c.Sort),
		Limit:    c.Limit,
	}

	if c.Category != "" && !filter.Category.Valid() {
		return filter, errors.Errorf("unknown category '%s'", c.Category)
	}
	if c.Source != "" && !filter.Source.Valid() {
		return filter, errors.Errorf("unknown source '%s'", c.Source)
	}
	switch filter.SortBy {
	case registry.SortByName, registry.SortByPriority, registry.SortByRegisteredAt, registry.SortByModifiedAt:
	default:
		return filter, errors.Errorf("unknown sort field '%s', must be one of: name, priority, registeredAt, modifiedAt", c.Sort)
	}
	if c.Limit < 0 {
		return filter, errors.New("limit must not be negative")
	}
	if c.Desc {
		filter.SortOrder = registry.SortDesc
	}
	if !c.All {
		enabled := true
		filter.Enabled = &enabled
	}
	return filter, nil
}

var listCmd = withTracing(&cobra.Command{
	Use:   "list",
	Short: "List registered skills",
	Long: `List the skills loaded from the configured skill directories.

Examples:
  skillreg list
  skillreg list --category git --sort priority --desc
  skillreg list --search review --all --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		config := getListConfigFromFlags(cmd)
		filter, err := config.Filter()
		if err != nil {
			return err
		}

		m, err := loadManager(cmd.Context())
		if err != nil {
			return err
		}
		defer m.Close()

		entries := m.Registry().Lookup(filter)
		if config.JSON {
			return writeJSON(os.Stdout, entries)
		}
		return printEntries(os.Stdout, entries)
	},
})

func init() {
	defaults := NewListConfig()
	listCmd.Flags().String("category", defaults.Category, "Only list skills in this category")
	listCmd.Flags().String("source", defaults.Source, "Only list skills from this source (builtin, user, marketplace, migrated)")
	listCmd.Flags().StringSlice("tag", defaults.Tags, "Only list skills carrying any of these tags")
	listCmd.Flags().String("search", defaults.Search, "Case-insensitive search over ids, names, descriptions, tags and triggers")
	listCmd.Flags().String("sort", defaults.Sort, "Sort by name, priority, registeredAt or modifiedAt")
	listCmd.Flags().Bool("desc", defaults.Desc, "Sort in descending order")
	listCmd.Flags().Int("limit", defaults.Limit, "Maximum number of skills to list (0 for no limit)")
	listCmd.Flags().Bool("all", defaults.All, "Include disabled skills")
	listCmd.Flags().Bool("json", defaults.JSON, "Output as JSON")
	rootCmd.AddCommand(listCmd)
}

func getListConfigFromFlags(cmd *cobra.Command) *ListConfig {
	config := NewListConfig()
	if v, err := cmd.Flags().GetString("category"); err == nil {
		config.Category = v
	}
	if v, err := cmd.Flags().GetString("source"); err == nil {
		config.Source = v
	}
	if v, err := cmd.Flags().GetStringSlice("tag"); err == nil {
		config.Tags = v
	}
	if v, err := cmd.Flags().GetString("search"); err == nil {
		config.Search = v
	}
	if v, err := cmd.Flags().GetString("sort"); err == nil {
		config.Sort = v
	}
	if v, err := cmd.Flags().GetBool("desc"); err == nil {
		config.Desc = v
	}
	if v, err := cmd.Flags().GetInt("limit"); err == nil {
		config.Limit = v
	}
	if v, err := cmd.Flags().GetBool("all"); err == nil {
		config.All = v
	}
	if v, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = v
	}
	return config
}

func printEntries(w io.Writer, entries []*skilltypes.RegistryEntry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No skills found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tPRIORITY\tSTATUS\tSOURCE\tTRIGGERS\tMODIFIED")
	for _, e := range entries {
		status := "enabled"
		if !e.Enabled {
			status = "disabled"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			e.ID(),
			e.Skill.Metadata.Category,
			e.Skill.EffectivePriority(),
			status,
			e.Source,
			strings.Join(e.Skill.Triggers, ", "),
			humanize.Time(e.ModifiedAt),
		)
	}
	return tw.Flush()
}
