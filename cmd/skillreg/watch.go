package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aymanbagabas/go-udiff"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillreg/pkg/events"
	"github.com/jingkaihe/skillreg/pkg/logger"
	"github.com/jingkaihe/skillreg/pkg/presenter"
)

type WatchConfig struct {
	Diff   bool
	Events []string
}

func NewWatchConfig() *WatchConfig {
	return &WatchConfig{
		Diff: true,
	}
}

var watchCmd = withTracing(&cobra.Command{
	Use:   "watch",
	Short: "Watch skill directories and print registry changes",
	Long: `Load the configured skill directories and keep the registry in sync with
the file system until interrupted. Every add, change, unlink and error is
printed; template edits are shown as unified diffs.

Watch behaviour is configured with the watch.* config keys, for example
SKILLREG_WATCH_DEBOUNCE=500ms.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		config := getWatchConfigFromFlags(cmd)
		if _, err := config.EventTypes(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runWatch(ctx, config, os.Stdout)
	},
})

func init() {
	defaults := NewWatchConfig()
	watchCmd.Flags().Bool("diff", defaults.Diff, "Show template diffs for changed skills")
	watchCmd.Flags().StringSlice("events", defaults.Events, "Only print these event types, for example add,change,unlink,error,ready")
	rootCmd.AddCommand(watchCmd)
}

func getWatchConfigFromFlags(cmd *cobra.Command) *WatchConfig {
	config := NewWatchConfig()
	if v, err := cmd.Flags().GetBool("diff"); err == nil {
		config.Diff = v
	}
	if v, err := cmd.Flags().GetStringSlice("events"); err == nil {
		config.Events = v
	}
	return config
}

// EventTypes returns the event types to print. Unknown names are rejected.
func (c *WatchConfig) EventTypes() ([]events.Type, error) {
	if len(c.Events) == 0 {
		return []events.Type{events.TypeAdd, events.TypeChange, events.TypeUnlink, events.TypeError, events.TypeReady}, nil
	}

	types := make([]events.Type, 0, len(c.Events))
	for _, name := range c.Events {
		t := events.Type(strings.ToLower(strings.TrimSpace(name)))
		if !t.Valid() {
			valid := make([]string, 0, len(events.AllTypes()))
			for _, known := range events.AllTypes() {
				valid = append(valid, string(known))
			}
			return nil, errors.Errorf("unknown event type '%s', valid types are: %s", name, strings.Join(valid, ", "))
		}
		types = append(types, t)
	}
	return types, nil
}

func runWatch(ctx context.Context, config *WatchConfig, w io.Writer) error {
	types, err := config.EventTypes()
	if err != nil {
		return err
	}

	m, err := newManager()
	if err != nil {
		return err
	}
	defer m.Close()

	m.Subscribe(func(ev events.Event) {
		presenter.Event(ev)
		if config.Diff && ev.Type == events.TypeChange {
			printTemplateDiff(w, ev)
		}
	}, types...)

	if err := m.StartWatching(ctx); err != nil {
		return err
	}
	presenter.Info(fmt.Sprintf("Watching %d skills, press Ctrl+C to stop", m.Registry().Count()))

	<-ctx.Done()
	logger.G(ctx).Debug("stopping watcher")
	return m.StopWatching()
}

func printTemplateDiff(w io.Writer, ev events.Event) {
	if ev.OldEntry == nil || ev.OldEntry.Skill == nil || ev.Skill == nil {
		return
	}
	before, after := ev.OldEntry.Skill.Template, ev.Skill.Template
	if before == after {
		return
	}
	fmt.Fprint(w, udiff.Unified(ev.Path+" (before)", ev.Path+" (after)", before, after))
}
