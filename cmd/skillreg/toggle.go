package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillreg/pkg/events"
	"github.com/jingkaihe/skillreg/pkg/presenter"
	"github.com/jingkaihe/skillreg/pkg/registry"
)

var enableCmd = withTracing(&cobra.Command{
	Use:   "enable <id>...",
	Short: "Enable skills in a freshly loaded registry",
	Long: `Enable skills and report the resulting state. The registry is in-process and
not persisted, so this is mostly useful to check that the ids exist and to
observe the emitted events.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleSkills(cmd, args, (*registry.Registry).Enable)
	},
})

var disableCmd = withTracing(&cobra.Command{
	Use:   "disable <id>...",
	Short: "Disable skills in a freshly loaded registry",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleSkills(cmd, args, (*registry.Registry).Disable)
	},
})

func init() {
	rootCmd.AddCommand(enableCmd)
	rootCmd.AddCommand(disableCmd)
}

func toggleSkills(cmd *cobra.Command, ids []string, apply func(*registry.Registry, string) error) error {
	m, err := loadManager(cmd.Context())
	if err != nil {
		return err
	}
	defer m.Close()

	unsubscribe := m.Subscribe(presenter.Event, events.TypeSkillEnabled, events.TypeSkillDisabled)
	defer unsubscribe()

	reg := m.Registry()
	var failed int
	for _, id := range ids {
		if err := apply(reg, id); err != nil {
			presenter.Error(err, id)
			failed++
			continue
		}
		entry, _ := reg.Get(id)
		state := "disabled"
		if entry.Enabled {
			state = "enabled"
		}
		presenter.Success(fmt.Sprintf("%s is %s", id, state))
	}

	if failed > 0 {
		return errors.Errorf("%d of %d skills could not be updated", failed, len(ids))
	}
	return nil
}
