package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillreg/pkg/hotreload"
	"github.com/jingkaihe/skillreg/pkg/manager"
	"github.com/jingkaihe/skillreg/pkg/presenter"
)

// watchConfigFromViper reads the watch.* keys on top of hotreload defaults
func watchConfigFromViper() *hotreload.Config {
	cfg := hotreload.NewConfig()
	if d := viper.GetDuration("watch.debounce"); d > 0 {
		cfg.Debounce = d
	}
	if d := viper.GetDuration("watch.lock_timeout"); d > 0 {
		cfg.LockTimeout = d
	}
	cfg.Recursive = viper.GetBool("watch.recursive")
	cfg.IgnoreInitial = viper.GetBool("watch.ignore_initial")
	cfg.AutoRegister = viper.GetBool("watch.auto_register")
	cfg.AutoUnregister = viper.GetBool("watch.auto_unregister")
	cfg.IgnorePatterns = viper.GetStringSlice("watch.ignore")
	cfg.IncludeDefaultPaths = viper.GetBool("watch.include_defaults")
	return cfg
}

// newManager builds a manager from configuration without loading anything
func newManager() (*manager.Manager, error) {
	opts := []manager.Option{manager.WithWatchConfig(watchConfigFromViper())}

	dirs := viper.GetStringSlice("skill_dirs")
	switch {
	case len(dirs) > 0:
		opts = append(opts, manager.WithSkillDirs(dirs...))
	case viper.GetBool("no_default_dirs"):
		return nil, errors.New("--no-default-dirs requires --skill-dirs")
	}

	return manager.New(opts...)
}

// loadManager builds a manager and loads every configured skill directory.
// Per-file failures are reported as warnings.
func loadManager(ctx context.Context) (*manager.Manager, error) {
	m, err := newManager()
	if err != nil {
		return nil, err
	}

	report, err := m.LoadAll(ctx)
	if err != nil {
		m.Close()
		return nil, err
	}
	failed := make([]string, 0, len(report.Failed))
	for path := range report.Failed {
		failed = append(failed, path)
	}
	sort.Strings(failed)
	for _, path := range failed {
		presenter.Warning(fmt.Sprintf("skipped %s: %s", path, report.Failed[path]))
	}
	return m, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(v), "failed to encode output")
}
