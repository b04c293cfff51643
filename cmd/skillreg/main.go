package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillreg/pkg/logger"
	"github.com/jingkaihe/skillreg/pkg/presenter"
)

func init() {
	// .env is optional
	_ = godotenv.Load()

	viper.SetEnvPrefix("SKILLREG")
	viper.AutomaticEnv()

	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "fmt")
	viper.SetDefault("watch.debounce", "300ms")
	viper.SetDefault("watch.lock_timeout", "5s")
	viper.SetDefault("watch.recursive", true)
	viper.SetDefault("watch.auto_register", true)
	viper.SetDefault("watch.auto_unregister", true)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME/.skillreg")
	viper.AddConfigPath(".")

	// a missing config file is fine
	_ = viper.ReadInConfig()
}

var rootCmd = &cobra.Command{
	Use:   "skillreg",
	Short: "Inspect and hot-reload skill definitions",
	Long: `skillreg loads skill definitions from the project and home skill directories,
indexes them by id, trigger, category and file path, and keeps the index in
sync with the file system while watching.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := logger.Configure(viper.GetString("log_level"), viper.GetString("log_format")); err != nil {
			return err
		}
		if quiet, err := cmd.Flags().GetBool("quiet"); err == nil && quiet {
			presenter.SetQuiet(true)
		}

		shutdown, err := initTracing(cmd.Context())
		if err != nil {
			logger.G(cmd.Context()).WithError(err).Warn("failed to initialize tracing, continuing without it")
			return nil
		}
		shutdownTracing = shutdown
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		flushTracing(cmd.Context())
	},
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "fmt", "Log format (fmt or json)")
	rootCmd.PersistentFlags().StringSlice("skill-dirs", nil, "Skill directories to load, in precedence order (overrides defaults)")
	rootCmd.PersistentFlags().Bool("no-default-dirs", false, "Do not load the project and home skill directories")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "Suppress informational output")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindPFlag("skill_dirs", rootCmd.PersistentFlags().Lookup("skill-dirs"))
	viper.BindPFlag("no_default_dirs", rootCmd.PersistentFlags().Lookup("no-default-dirs"))

	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		flushTracing(ctx)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
