package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillreg/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	RunE: func(_ *cobra.Command, _ []string) error {
		out, err := version.Get().JSON()
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
