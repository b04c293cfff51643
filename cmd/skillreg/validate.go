package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jingkaihe/skillreg/pkg/presenter"
	"github.com/jingkaihe/skillreg/pkg/skills"
	skilltypes "github.com/jingkaihe/skillreg/pkg/types/skills"
)

var validateCmd = withTracing(&cobra.Command{
	Use:   "validate <file>...",
	Short: "Validate skill files without registering them",
	Long: `Parse and validate skill files. Legacy documents are reported as needing
migration unless --migrate is given, in which case they are validated after
conversion.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		migrate, _ := cmd.Flags().GetBool("migrate")
		return validateFiles(cmd.Context(), args, migrate)
	},
})

var migrateCmd = withTracing(&cobra.Command{
	Use:   "migrate <file>",
	Short: "Convert a legacy skill file to the current format",
	Long: `Convert a legacy skill document and print it in the current format.

Examples:
  skillreg migrate old/commit.md
  skillreg migrate old/commit.json -o skills/commit.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		return migrateFile(cmd.Context(), args[0], output)
	},
})

var schemaCmd = withTracing(&cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of a skill document",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return writeJSON(os.Stdout, skillSchema())
	},
})

func init() {
	validateCmd.Flags().Bool("migrate", false, "Validate legacy documents after migrating them")
	migrateCmd.Flags().StringP("output", "o", "", "Write the migrated skill to this file (format from extension) instead of stdout")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(schemaCmd)
}

func validateFiles(ctx context.Context, paths []string, migrate bool) error {
	parser := skills.NewParser()
	migrator := skills.NewMigrator(parser)

	var invalid int
	for _, path := range paths {
		result := parser.ParseFile(ctx, path)
		if result.Success {
			presenter.Success(fmt.Sprintf("%s: %s is valid", path, result.Skill.ID))
			continue
		}

		legacy := result.DetectedFormatVersion == skilltypes.FormatVersionLegacy
		if legacy && migrate {
			migrated := migrator.MigrateFile(ctx, path)
			if migrated.Success {
				presenter.Success(fmt.Sprintf("%s: %s is valid after migration from format %s", path, migrated.Skill.ID, migrated.FromVersion))
				continue
			}
			presenter.Error(migrated.Error, "")
			invalid++
			continue
		}

		presenter.Error(result.Error, "")
		invalid++
	}

	if invalid > 0 {
		return errors.Errorf("%d of %d files are invalid", invalid, len(paths))
	}
	return nil
}

func migrateFile(ctx context.Context, path, output string) error {
	result := skills.NewMigrator(nil).MigrateFile(ctx, path)
	if !result.Success {
		return result.Error
	}

	if output == "" {
		return encodeSkill(os.Stdout, result.Skill, ".yaml")
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return errors.Wrap(err, "failed to create output directory")
	}
	f, err := os.Create(output)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", output)
	}
	defer f.Close()

	if err := encodeSkill(f, result.Skill, filepath.Ext(output)); err != nil {
		return err
	}
	presenter.Success(fmt.Sprintf("Migrated %s from format %s to %s", result.Skill.ID, result.FromVersion, output))
	return nil
}

// encodeSkill writes skill as JSON for .json and YAML otherwise
func encodeSkill(w io.Writer, skill *skilltypes.Skill, ext string) error {
	if ext == ".json" {
		return writeJSON(w, skill)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(skill); err != nil {
		return errors.Wrap(err, "failed to encode skill as YAML")
	}
	return enc.Close()
}

func skillSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&skilltypes.Skill{})
	schema.Title = "Skill"
	schema.Description = fmt.Sprintf("Skill document, format version %s", skilltypes.FormatVersionCurrent)
	return schema
}
