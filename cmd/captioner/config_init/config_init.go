package cmd

import (
	"errors"
	"fmt"

	"github.com/cozy-creator/captioner/internal/templates"
	"github.com/cozy-creator/captioner/internal/utils/pathutil"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

func init() {
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a commented config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "captioner.yaml"
			if len(args) > 0 {
				path = args[0]
			}

			path, err := pathutil.ExpandPath(path)
			if err != nil {
				return err
			}

			force, _ := cmd.Flags().GetBool("force")
			if err := templates.WriteConfig(path, force); err != nil {
				if errors.Is(err, templates.ErrFileExists) {
					return fmt.Errorf("%w (use --force to overwrite)", err)
				}
				return err
			}
			fmt.Printf("Config written to %s\n", path)

			examplesDir, _ := cmd.Flags().GetString("examples-dir")
			if examplesDir == "" {
				return nil
			}

			written, err := templates.WriteExampleTemplates(examplesDir)
			for _, file := range written {
				fmt.Printf("Example written to %s\n", file)
			}
			return err
		},
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")
	initCmd.Flags().String("examples-dir", "", "Also write config.example.yaml and .env.example into this directory")

	Cmd.AddCommand(initCmd)
}
