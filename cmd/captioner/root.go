package cmd

import (
	"fmt"
	"os"

	// Subcommands
	apiKey "github.com/cozy-creator/captioner/cmd/captioner/api_key"
	client "github.com/cozy-creator/captioner/cmd/captioner/client"
	configInit "github.com/cozy-creator/captioner/cmd/captioner/config_init"
	db "github.com/cozy-creator/captioner/cmd/captioner/db"
	model "github.com/cozy-creator/captioner/cmd/captioner/model"
	serve "github.com/cozy-creator/captioner/cmd/captioner/serve"
	"github.com/cozy-creator/captioner/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Cmd = &cobra.Command{
	Use:   "captioner",
	Short: "Medical image captioning and Q&A",
	Long:  "Serves a vision-language model behind a job API and batch-processes image folders and question files against it",

	SilenceUsage: true,

	// Runs before this command and any subcommands
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.BindEnvs(viper.GetViper())

		// Load config and env files
		return config.LoadEnvAndConfigFiles()
	},
}

func GetRootCmd() *cobra.Command {
	return Cmd
}

func Execute() {
	if err := Cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Subcommands with their own pre-run hooks still get the root one
	cobra.EnableTraverseRunHooks = true

	pflags := Cmd.PersistentFlags()

	pflags.String("config-file", "", "Path to the config file")
	pflags.String("env-file", "", "Path to the env file")
	pflags.String("environment", "dev", "Environment configuration: dev, test or prod")
	pflags.String("db-driver", "sqlite", "Database driver: sqlite, libsql or postgres")
	pflags.String("db-dsn", "file::memory:?cache=shared", "Database DSN (Connection URL or Path)")

	// Bind flags to viper
	viper.BindPFlag("config_file", pflags.Lookup("config-file"))
	viper.BindPFlag("env_file", pflags.Lookup("env-file"))
	viper.BindPFlag("environment", pflags.Lookup("environment"))
	viper.BindPFlag("db.driver", pflags.Lookup("db-driver"))
	viper.BindPFlag("db.dsn", pflags.Lookup("db-dsn"))

	// Add subcommands
	Cmd.AddCommand(serve.Cmd, client.Cmd, apiKey.Cmd, db.Cmd, model.Cmd, configInit.Cmd)
	Cmd.CompletionOptions.HiddenDefaultCmd = true
}
