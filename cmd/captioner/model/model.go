package cmd

import (
	"fmt"
	"os"

	"github.com/cozy-creator/captioner/internal/config"
	"github.com/cozy-creator/captioner/internal/model"
	"github.com/cozy-creator/captioner/pkg/logger"

	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "model",
	Short: "Manage model weights",
}

func init() {
	downloadCmd := &cobra.Command{
		Use:   "download [repo-id]",
		Short: "Download model weights from hugging face into the local cache",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.GetConfig()
			if err != nil {
				return err
			}

			log, err := logger.NewLogger(cfg.Environment)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}

			repoID := cfg.Model.ID
			if len(args) > 0 {
				repoID = args[0]
			}

			// Gated repos need the token in the environment of the hub client
			if cfg.HFToken != "" && os.Getenv("HF_TOKEN") == "" {
				os.Setenv("HF_TOKEN", cfg.HFToken)
			}

			if err := model.NewDownloader(log).Download(repoID); err != nil {
				return fmt.Errorf("failed to download %s: %w", repoID, err)
			}

			fmt.Printf("Download complete: %s\n", repoID)
			return nil
		},
	}

	Cmd.AddCommand(downloadCmd)
}
