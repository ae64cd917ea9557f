package cmd

import (
	"fmt"

	"github.com/cozy-creator/captioner/internal/config"
	"github.com/cozy-creator/captioner/internal/db"
	"github.com/cozy-creator/captioner/internal/db/drivers"
	"github.com/cozy-creator/captioner/internal/db/models"
	"github.com/cozy-creator/captioner/internal/db/repository"
	"github.com/cozy-creator/captioner/internal/utils/hashutil"
	"github.com/cozy-creator/captioner/internal/utils/randutil"

	"github.com/spf13/cobra"
)

var (
	driver drivers.Driver
	repo   repository.IAPIKeyRepository
)

var Cmd = &cobra.Command{
	Use:   "api-key",
	Short: "Manage API keys accepted by the server",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.GetConfig()
		if err != nil {
			return err
		}

		driver, err = db.NewConnection(cmd.Context(), cfg.DB)
		if err != nil {
			return err
		}

		if err := db.CreateTables(cmd.Context(), driver.GetDB()); err != nil {
			return err
		}

		repo = repository.NewAPIKeyRepository(driver.GetDB())
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if driver == nil {
			return nil
		}
		return driver.Close()
	},
}

func init() {
	newAPIKeyCmd := &cobra.Command{
		Use:   "new",
		Short: "Creates a new API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := randutil.NewAPIKey()
			if err != nil {
				return err
			}

			apiKey := models.NewAPIKey(hashutil.Sha3256Hash([]byte(key)), randutil.MaskString(key, 6, 4))
			if _, err := repo.Create(cmd.Context(), apiKey); err != nil {
				return err
			}

			fmt.Printf("API key created: %s\n", key)
			fmt.Println("Store it now, it cannot be shown again.")
			return nil
		},
	}

	revokeAPIKeyCmd := &cobra.Command{
		Use:   "revoke <key>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			revoked, err := repo.RevokeAPIKeyWithHash(cmd.Context(), hashutil.Sha3256Hash([]byte(key)))
			if err != nil {
				return err
			}
			if !revoked {
				return fmt.Errorf("api key not found: %s", randutil.MaskString(key, 6, 4))
			}

			fmt.Printf("API key revoked: %s\n", randutil.MaskString(key, 6, 4))
			return nil
		},
	}

	listAPIKeysCmd := &cobra.Command{
		Use:   "list",
		Short: "List all API keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apiKeys, err := repo.ListAPIKeys(cmd.Context())
			if err != nil {
				return err
			}

			if len(apiKeys) == 0 {
				fmt.Println("No API keys found")
				return nil
			}

			fmt.Println("API keys:")
			for _, apiKey := range apiKeys {
				fmt.Printf("%s %s (Revoked: %t)\n", apiKey.ID, apiKey.KeyMask, apiKey.IsRevoked)
			}

			return nil
		},
	}

	Cmd.AddCommand(newAPIKeyCmd, revokeAPIKeyCmd, listAPIKeysCmd)
}
