package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cozy-creator/captioner/internal/batch"
	"github.com/cozy-creator/captioner/internal/config"
	"github.com/cozy-creator/captioner/internal/services/filestorage"
	"github.com/cozy-creator/captioner/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var Cmd = &cobra.Command{
	Use:   "client",
	Short: "Caption an image folder or answer a question file against an endpoint",
	RunE:  runClient,
}

func init() {
	flags := Cmd.Flags()

	flags.String("endpoint-id", "", "RunPod endpoint ID")
	flags.String("endpoint-url", "", "Endpoint base URL; overrides --endpoint-id")
	flags.String("api-key", "", "API key sent as a bearer token")
	flags.Int("concurrent", 5, "Maximum number of jobs in flight")
	flags.Duration("polling-interval", 2*time.Second, "Delay between status checks")
	flags.String("image-folder", ".", "Folder containing the images to caption")
	flags.String("text-file", "questions.txt", "File with one question per line")
	flags.String("mode", config.ModeImage, "What to process: image, text or both")
	flags.Bool("sync", false, "Use /runsync instead of /run")
	flags.String("output-dir", ".", "Where answers to questions are written")
	flags.String("storage", config.StorageLocal, "Output storage: 'local' or 's3'")
	flags.Bool("no-progress", false, "Disable the progress bar")

	viper.BindPFlag("client.endpoint_id", flags.Lookup("endpoint-id"))
	viper.BindPFlag("client.endpoint_url", flags.Lookup("endpoint-url"))
	viper.BindPFlag("client.api_key", flags.Lookup("api-key"))
	viper.BindPFlag("client.concurrent", flags.Lookup("concurrent"))
	viper.BindPFlag("client.polling_interval", flags.Lookup("polling-interval"))
	viper.BindPFlag("client.image_folder", flags.Lookup("image-folder"))
	viper.BindPFlag("client.text_file", flags.Lookup("text-file"))
	viper.BindPFlag("client.mode", flags.Lookup("mode"))
	viper.BindPFlag("client.sync", flags.Lookup("sync"))
	viper.BindPFlag("client.output_dir", flags.Lookup("output-dir"))
	viper.BindPFlag("client.storage", flags.Lookup("storage"))
	viper.BindPFlag("client.no_progress", flags.Lookup("no-progress"))
}

func runClient(cmd *cobra.Command, _ []string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	log = log.Named("client")

	endpoint, err := batch.NewClientFromConfig(cfg.Client)
	if err != nil {
		return err
	}

	items, err := batch.CollectItems(cfg.Client, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := filestorage.NewFileStorage(ctx, cfg)
	if err != nil {
		return err
	}

	summary := batch.NewRunner(cfg.Client, endpoint, storage, log).Run(ctx, items)
	fmt.Printf("Processed %d items: %d succeeded, %d failed in %s\n",
		summary.Total, summary.Succeeded, summary.Failed, summary.Elapsed.Round(time.Millisecond))

	return ctx.Err()
}
