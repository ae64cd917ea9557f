package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cozy-creator/captioner/internal/app"
	"github.com/cozy-creator/captioner/internal/config"
	"github.com/cozy-creator/captioner/internal/server"
	"github.com/cozy-creator/captioner/internal/services/generation"
	"github.com/cozy-creator/captioner/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var Cmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the model and serve the job API",
	RunE:  runServe,
}

func init() {
	flags := Cmd.Flags()

	flags.String("host", "0.0.0.0", "Host to run the server on")
	flags.Int("port", 8000, "Port to run the server on")
	flags.String("api-key", "", "Static API key accepted in addition to keys stored in the database")
	flags.Bool("disable-auth", false, "Disable authentication when receiving requests")
	flags.String("backend", config.BackendOpenAI, "Model backend: 'openai' or 'tcp'")
	flags.String("model-id", config.DefaultModelID, "Model to serve")
	flags.String("base-url", "http://localhost:8080/v1", "Base URL of the OpenAI compatible inference server")
	flags.String("tcp-address", "localhost:8882", "Address of the model worker")
	flags.String("pulsar-url", "", "URL of the pulsar broker. Example: pulsar+ssl://my-cluster.streamnative.cloud:6651")

	viper.BindPFlag("server.host", flags.Lookup("host"))
	viper.BindPFlag("server.port", flags.Lookup("port"))
	viper.BindPFlag("server.api_key", flags.Lookup("api-key"))
	viper.BindPFlag("server.disable_auth", flags.Lookup("disable-auth"))
	viper.BindPFlag("model.backend", flags.Lookup("backend"))
	viper.BindPFlag("model.id", flags.Lookup("model-id"))
	viper.BindPFlag("model.base_url", flags.Lookup("base-url"))
	viper.BindPFlag("model.tcp_address", flags.Lookup("tcp-address"))
	viper.BindPFlag("pulsar.url", flags.Lookup("pulsar-url"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	log, err := logger.NewLogger(cfg.Environment)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	app, err := app.NewApp(cfg,
		app.WithLogger(log),
		app.WithDBInitialization(),
		app.WithMQ(),
		app.WithModel(),
	)
	if err != nil {
		return err
	}
	defer app.Close()

	server, err := server.NewServer(cfg)
	if err != nil {
		return err
	}
	server.SetupRoutes(app)

	errc := make(chan error, 2)
	go func() {
		errc <- generation.RunProcessor(app.Context(), app)
	}()

	go func() {
		log.Info("server started", zap.String("addr", server.Addr()))
		errc <- server.Start()
	}()

	signalc := make(chan os.Signal, 1)
	signal.Notify(signalc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalc)

	select {
	case err = <-errc:
		if err != nil {
			log.Error("shutting down", zap.Error(err))
		}
	case sig := <-signalc:
		log.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}

	if stopErr := server.Stop(context.Background()); stopErr != nil {
		log.Error("failed to stop server", zap.Error(stopErr))
	}

	return err
}
