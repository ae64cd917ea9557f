package app

import (
	"context"
	"fmt"

	"github.com/cozy-creator/captioner/internal/config"
	"github.com/cozy-creator/captioner/internal/db"
	"github.com/cozy-creator/captioner/internal/db/drivers"
	"github.com/cozy-creator/captioner/internal/db/repository"
	"github.com/cozy-creator/captioner/internal/model"
	"github.com/cozy-creator/captioner/internal/mq"
	"github.com/cozy-creator/captioner/internal/services/inference"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// App is the service context shared by the HTTP API and the job processor.
type App struct {
	mq         mq.MQ
	db         *bun.DB
	driver     drivers.Driver
	generator  model.Generator
	handler    *inference.Handler
	config     *config.Config
	ctx        context.Context
	cancelFunc context.CancelFunc

	Logger *zap.Logger

	APIKeyRepository repository.IAPIKeyRepository
	JobRepository    repository.IJobRepository
}

// Option funcs used to initialize the App struct
type OptionFunc func(app *App) error

func WithLogger(logger *zap.Logger) OptionFunc {
	return func(app *App) error {
		app.Logger = logger
		return nil
	}
}

func WithMQ() OptionFunc {
	return func(app *App) error {
		queue, err := mq.NewMQ(app.config, app.Logger)
		if err != nil {
			return err
		}
		app.mq = queue
		return nil
	}
}

func WithDB(driver drivers.Driver) OptionFunc {
	return func(app *App) error {
		app.driver = driver
		app.db = driver.GetDB()
		app.initRepositories()
		return nil
	}
}

// WithDBInitialization connects to the configured database and makes sure
// the tables exist.
func WithDBInitialization() OptionFunc {
	return func(app *App) error {
		driver, err := db.NewConnection(app.ctx, app.config.DB)
		if err != nil {
			return err
		}

		if err := db.CreateTables(app.ctx, driver.GetDB()); err != nil {
			driver.Close()
			return err
		}

		app.driver = driver
		app.db = driver.GetDB()
		app.initRepositories()
		return nil
	}
}

// WithGenerator installs a model backend without loading it.
func WithGenerator(generator model.Generator) OptionFunc {
	return func(app *App) error {
		app.generator = generator
		app.handler = inference.NewHandler(generator, app.config.Model, app.Logger)
		return nil
	}
}

// WithModel builds the configured backend and loads the model once.
func WithModel() OptionFunc {
	return func(app *App) error {
		generator, err := model.NewGenerator(app.config, app.Logger)
		if err != nil {
			return err
		}

		app.Logger.Info("loading model",
			zap.String("backend", generator.Name()),
			zap.String("model", app.config.Model.ID),
		)
		if err := generator.Load(app.ctx); err != nil {
			generator.Close()
			return fmt.Errorf("failed to load model %s: %w", app.config.Model.ID, err)
		}

		return WithGenerator(generator)(app)
	}
}

func NewApp(config *config.Config, options ...OptionFunc) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		ctx:        ctx,
		config:     config,
		Logger:     zap.NewNop(),
		cancelFunc: cancel,
	}

	for _, opt := range options {
		if err := opt(app); err != nil {
			app.Close()
			return nil, err
		}
	}

	return app, nil
}

func (app *App) initRepositories() {
	app.APIKeyRepository = repository.NewAPIKeyRepository(app.db)
	app.JobRepository = repository.NewJobRepository(app.db)
}

func (app *App) Close() {
	app.cancelFunc()

	if app.mq != nil {
		if err := app.mq.Close(); err != nil {
			app.Logger.Error("failed to close queue", zap.Error(err))
		}
	}

	if app.generator != nil {
		if err := app.generator.Close(); err != nil {
			app.Logger.Error("failed to close model backend", zap.Error(err))
		}
	}

	if app.driver != nil {
		if err := app.driver.Close(); err != nil {
			app.Logger.Error("failed to close database", zap.Error(err))
		}
	}

	app.Logger.Sync()
}

func (app *App) Config() *config.Config {
	return app.config
}

func (app *App) Context() context.Context {
	return app.ctx
}

func (app *App) MQ() mq.MQ {
	return app.mq
}

func (app *App) DB() *bun.DB {
	return app.db
}

func (app *App) Generator() model.Generator {
	return app.generator
}

func (app *App) Handler() *inference.Handler {
	return app.handler
}
