// Package apptest builds App instances backed by an in-memory database, an
// in-memory queue and a scripted model backend.
package apptest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cozy-creator/captioner/internal/app"
	"github.com/cozy-creator/captioner/internal/config"
	"github.com/cozy-creator/captioner/internal/model"

	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Generator is a model backend that answers every prompt with Reply.
type Generator struct {
	mu      sync.Mutex
	Reply   string
	Err     error
	Delay   time.Duration
	Prompts []*model.Prompt
}

func (g *Generator) Name() string { return "fake" }

func (g *Generator) Load(ctx context.Context) error { return nil }

func (g *Generator) Close() error { return nil }

func (g *Generator) Generate(ctx context.Context, prompt *model.Prompt) (string, error) {
	g.mu.Lock()
	g.Prompts = append(g.Prompts, prompt)
	delay, reply, err := g.Delay, g.Reply, g.Err
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return reply, err
}

func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Prompts)
}

// Config returns the default configuration pointed at a private in-memory
// database.
func Config(t *testing.T) *config.Config {
	t.Helper()

	v := viper.New()
	v.Set("environment", "test")
	v.Set("db.dsn", fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(uuid.NewString(), "-", "")))

	cfg, err := config.LoadConfig(v)
	require.NoError(t, err)
	return cfg
}

// NewApp builds an App with the given generator; it is closed on cleanup.
func NewApp(t *testing.T, cfg *config.Config, generator model.Generator) *app.App {
	t.Helper()

	if cfg == nil {
		cfg = Config(t)
	}

	a, err := app.NewApp(cfg,
		app.WithLogger(zap.NewNop()),
		app.WithDBInitialization(),
		app.WithMQ(),
		app.WithGenerator(generator),
	)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	return a
}
