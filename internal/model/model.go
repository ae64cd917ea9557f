package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/cozy-creator/captioner/internal/config"
	"go.uber.org/zap"
)

var (
	ErrModelNotServed  = errors.New("model is not served by the backend")
	ErrEmptyCompletion = errors.New("backend returned no completion")
)

// Prompt is a single user turn. Image, when set, is a JPEG encoded RGB image.
type Prompt struct {
	Text         string
	Image        []byte
	MaxNewTokens int
}

func (p *Prompt) HasImage() bool {
	return len(p.Image) > 0
}

// Generator runs greedy generation against a vision-language model.
type Generator interface {
	Name() string
	Load(ctx context.Context) error
	Generate(ctx context.Context, prompt *Prompt) (string, error)
	Close() error
}

func NewGenerator(cfg *config.Config, logger *zap.Logger) (Generator, error) {
	switch cfg.Model.Backend {
	case config.BackendOpenAI:
		return NewOpenAIGenerator(cfg.Model, logger), nil
	case config.BackendTCP:
		return NewTCPGenerator(cfg.Model, cfg.HFToken, logger)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownBackend, cfg.Model.Backend)
	}
}
