package model

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"

	"github.com/cozy-creator/captioner/internal/config"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIGenerator talks to any OpenAI compatible chat completion server
// (vLLM, TGI, Ollama) hosting the model.
type OpenAIGenerator struct {
	client  *openai.Client
	modelID string
	logger  *zap.Logger
}

func NewOpenAIGenerator(cfg *config.ModelConfig, logger *zap.Logger) *OpenAIGenerator {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client:  openai.NewClientWithConfig(clientConfig),
		modelID: cfg.ID,
		logger:  logger.Named("openai"),
	}
}

func (g *OpenAIGenerator) Name() string {
	return config.BackendOpenAI
}

// Load checks that the server actually serves the configured model.
func (g *OpenAIGenerator) Load(ctx context.Context) error {
	list, err := g.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}

	for _, m := range list.Models {
		if m.ID == g.modelID {
			g.logger.Info("model available", zap.String("model", g.modelID))
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrModelNotServed, g.modelID)
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt *Prompt) (string, error) {
	message := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if prompt.HasImage() {
		message.MultiContent = []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(prompt.Image),
					Detail: openai.ImageURLDetailAuto,
				},
			},
			{Type: openai.ChatMessagePartTypeText, Text: prompt.Text},
		}
	} else {
		message.Content = prompt.Text
	}

	req := openai.ChatCompletionRequest{
		Model:     g.modelID,
		Messages:  []openai.ChatCompletionMessage{message},
		MaxTokens: prompt.MaxNewTokens,
		// zero is dropped by omitempty and would fall back to the server default
		Temperature: math.SmallestNonzeroFloat32,
		N:           1,
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}

	return resp.Choices[0].Message.Content, nil
}

func (g *OpenAIGenerator) Close() error {
	return nil
}
