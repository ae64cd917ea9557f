package model

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/cozy-creator/captioner/internal/config"
	"github.com/cozy-creator/captioner/pkg/tcpclient"
	"go.uber.org/zap"
)

// TCPGenerator drives a local model worker over the size prefixed JSON
// protocol.
type TCPGenerator struct {
	tcpClient *tcpclient.TCPClient
	modelID   string
	hfToken   string
	logger    *zap.Logger
}

func NewTCPGenerator(cfg *config.ModelConfig, hfToken string, logger *zap.Logger) (*TCPGenerator, error) {
	logger = logger.Named("tcp")
	client, err := tcpclient.NewTCPClient(cfg.TCPAddress, cfg.TCPTimeout, 1, tcpclient.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create tcp client: %w", err)
	}

	return &TCPGenerator{
		tcpClient: client,
		modelID:   cfg.ID,
		hfToken:   hfToken,
		logger:    logger,
	}, nil
}

func (g *TCPGenerator) Name() string {
	return config.BackendTCP
}

// Load makes sure the worker holds the model, loading it when it does not.
func (g *TCPGenerator) Load(ctx context.Context) error {
	location, err := g.CheckModel(ctx, g.modelID)
	if err != nil {
		return err
	}

	if location != None {
		g.logger.Info("model already loaded", zap.String("model", g.modelID), zap.String("location", string(location)))
		return nil
	}

	return g.LoadModel(ctx, g.modelID)
}

func (g *TCPGenerator) Generate(ctx context.Context, prompt *Prompt) (string, error) {
	req := GenerateRequest{
		ModelID:      g.modelID,
		Prompt:       prompt.Text,
		MaxNewTokens: prompt.MaxNewTokens,
	}
	if prompt.HasImage() {
		req.Image = base64.StdEncoding.EncodeToString(prompt.Image)
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	data, err = g.tcpClient.Exchange(ctx, data)
	if err != nil {
		return "", err
	}

	var resp GenerateResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !resp.Success {
		return "", fmt.Errorf("generation failed: %s", resp.Error)
	}

	return resp.Text, nil
}

func (g *TCPGenerator) LoadModel(ctx context.Context, modelID string) error {
	_, err := g.command(ctx, ModelRequest{Command: LoadModel, ModelID: modelID, HFToken: g.hfToken})
	return err
}

func (g *TCPGenerator) UnloadModel(ctx context.Context, modelID string) error {
	_, err := g.command(ctx, ModelRequest{Command: UnloadModel, ModelID: modelID})
	return err
}

func (g *TCPGenerator) CheckModel(ctx context.Context, modelID string) (ModelLocation, error) {
	resp, err := g.command(ctx, ModelRequest{Command: CheckModel, ModelID: modelID})
	if err != nil {
		return None, err
	}

	if resp.Location == "" {
		return None, nil
	}
	return resp.Location, nil
}

func (g *TCPGenerator) command(ctx context.Context, req ModelRequest) (*ModelResponse, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	data, err = g.tcpClient.Exchange(ctx, append([]byte(commandHeader), data...))
	if err != nil {
		return nil, err
	}

	var resp ModelResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !resp.Success {
		return nil, fmt.Errorf("failed to %s model: %s", req.Command, resp.Error)
	}

	return &resp, nil
}

func (g *TCPGenerator) Close() error {
	return g.tcpClient.Close()
}
