package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/cozy-creator/captioner/internal/config"
	"github.com/cozy-creator/captioner/internal/model"
	"github.com/cozy-creator/captioner/internal/types"
	"github.com/cozy-creator/captioner/internal/utils/imageutil"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	MsgNoInput       = "No image or text provided in input. Please provide either 'image' or 'text' field."
	MsgInvalidText   = "Invalid text input. Please provide a non-empty string."
	MsgInvalidImage  = "Invalid image format. Please provide a base64 encoded image, URL, or file path."
	MsgInvalidMax    = "Invalid max_new_tokens. Please provide a positive integer."
	MsgInvalidPrompt = "Invalid prompt. Please provide a string."
)

// Handler turns one job input into one result. Generation is serialised so
// only one job runs against the model at a time.
type Handler struct {
	generator model.Generator
	loader    *ImageLoader
	cfg       *config.ModelConfig
	logger    *zap.Logger
	mu        sync.Mutex
}

func NewHandler(generator model.Generator, cfg *config.ModelConfig, logger *zap.Logger) *Handler {
	return &Handler{
		generator: generator,
		loader:    NewImageLoader(cfg.FetchTimeout, cfg.MaxImageBytes, cfg.AllowFilePaths),
		cfg:       cfg,
		logger:    logger.Named("inference"),
	}
}

// Handle never returns a Go error: every failure is reported through the
// result's Error and Traceback fields.
func (h *Handler) Handle(ctx context.Context, input *types.JobInput) *types.JobResult {
	if input == nil || (!input.HasImage() && !input.HasText()) {
		return types.NewErrorResult(MsgNoInput)
	}

	maxNewTokens := h.cfg.MaxNewTokens
	if len(input.MaxNewTokens) > 0 {
		n, ok := rawPositiveInt(input.MaxNewTokens)
		if !ok {
			return types.NewErrorResult(MsgInvalidMax)
		}
		maxNewTokens = n
	}

	var customPrompt string
	if len(input.Prompt) > 0 {
		p, ok := rawString(input.Prompt)
		if !ok {
			return types.NewErrorResult(MsgInvalidPrompt)
		}
		customPrompt = p
	}

	if input.HasImage() {
		image, ok := rawString(input.Image)
		if !ok {
			return types.NewErrorResult(MsgInvalidImage)
		}

		prompt := resolvePrompt(customPrompt, h.cfg.CaptionPrompt)

		return h.run(ctx, types.InputTypeImage, func() (*model.Prompt, error) {
			data, err := h.prepareImage(ctx, image)
			if err != nil {
				return nil, err
			}
			return &model.Prompt{Text: prompt, Image: data, MaxNewTokens: maxNewTokens}, nil
		})
	}

	text, ok := rawString(input.Text)
	if !ok || strings.TrimSpace(text) == "" {
		return types.NewErrorResult(MsgInvalidText)
	}

	prompt := resolvePrompt(customPrompt, h.cfg.TextPrompt)

	return h.run(ctx, types.InputTypeText, func() (*model.Prompt, error) {
		return &model.Prompt{Text: prompt + "\n\n" + text, MaxNewTokens: maxNewTokens}, nil
	})
}

func (h *Handler) run(ctx context.Context, inputType string, build func() (*model.Prompt, error)) (result *types.JobResult) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("generation panicked", zap.Any("panic", r), zap.String("input_type", inputType))
			result = &types.JobResult{
				Error:     fmt.Sprintf("Error processing %s: %v", inputType, r),
				Traceback: string(debug.Stack()),
			}
		}
	}()

	prompt, err := build()
	if err != nil {
		return h.errorResult(inputType, err)
	}

	text, err := h.generate(ctx, prompt)
	if err != nil {
		return h.errorResult(inputType, err)
	}

	text = singleLine(text)
	if inputType == types.InputTypeText {
		return &types.JobResult{Response: text, InputType: inputType}
	}
	return &types.JobResult{Caption: text, InputType: inputType}
}

func (h *Handler) generate(ctx context.Context, prompt *model.Prompt) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.generator.Generate(ctx, prompt)
}

func (h *Handler) errorResult(inputType string, err error) *types.JobResult {
	err = errors.WithStack(err)
	h.logger.Error("job failed", zap.String("input_type", inputType), zap.Error(err))

	return &types.JobResult{
		Error:     fmt.Sprintf("Error processing %s: %s", inputType, err.Error()),
		Traceback: fmt.Sprintf("%+v", err),
	}
}

// prepareImage loads, decodes and normalises the image to an RGB JPEG.
func (h *Handler) prepareImage(ctx context.Context, value string) ([]byte, error) {
	src := ClassifyImage(value)
	data, err := h.loader.Load(ctx, src)
	if err != nil {
		return nil, err
	}

	img, _, err := imageutil.Decode(data)
	if err != nil {
		return nil, err
	}

	return imageutil.EncodeJPEG(imageutil.ToRGB(img, h.cfg.MaxImageSide), imageutil.DefaultJPEGQuality)
}

// resolvePrompt prefers a non-empty prompt from the job over the default.
func resolvePrompt(prompt string, fallback string) string {
	if prompt != "" {
		return prompt
	}
	return fallback
}

// rawString reports whether the raw field is a JSON string. null is not.
func rawString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// rawPositiveInt accepts only a JSON integer above zero. Strings, fractions
// and null are rejected.
func rawPositiveInt(raw json.RawMessage) (int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, false
	}

	var n int
	if err := json.Unmarshal(raw, &n); err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func singleLine(text string) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.TrimSpace(text)
}
