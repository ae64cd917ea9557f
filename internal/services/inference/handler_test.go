package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cozy-creator/captioner/internal/config"
	"github.com/cozy-creator/captioner/internal/model"
	"github.com/cozy-creator/captioner/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGenerator struct {
	mu      sync.Mutex
	reply   string
	err     error
	panic   bool
	prompts []*model.Prompt
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Load(ctx context.Context) error { return nil }

func (g *fakeGenerator) Close() error { return nil }

func (g *fakeGenerator) Generate(ctx context.Context, prompt *model.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prompts = append(g.prompts, prompt)
	if g.panic {
		panic("cuda out of memory")
	}
	return g.reply, g.err
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func testModelConfig() *config.ModelConfig {
	return &config.ModelConfig{
		CaptionPrompt:  "caption this",
		TextPrompt:     "answer this",
		MaxNewTokens:   256,
		MaxImageBytes:  1 << 20,
		AllowFilePaths: true,
		FetchTimeout:   5 * time.Second,
	}
}

func testPNG(t *testing.T) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, 48, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 48; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 5), G: uint8(y * 7), B: uint8(x * y), A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestHandleNoInput(t *testing.T) {
	gen := &fakeGenerator{reply: "x"}
	h := NewHandler(gen, testModelConfig(), zap.NewNop())

	result := h.Handle(context.Background(), &types.JobInput{})
	assert.Equal(t, MsgNoInput, result.Error)
	assert.Zero(t, gen.calls())

	result = h.Handle(context.Background(), nil)
	assert.Equal(t, MsgNoInput, result.Error)
}

func TestHandleInvalidText(t *testing.T) {
	gen := &fakeGenerator{reply: "x"}
	h := NewHandler(gen, testModelConfig(), zap.NewNop())

	for _, raw := range []string{`""`, `"   \n\t"`, `42`, `null`, `["a"]`} {
		result := h.Handle(context.Background(), &types.JobInput{Text: []byte(raw)})
		assert.Equal(t, MsgInvalidText, result.Error, raw)
	}
	assert.Zero(t, gen.calls())
}

func TestHandleInvalidImage(t *testing.T) {
	gen := &fakeGenerator{reply: "x"}
	h := NewHandler(gen, testModelConfig(), zap.NewNop())

	for _, raw := range []string{`42`, `null`, `{"url":"x"}`} {
		result := h.Handle(context.Background(), &types.JobInput{Image: []byte(raw)})
		assert.Equal(t, MsgInvalidImage, result.Error, raw)
	}
	assert.Zero(t, gen.calls())
}

func TestHandleInvalidMaxNewTokens(t *testing.T) {
	gen := &fakeGenerator{reply: "x"}
	h := NewHandler(gen, testModelConfig(), zap.NewNop())

	for _, raw := range []string{`0`, `-3`, `12.5`, `"256"`, `null`, `true`, `[1]`} {
		input := types.NewTextInput("What is a fever?")
		input.MaxNewTokens = []byte(raw)
		assert.Equal(t, MsgInvalidMax, h.Handle(context.Background(), &input).Error, raw)
	}
	assert.Zero(t, gen.calls())
}

func TestHandleInvalidPrompt(t *testing.T) {
	gen := &fakeGenerator{reply: "x"}
	h := NewHandler(gen, testModelConfig(), zap.NewNop())

	for _, raw := range []string{`5`, `null`, `{"role":"user"}`} {
		input := types.NewTextInput("What is a fever?")
		input.Prompt = []byte(raw)
		assert.Equal(t, MsgInvalidPrompt, h.Handle(context.Background(), &input).Error, raw)
	}
	assert.Zero(t, gen.calls())
}

func TestHandleText(t *testing.T) {
	gen := &fakeGenerator{reply: "  A fever is\nan elevated\r\nbody temperature.\n"}
	h := NewHandler(gen, testModelConfig(), zap.NewNop())

	input := types.NewTextInput("What is a fever?")
	result := h.Handle(context.Background(), &input)

	require.False(t, result.IsError(), result.Error)
	assert.Equal(t, types.InputTypeText, result.InputType)
	assert.Equal(t, "A fever is an elevated body temperature.", result.Response)
	assert.Empty(t, result.Caption)

	require.Len(t, gen.prompts, 1)
	assert.Equal(t, "answer this\n\nWhat is a fever?", gen.prompts[0].Text)
	assert.Equal(t, 256, gen.prompts[0].MaxNewTokens)
	assert.False(t, gen.prompts[0].HasImage())
}

func TestHandleTextCustomPrompt(t *testing.T) {
	gen := &fakeGenerator{reply: "ok"}
	h := NewHandler(gen, testModelConfig(), zap.NewNop())

	input := types.NewTextInput("q").WithPrompt("Be brief.").WithMaxNewTokens(12)
	h.Handle(context.Background(), &input)

	require.Len(t, gen.prompts, 1)
	assert.Equal(t, "Be brief.\n\nq", gen.prompts[0].Text)
	assert.Equal(t, 12, gen.prompts[0].MaxNewTokens)
}

func TestHandleImageEncodings(t *testing.T) {
	pngData := testPNG(t)
	encoded := base64.StdEncoding.EncodeToString(pngData)
	require.Greater(t, len(encoded), minBase64Length)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngData)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "xray.png")
	require.NoError(t, os.WriteFile(path, pngData, 0o644))

	cases := map[string]string{
		"data uri":  "data:image/png;base64," + encoded,
		"base64":    encoded,
		"url":       server.URL + "/xray.png",
		"file path": path,
	}

	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			gen := &fakeGenerator{reply: "No acute\ncardiopulmonary\nprocess."}
			h := NewHandler(gen, testModelConfig(), zap.NewNop())

			input := types.NewImageInput(value)
			result := h.Handle(context.Background(), &input)

			require.False(t, result.IsError(), result.Error)
			assert.Equal(t, types.InputTypeImage, result.InputType)
			assert.Equal(t, "No acute cardiopulmonary process.", result.Caption)
			assert.NotContains(t, result.Caption, "\n")

			require.Len(t, gen.prompts, 1)
			assert.Equal(t, "caption this", gen.prompts[0].Text)
			assert.Equal(t, []byte{0xff, 0xd8}, gen.prompts[0].Image[:2])
		})
	}
}

func TestHandleImageTakesPrecedence(t *testing.T) {
	gen := &fakeGenerator{reply: "caption"}
	h := NewHandler(gen, testModelConfig(), zap.NewNop())

	input := types.NewImageInput("data:image/png;base64," + base64.StdEncoding.EncodeToString(testPNG(t)))
	input.Text = types.NewTextInput("question").Text

	result := h.Handle(context.Background(), &input)
	assert.Equal(t, types.InputTypeImage, result.InputType)
}

func TestHandleImageErrors(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	cfg := testModelConfig()
	cases := map[string]string{
		"not an image": "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("plain text, not pixels")),
		"missing file": filepath.Join(t.TempDir(), "missing.png"),
		"http error":   server.URL + "/missing.png",
		"bad data uri": "data:image/png;base64",
	}

	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			gen := &fakeGenerator{reply: "x"}
			h := NewHandler(gen, cfg, zap.NewNop())

			input := types.NewImageInput(value)
			result := h.Handle(context.Background(), &input)

			assert.Contains(t, result.Error, "Error processing image: ")
			assert.NotEmpty(t, result.Traceback)
			assert.Zero(t, gen.calls())
		})
	}
}

func TestHandleFilePathsDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xray.png")
	require.NoError(t, os.WriteFile(path, testPNG(t), 0o644))

	cfg := testModelConfig()
	cfg.AllowFilePaths = false
	h := NewHandler(&fakeGenerator{reply: "x"}, cfg, zap.NewNop())

	input := types.NewImageInput(path)
	result := h.Handle(context.Background(), &input)
	assert.Contains(t, result.Error, ErrFilePathsDisabled.Error())
}

func TestHandleGenerationError(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("backend unavailable")}
	h := NewHandler(gen, testModelConfig(), zap.NewNop())

	input := types.NewTextInput("What is a fever?")
	result := h.Handle(context.Background(), &input)

	assert.Equal(t, "Error processing text: backend unavailable", result.Error)
	assert.Contains(t, result.Traceback, "backend unavailable")
	assert.Empty(t, result.Response)
}

func TestHandleGenerationPanic(t *testing.T) {
	gen := &fakeGenerator{panic: true}
	h := NewHandler(gen, testModelConfig(), zap.NewNop())

	input := types.NewTextInput("What is a fever?")
	result := h.Handle(context.Background(), &input)

	assert.Equal(t, "Error processing text: cuda out of memory", result.Error)
	assert.NotEmpty(t, result.Traceback)

	// the lock must be released after a panic
	gen.panic = false
	gen.reply = "fine"
	result = h.Handle(context.Background(), &input)
	assert.Equal(t, "fine", result.Response)
}

func TestClassifyImage(t *testing.T) {
	long := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1, 2, 3}, 60))

	cases := []struct {
		value string
		kind  SourceKind
	}{
		{"data:image/png;base64,AAAA", SourceDataURI},
		{"http://example.com/a.png", SourceURL},
		{"https://example.com/a.png", SourceURL},
		{long, SourceBase64},
		{"AAAA", SourceFilePath},
		{"/data/xrays/chest.png", SourceFilePath},
		{"~/xray-" + string(bytes.Repeat([]byte("x"), 120)) + ".png", SourceFilePath},
	}

	for _, c := range cases {
		assert.Equal(t, c.kind, ClassifyImage(c.value).Kind, c.value)
	}
}
