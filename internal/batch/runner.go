package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cozy-creator/captioner/internal/config"
	"github.com/cozy-creator/captioner/internal/services/filestorage"
	"github.com/cozy-creator/captioner/internal/types"
	"github.com/cozy-creator/captioner/internal/utils/pathutil"
	"github.com/gammazero/workerpool"
	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
	"go.uber.org/zap"
)

var (
	ErrNoImages     = errors.New("no images found")
	ErrNoQuestions  = errors.New("no questions found")
	ErrNoAPIKey     = errors.New("api key is not set")
	ErrEmptyOutput  = errors.New("job returned no text")
	ErrJobCancelled = errors.New("job was cancelled")
)

type ItemKind string

const (
	KindImage ItemKind = "image"
	KindText  ItemKind = "text"
)

// Item is one unit of batch work: an image file or a question.
type Item struct {
	Kind     ItemKind
	Path     string
	Question string
	Index    int
}

func (i Item) Label() string {
	if i.Kind == KindImage {
		return filepath.Base(i.Path)
	}
	return fmt.Sprintf("question %d", i.Index+1)
}

type Summary struct {
	Total     int
	Succeeded int64
	Failed    int64
	Elapsed   time.Duration
}

// CollectItems gathers the work for the configured mode.
func CollectItems(cfg *config.ClientConfig, logger *zap.Logger) ([]Item, error) {
	var items []Item

	if cfg.Mode == config.ModeImage || cfg.Mode == config.ModeBoth {
		images, err := DiscoverImages(cfg.ImageFolder)
		if err != nil {
			return nil, err
		}
		if len(images) == 0 && cfg.Mode == config.ModeImage {
			return nil, fmt.Errorf("%w in %s", ErrNoImages, cfg.ImageFolder)
		}
		logger.Info("Found images", zap.Int("count", len(images)), zap.String("folder", cfg.ImageFolder))

		for i, image := range images {
			items = append(items, Item{Kind: KindImage, Path: image, Index: i})
		}
	}

	if cfg.Mode == config.ModeText || cfg.Mode == config.ModeBoth {
		questions, err := LoadQuestions(cfg.TextFile, logger)
		if err != nil {
			return nil, err
		}
		if len(questions) == 0 && cfg.Mode == config.ModeText {
			return nil, fmt.Errorf("%w in %s", ErrNoQuestions, cfg.TextFile)
		}
		logger.Info("Found questions", zap.Int("count", len(questions)), zap.String("file", cfg.TextFile))

		for i, question := range questions {
			items = append(items, Item{Kind: KindText, Question: question, Index: i})
		}
	}

	return items, nil
}

type Runner struct {
	cfg      *config.ClientConfig
	endpoint Endpoint
	poller   *Poller
	storage  filestorage.FileStorage
	logger   *zap.Logger
	progress io.Writer
}

// NewRunner builds a runner. Progress is drawn on stderr unless disabled in
// the config.
func NewRunner(cfg *config.ClientConfig, endpoint Endpoint, storage filestorage.FileStorage, logger *zap.Logger) *Runner {
	var progress io.Writer = os.Stderr
	if cfg.NoProgress {
		progress = io.Discard
	}

	return &Runner{
		cfg:      cfg,
		endpoint: endpoint,
		poller:   NewPoller(endpoint, cfg.PollingInterval, logger),
		storage:  storage,
		logger:   logger,
		progress: progress,
	}
}

// Run processes every item on a pool of client.concurrent workers and waits
// for all of them. Item failures are logged and counted, not returned.
func (r *Runner) Run(ctx context.Context, items []Item) *Summary {
	start := time.Now()
	summary := &Summary{Total: len(items)}
	if len(items) == 0 {
		return summary
	}

	progress := mpb.NewWithContext(ctx,
		mpb.WithWidth(60),
		mpb.WithRefreshRate(180*time.Millisecond),
		mpb.WithOutput(r.progress),
	)
	bar := progress.AddBar(int64(len(items)),
		mpb.PrependDecorators(
			decor.Name(r.cfg.Mode, decor.WC{W: 8, C: decor.DidentRight}),
			decor.CountersNoUnit("%d / %d", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.Percentage(decor.WC{W: 5}),
			decor.Name(" | "),
			decor.Elapsed(decor.ET_STYLE_GO),
		),
	)

	var succeeded, failed atomic.Int64
	pool := workerpool.New(r.cfg.Concurrent)
	for _, item := range items {
		pool.Submit(func() {
			defer bar.Increment()

			if err := r.process(ctx, item); err != nil {
				failed.Add(1)
				r.logger.Error("Item failed", zap.String("item", item.Label()), zap.Error(err))
				return
			}
			succeeded.Add(1)
		})
	}

	pool.StopWait()
	progress.Wait()

	summary.Succeeded = succeeded.Load()
	summary.Failed = failed.Load()
	summary.Elapsed = time.Since(start)

	r.logger.Info("Batch finished",
		zap.Int("total", summary.Total),
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("failed", summary.Failed),
		zap.Duration("elapsed", summary.Elapsed),
	)

	return summary
}

func (r *Runner) process(ctx context.Context, item Item) error {
	input, err := r.buildInput(item)
	if err != nil {
		return err
	}

	resp, err := r.dispatch(ctx, input, item.Label())
	if err != nil {
		return err
	}

	text, err := outputText(resp, item.Kind)
	if err != nil {
		return err
	}

	dest, err := r.storage.Upload(ctx, r.outputFile(item, text))
	if err != nil {
		return fmt.Errorf("failed to save output: %w", err)
	}

	r.logger.Info("Output saved", zap.String("item", item.Label()), zap.String("destination", dest))
	return nil
}

func (r *Runner) buildInput(item Item) (types.JobInput, error) {
	if item.Kind == KindText {
		return types.NewTextInput(item.Question), nil
	}

	encoded, err := EncodeImage(item.Path)
	if err != nil {
		return types.JobInput{}, err
	}
	return types.NewImageInput(encoded), nil
}

// dispatch submits the input and returns its terminal status. A sync reply
// that is still pending falls back to polling.
func (r *Runner) dispatch(ctx context.Context, input types.JobInput, label string) (*JobStatusResponse, error) {
	submit := r.endpoint.Run
	if r.cfg.Sync {
		submit = r.endpoint.RunSync
	}

	resp, err := submit(ctx, input)
	if err != nil {
		return nil, err
	}

	if resp.Status.IsTerminal() {
		return resp, nil
	}

	if resp.ID == "" {
		return nil, ErrNoJobID
	}

	r.logger.Debug("Job submitted", zap.String("item", label), zap.String("job_id", resp.ID))
	return r.poller.Wait(ctx, resp.ID, label)
}

func (r *Runner) outputFile(item Item, text string) filestorage.FileInfo {
	if item.Kind == KindImage {
		return filestorage.NewFileInfo(pathutil.TrimExt(item.Path), ".txt", []byte(text))
	}

	name := filepath.Join(r.cfg.OutputDir, fmt.Sprintf("question_%d", item.Index+1))
	content := fmt.Sprintf("Question: %s\n\nAnswer: %s", item.Question, text)
	return filestorage.NewFileInfo(name, ".txt", []byte(content))
}

// outputText extracts the generated text from a terminal status.
func outputText(resp *JobStatusResponse, kind ItemKind) (string, error) {
	switch resp.Status {
	case types.StatusCompleted:
	case types.StatusCancelled:
		return "", ErrJobCancelled
	case types.StatusFailed:
		return "", fmt.Errorf("job %s failed: %s", resp.ID, resp.ErrorMessage())
	default:
		return "", fmt.Errorf("job %s ended with status %s", resp.ID, resp.Status)
	}

	result, err := resp.Result()
	if err != nil {
		return "", fmt.Errorf("job %s: %w", resp.ID, err)
	}
	if result.IsError() {
		return "", fmt.Errorf("job %s returned an error: %s", resp.ID, result.Error)
	}

	text := result.Caption
	if kind == KindText {
		text = result.Response
	}
	if text == "" {
		return "", ErrEmptyOutput
	}

	return text, nil
}
