package generation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cozy-creator/captioner/internal/app"
	"github.com/cozy-creator/captioner/internal/db/models"
	"github.com/cozy-creator/captioner/internal/mq"
	"github.com/cozy-creator/captioner/internal/types"
	"github.com/cozy-creator/captioner/internal/utils/hashutil"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrInvalidJobID = errors.New("invalid job id")
	ErrJobExists    = errors.New("job already exists")
)

const DefaultWaitInterval = 250 * time.Millisecond

// NewRequest stores the job as IN_QUEUE and publishes it for the processor.
func NewRequest(ctx context.Context, app *app.App, request *types.JobRequest) (*types.JobHandle, error) {
	id, err := requestID(request.ID)
	if err != nil {
		return nil, err
	}

	if _, err := app.JobRepository.GetByID(ctx, id.String()); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobExists, id)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up job: %w", err)
	}

	input, err := json.Marshal(request.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job input: %w", err)
	}

	job := &models.Job{
		ID:          id,
		Status:      types.StatusInQueue,
		InputType:   inputType(&request.Input),
		InputDigest: hashutil.Blake3Hash(input),
		Input:       input,
	}
	if _, err := app.JobRepository.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	message, err := msgpack.Marshal(&types.QueueMessage{JobID: id.String()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode queue message: %w", err)
	}

	if err := app.MQ().Publish(ctx, mq.RequestsTopic(app.Config()), message); err != nil {
		if delErr := app.JobRepository.DeleteByID(ctx, id.String()); delErr != nil {
			app.Logger.Error("failed to remove unpublished job", zap.String("id", id.String()), zap.Error(delErr))
		}
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	app.Logger.Info("job queued",
		zap.String("id", id.String()),
		zap.String("input_type", job.InputType),
		zap.String("digest", job.InputDigest),
	)

	return &types.JobHandle{ID: id.String(), Status: types.StatusInQueue}, nil
}

// GetJob returns the current handle of a job.
func GetJob(ctx context.Context, app *app.App, id string) (*types.JobHandle, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidJobID, id)
	}

	job, err := app.JobRepository.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job.Handle()
}

// WaitForJob polls the job until it reaches a terminal status or ctx is done.
// On timeout the latest non-terminal handle is returned without an error.
func WaitForJob(ctx context.Context, app *app.App, id string, interval time.Duration) (*types.JobHandle, error) {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	handle, err := GetJob(ctx, app, id)
	for {
		if err != nil || handle.Status.IsTerminal() {
			return handle, err
		}

		select {
		case <-ctx.Done():
			return handle, nil
		case <-ticker.C:
		}

		// the request context may expire mid query, the last handle still stands
		next, nextErr := GetJob(context.WithoutCancel(ctx), app, id)
		if nextErr != nil {
			return handle, nextErr
		}
		handle = next
	}
}

// CancelJob cancels a job that is still queued. Jobs already picked up are
// returned unchanged.
func CancelJob(ctx context.Context, app *app.App, id string) (*types.JobHandle, error) {
	handle, err := GetJob(ctx, app, id)
	if err != nil {
		return nil, err
	}

	if handle.Status != types.StatusInQueue {
		return handle, nil
	}

	cancelled, err := app.JobRepository.CancelIfQueued(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job: %w", err)
	}
	if cancelled {
		app.Logger.Info("job cancelled", zap.String("id", id))
	}

	return GetJob(ctx, app, id)
}

func requestID(id string) (uuid.UUID, error) {
	if id == "" {
		return uuid.New(), nil
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidJobID, id)
	}

	return parsed, nil
}

func inputType(input *types.JobInput) string {
	if input.HasImage() || !input.HasText() {
		return types.InputTypeImage
	}
	return types.InputTypeText
}
