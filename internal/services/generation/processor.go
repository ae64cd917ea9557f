package generation

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cozy-creator/captioner/internal/app"
	"github.com/cozy-creator/captioner/internal/mq"
	"github.com/cozy-creator/captioner/internal/types"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// RunProcessor consumes the requests topic and runs one job at a time until
// ctx is cancelled or the queue is closed.
func RunProcessor(ctx context.Context, app *app.App) error {
	queue := app.MQ()
	topic := mq.RequestsTopic(app.Config())
	logger := app.Logger.Named("processor")

	logger.Info("processor started", zap.String("topic", topic), zap.String("queue", queue.Type()))
	for {
		message, err := queue.Receive(ctx, topic)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, mq.ErrQueueClosed) || errors.Is(err, mq.ErrTopicClosed) {
				logger.Info("processor stopped")
				return nil
			}
			return err
		}

		var request types.QueueMessage
		if err := msgpack.Unmarshal(message.Payload(), &request); err != nil {
			logger.Error("failed to parse queue message", zap.Error(err))
		} else {
			processJob(ctx, app, request.JobID, logger)
		}

		if err := queue.Ack(topic, message); err != nil {
			logger.Error("failed to ack message", zap.Error(err))
		}
	}
}

func processJob(ctx context.Context, app *app.App, id string, logger *zap.Logger) {
	logger = logger.With(zap.String("id", id))

	started, err := app.JobRepository.MarkInProgress(ctx, id)
	if err != nil {
		logger.Error("failed to start job", zap.Error(err))
		return
	}
	if !started {
		logger.Info("skipping job that is no longer queued")
		return
	}

	job, err := app.JobRepository.GetByID(ctx, id)
	if err != nil {
		logger.Error("failed to load job", zap.Error(err))
		failJob(ctx, app, id, err, logger)
		return
	}

	var input types.JobInput
	if err := json.Unmarshal(job.Input, &input); err != nil {
		logger.Error("failed to decode job input", zap.Error(err))
		failJob(ctx, app, id, err, logger)
		return
	}

	result := app.Handler().Handle(ctx, &input)
	if err := app.JobRepository.Finish(ctx, id, result); err != nil {
		logger.Error("failed to store job result", zap.Error(err))
		return
	}

	if result.IsError() {
		logger.Warn("job failed", zap.String("error", result.Error))
		return
	}
	logger.Info("job completed", zap.String("input_type", result.InputType))
}

func failJob(ctx context.Context, app *app.App, id string, cause error, logger *zap.Logger) {
	if err := app.JobRepository.Fail(ctx, id, cause.Error()); err != nil {
		logger.Error("failed to mark job failed", zap.Error(err))
	}
}
