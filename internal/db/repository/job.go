package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/cozy-creator/captioner/internal/db/models"
	"github.com/cozy-creator/captioner/internal/types"
	"github.com/uptrace/bun"
)

type IJobRepository interface {
	Repository[models.Job]
	WithTx(tx *bun.Tx) IJobRepository
	MarkInProgress(ctx context.Context, id string) (bool, error)
	Finish(ctx context.Context, id string, result *types.JobResult) error
	Fail(ctx context.Context, id string, message string) error
	CancelIfQueued(ctx context.Context, id string) (bool, error)
}

type JobRepository struct {
	db bun.IDB
}

func NewJobRepository(db bun.IDB) IJobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job *models.Job) (*models.Job, error) {
	if job == nil {
		return nil, fmt.Errorf("job model is nil")
	}

	if _, err := r.db.NewInsert().Model(job).Exec(ctx); err != nil {
		return nil, err
	}

	return job, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := r.db.NewSelect().Model(&job).Where("id = ?", id).Scan(ctx); err != nil {
		return nil, err
	}

	return &job, nil
}

func (r *JobRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().Model((*models.Job)(nil)).Where("id = ?", id).Exec(ctx)
	return err
}

// MarkInProgress moves a queued job to IN_PROGRESS. It reports false when the
// job was no longer queued, e.g. because it was cancelled.
func (r *JobRepository) MarkInProgress(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	return r.transition(ctx, id, types.StatusInQueue, r.db.NewUpdate().
		Model((*models.Job)(nil)).
		Set("status = ?", types.StatusInProgress).
		Set("started_at = ?", now).
		Set("updated_at = ?", now))
}

// CancelIfQueued cancels a job that has not been picked up yet.
func (r *JobRepository) CancelIfQueued(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	return r.transition(ctx, id, types.StatusInQueue, r.db.NewUpdate().
		Model((*models.Job)(nil)).
		Set("status = ?", types.StatusCancelled).
		Set("completed_at = ?", now).
		Set("updated_at = ?", now))
}

// Finish stores the handler result. Results carrying an error mark the job FAILED.
func (r *JobRepository) Finish(ctx context.Context, id string, result *types.JobResult) error {
	output, err := models.EncodeResult(result)
	if err != nil {
		return err
	}

	status := types.StatusCompleted
	if result.IsError() {
		status = types.StatusFailed
	}

	now := time.Now().UTC()
	q := r.db.NewUpdate().
		Model((*models.Job)(nil)).
		Set("status = ?", status).
		Set("output = ?", output).
		Set("completed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id)
	if result.IsError() {
		q = q.Set("error = ?", result.Error)
	}

	_, err = q.Exec(ctx)
	return err
}

// Fail marks a job FAILED without an output, for errors outside the handler.
func (r *JobRepository) Fail(ctx context.Context, id string, message string) error {
	now := time.Now().UTC()
	_, err := r.db.NewUpdate().
		Model((*models.Job)(nil)).
		Set("status = ?", types.StatusFailed).
		Set("error = ?", message).
		Set("completed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (r *JobRepository) transition(ctx context.Context, id string, from types.JobStatus, q *bun.UpdateQuery) (bool, error) {
	res, err := q.Where("id = ?", id).Where("status = ?", from).Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, nil
}

func (r *JobRepository) WithTx(tx *bun.Tx) IJobRepository {
	return &JobRepository{db: tx}
}
