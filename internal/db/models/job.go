package models

import (
	"encoding/json"
	"fmt"

	"github.com/cozy-creator/captioner/internal/types"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/vmihailenco/msgpack/v5"
)

type Job struct {
	bun.BaseModel `bun:"table:jobs"`

	ID          uuid.UUID       `bun:",type:uuid,pk"`
	Status      types.JobStatus `bun:",notnull"`
	InputType   string          `bun:",notnull"`
	InputDigest string          `bun:",notnull"`
	Input       json.RawMessage `bun:",type:jsonb,notnull"`
	Output      []byte          `bun:",nullzero"`
	Error       string          `bun:",nullzero"`
	StartedAt   bun.NullTime    `bun:",nullzero"`
	CompletedAt bun.NullTime    `bun:",nullzero"`
	UpdatedAt   bun.NullTime    `bun:",nullzero,notnull,default:current_timestamp"`
	CreatedAt   bun.NullTime    `bun:",nullzero,notnull,default:current_timestamp"`
}

// Result decodes the msgpack encoded output, or returns nil when the job has
// not produced one yet.
func (j *Job) Result() (*types.JobResult, error) {
	if len(j.Output) == 0 {
		return nil, nil
	}

	var result types.JobResult
	if err := msgpack.Unmarshal(j.Output, &result); err != nil {
		return nil, fmt.Errorf("failed to decode job output: %w", err)
	}

	return &result, nil
}

// Handle is the wire form of the job.
func (j *Job) Handle() (*types.JobHandle, error) {
	result, err := j.Result()
	if err != nil {
		return nil, err
	}

	return &types.JobHandle{
		ID:     j.ID.String(),
		Status: j.Status,
		Output: result,
		Error:  j.Error,
	}, nil
}

func EncodeResult(result *types.JobResult) ([]byte, error) {
	data, err := msgpack.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job output: %w", err)
	}

	return data, nil
}
