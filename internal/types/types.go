package types

import "encoding/json"

const (
	InputTypeImage = "image"
	InputTypeText  = "text"
)

type JobStatus string

const (
	StatusInQueue    JobStatus = "IN_QUEUE"
	StatusInProgress JobStatus = "IN_PROGRESS"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
	StatusCancelled  JobStatus = "CANCELLED"
	StatusTimedOut   JobStatus = "TIMED_OUT"

	// Some platforms report queued jobs as QUEUED instead of IN_QUEUE.
	StatusQueued JobStatus = "QUEUED"
)

// IsTerminal reports whether no further status transitions will happen.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// JobInput is the "input" object of a job. Every field is kept raw so the
// handler can tell an absent field from a field of the wrong type.
type JobInput struct {
	Image        json.RawMessage `json:"image,omitempty" msgpack:"image,omitempty"`
	Text         json.RawMessage `json:"text,omitempty" msgpack:"text,omitempty"`
	Prompt       json.RawMessage `json:"prompt,omitempty" msgpack:"prompt,omitempty"`
	MaxNewTokens json.RawMessage `json:"max_new_tokens,omitempty" msgpack:"max_new_tokens,omitempty"`
}

// NewImageInput builds an input for an encoded image (data URI, base64, URL or path).
func NewImageInput(image string) JobInput {
	data, _ := json.Marshal(image)
	return JobInput{Image: data}
}

// NewTextInput builds an input for a text question.
func NewTextInput(text string) JobInput {
	data, _ := json.Marshal(text)
	return JobInput{Text: data}
}

// WithPrompt returns a copy of the input with the prompt set.
func (in JobInput) WithPrompt(prompt string) JobInput {
	in.Prompt, _ = json.Marshal(prompt)
	return in
}

// WithMaxNewTokens returns a copy of the input with the token limit set.
func (in JobInput) WithMaxNewTokens(n int) JobInput {
	in.MaxNewTokens, _ = json.Marshal(n)
	return in
}

// HasImage reports whether the image field was supplied at all.
func (in *JobInput) HasImage() bool {
	return len(in.Image) > 0
}

// HasText reports whether the text field was supplied at all.
func (in *JobInput) HasText() bool {
	return len(in.Text) > 0
}

// JobResult is what the handler produces for one job.
type JobResult struct {
	Caption   string `json:"caption,omitempty" msgpack:"caption,omitempty"`
	Response  string `json:"response,omitempty" msgpack:"response,omitempty"`
	InputType string `json:"input_type,omitempty" msgpack:"input_type,omitempty"`
	Error     string `json:"error,omitempty" msgpack:"error,omitempty"`
	Traceback string `json:"traceback,omitempty" msgpack:"traceback,omitempty"`
}

func NewErrorResult(message string) *JobResult {
	return &JobResult{Error: message}
}

func (r *JobResult) IsError() bool {
	return r != nil && r.Error != ""
}

// Text returns the generated text regardless of input type.
func (r *JobResult) Text() string {
	if r == nil {
		return ""
	}
	if r.InputType == InputTypeText {
		return r.Response
	}
	return r.Caption
}

// JobRequest is the body of /run and /runsync.
type JobRequest struct {
	ID    string   `json:"id,omitempty" msgpack:"id,omitempty"`
	Input JobInput `json:"input" msgpack:"input"`
}

// JobHandle is returned by /run, /runsync and /status.
type JobHandle struct {
	ID     string     `json:"id"`
	Status JobStatus  `json:"status"`
	Output *JobResult `json:"output,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// QueueMessage is published on the requests topic for each accepted job.
type QueueMessage struct {
	JobID string `msgpack:"job_id"`
}
