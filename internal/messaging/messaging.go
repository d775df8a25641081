package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	PipelineRunQueue    = "pipeline_run_queue"
	BatchTransformQueue = "batch_transform_queue"
	TeardownQueue       = "teardown_queue"
	RetryDelay          = 5 * time.Second
	MaxConnectRetry     = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

// PipelineRunPayload asks a worker to execute the full workflow for a
// queued run.
type PipelineRunPayload struct {
	RunId uuid.UUID
}

// BatchTransformPayload asks a worker to run a batch transform against a
// run's registered pipeline model.
type BatchTransformPayload struct {
	RunId uuid.UUID
}

// TeardownPayload asks a worker to delete a run's serving resources, and
// optionally its staged objects.
type TeardownPayload struct {
	RunId            uuid.UUID
	DeleteStagedData bool
}

type Publisher interface {
	PublishPipelineRunTask(ctx context.Context, payload PipelineRunPayload) error

	PublishBatchTransformTask(ctx context.Context, payload BatchTransformPayload) error

	PublishTeardownTask(ctx context.Context, payload TeardownPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
