package messaging

import (
	"context"
	"encoding/json"
)

type inMemoryTask struct {
	queue   string
	payload []byte
}

func (t *inMemoryTask) Type() string {
	return t.queue
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Ack() error {
	return nil
}

func (t *inMemoryTask) Nack() error {
	return nil
}

func (t *inMemoryTask) Reject() error {
	return nil
}

// InMemoryQueue implements both Publisher and Reciever for single-process
// deployments and tests.
type InMemoryQueue struct {
	tasks chan Task
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		tasks: make(chan Task, 100),
	}
}

func (q *InMemoryQueue) publishTaskInternal(queue string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q.tasks <- &inMemoryTask{queue: queue, payload: data}

	return nil
}

func (q *InMemoryQueue) PublishPipelineRunTask(ctx context.Context, payload PipelineRunPayload) error {
	return q.publishTaskInternal(PipelineRunQueue, payload)
}

func (q *InMemoryQueue) PublishBatchTransformTask(ctx context.Context, payload BatchTransformPayload) error {
	return q.publishTaskInternal(BatchTransformQueue, payload)
}

func (q *InMemoryQueue) PublishTeardownTask(ctx context.Context, payload TeardownPayload) error {
	return q.publishTaskInternal(TeardownQueue, payload)
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

func (q *InMemoryQueue) Close() {
	if q.tasks != nil {
		close(q.tasks)
		q.tasks = nil
	}
}
