package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"textcat-backend/internal/messaging"
)

// TaskProcessor drains the work queues and hands each task to the
// orchestrator. One task is processed at a time; a run occupies its worker
// until it reaches a terminal state.
type TaskProcessor struct {
	orchestrator *Orchestrator
	publisher    messaging.Publisher
	reciever     messaging.Reciever
}

func NewTaskProcessor(orchestrator *Orchestrator, publisher messaging.Publisher, reciever messaging.Reciever) *TaskProcessor {
	return &TaskProcessor{
		orchestrator: orchestrator,
		publisher:    publisher,
		reciever:     reciever,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.publisher.Close()
	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {

	case messaging.PipelineRunQueue:
		var payload messaging.PipelineRunPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling pipeline run task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.orchestrator.ExecuteRun(ctx, payload.RunId)

	case messaging.BatchTransformQueue:
		var payload messaging.BatchTransformPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling batch transform task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.orchestrator.ExecuteTransform(ctx, payload.RunId)

	case messaging.TeardownQueue:
		var payload messaging.TeardownPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling teardown task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.orchestrator.ExecuteTeardown(ctx, payload.RunId, payload.DeleteStagedData)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil { // reject unknown message type
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}
