package messaging_test

import (
	"context"
	"encoding/json"
	"testing"

	"textcat-backend/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueueRoundTrip(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	ctx := context.Background()

	runId := uuid.New()
	require.NoError(t, queue.PublishPipelineRunTask(ctx, messaging.PipelineRunPayload{RunId: runId}))
	require.NoError(t, queue.PublishBatchTransformTask(ctx, messaging.BatchTransformPayload{RunId: runId}))
	require.NoError(t, queue.PublishTeardownTask(ctx, messaging.TeardownPayload{RunId: runId, DeleteStagedData: true}))

	task := <-queue.Tasks()
	assert.Equal(t, messaging.PipelineRunQueue, task.Type())
	var runPayload messaging.PipelineRunPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &runPayload))
	assert.Equal(t, runId, runPayload.RunId)
	assert.NoError(t, task.Ack())

	task = <-queue.Tasks()
	assert.Equal(t, messaging.BatchTransformQueue, task.Type())

	tasks := queue.Tasks()
	task = <-tasks
	assert.Equal(t, messaging.TeardownQueue, task.Type())
	var teardownPayload messaging.TeardownPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &teardownPayload))
	assert.True(t, teardownPayload.DeleteStagedData)

	queue.Close()
	_, open := <-tasks
	assert.False(t, open)
}
