package pipeline

import (
	"encoding/json"
	"testing"

	"textcat-backend/internal/database"
	"textcat-backend/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTask struct {
	taskType string
	payload  []byte

	acked    bool
	nacked   bool
	rejected bool
}

func (t *fakeTask) Type() string    { return t.taskType }
func (t *fakeTask) Payload() []byte { return t.payload }
func (t *fakeTask) Ack() error      { t.acked = true; return nil }
func (t *fakeTask) Nack() error     { t.nacked = true; return nil }
func (t *fakeTask) Reject() error   { t.rejected = true; return nil }

type fakeReciever struct {
	tasks chan messaging.Task
}

func (r *fakeReciever) Tasks() <-chan messaging.Task { return r.tasks }
func (r *fakeReciever) Close()                       {}

func newProcessor(f *orchestratorFixture) *TaskProcessor {
	queue := messaging.NewInMemoryQueue()
	return NewTaskProcessor(f.orch, queue, queue)
}

func runPayload(t *testing.T, runId uuid.UUID) []byte {
	t.Helper()

	payload, err := json.Marshal(messaging.PipelineRunPayload{RunId: runId})
	require.NoError(t, err)
	return payload
}

func TestProcessTaskAcksSuccessfulRun(t *testing.T) {
	f := newFixture(t)
	proc := newProcessor(f)
	runId := f.createRun(t, database.ModeRealtime)

	task := &fakeTask{taskType: messaging.PipelineRunQueue, payload: runPayload(t, runId)}
	proc.ProcessTask(task)

	assert.True(t, task.acked)
	assert.False(t, task.nacked)
	assert.Equal(t, database.RunCompleted, f.getRun(t, runId).Status)
}

func TestProcessTaskNacksFailedRun(t *testing.T) {
	f := newFixture(t)
	proc := newProcessor(f)

	task := &fakeTask{taskType: messaging.PipelineRunQueue, payload: runPayload(t, uuid.New())}
	proc.ProcessTask(task)

	assert.True(t, task.nacked)
	assert.False(t, task.acked)
}

func TestProcessTaskRejectsMalformedPayload(t *testing.T) {
	f := newFixture(t)
	proc := newProcessor(f)

	task := &fakeTask{taskType: messaging.PipelineRunQueue, payload: []byte("not json")}
	proc.ProcessTask(task)

	assert.True(t, task.rejected)
	assert.False(t, task.acked)
	assert.False(t, task.nacked)
	assert.Empty(t, f.log.ops)
}

func TestProcessTaskRejectsUnknownQueue(t *testing.T) {
	f := newFixture(t)
	proc := newProcessor(f)

	task := &fakeTask{taskType: "surprise_queue", payload: []byte(`{}`)}
	proc.ProcessTask(task)

	assert.True(t, task.rejected)
	assert.Empty(t, f.log.ops)
}

func TestProcessTaskRunsTeardown(t *testing.T) {
	f := newFixture(t)
	proc := newProcessor(f)
	runId := f.createRun(t, database.ModeRealtime)
	require.NoError(t, f.db.Model(&database.PipelineRun{Id: runId}).Updates(map[string]any{
		"endpoint_name":        "e",
		"endpoint_config_name": "c",
		"model_name":           "m",
	}).Error)

	payload, err := json.Marshal(messaging.TeardownPayload{RunId: runId, DeleteStagedData: true})
	require.NoError(t, err)

	task := &fakeTask{taskType: messaging.TeardownQueue, payload: payload}
	proc.ProcessTask(task)

	assert.True(t, task.acked)
	assert.Equal(t, []string{"e", "c", "m"}, f.models.tornDown)
	assert.Equal(t, []string{"textcat/" + runId.String()}, f.store.deleted)
}

func TestStartDrainsTasksUntilQueueCloses(t *testing.T) {
	f := newFixture(t)
	runId := f.createRun(t, database.ModeBatch)

	task := &fakeTask{taskType: messaging.PipelineRunQueue, payload: runPayload(t, runId)}
	tasks := make(chan messaging.Task, 1)
	tasks <- task
	close(tasks)

	proc := NewTaskProcessor(f.orch, messaging.NewInMemoryQueue(), &fakeReciever{tasks: tasks})
	proc.Start()

	assert.True(t, task.acked)
	assert.Equal(t, database.RunCompleted, f.getRun(t, runId).Status)
}
