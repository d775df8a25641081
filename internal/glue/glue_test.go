package glue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	glueservice "textcat-backend/internal/glue"
	"textcat-backend/internal/poller"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsglue "github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockGlueApi struct {
	glueservice.GlueApi

	createErr    error
	createInput  *awsglue.CreateJobInput
	updateInput  *awsglue.UpdateJobInput
	startInput   *awsglue.StartJobRunInput
	deleteErr    error
	deleteCalled bool

	runStates []types.JobRun
	runCalls  int
}

func (m *mockGlueApi) CreateJob(ctx context.Context, params *awsglue.CreateJobInput, optFns ...func(*awsglue.Options)) (*awsglue.CreateJobOutput, error) {
	m.createInput = params
	if m.createErr != nil {
		return nil, m.createErr
	}
	return &awsglue.CreateJobOutput{Name: params.Name}, nil
}

func (m *mockGlueApi) UpdateJob(ctx context.Context, params *awsglue.UpdateJobInput, optFns ...func(*awsglue.Options)) (*awsglue.UpdateJobOutput, error) {
	m.updateInput = params
	return &awsglue.UpdateJobOutput{JobName: params.JobName}, nil
}

func (m *mockGlueApi) StartJobRun(ctx context.Context, params *awsglue.StartJobRunInput, optFns ...func(*awsglue.Options)) (*awsglue.StartJobRunOutput, error) {
	m.startInput = params
	return &awsglue.StartJobRunOutput{JobRunId: aws.String("jr_123")}, nil
}

func (m *mockGlueApi) GetJobRun(ctx context.Context, params *awsglue.GetJobRunInput, optFns ...func(*awsglue.Options)) (*awsglue.GetJobRunOutput, error) {
	run := m.runStates[m.runCalls]
	if m.runCalls < len(m.runStates)-1 {
		m.runCalls++
	}
	return &awsglue.GetJobRunOutput{JobRun: &run}, nil
}

func (m *mockGlueApi) DeleteJob(ctx context.Context, params *awsglue.DeleteJobInput, optFns ...func(*awsglue.Options)) (*awsglue.DeleteJobOutput, error) {
	m.deleteCalled = true
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	return &awsglue.DeleteJobOutput{}, nil
}

func testSpec() glueservice.JobSpec {
	return glueservice.JobSpec{
		Name:            "textcat-feature-processing",
		RoleArn:         "arn:aws:iam::123456789012:role/GlueRole",
		ScriptLocation:  "s3://bucket/textcat/script/feature_processing.py",
		JarDependencies: []string{"s3://bucket/textcat/deps/mleap.jar"},
		PyDependencies:  []string{"s3://bucket/textcat/deps/python.zip"},
		WorkerCount:     2,
		TimeoutMinutes:  60,
		GlueVersion:     "3.0",
	}
}

func TestEnsureJobCreates(t *testing.T) {
	mock := &mockGlueApi{}
	svc := glueservice.NewService(mock, time.Millisecond)

	require.NoError(t, svc.EnsureJob(context.Background(), testSpec()))
	require.NotNil(t, mock.createInput)
	assert.Nil(t, mock.updateInput)
	assert.Equal(t, "textcat-feature-processing", aws.ToString(mock.createInput.Name))
	assert.Equal(t, "glueetl", aws.ToString(mock.createInput.Command.Name))
	assert.Equal(t, "s3://bucket/textcat/script/feature_processing.py", aws.ToString(mock.createInput.Command.ScriptLocation))
	assert.Equal(t, "s3://bucket/textcat/deps/mleap.jar", mock.createInput.DefaultArguments["--extra-jars"])
	assert.Equal(t, "s3://bucket/textcat/deps/python.zip", mock.createInput.DefaultArguments["--extra-py-files"])
}

func TestEnsureJobUpdatesExisting(t *testing.T) {
	mock := &mockGlueApi{createErr: &types.AlreadyExistsException{Message: aws.String("job exists")}}
	svc := glueservice.NewService(mock, time.Millisecond)

	require.NoError(t, svc.EnsureJob(context.Background(), testSpec()))
	require.NotNil(t, mock.updateInput)
	assert.Equal(t, "textcat-feature-processing", aws.ToString(mock.updateInput.JobName))
	assert.Equal(t, "arn:aws:iam::123456789012:role/GlueRole", aws.ToString(mock.updateInput.JobUpdate.Role))
}

func TestEnsureJobPropagatesOtherErrors(t *testing.T) {
	mock := &mockGlueApi{createErr: errors.New("AccessDenied")}
	svc := glueservice.NewService(mock, time.Millisecond)

	err := svc.EnsureJob(context.Background(), testSpec())
	require.Error(t, err)
	assert.Nil(t, mock.updateInput)
}

func TestStartRunPassesArguments(t *testing.T) {
	mock := &mockGlueApi{}
	svc := glueservice.NewService(mock, time.Millisecond)

	runID, err := svc.StartRun(context.Background(), "textcat-feature-processing", map[string]string{
		"--S3_INPUT_PATH":  "s3://bucket/textcat/input",
		"--S3_OUTPUT_PATH": "s3://bucket/textcat/processed",
		"--SCHEMA_JSON":    `{"input":[{"name":"abstract","type":"string"}],"output":{"name":"tokenized_abstract","type":"string"}}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "jr_123", runID)
	assert.Equal(t, "s3://bucket/textcat/input", mock.startInput.Arguments["--S3_INPUT_PATH"])
	assert.Contains(t, mock.startInput.Arguments["--SCHEMA_JSON"], "tokenized_abstract")
}

func TestRunStatusClassification(t *testing.T) {
	tests := []struct {
		state    types.JobRunState
		terminal bool
	}{
		{types.JobRunStateStarting, false},
		{types.JobRunStateRunning, false},
		{types.JobRunStateStopping, false},
		{types.JobRunStateSucceeded, true},
		{types.JobRunStateFailed, true},
		{types.JobRunStateStopped, true},
		{types.JobRunStateTimeout, true},
		{types.JobRunStateError, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			mock := &mockGlueApi{runStates: []types.JobRun{{JobRunState: tt.state}}}
			svc := glueservice.NewService(mock, time.Millisecond)

			status, err := svc.RunStatus(context.Background(), "job", "jr_123")
			require.NoError(t, err)
			assert.Equal(t, string(tt.state), status.State)
			assert.Equal(t, tt.terminal, status.Terminal)
		})
	}
}

func TestWaitForRunSucceeds(t *testing.T) {
	mock := &mockGlueApi{runStates: []types.JobRun{
		{JobRunState: types.JobRunStateStarting},
		{JobRunState: types.JobRunStateRunning},
		{JobRunState: types.JobRunStateSucceeded},
	}}
	svc := glueservice.NewService(mock, time.Millisecond)

	require.NoError(t, svc.WaitForRun(context.Background(), "job", "jr_123"))
}

func TestWaitForRunReportsFailure(t *testing.T) {
	mock := &mockGlueApi{runStates: []types.JobRun{
		{JobRunState: types.JobRunStateRunning},
		{JobRunState: types.JobRunStateFailed, ErrorMessage: aws.String("SystemExit: executor lost")},
	}}
	svc := glueservice.NewService(mock, time.Millisecond)

	err := svc.WaitForRun(context.Background(), "job", "jr_123")
	require.Error(t, err)

	var terminal *poller.TerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, "FAILED", terminal.State)
	assert.Contains(t, err.Error(), "executor lost")
}

func TestWaitForRunReportsStopped(t *testing.T) {
	mock := &mockGlueApi{runStates: []types.JobRun{
		{JobRunState: types.JobRunStateStopped},
	}}
	svc := glueservice.NewService(mock, time.Millisecond)

	err := svc.WaitForRun(context.Background(), "job", "jr_123")
	var terminal *poller.TerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, "STOPPED", terminal.State)
}

func TestDeleteJobToleratesMissing(t *testing.T) {
	mock := &mockGlueApi{deleteErr: &types.EntityNotFoundException{Message: aws.String("no such job")}}
	svc := glueservice.NewService(mock, time.Millisecond)

	require.NoError(t, svc.DeleteJob(context.Background(), "gone"))
	assert.True(t, mock.deleteCalled)
}
