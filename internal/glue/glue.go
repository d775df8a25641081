package glue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"textcat-backend/internal/poller"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/glue/types"
)

type GlueApi interface {
	CreateJob(ctx context.Context, params *glue.CreateJobInput, optFns ...func(*glue.Options)) (*glue.CreateJobOutput, error)
	UpdateJob(ctx context.Context, params *glue.UpdateJobInput, optFns ...func(*glue.Options)) (*glue.UpdateJobOutput, error)
	DeleteJob(ctx context.Context, params *glue.DeleteJobInput, optFns ...func(*glue.Options)) (*glue.DeleteJobOutput, error)
	StartJobRun(ctx context.Context, params *glue.StartJobRunInput, optFns ...func(*glue.Options)) (*glue.StartJobRunOutput, error)
	GetJobRun(ctx context.Context, params *glue.GetJobRunInput, optFns ...func(*glue.Options)) (*glue.GetJobRunOutput, error)
	BatchStopJobRun(ctx context.Context, params *glue.BatchStopJobRunInput, optFns ...func(*glue.Options)) (*glue.BatchStopJobRunOutput, error)
}

// JobSpec describes the serverless feature-processing job definition. The
// definition is named and mutable: EnsureJob overwrites an existing job of
// the same name rather than failing.
type JobSpec struct {
	Name            string
	RoleArn         string
	ScriptLocation  string
	PyDependencies  []string
	JarDependencies []string
	WorkerCount     int32
	TimeoutMinutes  int32
	GlueVersion     string
}

type Service struct {
	client       GlueApi
	pollInterval time.Duration
}

func NewService(client GlueApi, pollInterval time.Duration) *Service {
	return &Service{client: client, pollInterval: pollInterval}
}

func (s *Service) EnsureJob(ctx context.Context, spec JobSpec) error {
	command := &types.JobCommand{
		Name:           aws.String("glueetl"),
		ScriptLocation: aws.String(spec.ScriptLocation),
		PythonVersion:  aws.String("3"),
	}
	args := defaultArguments(spec)

	_, err := s.client.CreateJob(ctx, &glue.CreateJobInput{
		Name:             aws.String(spec.Name),
		Role:             aws.String(spec.RoleArn),
		Command:          command,
		DefaultArguments: args,
		GlueVersion:      aws.String(spec.GlueVersion),
		NumberOfWorkers:  aws.Int32(spec.WorkerCount),
		WorkerType:       types.WorkerTypeG1x,
		Timeout:          aws.Int32(spec.TimeoutMinutes),
	})
	if err == nil {
		slog.Info("Created feature-processing job", "jobName", spec.Name)
		return nil
	}

	var exists *types.AlreadyExistsException
	if !errors.As(err, &exists) {
		return fmt.Errorf("failed to create job %s: %w", spec.Name, err)
	}

	_, err = s.client.UpdateJob(ctx, &glue.UpdateJobInput{
		JobName: aws.String(spec.Name),
		JobUpdate: &types.JobUpdate{
			Role:             aws.String(spec.RoleArn),
			Command:          command,
			DefaultArguments: args,
			GlueVersion:      aws.String(spec.GlueVersion),
			NumberOfWorkers:  aws.Int32(spec.WorkerCount),
			WorkerType:       types.WorkerTypeG1x,
			Timeout:          aws.Int32(spec.TimeoutMinutes),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update existing job %s: %w", spec.Name, err)
	}
	slog.Info("Updated existing feature-processing job", "jobName", spec.Name)
	return nil
}

func defaultArguments(spec JobSpec) map[string]string {
	args := map[string]string{
		"--job-language": "python",
	}
	if len(spec.PyDependencies) > 0 {
		args["--extra-py-files"] = strings.Join(spec.PyDependencies, ",")
	}
	if len(spec.JarDependencies) > 0 {
		args["--extra-jars"] = strings.Join(spec.JarDependencies, ",")
	}
	return args
}

func (s *Service) StartRun(ctx context.Context, jobName string, args map[string]string) (string, error) {
	out, err := s.client.StartJobRun(ctx, &glue.StartJobRunInput{
		JobName:   aws.String(jobName),
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start run of job %s: %w", jobName, err)
	}
	runID := aws.ToString(out.JobRunId)
	slog.Info("Started feature-processing run", "jobName", jobName, "runId", runID)
	return runID, nil
}

// RunStatus reports one observation of a job run. SUCCEEDED, FAILED,
// STOPPED, TIMEOUT and ERROR are terminal; everything else means the run is
// still in flight.
func (s *Service) RunStatus(ctx context.Context, jobName, runID string) (poller.Status, error) {
	out, err := s.client.GetJobRun(ctx, &glue.GetJobRunInput{
		JobName: aws.String(jobName),
		RunId:   aws.String(runID),
	})
	if err != nil {
		return poller.Status{}, fmt.Errorf("failed to get status of run %s (job %s): %w", runID, jobName, err)
	}

	state := out.JobRun.JobRunState
	status := poller.Status{
		State:  string(state),
		Detail: aws.ToString(out.JobRun.ErrorMessage),
	}
	switch state {
	case types.JobRunStateSucceeded, types.JobRunStateFailed, types.JobRunStateStopped,
		types.JobRunStateTimeout, types.JobRunStateError:
		status.Terminal = true
	}
	return status, nil
}

// WaitForRun blocks until the run reaches a terminal state, checking at the
// service's fixed interval. Any terminal state other than SUCCEEDED is
// returned as a *poller.TerminalError carrying the Glue error message.
func (s *Service) WaitForRun(ctx context.Context, jobName, runID string) error {
	status, err := poller.Poll(ctx, s.pollInterval, func(ctx context.Context) (poller.Status, error) {
		st, err := s.RunStatus(ctx, jobName, runID)
		if err == nil && !st.Terminal {
			slog.Info("Feature-processing run in progress", "jobName", jobName, "runId", runID, "state", st.State)
		}
		return st, err
	})
	if err != nil {
		return err
	}
	if err := poller.Succeeded(status, string(types.JobRunStateSucceeded)); err != nil {
		return fmt.Errorf("feature-processing run %s (job %s): %w", runID, jobName, err)
	}
	slog.Info("Feature-processing run succeeded", "jobName", jobName, "runId", runID)
	return nil
}

func (s *Service) StopRun(ctx context.Context, jobName, runID string) error {
	_, err := s.client.BatchStopJobRun(ctx, &glue.BatchStopJobRunInput{
		JobName:   aws.String(jobName),
		JobRunIds: []string{runID},
	})
	if err != nil {
		return fmt.Errorf("failed to stop run %s (job %s): %w", runID, jobName, err)
	}
	return nil
}

func (s *Service) DeleteJob(ctx context.Context, jobName string) error {
	_, err := s.client.DeleteJob(ctx, &glue.DeleteJobInput{JobName: aws.String(jobName)})
	if err != nil {
		var notFound *types.EntityNotFoundException
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to delete job %s: %w", jobName, err)
	}
	return nil
}
