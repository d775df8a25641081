package sagemaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"textcat-backend/internal/poller"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
	"github.com/aws/smithy-go"
)

type SageMakerApi interface {
	CreateTrainingJob(ctx context.Context, params *sagemaker.CreateTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateTrainingJobOutput, error)
	DescribeTrainingJob(ctx context.Context, params *sagemaker.DescribeTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeTrainingJobOutput, error)
	StopTrainingJob(ctx context.Context, params *sagemaker.StopTrainingJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.StopTrainingJobOutput, error)
	CreateModel(ctx context.Context, params *sagemaker.CreateModelInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateModelOutput, error)
	CreateEndpointConfig(ctx context.Context, params *sagemaker.CreateEndpointConfigInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointConfigOutput, error)
	CreateEndpoint(ctx context.Context, params *sagemaker.CreateEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateEndpointOutput, error)
	DescribeEndpoint(ctx context.Context, params *sagemaker.DescribeEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeEndpointOutput, error)
	CreateTransformJob(ctx context.Context, params *sagemaker.CreateTransformJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.CreateTransformJobOutput, error)
	DescribeTransformJob(ctx context.Context, params *sagemaker.DescribeTransformJobInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DescribeTransformJobOutput, error)
	DeleteEndpoint(ctx context.Context, params *sagemaker.DeleteEndpointInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteEndpointOutput, error)
	DeleteEndpointConfig(ctx context.Context, params *sagemaker.DeleteEndpointConfigInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteEndpointConfigOutput, error)
	DeleteModel(ctx context.Context, params *sagemaker.DeleteModelInput, optFns ...func(*sagemaker.Options)) (*sagemaker.DeleteModelOutput, error)
}

type Service struct {
	client       SageMakerApi
	pollInterval time.Duration
}

func NewService(client SageMakerApi, pollInterval time.Duration) *Service {
	return &Service{client: client, pollInterval: pollInterval}
}

type TrainingSpec struct {
	JobName           string
	Image             string
	RoleArn           string
	TrainS3Path       string
	ValidationS3Path  string
	OutputS3Path      string
	InstanceType      string
	InstanceCount     int32
	VolumeSizeGB      int32
	MaxRuntimeSeconds int32
	Hyperparameters   map[string]string
}

// CreateTextClassifierJob submits a supervised training job over the
// processed train/validation channels. The job name must be unique per
// account; callers derive it from the run id.
func (s *Service) CreateTextClassifierJob(ctx context.Context, spec TrainingSpec) (string, error) {
	channel := func(name, s3Path string) types.Channel {
		return types.Channel{
			ChannelName: aws.String(name),
			DataSource: &types.DataSource{
				S3DataSource: &types.S3DataSource{
					S3DataType:             types.S3DataTypeS3Prefix,
					S3Uri:                  aws.String(s3Path),
					S3DataDistributionType: types.S3DataDistributionFullyReplicated,
				},
			},
			ContentType: aws.String("text/csv"),
		}
	}

	_, err := s.client.CreateTrainingJob(ctx, &sagemaker.CreateTrainingJobInput{
		TrainingJobName: aws.String(spec.JobName),
		RoleArn:         aws.String(spec.RoleArn),
		AlgorithmSpecification: &types.AlgorithmSpecification{
			TrainingImage:     aws.String(spec.Image),
			TrainingInputMode: types.TrainingInputModeFile,
		},
		HyperParameters: spec.Hyperparameters,
		InputDataConfig: []types.Channel{
			channel("train", spec.TrainS3Path),
			channel("validation", spec.ValidationS3Path),
		},
		OutputDataConfig: &types.OutputDataConfig{
			S3OutputPath: aws.String(spec.OutputS3Path),
		},
		ResourceConfig: &types.ResourceConfig{
			InstanceType:   types.TrainingInstanceType(spec.InstanceType),
			InstanceCount:  aws.Int32(spec.InstanceCount),
			VolumeSizeInGB: aws.Int32(spec.VolumeSizeGB),
		},
		StoppingCondition: &types.StoppingCondition{
			MaxRuntimeInSeconds: aws.Int32(spec.MaxRuntimeSeconds),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create training job %s: %w", spec.JobName, err)
	}
	slog.Info("Created training job", "jobName", spec.JobName, "image", spec.Image)
	return spec.JobName, nil
}

type TrainingResult struct {
	ArtifactPath string
}

func (s *Service) TrainingJobStatus(ctx context.Context, jobName string) (poller.Status, error) {
	out, err := s.client.DescribeTrainingJob(ctx, &sagemaker.DescribeTrainingJobInput{
		TrainingJobName: aws.String(jobName),
	})
	if err != nil {
		return poller.Status{}, fmt.Errorf("failed to describe training job %s: %w", jobName, err)
	}

	status := poller.Status{
		State:  string(out.TrainingJobStatus),
		Detail: aws.ToString(out.FailureReason),
	}
	switch out.TrainingJobStatus {
	case types.TrainingJobStatusCompleted, types.TrainingJobStatusFailed, types.TrainingJobStatusStopped:
		status.Terminal = true
	}
	return status, nil
}

// WaitForTrainingJob blocks until the job terminates and, on success,
// returns the S3 location of the trained model artifact.
func (s *Service) WaitForTrainingJob(ctx context.Context, jobName string) (*TrainingResult, error) {
	status, err := poller.Poll(ctx, s.pollInterval, func(ctx context.Context) (poller.Status, error) {
		st, err := s.TrainingJobStatus(ctx, jobName)
		if err == nil && !st.Terminal {
			slog.Info("Training job in progress", "jobName", jobName, "state", st.State)
		}
		return st, err
	})
	if err != nil {
		return nil, err
	}
	if err := poller.Succeeded(status, string(types.TrainingJobStatusCompleted)); err != nil {
		return nil, fmt.Errorf("training job %s: %w", jobName, err)
	}

	out, err := s.client.DescribeTrainingJob(ctx, &sagemaker.DescribeTrainingJobInput{
		TrainingJobName: aws.String(jobName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe completed training job %s: %w", jobName, err)
	}
	if out.ModelArtifacts == nil || out.ModelArtifacts.S3ModelArtifacts == nil {
		return nil, fmt.Errorf("training job %s completed without a model artifact", jobName)
	}

	artifact := aws.ToString(out.ModelArtifacts.S3ModelArtifacts)
	slog.Info("Training job completed", "jobName", jobName, "artifact", artifact)
	return &TrainingResult{ArtifactPath: artifact}, nil
}

func (s *Service) StopTrainingJob(ctx context.Context, jobName string) error {
	_, err := s.client.StopTrainingJob(ctx, &sagemaker.StopTrainingJobInput{
		TrainingJobName: aws.String(jobName),
	})
	if err != nil {
		return fmt.Errorf("failed to stop training job %s: %w", jobName, err)
	}
	return nil
}

type EndpointSpec struct {
	EndpointName  string
	ConfigName    string
	InstanceType  string
	InstanceCount int32
}

// DeployEndpoint creates an endpoint config with a single variant carrying
// all traffic and an endpoint from it. It returns as soon as creation is
// accepted; WaitForEndpointInService tracks the rollout.
func (s *Service) DeployEndpoint(ctx context.Context, modelName string, spec EndpointSpec) error {
	_, err := s.client.CreateEndpointConfig(ctx, &sagemaker.CreateEndpointConfigInput{
		EndpointConfigName: aws.String(spec.ConfigName),
		ProductionVariants: []types.ProductionVariant{
			{
				VariantName:          aws.String("AllTraffic"),
				ModelName:            aws.String(modelName),
				InstanceType:         types.ProductionVariantInstanceType(spec.InstanceType),
				InitialInstanceCount: aws.Int32(spec.InstanceCount),
				InitialVariantWeight: aws.Float32(1),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create endpoint config %s: %w", spec.ConfigName, err)
	}

	_, err = s.client.CreateEndpoint(ctx, &sagemaker.CreateEndpointInput{
		EndpointName:       aws.String(spec.EndpointName),
		EndpointConfigName: aws.String(spec.ConfigName),
	})
	if err != nil {
		return fmt.Errorf("failed to create endpoint %s: %w", spec.EndpointName, err)
	}
	slog.Info("Creating endpoint", "endpointName", spec.EndpointName, "modelName", modelName)
	return nil
}

func (s *Service) EndpointStatus(ctx context.Context, endpointName string) (poller.Status, error) {
	out, err := s.client.DescribeEndpoint(ctx, &sagemaker.DescribeEndpointInput{
		EndpointName: aws.String(endpointName),
	})
	if err != nil {
		return poller.Status{}, fmt.Errorf("failed to describe endpoint %s: %w", endpointName, err)
	}

	status := poller.Status{
		State:  string(out.EndpointStatus),
		Detail: aws.ToString(out.FailureReason),
	}
	switch out.EndpointStatus {
	case types.EndpointStatusInService, types.EndpointStatusFailed, types.EndpointStatusOutOfService:
		status.Terminal = true
	}
	return status, nil
}

func (s *Service) WaitForEndpointInService(ctx context.Context, endpointName string) error {
	status, err := poller.Poll(ctx, s.pollInterval, func(ctx context.Context) (poller.Status, error) {
		st, err := s.EndpointStatus(ctx, endpointName)
		if err == nil && !st.Terminal {
			slog.Info("Endpoint rollout in progress", "endpointName", endpointName, "state", st.State)
		}
		return st, err
	})
	if err != nil {
		return err
	}
	if err := poller.Succeeded(status, string(types.EndpointStatusInService)); err != nil {
		return fmt.Errorf("endpoint %s: %w", endpointName, err)
	}
	slog.Info("Endpoint in service", "endpointName", endpointName)
	return nil
}

// TeardownEndpoint deletes the endpoint, its config, and the model, in that
// order. Missing resources are fine: teardown is idempotent and callers may
// retry it. Empty names are skipped, so a batch-only run can tear down just
// its model.
func (s *Service) TeardownEndpoint(ctx context.Context, endpointName, configName, modelName string) error {
	if endpointName != "" {
		_, err := s.client.DeleteEndpoint(ctx, &sagemaker.DeleteEndpointInput{
			EndpointName: aws.String(endpointName),
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to delete endpoint %s: %w", endpointName, err)
		}
	}

	if configName != "" {
		_, err := s.client.DeleteEndpointConfig(ctx, &sagemaker.DeleteEndpointConfigInput{
			EndpointConfigName: aws.String(configName),
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to delete endpoint config %s: %w", configName, err)
		}
	}

	if modelName != "" {
		_, err := s.client.DeleteModel(ctx, &sagemaker.DeleteModelInput{
			ModelName: aws.String(modelName),
		})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to delete model %s: %w", modelName, err)
		}
	}

	slog.Info("Tore down serving resources", "endpointName", endpointName, "configName", configName, "modelName", modelName)
	return nil
}

// The API reports missing resources either as a typed ResourceNotFound or,
// for the Delete* calls, as a ValidationException whose message says the
// resource could not be found.
func isNotFound(err error) bool {
	var notFound *types.ResourceNotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ValidationException" &&
			strings.Contains(apiErr.ErrorMessage(), "Could not find")
	}
	return false
}
