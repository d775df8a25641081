package sagemaker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"textcat-backend/internal/poller"
	s3client "textcat-backend/internal/s3"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
)

type TransformSpec struct {
	JobName       string
	ModelName     string
	InputS3Path   string
	OutputS3Path  string
	InstanceType  string
	InstanceCount int32
}

// SubmitTransformJob starts a one-shot batch job over the input prefix. The
// input is split per line and the output reassembled per line, so output
// line N is the prediction for input line N.
func (s *Service) SubmitTransformJob(ctx context.Context, spec TransformSpec) (string, error) {
	_, err := s.client.CreateTransformJob(ctx, &sagemaker.CreateTransformJobInput{
		TransformJobName: aws.String(spec.JobName),
		ModelName:        aws.String(spec.ModelName),
		TransformInput: &types.TransformInput{
			DataSource: &types.TransformDataSource{
				S3DataSource: &types.TransformS3DataSource{
					S3DataType: types.S3DataTypeS3Prefix,
					S3Uri:      aws.String(spec.InputS3Path),
				},
			},
			ContentType: aws.String("text/csv"),
			SplitType:   types.SplitTypeLine,
		},
		TransformOutput: &types.TransformOutput{
			S3OutputPath: aws.String(spec.OutputS3Path),
			AssembleWith: types.AssemblyTypeLine,
		},
		TransformResources: &types.TransformResources{
			InstanceType:  types.TransformInstanceType(spec.InstanceType),
			InstanceCount: aws.Int32(spec.InstanceCount),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create transform job %s: %w", spec.JobName, err)
	}
	slog.Info("Submitted transform job", "jobName", spec.JobName, "input", spec.InputS3Path, "output", spec.OutputS3Path)
	return spec.JobName, nil
}

func (s *Service) TransformJobStatus(ctx context.Context, jobName string) (poller.Status, error) {
	out, err := s.client.DescribeTransformJob(ctx, &sagemaker.DescribeTransformJobInput{
		TransformJobName: aws.String(jobName),
	})
	if err != nil {
		return poller.Status{}, fmt.Errorf("failed to describe transform job %s: %w", jobName, err)
	}

	status := poller.Status{
		State:  string(out.TransformJobStatus),
		Detail: aws.ToString(out.FailureReason),
	}
	switch out.TransformJobStatus {
	case types.TransformJobStatusCompleted, types.TransformJobStatusFailed, types.TransformJobStatusStopped:
		status.Terminal = true
	}
	return status, nil
}

func (s *Service) WaitForTransformJob(ctx context.Context, jobName string) error {
	status, err := poller.Poll(ctx, s.pollInterval, func(ctx context.Context) (poller.Status, error) {
		st, err := s.TransformJobStatus(ctx, jobName)
		if err == nil && !st.Terminal {
			slog.Info("Transform job in progress", "jobName", jobName, "state", st.State)
		}
		return st, err
	})
	if err != nil {
		return err
	}
	if err := poller.Succeeded(status, string(types.TransformJobStatusCompleted)); err != nil {
		return fmt.Errorf("transform job %s: %w", jobName, err)
	}
	slog.Info("Transform job completed", "jobName", jobName)
	return nil
}

// ObjectStore is the slice of the S3 client needed to read transform output.
type ObjectStore interface {
	ListFiles(ctx context.Context, bucket, prefix string) ([]string, error)
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// CollectTransformOutput reads every part file under the output prefix and
// returns the prediction lines. Part files are read in lexicographic key
// order and each part keeps its internal line order, so the result lines up
// one-to-one with the input.
func CollectTransformOutput(ctx context.Context, store ObjectStore, outputS3Path string) ([]string, error) {
	bucket, prefix, err := s3client.ParseS3Path(outputS3Path)
	if err != nil {
		return nil, err
	}

	keys, err := store.ListFiles(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no transform output found under %s", outputS3Path)
	}
	sort.Strings(keys)

	var lines []string
	for _, key := range keys {
		data, err := store.GetObject(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(data), "\n") {
			if line = strings.TrimRight(line, "\r"); line != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines, nil
}
