package sagemaker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker"
	"github.com/aws/aws-sdk-go-v2/service/sagemaker/types"
)

const (
	StageFeature    = "feature"
	StageClassifier = "classifier"

	// Stage 1 defaults to tabular output, which stage 2 cannot parse. This
	// env override forces line-delimited JSON between the stages.
	schemaEnvKey = "SAGEMAKER_SPARKML_SCHEMA"
	acceptEnvKey = "SAGEMAKER_DEFAULT_INVOCATIONS_ACCEPT"

	LineDelimitedAccept = "application/jsonlines"
)

// ModelStage is one container of the inference pipeline.
type ModelStage struct {
	Kind         string
	Image        string
	ArtifactPath string
	Environment  map[string]string
}

// NewFeatureStage builds the SparkML serving stage. The serialized schema
// rides along as container configuration so requests can omit it.
func NewFeatureStage(image, artifactPath, schemaJSON string) ModelStage {
	return ModelStage{
		Kind:         StageFeature,
		Image:        image,
		ArtifactPath: artifactPath,
		Environment: map[string]string{
			schemaEnvKey: schemaJSON,
			acceptEnvKey: LineDelimitedAccept,
		},
	}
}

func NewClassifierStage(image, artifactPath string) ModelStage {
	return ModelStage{
		Kind:         StageClassifier,
		Image:        image,
		ArtifactPath: artifactPath,
	}
}

// BuildContainers turns the ordered stage list into container definitions.
// Requests flow through the containers in list order: exactly two stages,
// feature transformation first.
func BuildContainers(stages []ModelStage) ([]types.ContainerDefinition, error) {
	if len(stages) != 2 {
		return nil, fmt.Errorf("pipeline model requires exactly 2 stages, got %d", len(stages))
	}
	if stages[0].Kind != StageFeature {
		return nil, fmt.Errorf("pipeline model stage 1 must be the %s stage, got %s", StageFeature, stages[0].Kind)
	}
	if stages[1].Kind != StageClassifier {
		return nil, fmt.Errorf("pipeline model stage 2 must be the %s stage, got %s", StageClassifier, stages[1].Kind)
	}

	containers := make([]types.ContainerDefinition, 0, len(stages))
	for _, stage := range stages {
		if stage.Image == "" {
			return nil, fmt.Errorf("%s stage has no serving image", stage.Kind)
		}
		if stage.ArtifactPath == "" {
			return nil, fmt.Errorf("%s stage has no model artifact", stage.Kind)
		}
		containers = append(containers, types.ContainerDefinition{
			Image:        aws.String(stage.Image),
			ModelDataUrl: aws.String(stage.ArtifactPath),
			Environment:  stage.Environment,
		})
	}
	return containers, nil
}

type PipelineModelSpec struct {
	ModelName string
	RoleArn   string
	Stages    []ModelStage
}

// CreatePipelineModel registers the two-stage model with the hosting
// registry. The returned name is what endpoints and transform jobs bind to.
func (s *Service) CreatePipelineModel(ctx context.Context, spec PipelineModelSpec) (string, error) {
	containers, err := BuildContainers(spec.Stages)
	if err != nil {
		return "", err
	}

	_, err = s.client.CreateModel(ctx, &sagemaker.CreateModelInput{
		ModelName:        aws.String(spec.ModelName),
		ExecutionRoleArn: aws.String(spec.RoleArn),
		Containers:       containers,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create pipeline model %s: %w", spec.ModelName, err)
	}
	slog.Info("Registered pipeline model", "modelName", spec.ModelName, "stages", len(containers))
	return spec.ModelName, nil
}
