package sagemaker_test

import (
	"context"
	"testing"
	"time"

	smservice "textcat-backend/internal/sagemaker"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schemaJSON = `{"input":[{"name":"abstract","type":"string"}],"output":{"name":"tokenized_abstract","type":"string"}}`

func featureStage() smservice.ModelStage {
	return smservice.NewFeatureStage(
		"246618743249.dkr.ecr.us-east-1.amazonaws.com/sagemaker-sparkml-serving:3.3",
		"s3://bucket/textcat/processed/mleap/model.tar.gz",
		schemaJSON,
	)
}

func classifierStage() smservice.ModelStage {
	return smservice.NewClassifierStage(
		"811284229777.dkr.ecr.us-east-1.amazonaws.com/blazingtext:latest",
		"s3://bucket/textcat/models/textcat-train-ab12cd34/output/model.tar.gz",
	)
}

func TestBuildContainersOrdering(t *testing.T) {
	containers, err := smservice.BuildContainers([]smservice.ModelStage{featureStage(), classifierStage()})
	require.NoError(t, err)
	require.Len(t, containers, 2)

	first := containers[0]
	assert.Contains(t, aws.ToString(first.Image), "sparkml-serving")
	assert.Equal(t, schemaJSON, first.Environment["SAGEMAKER_SPARKML_SCHEMA"])
	assert.Equal(t, "application/jsonlines", first.Environment["SAGEMAKER_DEFAULT_INVOCATIONS_ACCEPT"])

	second := containers[1]
	assert.Contains(t, aws.ToString(second.Image), "blazingtext")
	assert.Empty(t, second.Environment)
}

func TestBuildContainersRejectsWrongShape(t *testing.T) {
	tests := []struct {
		name   string
		stages []smservice.ModelStage
	}{
		{name: "no stages", stages: nil},
		{name: "single stage", stages: []smservice.ModelStage{featureStage()}},
		{name: "three stages", stages: []smservice.ModelStage{featureStage(), classifierStage(), classifierStage()}},
		{name: "classifier first", stages: []smservice.ModelStage{classifierStage(), featureStage()}},
		{name: "two feature stages", stages: []smservice.ModelStage{featureStage(), featureStage()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := smservice.BuildContainers(tt.stages)
			assert.Error(t, err)
		})
	}
}

func TestBuildContainersRequiresImageAndArtifact(t *testing.T) {
	noImage := featureStage()
	noImage.Image = ""
	_, err := smservice.BuildContainers([]smservice.ModelStage{noImage, classifierStage()})
	assert.Error(t, err)

	noArtifact := classifierStage()
	noArtifact.ArtifactPath = ""
	_, err = smservice.BuildContainers([]smservice.ModelStage{featureStage(), noArtifact})
	assert.Error(t, err)
}

func TestCreatePipelineModel(t *testing.T) {
	mock := &mockSageMakerApi{}
	svc := smservice.NewService(mock, time.Millisecond)

	name, err := svc.CreatePipelineModel(context.Background(), smservice.PipelineModelSpec{
		ModelName: "textcat-model-ab12cd34",
		RoleArn:   "arn:aws:iam::123456789012:role/SageMakerRole",
		Stages:    []smservice.ModelStage{featureStage(), classifierStage()},
	})
	require.NoError(t, err)
	assert.Equal(t, "textcat-model-ab12cd34", name)

	require.NotNil(t, mock.modelInput)
	require.Len(t, mock.modelInput.Containers, 2)
	assert.Contains(t, aws.ToString(mock.modelInput.Containers[0].Image), "sparkml-serving")
	assert.Equal(t, "arn:aws:iam::123456789012:role/SageMakerRole", aws.ToString(mock.modelInput.ExecutionRoleArn))
}

func TestCreatePipelineModelRejectsInvalidStages(t *testing.T) {
	mock := &mockSageMakerApi{}
	svc := smservice.NewService(mock, time.Millisecond)

	_, err := svc.CreatePipelineModel(context.Background(), smservice.PipelineModelSpec{
		ModelName: "bad",
		RoleArn:   "role",
		Stages:    []smservice.ModelStage{classifierStage(), featureStage()},
	})
	require.Error(t, err)
	assert.Nil(t, mock.modelInput, "model must not be registered when validation fails")
}
