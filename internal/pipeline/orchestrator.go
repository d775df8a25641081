package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"

	"textcat-backend/internal/database"
	"textcat-backend/internal/dataset"
	"textcat-backend/internal/glue"
	"textcat-backend/internal/inference"
	"textcat-backend/internal/sagemaker"
	"textcat-backend/internal/schema"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultRoleName is the managed execution role assumed to exist in the
// caller's account when no role is configured. It must be trusted by both
// the processing service and the training/hosting service.
const DefaultRoleName = "textcat-pipeline-role"

// probeText is the sample abstract sent through the validation probes once
// an endpoint comes up.
const probeText = "convair is an american aircraft manufacturer known for its delta wing jets and regional airliners"

type StsApi interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// DatasetStager stages the raw corpus into the pipeline bucket.
type DatasetStager interface {
	Stage(ctx context.Context, bucket, prefix, sourceURL string, dependencyPaths []string) (*dataset.Staged, error)
}

// FeatureService drives the serverless feature-processing job.
type FeatureService interface {
	EnsureJob(ctx context.Context, spec glue.JobSpec) error
	StartRun(ctx context.Context, jobName string, args map[string]string) (string, error)
	WaitForRun(ctx context.Context, jobName, runID string) error
}

// ModelService covers training, model registration, serving and batch
// transform.
type ModelService interface {
	CreateTextClassifierJob(ctx context.Context, spec sagemaker.TrainingSpec) (string, error)
	WaitForTrainingJob(ctx context.Context, jobName string) (*sagemaker.TrainingResult, error)
	CreatePipelineModel(ctx context.Context, spec sagemaker.PipelineModelSpec) (string, error)
	DeployEndpoint(ctx context.Context, modelName string, spec sagemaker.EndpointSpec) error
	WaitForEndpointInService(ctx context.Context, endpointName string) error
	SubmitTransformJob(ctx context.Context, spec sagemaker.TransformSpec) (string, error)
	WaitForTransformJob(ctx context.Context, jobName string) error
	TeardownEndpoint(ctx context.Context, endpointName, configName, modelName string) error
}

// Predictor invokes a deployed real-time endpoint.
type Predictor interface {
	Predict(ctx context.Context, endpointName string, payload []byte, contentType string) ([]inference.Prediction, error)
}

// ObjectStore is the slice of the S3 client the orchestrator touches
// directly: reading transform output and deleting staged objects.
type ObjectStore interface {
	ListFiles(ctx context.Context, bucket, prefix string) ([]string, error)
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	DeleteObjects(ctx context.Context, bucket, prefix string) error
}

// Settings is the per-deployment workflow configuration, resolved once at
// startup. Per-run overrides (dataset source, schema, hyperparameters) live
// on the run record and win over these values.
type Settings struct {
	Bucket string
	Prefix string

	// RoleArn may be empty, in which case the managed default role is
	// derived from the caller identity.
	RoleArn string

	DatasetSourceURL string
	DependencyPaths  []string

	FeatureJobName     string
	GlueVersion        string
	GlueWorkerCount    int32
	GlueTimeoutMinutes int32

	TrainingImage             string
	TrainingInstanceType      string
	TrainingInstanceCount     int32
	TrainingVolumeGB          int32
	TrainingMaxRuntimeSeconds int32
	Hyperparameters           map[string]string

	SparkMLServingImage    string
	ClassifierServingImage string

	EndpointInstanceType   string
	EndpointInstanceCount  int32
	TransformInstanceType  string
	TransformInstanceCount int32
}

// Orchestrator executes the workflow for one run at a time: stage the
// dataset, run feature processing, train the classifier, register the
// two-stage model, then serve it in real time or run a batch transform.
// Every step blocks until its remote job reaches a terminal state before the
// next one starts, and every terminal state is classified: a failed or
// stopped job aborts the run with the remote diagnostic.
type Orchestrator struct {
	db       *gorm.DB
	store    ObjectStore
	stager   DatasetStager
	features FeatureService
	models   ModelService
	runtime  Predictor
	sts      StsApi
	settings Settings
}

func NewOrchestrator(db *gorm.DB, store ObjectStore, stager DatasetStager, features FeatureService, models ModelService, runtime Predictor, stsClient StsApi, settings Settings) *Orchestrator {
	return &Orchestrator{
		db:       db,
		store:    store,
		stager:   stager,
		features: features,
		models:   models,
		runtime:  runtime,
		sts:      stsClient,
		settings: settings,
	}
}

// ExecuteRun runs the full workflow for a queued run. Failures mark the run
// FAILED with a diagnostic that includes the remote failure reason; the
// stages after the failing one never start.
func (o *Orchestrator) ExecuteRun(ctx context.Context, runId uuid.UUID) error {
	var run database.PipelineRun
	if err := o.db.WithContext(ctx).First(&run, "id = ?", runId).Error; err != nil {
		return fmt.Errorf("error fetching run %s: %w", runId, err)
	}

	if run.Status != database.RunQueued {
		slog.Info("run already picked up, skipping", "run_id", runId, "status", run.Status)
		return nil
	}

	database.UpdateRunStatus(ctx, o.db, runId, database.RunRunning) //nolint:errcheck
	slog.Info("executing pipeline run", "run_id", runId, "name", run.Name, "mode", run.Mode)

	if err := o.executeStages(ctx, &run); err != nil {
		database.SetRunError(ctx, o.db, runId, err.Error()) //nolint:errcheck
		return err
	}

	if err := database.UpdateRunStatus(ctx, o.db, runId, database.RunCompleted); err != nil {
		return fmt.Errorf("error marking run %s completed: %w", runId, err)
	}
	slog.Info("pipeline run completed", "run_id", runId, "name", run.Name)
	return nil
}

func (o *Orchestrator) executeStages(ctx context.Context, run *database.PipelineRun) error {
	if run.Mode != database.ModeRealtime && run.Mode != database.ModeBatch {
		return fmt.Errorf("unknown run mode %q", run.Mode)
	}

	sch, err := runSchema(run)
	if err != nil {
		return err
	}
	schemaJSON, err := sch.Marshal()
	if err != nil {
		return err
	}

	role, err := o.resolveRole(ctx)
	if err != nil {
		return err
	}

	staged, err := o.stageDataset(ctx, run)
	if err != nil {
		return err
	}

	processed, err := o.processFeatures(ctx, run, role, staged, schemaJSON)
	if err != nil {
		return err
	}

	if err := o.train(ctx, run, role, processed); err != nil {
		return err
	}

	if err := o.registerModel(ctx, run, role, processed.FeatureArtifact, schemaJSON); err != nil {
		return err
	}

	if run.Mode == database.ModeBatch {
		return o.transform(ctx, run)
	}

	if err := o.deployEndpoint(ctx, run); err != nil {
		return err
	}
	return o.validateEndpoint(ctx, run, sch)
}

// ExecuteTransform runs a batch transform against a run's registered model.
// It is both the tail of a batch-mode run and a standalone operation on any
// run whose model is still registered. A standalone failure fails only the
// transform stage record, not the run.
func (o *Orchestrator) ExecuteTransform(ctx context.Context, runId uuid.UUID) error {
	var run database.PipelineRun
	if err := o.db.WithContext(ctx).First(&run, "id = ?", runId).Error; err != nil {
		return fmt.Errorf("error fetching run %s: %w", runId, err)
	}
	return o.transform(ctx, &run)
}

// ExecuteTeardown deletes the run's serving resources and, when asked, its
// staged objects. Safe to repeat: resources already gone are skipped.
func (o *Orchestrator) ExecuteTeardown(ctx context.Context, runId uuid.UUID, deleteStagedData bool) error {
	var run database.PipelineRun
	if err := o.db.WithContext(ctx).First(&run, "id = ?", runId).Error; err != nil {
		return fmt.Errorf("error fetching run %s: %w", runId, err)
	}

	return o.runStage(ctx, runId, database.StageTeardown, func() (string, error) {
		if err := o.models.TeardownEndpoint(ctx, run.EndpointName, run.EndpointConfigName, run.ModelName); err != nil {
			return "", err
		}

		if err := o.saveRunFields(ctx, runId, map[string]any{
			"endpoint_name":        "",
			"endpoint_config_name": "",
			"model_name":           "",
		}); err != nil {
			return "", err
		}

		if !deleteStagedData {
			return "serving resources deleted", nil
		}

		if err := o.store.DeleteObjects(ctx, o.settings.Bucket, o.runPrefix(&run)); err != nil {
			return "", err
		}
		return "serving resources and staged objects deleted", nil
	})
}

// resolveRole returns the execution role handed to the processing, training
// and hosting services.
func (o *Orchestrator) resolveRole(ctx context.Context) (string, error) {
	if o.settings.RoleArn != "" {
		return o.settings.RoleArn, nil
	}

	out, err := o.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to resolve caller identity: %w", err)
	}
	role := fmt.Sprintf("arn:aws:iam::%s:role/%s", aws.ToString(out.Account), DefaultRoleName)
	slog.Info("Resolved execution role from caller identity", "role", role)
	return role, nil
}

func (o *Orchestrator) stageDataset(ctx context.Context, run *database.PipelineRun) (*dataset.Staged, error) {
	source := run.DatasetSourceURL
	if source == "" {
		source = o.settings.DatasetSourceURL
	}
	if source == "" {
		return nil, fmt.Errorf("run %s has no dataset source", run.Id)
	}

	var staged *dataset.Staged
	err := o.runStage(ctx, run.Id, database.StageDataset, func() (string, error) {
		var err error
		staged, err = o.stager.Stage(ctx, o.settings.Bucket, o.runPrefix(run), source, o.settings.DependencyPaths)
		if err != nil {
			return "", err
		}

		if err := o.saveRunFields(ctx, run.Id, map[string]any{
			"dataset_source_url": source,
			"dataset_s3_path":    staged.InputPrefix,
		}); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d train / %d validation / %d batch rows at %s",
			staged.TrainRows, staged.ValidationRows, staged.BatchRows, staged.InputPrefix), nil
	})
	if err != nil {
		return nil, err
	}

	run.DatasetSourceURL = source
	run.DatasetS3Path = staged.InputPrefix
	return staged, nil
}

// processedOutputs locates what the feature-processing run wrote: the
// emitted train/validation channels and the serialized feature pipeline.
type processedOutputs struct {
	Prefix          string
	TrainPath       string
	ValidationPath  string
	FeatureArtifact string
}

func (o *Orchestrator) processFeatures(ctx context.Context, run *database.PipelineRun, role string, staged *dataset.Staged, schemaJSON string) (*processedOutputs, error) {
	outputPrefix := fmt.Sprintf("s3://%s/%s/processed", o.settings.Bucket, o.runPrefix(run))
	processed := &processedOutputs{
		Prefix:          outputPrefix,
		TrainPath:       outputPrefix + "/train",
		ValidationPath:  outputPrefix + "/validation",
		FeatureArtifact: outputPrefix + "/mleap/model.tar.gz",
	}

	var jars, pys []string
	for _, dep := range staged.DependencyPaths {
		if strings.HasSuffix(dep, ".jar") {
			jars = append(jars, dep)
		} else {
			pys = append(pys, dep)
		}
	}

	err := o.runStage(ctx, run.Id, database.StageFeatureProcessing, func() (string, error) {
		if err := o.features.EnsureJob(ctx, glue.JobSpec{
			Name:            o.settings.FeatureJobName,
			RoleArn:         role,
			ScriptLocation:  staged.ScriptPath,
			PyDependencies:  pys,
			JarDependencies: jars,
			WorkerCount:     o.settings.GlueWorkerCount,
			TimeoutMinutes:  o.settings.GlueTimeoutMinutes,
			GlueVersion:     o.settings.GlueVersion,
		}); err != nil {
			return "", err
		}

		runID, err := o.features.StartRun(ctx, o.settings.FeatureJobName, map[string]string{
			"--S3_INPUT_PATH":  staged.InputPrefix,
			"--S3_OUTPUT_PATH": outputPrefix,
			"--SCHEMA_JSON":    schemaJSON,
		})
		if err != nil {
			return "", err
		}

		if err := o.saveRunFields(ctx, run.Id, map[string]any{
			"feature_run_id":    runID,
			"processed_s3_path": outputPrefix,
		}); err != nil {
			return "", err
		}

		if err := o.features.WaitForRun(ctx, o.settings.FeatureJobName, runID); err != nil {
			return "", err
		}
		run.FeatureRunId = runID
		return fmt.Sprintf("run %s wrote %s", runID, outputPrefix), nil
	})
	if err != nil {
		return nil, err
	}

	run.ProcessedS3Path = outputPrefix
	return processed, nil
}

func (o *Orchestrator) train(ctx context.Context, run *database.PipelineRun, role string, processed *processedOutputs) error {
	jobName := remoteName(run.Name, run.Id, "train")

	hyper, err := o.runHyperparameters(run)
	if err != nil {
		return err
	}

	err = o.runStage(ctx, run.Id, database.StageTraining, func() (string, error) {
		if _, err := o.models.CreateTextClassifierJob(ctx, sagemaker.TrainingSpec{
			JobName:           jobName,
			Image:             o.settings.TrainingImage,
			RoleArn:           role,
			TrainS3Path:       processed.TrainPath,
			ValidationS3Path:  processed.ValidationPath,
			OutputS3Path:      fmt.Sprintf("s3://%s/%s/training", o.settings.Bucket, o.runPrefix(run)),
			InstanceType:      o.settings.TrainingInstanceType,
			InstanceCount:     o.settings.TrainingInstanceCount,
			VolumeSizeGB:      o.settings.TrainingVolumeGB,
			MaxRuntimeSeconds: o.settings.TrainingMaxRuntimeSeconds,
			Hyperparameters:   hyper,
		}); err != nil {
			return "", err
		}

		if err := o.saveRunFields(ctx, run.Id, map[string]any{"training_job_name": jobName}); err != nil {
			return "", err
		}

		result, err := o.models.WaitForTrainingJob(ctx, jobName)
		if err != nil {
			return "", err
		}

		if err := o.saveRunFields(ctx, run.Id, map[string]any{"model_artifact_path": result.ArtifactPath}); err != nil {
			return "", err
		}
		run.ModelArtifactPath = result.ArtifactPath
		return "artifact " + result.ArtifactPath, nil
	})
	if err != nil {
		return err
	}

	run.TrainingJobName = jobName
	return nil
}

func (o *Orchestrator) registerModel(ctx context.Context, run *database.PipelineRun, role, featureArtifact, schemaJSON string) error {
	modelName := remoteName(run.Name, run.Id, "model")

	err := o.runStage(ctx, run.Id, database.StageModel, func() (string, error) {
		if _, err := o.models.CreatePipelineModel(ctx, sagemaker.PipelineModelSpec{
			ModelName: modelName,
			RoleArn:   role,
			Stages: []sagemaker.ModelStage{
				sagemaker.NewFeatureStage(o.settings.SparkMLServingImage, featureArtifact, schemaJSON),
				sagemaker.NewClassifierStage(o.settings.ClassifierServingImage, run.ModelArtifactPath),
			},
		}); err != nil {
			return "", err
		}

		if err := o.saveRunFields(ctx, run.Id, map[string]any{"model_name": modelName}); err != nil {
			return "", err
		}
		return modelName, nil
	})
	if err != nil {
		return err
	}

	run.ModelName = modelName
	return nil
}

func (o *Orchestrator) deployEndpoint(ctx context.Context, run *database.PipelineRun) error {
	endpointName := remoteName(run.Name, run.Id, "endpoint")
	configName := remoteName(run.Name, run.Id, "config")

	err := o.runStage(ctx, run.Id, database.StageEndpoint, func() (string, error) {
		if err := o.models.DeployEndpoint(ctx, run.ModelName, sagemaker.EndpointSpec{
			EndpointName:  endpointName,
			ConfigName:    configName,
			InstanceType:  o.settings.EndpointInstanceType,
			InstanceCount: o.settings.EndpointInstanceCount,
		}); err != nil {
			return "", err
		}

		if err := o.saveRunFields(ctx, run.Id, map[string]any{
			"endpoint_name":        endpointName,
			"endpoint_config_name": configName,
		}); err != nil {
			return "", err
		}

		if err := o.models.WaitForEndpointInService(ctx, endpointName); err != nil {
			return "", err
		}
		return endpointName + " in service", nil
	})
	if err != nil {
		return err
	}

	run.EndpointName = endpointName
	run.EndpointConfigName = configName
	return nil
}

// validateEndpoint sends the same text through both request encodings. A
// healthy pipeline answers both with a parseable label; an interchange
// mismatch between the two stages surfaces here instead of in production
// traffic.
func (o *Orchestrator) validateEndpoint(ctx context.Context, run *database.PipelineRun, sch *schema.Descriptor) error {
	return o.runStage(ctx, run.Id, database.StageValidation, func() (string, error) {
		payload, contentType, err := inference.CSVPayload(probeText)
		if err != nil {
			return "", err
		}
		csvPrediction, err := o.probe(ctx, run.EndpointName, payload, contentType)
		if err != nil {
			return "", fmt.Errorf("csv probe: %w", err)
		}

		payload, contentType, err = inference.EnvelopePayload(sch, [][]any{{probeText}})
		if err != nil {
			return "", err
		}
		jsonPrediction, err := o.probe(ctx, run.EndpointName, payload, contentType)
		if err != nil {
			return "", fmt.Errorf("json probe: %w", err)
		}

		slog.Info("Validation probes passed",
			"run_id", run.Id,
			"endpointName", run.EndpointName,
			"csvLabel", csvPrediction.Label,
			"jsonLabel", jsonPrediction.Label)
		return fmt.Sprintf("csv=%s json=%s", csvPrediction.Label, jsonPrediction.Label), nil
	})
}

func (o *Orchestrator) probe(ctx context.Context, endpointName string, payload []byte, contentType string) (inference.Prediction, error) {
	predictions, err := o.runtime.Predict(ctx, endpointName, payload, contentType)
	if err != nil {
		return inference.Prediction{}, err
	}
	return predictions[0], nil
}

func (o *Orchestrator) transform(ctx context.Context, run *database.PipelineRun) error {
	if run.ModelName == "" {
		return fmt.Errorf("run %s has no registered model", run.Id)
	}
	if run.DatasetS3Path == "" {
		return fmt.Errorf("run %s has no staged dataset", run.Id)
	}

	// Transform job names are single-use, so repeat transforms of the same
	// run need a fresh suffix.
	suffix := shortId(uuid.New())
	jobName := remoteName(run.Name, run.Id, "transform-"+suffix)
	outputPath := fmt.Sprintf("s3://%s/%s/transform/%s", o.settings.Bucket, o.runPrefix(run), suffix)
	batchInput := run.DatasetS3Path + "/batch/batch_input.csv"

	return o.runStage(ctx, run.Id, database.StageTransform, func() (string, error) {
		if _, err := o.models.SubmitTransformJob(ctx, sagemaker.TransformSpec{
			JobName:       jobName,
			ModelName:     run.ModelName,
			InputS3Path:   batchInput,
			OutputS3Path:  outputPath,
			InstanceType:  o.settings.TransformInstanceType,
			InstanceCount: o.settings.TransformInstanceCount,
		}); err != nil {
			return "", err
		}

		if err := o.saveRunFields(ctx, run.Id, map[string]any{
			"transform_job_name":    jobName,
			"transform_output_path": outputPath,
		}); err != nil {
			return "", err
		}

		if err := o.models.WaitForTransformJob(ctx, jobName); err != nil {
			return "", err
		}

		lines, err := sagemaker.CollectTransformOutput(ctx, o.store, outputPath)
		if err != nil {
			return "", err
		}

		run.TransformJobName = jobName
		run.TransformOutputPath = outputPath
		slog.Info("Transform output collected", "run_id", run.Id, "jobName", jobName, "predictions", len(lines))
		return fmt.Sprintf("%d predictions at %s", len(lines), outputPath), nil
	})
}

// runStage brackets fn between stage start and terminal records so the
// registry always shows where a run is and where it stopped.
func (o *Orchestrator) runStage(ctx context.Context, runId uuid.UUID, stage string, fn func() (string, error)) error {
	if err := database.StartStage(ctx, o.db, runId, stage); err != nil {
		return fmt.Errorf("error recording %s stage start: %w", stage, err)
	}
	slog.Info("stage started", "run_id", runId, "stage", stage)

	detail, err := fn()
	if err != nil {
		database.FailStage(ctx, o.db, runId, stage, err.Error()) //nolint:errcheck
		return fmt.Errorf("%s stage: %w", stage, err)
	}

	if err := database.CompleteStage(ctx, o.db, runId, stage, detail); err != nil {
		return fmt.Errorf("error recording %s stage completion: %w", stage, err)
	}
	slog.Info("stage completed", "run_id", runId, "stage", stage)
	return nil
}

func (o *Orchestrator) saveRunFields(ctx context.Context, runId uuid.UUID, fields map[string]any) error {
	if err := o.db.WithContext(ctx).Model(&database.PipelineRun{Id: runId}).Updates(fields).Error; err != nil {
		slog.Error("error saving run fields", "run_id", runId, "error", err)
		return fmt.Errorf("error saving run fields: %w", err)
	}
	return nil
}

// runPrefix scopes everything a run writes under its own key prefix, so
// concurrent runs never collide and teardown can delete by prefix.
func (o *Orchestrator) runPrefix(run *database.PipelineRun) string {
	return path.Join(o.settings.Prefix, run.Id.String())
}

func runSchema(run *database.PipelineRun) (*schema.Descriptor, error) {
	if len(run.SchemaJSON) == 0 {
		return schema.DefaultTextSchema(), nil
	}
	sch, err := schema.Parse(string(run.SchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("run %s schema: %w", run.Id, err)
	}
	return sch, nil
}

func (o *Orchestrator) runHyperparameters(run *database.PipelineRun) (map[string]string, error) {
	merged := make(map[string]string, len(o.settings.Hyperparameters))
	for key, value := range o.settings.Hyperparameters {
		merged[key] = value
	}

	if len(run.Hyperparameters) > 0 {
		var overrides map[string]string
		if err := json.Unmarshal(run.Hyperparameters, &overrides); err != nil {
			return nil, fmt.Errorf("run %s hyperparameters: %w", run.Id, err)
		}
		for key, value := range overrides {
			merged[key] = value
		}
	}
	return merged, nil
}

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// remoteName derives a hosting-safe resource name from the run. The hosting
// services allow only alphanumerics and hyphens, capped at 63 characters;
// truncation keeps the right end so the unique id and suffix survive.
func remoteName(runName string, runId uuid.UUID, suffix string) string {
	base := strings.Trim(invalidNameChars.ReplaceAllString(runName, "-"), "-")
	if base == "" {
		base = "run"
	}

	name := fmt.Sprintf("%s-%s-%s", base, shortId(runId), suffix)
	if len(name) > 63 {
		name = strings.TrimLeft(name[len(name)-63:], "-")
	}
	return name
}

func shortId(id uuid.UUID) string {
	return strings.SplitN(id.String(), "-", 2)[0]
}
