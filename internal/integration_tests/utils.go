//go:build integration
// +build integration

// The build tag 'integration' allows separating integration tests from unit tests.
// Run unit tests with: go test ./...
// Run integration tests with: go test -tags=integration ./...

package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"textcat-backend/internal/database"
	"textcat-backend/internal/glue"
	"textcat-backend/internal/inference"
	"textcat-backend/internal/poller"
	"textcat-backend/internal/s3"
	"textcat-backend/internal/sagemaker"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/minio"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

const (
	minioUsername = "admin"
	minioPassword = "password"
)

func setupMinioContainer(t *testing.T, ctx context.Context) string {
	minioContainer, err := minio.Run(
		ctx,
		"minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	require.NoError(t, err, "Failed to start MinIO container")

	t.Cleanup(func() {
		err := minioContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate MinIO container")
	})

	connStr, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get MinIO connection string")

	return "http://" + connStr
}

func setupPostgresContainer(t *testing.T, ctx context.Context) string {
	dbName, dbUser, dbPassword := "test_db", "test_user", "test_password"

	postgresContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(5*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	t.Cleanup(func() {
		err := postgresContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate PostgreSQL container")
	})

	connStr, err := postgresContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get PostgreSQL connection string")

	return connStr
}

func createDB(t *testing.T) *gorm.DB {
	uri := setupPostgresContainer(t, context.Background())
	db, err := database.NewDatabase(uri)
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())

	return db
}

func newS3Client(t *testing.T, endpoint, bucket string) *s3.Client {
	client, err := s3.NewS3Client(&s3.Config{
		S3EndpointURL:     endpoint,
		S3AccessKeyID:     minioUsername,
		S3SecretAccessKey: minioPassword,
		S3Region:          "us-east-1",
		PipelineBucket:    bucket,
	})
	require.NoError(t, err)
	return client
}

func httpRequest(api http.Handler, method, endpoint string, payload any, dest any) error {
	var body io.Reader
	if payload != nil {
		requestBody, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(requestBody)
	}

	req := httptest.NewRequest(method, endpoint, body)
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	api.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		return fmt.Errorf("expected status code 200, got %d: %v", rr.Code, rr.Body.String())
	}

	if dest != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// fakeGlue stands in for the serverless processing service. A started run
// immediately leaves behind the objects a finished processing run writes,
// so the later stages read real output from real object storage.
type fakeGlue struct {
	store *s3.Client

	mu      sync.Mutex
	jobs    []glue.JobSpec
	runArgs []map[string]string
}

func (f *fakeGlue) EnsureJob(ctx context.Context, spec glue.JobSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, spec)
	return nil
}

func (f *fakeGlue) StartRun(ctx context.Context, jobName string, args map[string]string) (string, error) {
	f.mu.Lock()
	f.runArgs = append(f.runArgs, args)
	f.mu.Unlock()

	bucket, prefix, err := s3.ParseS3Path(args["--S3_OUTPUT_PATH"])
	if err != nil {
		return "", err
	}
	outputs := []string{"train/part-00000.csv", "validation/part-00000.csv", "mleap/model.tar.gz"}
	for _, key := range outputs {
		if _, err := f.store.UploadObject(ctx, bucket, prefix+"/"+key, strings.NewReader("processed "+key)); err != nil {
			return "", err
		}
	}
	return "jr_" + uuid.NewString(), nil
}

func (f *fakeGlue) WaitForRun(ctx context.Context, jobName, runID string) error {
	return nil
}

func (f *fakeGlue) startedRuns() []map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]string(nil), f.runArgs...)
}

func (f *fakeGlue) ensuredJobs() []glue.JobSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]glue.JobSpec(nil), f.jobs...)
}

// fakeSageMaker stands in for the training and hosting service, backed by
// the same object store the orchestrator uses. Training writes a model
// artifact, transform jobs run inline against the staged batch input.
type fakeSageMaker struct {
	store *s3.Client

	mu            sync.Mutex
	trainingFails string
	trainingSpecs map[string]sagemaker.TrainingSpec
	models        map[string]sagemaker.PipelineModelSpec
	endpoints     map[string]string
	transforms    map[string]sagemaker.TransformSpec
	tornDown      []string
}

func newFakeSageMaker(store *s3.Client) *fakeSageMaker {
	return &fakeSageMaker{
		store:         store,
		trainingSpecs: make(map[string]sagemaker.TrainingSpec),
		models:        make(map[string]sagemaker.PipelineModelSpec),
		endpoints:     make(map[string]string),
		transforms:    make(map[string]sagemaker.TransformSpec),
	}
}

func (f *fakeSageMaker) CreateTextClassifierJob(ctx context.Context, spec sagemaker.TrainingSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trainingSpecs[spec.JobName] = spec
	return spec.JobName, nil
}

func (f *fakeSageMaker) WaitForTrainingJob(ctx context.Context, jobName string) (*sagemaker.TrainingResult, error) {
	f.mu.Lock()
	spec, ok := f.trainingSpecs[jobName]
	reason := f.trainingFails
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown training job %s", jobName)
	}
	if reason != "" {
		return nil, fmt.Errorf("training job %s: %w", jobName, &poller.TerminalError{State: "Failed", Detail: reason})
	}

	// The hosted service writes the artifact under <output>/<job>/output/.
	artifact := spec.OutputS3Path + "/" + jobName + "/output/model.tar.gz"
	bucket, key, err := s3.ParseS3Path(artifact)
	if err != nil {
		return nil, err
	}
	if _, err := f.store.UploadObject(ctx, bucket, key, strings.NewReader("classifier weights")); err != nil {
		return nil, err
	}
	return &sagemaker.TrainingResult{ArtifactPath: artifact}, nil
}

func (f *fakeSageMaker) CreatePipelineModel(ctx context.Context, spec sagemaker.PipelineModelSpec) (string, error) {
	if _, err := sagemaker.BuildContainers(spec.Stages); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.models[spec.ModelName] = spec
	return spec.ModelName, nil
}

func (f *fakeSageMaker) DeployEndpoint(ctx context.Context, modelName string, spec sagemaker.EndpointSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.models[modelName]; !ok {
		return fmt.Errorf("model %s is not registered", modelName)
	}
	f.endpoints[spec.EndpointName] = modelName
	return nil
}

func (f *fakeSageMaker) WaitForEndpointInService(ctx context.Context, endpointName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.endpoints[endpointName]; !ok {
		return fmt.Errorf("endpoint %s was never deployed", endpointName)
	}
	return nil
}

// SubmitTransformJob runs the whole job inline: one prediction line per
// input line, assembled into a single part file under the output prefix.
// The label echoes the first word of the input line so tests can match
// output lines back to input lines by position.
func (f *fakeSageMaker) SubmitTransformJob(ctx context.Context, spec sagemaker.TransformSpec) (string, error) {
	f.mu.Lock()
	if _, ok := f.models[spec.ModelName]; !ok {
		f.mu.Unlock()
		return "", fmt.Errorf("model %s is not registered", spec.ModelName)
	}
	f.transforms[spec.JobName] = spec
	f.mu.Unlock()

	inBucket, inKey, err := s3.ParseS3Path(spec.InputS3Path)
	if err != nil {
		return "", err
	}
	data, err := f.store.GetObject(ctx, inBucket, inKey)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		fmt.Fprintf(&out, "{\"label\": [\"__label__%s\"], \"prob\": [0.9]}\n", strings.Fields(line)[0])
	}

	outBucket, outPrefix, err := s3.ParseS3Path(spec.OutputS3Path)
	if err != nil {
		return "", err
	}
	outKey := outPrefix + "/" + path.Base(inKey) + ".out"
	if _, err := f.store.UploadObject(ctx, outBucket, outKey, strings.NewReader(out.String())); err != nil {
		return "", err
	}
	return spec.JobName, nil
}

func (f *fakeSageMaker) WaitForTransformJob(ctx context.Context, jobName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.transforms[jobName]; !ok {
		return fmt.Errorf("unknown transform job %s", jobName)
	}
	return nil
}

func (f *fakeSageMaker) TeardownEndpoint(ctx context.Context, endpointName, configName, modelName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.endpoints, endpointName)
	delete(f.models, modelName)
	f.tornDown = append(f.tornDown, endpointName)
	return nil
}

func (f *fakeSageMaker) hasEndpoint(endpointName string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.endpoints[endpointName]
	return ok
}

func (f *fakeSageMaker) trainingSpec(jobName string) (sagemaker.TrainingSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.trainingSpecs[jobName]
	return spec, ok
}

func (f *fakeSageMaker) registeredModel(modelName string) (sagemaker.PipelineModelSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.models[modelName]
	return spec, ok
}

func (f *fakeSageMaker) deletedEndpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tornDown...)
}

// fakeRuntime answers endpoint invocations for endpoints the fake hosting
// service actually deployed.
type fakeRuntime struct {
	sm *fakeSageMaker

	mu           sync.Mutex
	payloads     []string
	contentTypes []string
}

func (f *fakeRuntime) Predict(ctx context.Context, endpointName string, payload []byte, contentType string) ([]inference.Prediction, error) {
	if !f.sm.hasEndpoint(endpointName) {
		return nil, fmt.Errorf("endpoint %s not found", endpointName)
	}

	f.mu.Lock()
	f.payloads = append(f.payloads, string(payload))
	f.contentTypes = append(f.contentTypes, contentType)
	f.mu.Unlock()

	return []inference.Prediction{{Label: "Company", Probability: 0.93}}, nil
}

func (f *fakeRuntime) calls() (payloads, contentTypes []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.payloads...), append([]string(nil), f.contentTypes...)
}

type fakeSts struct {
	account string
}

func (f fakeSts) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{Account: aws.String(f.account)}, nil
}
