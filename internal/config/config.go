package config

import (
	"strconv"
	"time"

	"textcat-backend/internal/pipeline"

	"github.com/caarlos0/env/v11"
)

// Config is the full worker-side environment. The API server parses its own
// smaller struct; everything that drives the pipeline itself lives here.
type Config struct {
	AWSRegion          string `env:"AWS_REGION" envDefault:"us-east-1"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	AWSEndpointURL     string `env:"AWS_ENDPOINT_URL"`
	ExecutionRoleArn   string `env:"EXECUTION_ROLE_ARN"`

	PipelineBucket string `env:"PIPELINE_BUCKET,notEmpty,required"`
	PipelinePrefix string `env:"PIPELINE_PREFIX" envDefault:"textcat"`

	DatasetSourceURL       string   `env:"DATASET_SOURCE_URL"`
	FeatureDependencyPaths []string `env:"FEATURE_DEPENDENCY_PATHS" envSeparator:","`

	FeatureJobName     string `env:"FEATURE_JOB_NAME" envDefault:"textcat-feature-processing"`
	GlueVersion        string `env:"GLUE_VERSION" envDefault:"4.0"`
	GlueWorkerCount    int32  `env:"GLUE_WORKER_COUNT" envDefault:"5"`
	GlueTimeoutMinutes int32  `env:"GLUE_TIMEOUT_MINUTES" envDefault:"60"`

	TrainingImage             string `env:"TRAINING_IMAGE,notEmpty,required"`
	TrainingInstanceType      string `env:"TRAINING_INSTANCE_TYPE" envDefault:"ml.c5.xlarge"`
	TrainingInstanceCount     int32  `env:"TRAINING_INSTANCE_COUNT" envDefault:"1"`
	TrainingVolumeGB          int32  `env:"TRAINING_VOLUME_GB" envDefault:"30"`
	TrainingMaxRuntimeSeconds int32  `env:"TRAINING_MAX_RUNTIME_SECONDS" envDefault:"3600"`

	Epochs    int `env:"TRAINING_EPOCHS" envDefault:"10"`
	MinCount  int `env:"TRAINING_MIN_COUNT" envDefault:"2"`
	VectorDim int `env:"TRAINING_VECTOR_DIM" envDefault:"10"`

	SparkMLServingImage    string `env:"SPARKML_SERVING_IMAGE,notEmpty,required"`
	ClassifierServingImage string `env:"CLASSIFIER_SERVING_IMAGE,notEmpty,required"`

	EndpointInstanceType   string `env:"ENDPOINT_INSTANCE_TYPE" envDefault:"ml.m5.large"`
	EndpointInstanceCount  int32  `env:"ENDPOINT_INSTANCE_COUNT" envDefault:"1"`
	TransformInstanceType  string `env:"TRANSFORM_INSTANCE_TYPE" envDefault:"ml.m5.large"`
	TransformInstanceCount int32  `env:"TRANSFORM_INSTANCE_COUNT" envDefault:"1"`

	PollIntervalSeconds int `env:"POLL_INTERVAL_SECONDS" envDefault:"30"`

	DatabaseURL string `env:"DATABASE_URL" envDefault:"textcat.db"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
	APIPort     string `env:"API_PORT" envDefault:"8001"`
}

func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.PollIntervalSeconds) * time.Second
}

// Settings translates the environment into the orchestrator's workflow
// configuration. The classifier always trains in supervised mode; the tunable
// knobs ride along as hyperparameters.
func (cfg *Config) Settings() pipeline.Settings {
	return pipeline.Settings{
		Bucket:           cfg.PipelineBucket,
		Prefix:           cfg.PipelinePrefix,
		RoleArn:          cfg.ExecutionRoleArn,
		DatasetSourceURL: cfg.DatasetSourceURL,
		DependencyPaths:  cfg.FeatureDependencyPaths,

		FeatureJobName:     cfg.FeatureJobName,
		GlueVersion:        cfg.GlueVersion,
		GlueWorkerCount:    cfg.GlueWorkerCount,
		GlueTimeoutMinutes: cfg.GlueTimeoutMinutes,

		TrainingImage:             cfg.TrainingImage,
		TrainingInstanceType:      cfg.TrainingInstanceType,
		TrainingInstanceCount:     cfg.TrainingInstanceCount,
		TrainingVolumeGB:          cfg.TrainingVolumeGB,
		TrainingMaxRuntimeSeconds: cfg.TrainingMaxRuntimeSeconds,
		Hyperparameters: map[string]string{
			"mode":       "supervised",
			"epochs":     strconv.Itoa(cfg.Epochs),
			"min_count":  strconv.Itoa(cfg.MinCount),
			"vector_dim": strconv.Itoa(cfg.VectorDim),
		},

		SparkMLServingImage:    cfg.SparkMLServingImage,
		ClassifierServingImage: cfg.ClassifierServingImage,

		EndpointInstanceType:   cfg.EndpointInstanceType,
		EndpointInstanceCount:  cfg.EndpointInstanceCount,
		TransformInstanceType:  cfg.TransformInstanceType,
		TransformInstanceCount: cfg.TransformInstanceCount,
	}
}
