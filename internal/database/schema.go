package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	RunQueued    string = "QUEUED"
	RunRunning   string = "RUNNING"
	RunCompleted string = "COMPLETED"
	RunFailed    string = "FAILED"
	RunStopped   string = "STOPPED"
)

const (
	ModeRealtime string = "realtime"
	ModeBatch    string = "batch"
)

// Stage names in execution order. Not every run records every stage: the
// transform stage belongs to batch runs, endpoint and validation to
// real-time runs, and teardown only appears once requested.
const (
	StageDataset           string = "dataset"
	StageFeatureProcessing string = "feature_processing"
	StageTraining          string = "training"
	StageModel             string = "model"
	StageEndpoint          string = "endpoint"
	StageValidation        string = "validation"
	StageTransform         string = "transform"
	StageTeardown          string = "teardown"
)

type PipelineRun struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name   string `gorm:"not null"`
	Status string `gorm:"size:20;not null"`
	Mode   string `gorm:"size:20;not null"`

	CreationTime   time.Time
	CompletionTime sql.NullTime

	DatasetSourceURL string
	DatasetS3Path    string
	ProcessedS3Path  string

	FeatureRunId      string
	TrainingJobName   string
	ModelArtifactPath string

	ModelName          string
	EndpointName       string
	EndpointConfigName string

	TransformJobName    string
	TransformOutputPath string

	SchemaJSON      datatypes.JSON `gorm:"type:jsonb"`
	Hyperparameters datatypes.JSON `gorm:"type:jsonb"`

	Error string

	Stages []StageRun `gorm:"foreignKey:RunId;constraint:OnDelete:CASCADE"`
}

type StageRun struct {
	RunId uuid.UUID `gorm:"type:uuid;primaryKey"`
	Stage string    `gorm:"primaryKey;size:30"`

	Status         string `gorm:"size:20;not null"`
	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime

	Detail string
}
