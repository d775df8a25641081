package migration_0

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Snapshot of the schema at migration 0. Later migrations must not reuse
// these structs.

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

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&PipelineRun{}, &StageRun{}); err != nil {
		return fmt.Errorf("error creating pipeline run tables: %w", err)
	}
	return nil
}
