package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	ModeRealtime = "realtime"
	ModeBatch    = "batch"

	FormatCSV  = "csv"
	FormatJSON = "json"
)

type CreateRunRequest struct {
	Name string
	Mode string

	// Optional overrides; deployment configuration fills the gaps.
	DatasetSourceURL string            `json:"DatasetSourceURL,omitempty"`
	Schema           json.RawMessage   `json:"Schema,omitempty"`
	Hyperparameters  map[string]string `json:"Hyperparameters,omitempty"`
}

type CreateRunResponse struct {
	RunId uuid.UUID
}

type Stage struct {
	Stage  string
	Status string
	Detail string `json:"Detail,omitempty"`

	StartTime      *time.Time `json:"StartTime,omitempty"`
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`
}

type Run struct {
	Id     uuid.UUID
	Name   string
	Status string
	Mode   string

	CreationTime   time.Time
	CompletionTime *time.Time `json:"CompletionTime,omitempty"`

	DatasetSourceURL string `json:"DatasetSourceURL,omitempty"`
	DatasetS3Path    string `json:"DatasetS3Path,omitempty"`
	ProcessedS3Path  string `json:"ProcessedS3Path,omitempty"`

	TrainingJobName   string `json:"TrainingJobName,omitempty"`
	ModelArtifactPath string `json:"ModelArtifactPath,omitempty"`

	ModelName    string `json:"ModelName,omitempty"`
	EndpointName string `json:"EndpointName,omitempty"`

	TransformJobName    string `json:"TransformJobName,omitempty"`
	TransformOutputPath string `json:"TransformOutputPath,omitempty"`

	Error string `json:"Error,omitempty"`

	Stages []Stage `json:"Stages,omitempty"`
}

type TransformSubmitResponse struct {
	Message string
	RunId   uuid.UUID
}

type PredictRequest struct {
	Texts []string

	// Format selects the request encoding sent to the endpoint, csv or json
	// (the default). Both encodings yield the same predictions.
	Format string `json:"Format,omitempty"`

	// Schema overrides the deployed schema for this request. Only the json
	// format can carry it.
	Schema json.RawMessage `json:"Schema,omitempty"`
}

type Prediction struct {
	Label       string
	Probability float64
}

type PredictResponse struct {
	Predictions []Prediction
}

type TeardownSubmitResponse struct {
	Message string
	RunId   uuid.UUID
}
