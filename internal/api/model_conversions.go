package api

import (
	"database/sql"
	"sort"
	"time"

	"textcat-backend/internal/database"
	"textcat-backend/internal/inference"
	"textcat-backend/pkg/api"
)

// The registry keys stage records by (run, stage); responses present them in
// canonical workflow order rather than by timestamp.
var stageOrder = map[string]int{
	database.StageDataset:           0,
	database.StageFeatureProcessing: 1,
	database.StageTraining:          2,
	database.StageModel:             3,
	database.StageEndpoint:          4,
	database.StageValidation:        5,
	database.StageTransform:         6,
	database.StageTeardown:          7,
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time
	return &value
}

func convertStage(s database.StageRun) api.Stage {
	return api.Stage{
		Stage:          s.Stage,
		Status:         s.Status,
		Detail:         s.Detail,
		StartTime:      nullTime(s.StartTime),
		CompletionTime: nullTime(s.CompletionTime),
	}
}

func convertStages(ss []database.StageRun) []api.Stage {
	sort.Slice(ss, func(i, j int) bool {
		return stageOrder[ss[i].Stage] < stageOrder[ss[j].Stage]
	})

	stages := make([]api.Stage, 0, len(ss))
	for _, s := range ss {
		stages = append(stages, convertStage(s))
	}
	return stages
}

func convertRun(r database.PipelineRun) api.Run {
	return api.Run{
		Id:     r.Id,
		Name:   r.Name,
		Status: r.Status,
		Mode:   r.Mode,

		CreationTime:   r.CreationTime,
		CompletionTime: nullTime(r.CompletionTime),

		DatasetSourceURL: r.DatasetSourceURL,
		DatasetS3Path:    r.DatasetS3Path,
		ProcessedS3Path:  r.ProcessedS3Path,

		TrainingJobName:   r.TrainingJobName,
		ModelArtifactPath: r.ModelArtifactPath,

		ModelName:    r.ModelName,
		EndpointName: r.EndpointName,

		TransformJobName:    r.TransformJobName,
		TransformOutputPath: r.TransformOutputPath,

		Error: r.Error,

		Stages: convertStages(r.Stages),
	}
}

func convertRuns(rs []database.PipelineRun) []api.Run {
	runs := make([]api.Run, 0, len(rs))
	for _, r := range rs {
		runs = append(runs, convertRun(r))
	}
	return runs
}

func convertPredictions(ps []inference.Prediction) []api.Prediction {
	predictions := make([]api.Prediction, 0, len(ps))
	for _, p := range ps {
		predictions = append(predictions, api.Prediction{Label: p.Label, Probability: p.Probability})
	}
	return predictions
}
