package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"textcat-backend/internal/database"
	"textcat-backend/internal/inference"
	"textcat-backend/internal/messaging"
	"textcat-backend/internal/pipeline"
	"textcat-backend/internal/schema"
	"textcat-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher
	runtime   pipeline.Predictor
}

func NewBackendService(db *gorm.DB, publisher messaging.Publisher, runtime pipeline.Predictor) *BackendService {
	return &BackendService{db: db, publisher: publisher, runtime: runtime}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateRun))
		r.Get("/", RestHandler(s.ListRuns))
		r.Get("/{run_id}", RestHandler(s.GetRun))
		r.Post("/{run_id}/transform", RestHandler(s.SubmitTransform))
		r.Post("/{run_id}/predict", RestHandler(s.Predict))
		r.Delete("/{run_id}/endpoint", RestHandler(s.SubmitTeardown))
	})
}

func (s *BackendService) CreateRun(r *http.Request) (any, error) {
	req, err := ParseRequest[api.CreateRunRequest](r)
	if err != nil {
		return nil, err
	}

	if err := validateName(req.Name); err != nil {
		return nil, err
	}

	mode := req.Mode
	if mode == "" {
		mode = api.ModeRealtime
	}
	if mode != api.ModeRealtime && mode != api.ModeBatch {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid mode '%s': must be %s or %s", req.Mode, api.ModeRealtime, api.ModeBatch)
	}

	// Reject a bad schema at submission instead of failing the run later.
	if len(req.Schema) > 0 {
		if _, err := schema.Parse(string(req.Schema)); err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid schema: %v", err)
		}
	}

	var hyperparameters datatypes.JSON
	if len(req.Hyperparameters) > 0 {
		data, err := json.Marshal(req.Hyperparameters)
		if err != nil {
			return nil, CodedError(http.StatusInternalServerError, fmt.Errorf("error encoding hyperparameters: %w", err))
		}
		hyperparameters = data
	}

	ctx := r.Context()

	run := database.PipelineRun{
		Id:               uuid.New(),
		Name:             req.Name,
		Status:           database.RunQueued,
		Mode:             mode,
		CreationTime:     time.Now().UTC(),
		DatasetSourceURL: req.DatasetSourceURL,
		SchemaJSON:       datatypes.JSON(req.Schema),
		Hyperparameters:  hyperparameters,
	}

	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		slog.Error("error creating run", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create run record")
	}

	if err := s.publisher.PublishPipelineRunTask(ctx, messaging.PipelineRunPayload{RunId: run.Id}); err != nil {
		slog.Error("error publishing pipeline run task", "run_id", run.Id, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue pipeline run")
	}

	slog.Info("Submitted pipeline run", "run_id", run.Id, "name", run.Name, "mode", mode)
	return api.CreateRunResponse{RunId: run.Id}, nil
}

type listRunsFilters struct {
	Status string `schema:"status"`
	Mode   string `schema:"mode"`
}

func (s *BackendService) ListRuns(r *http.Request) (any, error) {
	filters, err := ParseRequestQueryParams[listRunsFilters](r)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(r.Context()).Order("creation_time desc")
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.Mode != "" {
		query = query.Where("mode = ?", filters.Mode)
	}

	var runs []database.PipelineRun
	if err := query.Find(&runs).Error; err != nil {
		slog.Error("error listing runs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving runs")
	}

	return convertRuns(runs), nil
}

func (s *BackendService) GetRun(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	run, err := s.getRun(r.Context(), runId, true)
	if err != nil {
		return nil, err
	}
	return convertRun(*run), nil
}

func (s *BackendService) getRun(ctx context.Context, runId uuid.UUID, withStages bool) (*database.PipelineRun, error) {
	query := s.db.WithContext(ctx)
	if withStages {
		query = query.Preload("Stages")
	}

	var run database.PipelineRun
	if err := query.First(&run, "id = ?", runId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "run %s not found", runId)
		}
		slog.Error("error getting run", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving run record")
	}
	return &run, nil
}

func (s *BackendService) SubmitTransform(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	run, err := s.getRun(r.Context(), runId, false)
	if err != nil {
		return nil, err
	}

	if run.ModelName == "" {
		return nil, CodedErrorf(http.StatusConflict, "run %s has no registered model to transform with", runId)
	}

	if err := s.publisher.PublishBatchTransformTask(r.Context(), messaging.BatchTransformPayload{RunId: runId}); err != nil {
		slog.Error("error publishing batch transform task", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue batch transform")
	}

	slog.Info("Submitted batch transform", "run_id", runId, "modelName", run.ModelName)
	return api.TransformSubmitResponse{Message: "Batch transform queued", RunId: runId}, nil
}

func (s *BackendService) Predict(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	req, err := ParseRequest[api.PredictRequest](r)
	if err != nil {
		return nil, err
	}
	if len(req.Texts) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "at least one text is required")
	}

	format := req.Format
	if format == "" {
		format = api.FormatJSON
	}
	if format != api.FormatCSV && format != api.FormatJSON {
		return nil, CodedErrorf(http.StatusBadRequest, "invalid format '%s': must be %s or %s", req.Format, api.FormatCSV, api.FormatJSON)
	}
	if format == api.FormatCSV && len(req.Schema) > 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "schema overrides require the %s format", api.FormatJSON)
	}

	var requestSchema *schema.Descriptor
	if len(req.Schema) > 0 {
		requestSchema, err = schema.Parse(string(req.Schema))
		if err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid schema: %v", err)
		}
	}

	ctx := r.Context()

	run, err := s.getRun(ctx, runId, false)
	if err != nil {
		return nil, err
	}

	if run.EndpointName == "" {
		return nil, CodedErrorf(http.StatusConflict, "run %s has no live endpoint", runId)
	}

	var predictions []inference.Prediction
	if format == api.FormatCSV {
		predictions, err = s.predictCSV(ctx, run.EndpointName, req.Texts)
	} else {
		predictions, err = s.predictJSON(ctx, run.EndpointName, requestSchema, req.Texts)
	}
	if err != nil {
		slog.Error("error invoking endpoint", "run_id", runId, "endpointName", run.EndpointName, "error", err)
		return nil, CodedErrorf(http.StatusBadGateway, "endpoint invocation failed: %v", err)
	}

	return api.PredictResponse{Predictions: convertPredictions(predictions)}, nil
}

// The feature container takes one CSV row per request, so csv-format
// requests fan out row by row. Response order follows request order.
func (s *BackendService) predictCSV(ctx context.Context, endpointName string, texts []string) ([]inference.Prediction, error) {
	var predictions []inference.Prediction
	for _, text := range texts {
		payload, contentType, err := inference.CSVPayload(text)
		if err != nil {
			return nil, err
		}

		preds, err := s.runtime.Predict(ctx, endpointName, payload, contentType)
		if err != nil {
			return nil, err
		}
		predictions = append(predictions, preds...)
	}
	return predictions, nil
}

// A json-format request carries every row in one envelope. A schema override
// rides in the envelope; otherwise the deployed schema governs.
func (s *BackendService) predictJSON(ctx context.Context, endpointName string, sch *schema.Descriptor, texts []string) ([]inference.Prediction, error) {
	rows := make([][]any, 0, len(texts))
	for _, text := range texts {
		rows = append(rows, []any{text})
	}

	payload, contentType, err := inference.EnvelopePayload(sch, rows)
	if err != nil {
		return nil, err
	}
	return s.runtime.Predict(ctx, endpointName, payload, contentType)
}

type teardownParams struct {
	DeleteStagedData bool `schema:"delete_staged_data"`
}

func (s *BackendService) SubmitTeardown(r *http.Request) (any, error) {
	runId, err := URLParamUUID(r, "run_id")
	if err != nil {
		return nil, err
	}

	params, err := ParseRequestQueryParams[teardownParams](r)
	if err != nil {
		return nil, err
	}

	// Teardown is idempotent worker-side, so a run with nothing left to
	// delete is still accepted.
	if _, err := s.getRun(r.Context(), runId, false); err != nil {
		return nil, err
	}

	if err := s.publisher.PublishTeardownTask(r.Context(), messaging.TeardownPayload{RunId: runId, DeleteStagedData: params.DeleteStagedData}); err != nil {
		slog.Error("error publishing teardown task", "run_id", runId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue teardown")
	}

	slog.Info("Submitted teardown", "run_id", runId, "deleteStagedData", params.DeleteStagedData)
	return api.TeardownSubmitResponse{Message: "Teardown queued", RunId: runId}, nil
}
