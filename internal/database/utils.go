package database

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func terminalRunStatus(status string) bool {
	return status == RunCompleted || status == RunFailed || status == RunStopped
}

func UpdateRunStatus(ctx context.Context, txn *gorm.DB, runId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if terminalRunStatus(status) {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&PipelineRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating run status", "run_id", runId, "status", status, "error", err)
		return err
	}
	return nil
}

// SetRunError marks the run FAILED and records the diagnostic. The message
// is what operators see, so callers include the remote failure reason.
func SetRunError(ctx context.Context, txn *gorm.DB, runId uuid.UUID, errorMessage string) error {
	updates := map[string]any{
		"status":          RunFailed,
		"error":           errorMessage,
		"completion_time": time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Model(&PipelineRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error recording run failure", "run_id", runId, "error", err)
		return err
	}
	return nil
}

func StartStage(ctx context.Context, txn *gorm.DB, runId uuid.UUID, stage string) error {
	now := time.Now().UTC()
	record := StageRun{
		RunId:        runId,
		Stage:        stage,
		Status:       RunRunning,
		CreationTime: now,
		StartTime:    sql.NullTime{Time: now, Valid: true},
	}

	err := txn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "stage"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "start_time"}),
	}).Create(&record).Error
	if err != nil {
		slog.Error("error starting stage", "run_id", runId, "stage", stage, "error", err)
		return err
	}
	return nil
}

func CompleteStage(ctx context.Context, txn *gorm.DB, runId uuid.UUID, stage, detail string) error {
	return finishStage(ctx, txn, runId, stage, RunCompleted, detail)
}

func FailStage(ctx context.Context, txn *gorm.DB, runId uuid.UUID, stage, detail string) error {
	return finishStage(ctx, txn, runId, stage, RunFailed, detail)
}

func finishStage(ctx context.Context, txn *gorm.DB, runId uuid.UUID, stage, status, detail string) error {
	updates := map[string]any{
		"status":          status,
		"completion_time": time.Now().UTC(),
	}
	if detail != "" {
		updates["detail"] = detail
	}

	if err := txn.WithContext(ctx).Model(&StageRun{RunId: runId, Stage: stage}).Updates(updates).Error; err != nil {
		slog.Error("error finishing stage", "run_id", runId, "stage", stage, "status", status, "error", err)
		return err
	}
	return nil
}
