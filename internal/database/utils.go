package database

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func CreateTrainingRun(ctx context.Context, txn *gorm.DB, sessionId uuid.UUID, maxRuntimeSecs int) (TrainingRun, error) {
	run := TrainingRun{
		Id:             uuid.New(),
		SessionId:      sessionId,
		Status:         RunQueued,
		MaxRuntimeSecs: maxRuntimeSecs,
		CreationTime:   time.Now().UTC(),
	}
	if err := txn.WithContext(ctx).Create(&run).Error; err != nil {
		slog.Error("error creating training run", "session_id", sessionId, "error", err)
		return TrainingRun{}, err
	}
	return run, nil
}

func UpdateTrainingRunStatus(ctx context.Context, txn *gorm.DB, runId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == RunTrained || status == RunFailed {
		updates["completion_time"] = time.Now().UTC()
	}

	if err := txn.WithContext(ctx).Model(&TrainingRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating training run status", "run_id", runId, "status", status, "error", err)
		return err
	}
	return nil
}

func CompleteTrainingRun(ctx context.Context, txn *gorm.DB, runId uuid.UUID, projectName, leaderId string) error {
	updates := map[string]any{
		"status":          RunTrained,
		"project_name":    projectName,
		"leader_id":       sql.NullString{String: leaderId, Valid: true},
		"completion_time": time.Now().UTC(),
	}
	if err := txn.WithContext(ctx).Model(&TrainingRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error completing training run", "run_id", runId, "error", err)
		return err
	}
	return nil
}

func FailTrainingRun(ctx context.Context, txn *gorm.DB, runId uuid.UUID, errorMessage string) {
	updates := map[string]any{
		"status":          RunFailed,
		"error_message":   sql.NullString{String: errorMessage, Valid: true},
		"completion_time": time.Now().UTC(),
	}
	if err := txn.WithContext(ctx).Model(&TrainingRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error saving training run failure", "run_id", runId, "error", err)
	}
}
