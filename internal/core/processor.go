package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"automl-backend/internal/database"
	"automl-backend/internal/messaging"
	"automl-backend/internal/session"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskProcessor executes queued session runs: train on the session's
// training file, then score its prediction file.
type TaskProcessor struct {
	db       *gorm.DB
	store    *session.Store
	driver   *session.Driver
	reciever messaging.Reciever
}

// NewTaskProcessor installs a checkpoint on driver that persists the session
// every time a run changes its stage.
func NewTaskProcessor(db *gorm.DB, driver *session.Driver, reciever messaging.Reciever) *TaskProcessor {
	store := session.NewStore(db)
	return &TaskProcessor{
		db:       db,
		store:    store,
		driver:   driver.WithCheckpoint(store.Save),
		reciever: reciever,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.reciever.Tasks() {
		proc.ProcessTask(task)
	}

	slog.Info("task processor stopped")
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.reciever.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	var err error
	switch task.Type() {
	case messaging.AutoMLQueue:
		var payload messaging.RunSessionPayload
		if err = json.Unmarshal(task.Payload(), &payload); err != nil {
			slog.Error("error unmarshalling run session task", "error", err)
			if err := task.Reject(); err != nil { // Discard malformed message
				slog.Error("error rejecting message from queue", "error", err)
			}
			return
		}
		err = proc.processRunSessionTask(ctx, payload)

	default:
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) processRunSessionTask(ctx context.Context, payload messaging.RunSessionPayload) error {
	slog.Info("processing run session task", "session_id", payload.SessionId, "run_id", payload.TrainingRunId)

	s, err := proc.store.Load(ctx, payload.SessionId)
	if err != nil {
		return err
	}

	if s.Stage != session.Training && s.Stage != session.Predicting {
		slog.Info("session is not waiting for a run, skipping task", "session_id", s.Id, "stage", s.Stage)
		return nil
	}

	hasRun := payload.TrainingRunId != uuid.Nil
	if hasRun {
		if err := database.UpdateTrainingRunStatus(ctx, proc.db, payload.TrainingRunId, database.RunTraining); err != nil {
			return fmt.Errorf("error updating training run status: %w", err)
		}
	}

	_, runErr := proc.driver.Step(ctx, s, session.Run{MaxRuntimeSecs: payload.MaxRuntimeSecs})

	if hasRun {
		if s.Model != nil {
			if err := database.CompleteTrainingRun(ctx, proc.db, payload.TrainingRunId, s.Model.ProjectName, s.Model.LeaderId); err != nil {
				slog.Error("error recording trained model", "session_id", s.Id, "error", err)
			}
		} else if runErr != nil {
			database.FailTrainingRun(ctx, proc.db, payload.TrainingRunId, runErr.Error())
		}
	}

	if err := proc.store.Save(ctx, s); err != nil {
		return fmt.Errorf("error saving session after run: %w", err)
	}

	return runErr
}
