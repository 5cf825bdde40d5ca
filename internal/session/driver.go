package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"automl-backend/internal/automl"
	"automl-backend/internal/ingest"
	"automl-backend/internal/storage"
	"automl-backend/internal/table"
	"automl-backend/internal/typing"

	"github.com/google/uuid"
)

type Ingester interface {
	Ingest(ctx context.Context, uploadId uuid.UUID, name string, data []byte) (*table.Table, error)
}

type Modeler interface {
	Train(ctx context.Context, t *table.Table, target string, targetIsCat bool, maxRuntimeSecs int) (automl.Model, error)
	Predict(ctx context.Context, t *table.Table, model automl.Model) (*table.Table, error)
}

// Checkpoint is called whenever a Run moves the session to a new stage, so
// progress can be persisted while the run continues.
type Checkpoint func(ctx context.Context, s *State) error

type Driver struct {
	ingester       Ingester
	modeler        Modeler
	storage        storage.Provider
	maxRuntimeSecs int
	checkpoint     Checkpoint
}

func NewDriver(ingester Ingester, modeler Modeler, store storage.Provider, maxRuntimeSecs int) *Driver {
	if maxRuntimeSecs <= 0 {
		maxRuntimeSecs = automl.DefaultMaxRuntimeSecs
	}
	return &Driver{
		ingester:       ingester,
		modeler:        modeler,
		storage:        store,
		maxRuntimeSecs: maxRuntimeSecs,
	}
}

func (d *Driver) WithCheckpoint(fn Checkpoint) *Driver {
	d.checkpoint = fn
	return d
}

func (d *Driver) MaxRuntimeSecs() int {
	return d.maxRuntimeSecs
}

// Step applies ev to s. A zip upload without a tabular file halts the
// interaction: the returned view carries the message and the stage and flags
// of s are left unchanged.
func (d *Driver) Step(ctx context.Context, s *State, ev Event) (View, error) {
	if !canApply(s, ev) {
		return View{}, fmt.Errorf("%w: cannot apply %T in stage %s", ErrInvalidTransition, ev, s.Stage)
	}

	switch ev := ev.(type) {
	case UploadTrain:
		return d.uploadTrain(ctx, s, ev)
	case SelectColumns:
		return d.selectColumns(ctx, s, ev)
	case UploadPredict:
		return d.uploadPredict(ctx, s, ev)
	case Run:
		return d.run(ctx, s, ev)
	default:
		return View{}, fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, ev)
	}
}

func halted(s *State) View {
	s.Message = ingest.NoTabularFileMessage
	return View{Message: ingest.NoTabularFileMessage, Halted: true}
}

func newFileRef(s *State, kind, name string) FileRef {
	uploadId := uuid.New()
	return FileRef{
		UploadId: uploadId,
		Name:     name,
		Key:      fmt.Sprintf("%s/%s/%s/%s", s.Id, kind, uploadId, path.Base(name)),
	}
}

func (d *Driver) storeUpload(ctx context.Context, ref FileRef, data []byte) error {
	if err := d.storage.PutObject(ctx, storage.UploadBucket, ref.Key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("error storing upload '%s': %w", ref.Name, err)
	}
	return nil
}

func (d *Driver) loadUpload(ctx context.Context, ref FileRef) (*table.Table, error) {
	data, err := d.storage.GetObject(ctx, storage.UploadBucket, ref.Key)
	if err != nil {
		return nil, fmt.Errorf("error loading upload '%s': %w", ref.Name, err)
	}
	return d.ingester.Ingest(ctx, ref.UploadId, ref.Name, data)
}

func (d *Driver) uploadTrain(ctx context.Context, s *State, ev UploadTrain) (View, error) {
	ref := newFileRef(s, "train", ev.Name)

	tbl, err := d.ingester.Ingest(ctx, ref.UploadId, ev.Name, ev.Data)
	if errors.Is(err, ingest.ErrNoTabularFile) {
		slog.Info("training upload has no tabular file", "session_id", s.Id, "name", ev.Name)
		return halted(s), nil
	}
	if err != nil {
		return View{}, fmt.Errorf("%w: %w", ErrUnreadableFile, err)
	}

	if err := d.storeUpload(ctx, ref, ev.Data); err != nil {
		return View{}, err
	}

	s.TrainFile = ref
	s.TrainUploaded = true
	s.resetSelection()
	s.Stage = SelectingColumns
	s.Message = ""

	slog.Info("training file uploaded", "session_id", s.Id, "name", ev.Name, "rows", tbl.NumRows(), "columns", tbl.NumColumns())

	return View{Preview: tbl.Head(TrainPreviewRows), Columns: tbl.ColumnNames()}, nil
}

func (d *Driver) selectColumns(ctx context.Context, s *State, ev SelectColumns) (View, error) {
	train, err := d.loadUpload(ctx, s.TrainFile)
	if err != nil {
		return View{}, err
	}

	if err := typing.ValidateRoles(train, ev.Roles); err != nil {
		return View{}, err
	}

	if _, _, err := typing.Preprocess(train, ev.Roles, false); err != nil {
		return View{}, fmt.Errorf("error typing training file: %w", err)
	}

	s.resetSelection()
	s.Roles = ev.Roles
	s.TargetIsCategorical = ev.Roles.TargetIsCategorical()
	s.DoneSelection = true
	s.Stage = AwaitingPredictionFile
	s.Message = ""

	return View{Columns: train.ColumnNames()}, nil
}

func (d *Driver) uploadPredict(ctx context.Context, s *State, ev UploadPredict) (View, error) {
	ref := newFileRef(s, "predict", ev.Name)

	tbl, err := d.ingester.Ingest(ctx, ref.UploadId, ev.Name, ev.Data)
	if errors.Is(err, ingest.ErrNoTabularFile) {
		slog.Info("prediction upload has no tabular file", "session_id", s.Id, "name", ev.Name)
		return halted(s), nil
	}
	if err != nil {
		return View{}, fmt.Errorf("%w: %w", ErrUnreadableFile, err)
	}

	if err := d.storeUpload(ctx, ref, ev.Data); err != nil {
		return View{}, err
	}

	s.resetPrediction()
	s.PredictFile = ref
	s.Stage = Training
	s.Message = ""

	return View{Preview: tbl.Head(PredictPreviewRows), Columns: tbl.ColumnNames()}, nil
}

func (d *Driver) setStage(ctx context.Context, s *State, stage Stage) error {
	s.Stage = stage
	if d.checkpoint != nil {
		return d.checkpoint(ctx, s)
	}
	return nil
}

// run fails the session on any error, recording the message on the state
// before returning it.
func (d *Driver) run(ctx context.Context, s *State, ev Run) (View, error) {
	view, err := d.trainAndPredict(ctx, s, ev)
	if err != nil {
		s.Stage = Failed
		s.Error = err.Error()
		slog.Error("session run failed", "session_id", s.Id, "error", err)
		return View{}, err
	}
	return view, nil
}

func (d *Driver) trainAndPredict(ctx context.Context, s *State, ev Run) (View, error) {
	maxRuntimeSecs := ev.MaxRuntimeSecs
	if maxRuntimeSecs <= 0 {
		maxRuntimeSecs = d.maxRuntimeSecs
	}

	train, err := d.loadUpload(ctx, s.TrainFile)
	if err != nil {
		return View{}, err
	}
	train, targetIsCat, err := typing.Preprocess(train, s.Roles, false)
	if err != nil {
		return View{}, fmt.Errorf("error typing training file: %w", err)
	}

	model, err := d.modeler.Train(ctx, train, s.Roles.Target, targetIsCat, maxRuntimeSecs)
	if err != nil {
		return View{}, fmt.Errorf("error training model: %w", err)
	}
	s.Model = &model

	if err := d.setStage(ctx, s, Predicting); err != nil {
		return View{}, err
	}

	predict, err := d.loadUpload(ctx, s.PredictFile)
	if err != nil {
		return View{}, err
	}
	predict, _, err = typing.Preprocess(predict, s.Roles, true)
	if err != nil {
		return View{}, fmt.Errorf("error typing prediction file: %w", err)
	}

	result, err := d.modeler.Predict(ctx, predict, model)
	if err != nil {
		return View{}, fmt.Errorf("error predicting: %w", err)
	}

	var buf bytes.Buffer
	if err := result.WriteCSV(&buf); err != nil {
		return View{}, err
	}
	resultKey := fmt.Sprintf("%s/%s/predictions.csv", s.Id, s.PredictFile.UploadId)
	if err := d.storage.PutObject(ctx, storage.ResultBucket, resultKey, &buf); err != nil {
		return View{}, fmt.Errorf("error storing predictions: %w", err)
	}

	s.ResultKey = resultKey
	s.Error = ""
	s.Stage = Done

	slog.Info("session run finished", "session_id", s.Id, "leader", model.LeaderId, "rows", result.NumRows())

	return View{Result: result}, nil
}

// TrainPreview returns the first limit rows of the session's training table.
func (d *Driver) TrainPreview(ctx context.Context, s *State, limit int) (*table.Table, error) {
	if !s.TrainUploaded {
		return nil, fmt.Errorf("%w: no training file uploaded", ErrInvalidTransition)
	}
	tbl, err := d.loadUpload(ctx, s.TrainFile)
	if err != nil {
		return nil, err
	}
	return tbl.Head(limit), nil
}

func (d *Driver) Result(ctx context.Context, s *State) (*table.Table, error) {
	data, err := d.ResultCSV(ctx, s)
	if err != nil {
		return nil, err
	}
	return table.ReadCSV(bytes.NewReader(data))
}

func (d *Driver) ResultCSV(ctx context.Context, s *State) ([]byte, error) {
	if s.Stage != Done || s.ResultKey == "" {
		return nil, ErrNoResult
	}
	data, err := d.storage.GetObject(ctx, storage.ResultBucket, s.ResultKey)
	if err != nil {
		return nil, fmt.Errorf("error loading predictions: %w", err)
	}
	return data, nil
}
