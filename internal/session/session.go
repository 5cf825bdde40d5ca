package session

import (
	"errors"
	"slices"

	"automl-backend/internal/automl"
	"automl-backend/internal/table"
	"automl-backend/internal/typing"

	"github.com/google/uuid"
)

type Stage string

const (
	NoFile                 Stage = "NO_FILE"
	SelectingColumns       Stage = "SELECTING_COLUMNS"
	AwaitingPredictionFile Stage = "AWAITING_PREDICTION_FILE"
	Training               Stage = "TRAINING"
	Predicting             Stage = "PREDICTING"
	Done                   Stage = "DONE"
	Failed                 Stage = "FAILED"
)

const (
	TrainPreviewRows   = 100
	PredictPreviewRows = 5
)

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrSessionNotFound   = errors.New("session not found")
	ErrNoResult          = errors.New("session has no prediction result")
	ErrUnreadableFile    = errors.New("uploaded file could not be read")
)

// FileRef points at an upload kept in the object store.
type FileRef struct {
	UploadId uuid.UUID
	Name     string
	Key      string
}

func (f FileRef) Empty() bool {
	return f.Key == ""
}

type State struct {
	Id    uuid.UUID
	Stage Stage

	TrainUploaded bool
	DoneSelection bool

	TrainFile   FileRef
	PredictFile FileRef

	Roles               typing.Roles
	TargetIsCategorical bool
	Model               *automl.Model

	ResultKey string
	Message   string
	Error     string
}

func NewState() *State {
	return &State{Id: uuid.New(), Stage: NoFile}
}

func (s *State) resetSelection() {
	s.DoneSelection = false
	s.Roles = typing.Roles{}
	s.TargetIsCategorical = false
	s.resetPrediction()
}

func (s *State) resetPrediction() {
	s.PredictFile = FileRef{}
	s.Model = nil
	s.ResultKey = ""
	s.Error = ""
}

// Event is one user action applied to a session.
type Event interface {
	allowedFrom() []Stage
}

type UploadTrain struct {
	Name string
	Data []byte
}

type SelectColumns struct {
	Roles typing.Roles
}

type UploadPredict struct {
	Name string
	Data []byte
}

// Run trains on the training file and scores the prediction file. It is
// issued after UploadPredict, usually from a background worker. A run that
// stopped while predicting can be issued again and starts over.
type Run struct {
	MaxRuntimeSecs int
}

func (UploadTrain) allowedFrom() []Stage {
	return []Stage{NoFile, SelectingColumns, AwaitingPredictionFile, Done, Failed}
}

func (SelectColumns) allowedFrom() []Stage {
	return []Stage{SelectingColumns, AwaitingPredictionFile, Done, Failed}
}

func (UploadPredict) allowedFrom() []Stage {
	return []Stage{AwaitingPredictionFile, Done, Failed}
}

func (Run) allowedFrom() []Stage {
	return []Stage{Training, Predicting}
}

func canApply(s *State, ev Event) bool {
	if !slices.Contains(ev.allowedFrom(), s.Stage) {
		return false
	}
	switch ev.(type) {
	case SelectColumns:
		return s.TrainUploaded
	case UploadPredict, Run:
		return s.TrainUploaded && s.DoneSelection
	}
	return true
}

// View is what the client should render after an event.
type View struct {
	Message string
	Halted  bool
	Preview *table.Table
	Columns []string
	Result  *table.Table
}
