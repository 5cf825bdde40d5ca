package automl

import (
	"context"

	"automl-backend/internal/table"
)

type ColumnType string

const (
	EnumColumn    ColumnType = "Enum"
	TimeColumn    ColumnType = "Time"
	NumericColumn ColumnType = "Numeric"
	StringColumn  ColumnType = "String"
)

const (
	DefaultSeed           = 42
	DefaultMaxRuntimeSecs = 600
)

var DefaultExcludeAlgos = []string{"StackedEnsemble"}

// Frame is a table serialized for the engine together with the engine type of
// every column.
type Frame struct {
	Name        string
	CSV         []byte
	ColumnNames []string
	ColumnTypes []ColumnType
}

type AutoMLRequest struct {
	ProjectName    string
	TrainingFrame  string
	ResponseColumn string
	MaxRuntimeSecs int
	Seed           int
	ExcludeAlgos   []string
}

// Engine is the subset of an AutoML backend used for training and scoring.
// Frame and model ids are opaque strings owned by the engine.
type Engine interface {
	UploadFrame(ctx context.Context, frame Frame) (string, error)

	// RunAutoML blocks until the search finishes and returns the leader model id.
	RunAutoML(ctx context.Context, req AutoMLRequest) (string, error)

	// Predict scores a frame and returns the id of the predictions frame.
	Predict(ctx context.Context, modelId, frameId string) (string, error)

	DownloadFrame(ctx context.Context, frameId string) ([]byte, error)

	Shutdown(ctx context.Context) error
}

func columnTypeOf(kind table.Kind) ColumnType {
	switch kind {
	case table.Categorical:
		return EnumColumn
	case table.Datetime:
		return TimeColumn
	case table.Numeric:
		return NumericColumn
	default:
		return StringColumn
	}
}
