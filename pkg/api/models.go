package api

import (
	"github.com/google/uuid"
)

type ColumnRoles struct {
	Categorical []string
	Datetime    []string
	Target      string
}

type TrainedModel struct {
	ProjectName         string
	LeaderId            string
	TargetColumn        string
	TargetIsCategorical bool
	FeatureColumns      []string
}

type Session struct {
	Id    uuid.UUID
	Stage string

	TrainUploaded bool
	DoneSelection bool

	TrainFileName   string `json:"TrainFileName,omitempty"`
	PredictFileName string `json:"PredictFileName,omitempty"`

	TargetIsCategorical bool
	Roles               *ColumnRoles  `json:"Roles,omitempty"`
	Model               *TrainedModel `json:"Model,omitempty"`

	Message string `json:"Message,omitempty"`
	Error   string `json:"Error,omitempty"`
}

type Table struct {
	Columns []string
	Kinds   []string
	Rows    [][]string
}

type UploadResponse struct {
	Session Session

	// Halted is set when the upload was an archive without a tabular file;
	// Message explains why and the session is unchanged.
	Halted  bool
	Message string `json:"Message,omitempty"`

	Preview *Table   `json:"Preview,omitempty"`
	Columns []string `json:"Columns,omitempty"`
}

type SelectColumnsRequest struct {
	Categorical []string
	Datetime    []string
	Target      string
}

type SelectColumnsResponse struct {
	Session Session
	Columns []string
}

type PreviewParams struct {
	Limit int `schema:"limit"`
}

type ResultResponse struct {
	Session Session
	Result  Table
}
