package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Session struct {
	Id    uuid.UUID `gorm:"type:uuid;primaryKey"`
	Stage string    `gorm:"size:32;not null"`

	TrainUploaded bool `gorm:"default:false"`
	DoneSelection bool `gorm:"default:false"`

	TrainFileName   string
	TrainFileKey    sql.NullString
	PredictFileName string
	PredictFileKey  sql.NullString

	Roles               datatypes.JSON
	TargetIsCategorical bool `gorm:"default:false"`
	Model               datatypes.JSON

	ResultKey    sql.NullString
	Message      string
	ErrorMessage sql.NullString

	CreationTime time.Time
	UpdateTime   time.Time

	TrainingRuns []TrainingRun `gorm:"foreignKey:SessionId;constraint:OnDelete:CASCADE"`
}

const (
	RunQueued   string = "QUEUED"
	RunTraining string = "TRAINING"
	RunTrained  string = "TRAINED"
	RunFailed   string = "FAILED"
)

// TrainingRun records every AutoML search started for a session.
type TrainingRun struct {
	Id        uuid.UUID `gorm:"type:uuid;primaryKey"`
	SessionId uuid.UUID `gorm:"type:uuid;index;not null"`

	ProjectName    string
	LeaderId       sql.NullString
	Status         string `gorm:"size:20;not null"`
	MaxRuntimeSecs int
	ErrorMessage   sql.NullString

	CreationTime   time.Time
	CompletionTime sql.NullTime
}
