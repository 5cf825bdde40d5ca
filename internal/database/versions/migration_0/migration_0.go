package migration_0

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
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
}

func Migration(db *gorm.DB) error {
	return db.AutoMigrate(&Session{})
}
