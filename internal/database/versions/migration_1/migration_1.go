package migration_1

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

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

func Migration(db *gorm.DB) error {
	if err := db.AutoMigrate(&TrainingRun{}); err != nil {
		return fmt.Errorf("error creating training_runs table: %w", err)
	}
	return nil
}

func Rollback(db *gorm.DB) error {
	if err := db.Migrator().DropTable(&TrainingRun{}); err != nil {
		return fmt.Errorf("error dropping training_runs table: %w", err)
	}
	return nil
}
