package database_test

import (
	"context"
	"testing"
	"time"

	"automl-backend/internal/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func createDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())
	return db
}

func TestCleanDatabaseGetsFullSchema(t *testing.T) {
	db := createDB(t)
	assert.True(t, db.Migrator().HasTable(&database.Session{}))
	assert.True(t, db.Migrator().HasTable(&database.TrainingRun{}))
}

func TestNewDatabaseSqliteUnderRoot(t *testing.T) {
	root := t.TempDir()
	db, err := database.NewDatabase("", root)
	require.NoError(t, err)
	assert.True(t, db.Migrator().HasTable(&database.Session{}))
	assert.Equal(t, "sqlite", db.Dialector.Name())
}

func TestTrainingRunLifecycle(t *testing.T) {
	db := createDB(t)
	ctx := context.Background()

	session := database.Session{Id: uuid.New(), Stage: "TRAINING", CreationTime: time.Now()}
	require.NoError(t, db.Create(&session).Error)

	run, err := database.CreateTrainingRun(ctx, db, session.Id, 60)
	require.NoError(t, err)
	assert.Equal(t, database.RunQueued, run.Status)

	require.NoError(t, database.UpdateTrainingRunStatus(ctx, db, run.Id, database.RunTraining))
	require.NoError(t, database.CompleteTrainingRun(ctx, db, run.Id, "project", "GBM_1"))

	var stored database.TrainingRun
	require.NoError(t, db.First(&stored, "id = ?", run.Id).Error)
	assert.Equal(t, database.RunTrained, stored.Status)
	assert.Equal(t, "GBM_1", stored.LeaderId.String)
	assert.True(t, stored.CompletionTime.Valid)

	failed, err := database.CreateTrainingRun(ctx, db, session.Id, 60)
	require.NoError(t, err)
	database.FailTrainingRun(ctx, db, failed.Id, "engine unavailable")
	require.NoError(t, db.First(&stored, "id = ?", failed.Id).Error)
	assert.Equal(t, database.RunFailed, stored.Status)
	assert.Equal(t, "engine unavailable", stored.ErrorMessage.String)
}
