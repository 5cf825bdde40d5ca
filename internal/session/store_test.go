package session_test

import (
	"context"
	"testing"

	"automl-backend/internal/automl"
	"automl-backend/internal/database"
	"automl-backend/internal/session"

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

func TestStoreRoundTrip(t *testing.T) {
	store := session.NewStore(createDB(t))
	ctx := context.Background()

	s, err := store.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.NoFile, s.Stage)

	uploadId := uuid.New()
	s.Stage = session.Done
	s.TrainUploaded = true
	s.DoneSelection = true
	s.TrainFile = session.FileRef{UploadId: uploadId, Name: "train.csv", Key: s.Id.String() + "/train/" + uploadId.String() + "/train.csv"}
	s.Roles = roles
	s.TargetIsCategorical = true
	s.Model = &automl.Model{ProjectName: "p", LeaderId: "GBM_1", TargetColumn: "label", TargetIsCategorical: true, FeatureColumns: []string{"color", "day", "size"}}
	s.ResultKey = "results/key.csv"
	require.NoError(t, store.Save(ctx, s))

	loaded, err := store.Load(ctx, s.Id)
	require.NoError(t, err)
	assert.Equal(t, s, loaded)
}

func TestStoreSavesZeroValues(t *testing.T) {
	store := session.NewStore(createDB(t))
	ctx := context.Background()

	s, err := store.Create(ctx)
	require.NoError(t, err)

	s.TrainUploaded = true
	s.Message = "halted"
	require.NoError(t, store.Save(ctx, s))

	s.TrainUploaded = false
	s.Message = ""
	require.NoError(t, store.Save(ctx, s))

	loaded, err := store.Load(ctx, s.Id)
	require.NoError(t, err)
	assert.False(t, loaded.TrainUploaded)
	assert.Empty(t, loaded.Message)
	assert.Nil(t, loaded.Model)
}

func TestStoreMissingSession(t *testing.T) {
	store := session.NewStore(createDB(t))

	_, err := store.Load(context.Background(), uuid.New())
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	err = store.Save(context.Background(), session.NewState())
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}
