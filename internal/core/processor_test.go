package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"automl-backend/internal/automl"
	"automl-backend/internal/automl/automltest"
	"automl-backend/internal/core"
	"automl-backend/internal/database"
	"automl-backend/internal/ingest"
	"automl-backend/internal/messaging"
	"automl-backend/internal/session"
	"automl-backend/internal/storage"
	"automl-backend/internal/typing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type recordingTask struct {
	queue   string
	payload []byte
	outcome string
}

func (t *recordingTask) Type() string    { return t.queue }
func (t *recordingTask) Payload() []byte { return t.payload }
func (t *recordingTask) Ack() error      { t.outcome = "ack"; return nil }
func (t *recordingTask) Nack() error     { t.outcome = "nack"; return nil }
func (t *recordingTask) Reject() error   { t.outcome = "reject"; return nil }

type fixture struct {
	db     *gorm.DB
	store  *session.Store
	driver *session.Driver
	engine *automltest.FakeEngine
	proc   *core.TaskProcessor
}

func setup(t *testing.T) fixture {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())

	provider, err := storage.NewLocalProvider(t.TempDir())
	require.NoError(t, err)

	ingester, err := ingest.NewIngester(provider, storage.ExtractedBucket, 8)
	require.NoError(t, err)

	engine := automltest.NewFakeEngine()
	orchestrator, err := automl.NewOrchestrator(engine, 8)
	require.NoError(t, err)

	driver := session.NewDriver(ingester, orchestrator, provider, 30)

	queue := messaging.NewInMemoryQueue()
	t.Cleanup(queue.Close)

	return fixture{
		db:     db,
		store:  session.NewStore(db),
		driver: driver,
		engine: engine,
		proc:   core.NewTaskProcessor(db, driver, queue),
	}
}

// prepare walks a session up to the point where it waits for a run.
func (f fixture) prepare(t *testing.T) (*session.State, database.TrainingRun) {
	ctx := context.Background()

	s, err := f.store.Create(ctx)
	require.NoError(t, err)

	_, err = f.driver.Step(ctx, s, session.UploadTrain{Name: "train.csv", Data: []byte("a,b,y\n1,x,0\n2,y,1\n3,x,0\n")})
	require.NoError(t, err)
	_, err = f.driver.Step(ctx, s, session.SelectColumns{Roles: typing.Roles{Categorical: []string{"b", "y"}, Target: "y"}})
	require.NoError(t, err)
	_, err = f.driver.Step(ctx, s, session.UploadPredict{Name: "predict.csv", Data: []byte("a,b\n4,y\n5,x\n")})
	require.NoError(t, err)
	require.NoError(t, f.store.Save(ctx, s))

	run, err := database.CreateTrainingRun(ctx, f.db, s.Id, 30)
	require.NoError(t, err)

	return s, run
}

func runTask(t *testing.T, payload messaging.RunSessionPayload) *recordingTask {
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return &recordingTask{queue: messaging.AutoMLQueue, payload: data}
}

func TestProcessRunSessionTask(t *testing.T) {
	f := setup(t)
	s, run := f.prepare(t)

	task := runTask(t, messaging.RunSessionPayload{SessionId: s.Id, TrainingRunId: run.Id, MaxRuntimeSecs: 10})
	f.proc.ProcessTask(task)
	assert.Equal(t, "ack", task.outcome)

	loaded, err := f.store.Load(context.Background(), s.Id)
	require.NoError(t, err)
	assert.Equal(t, session.Done, loaded.Stage)
	require.NotNil(t, loaded.Model)
	assert.NotEmpty(t, loaded.ResultKey)

	result, err := f.driver.Result(context.Background(), loaded)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NumRows())

	var stored database.TrainingRun
	require.NoError(t, f.db.First(&stored, "id = ?", run.Id).Error)
	assert.Equal(t, database.RunTrained, stored.Status)
	assert.Equal(t, loaded.Model.LeaderId, stored.LeaderId.String)

	assert.Equal(t, 10, f.engine.Requests[0].MaxRuntimeSecs)
}

func TestProcessRunSessionTaskFailure(t *testing.T) {
	f := setup(t)
	f.engine.TrainErr = errors.New("cluster unavailable")
	s, run := f.prepare(t)

	task := runTask(t, messaging.RunSessionPayload{SessionId: s.Id, TrainingRunId: run.Id})
	f.proc.ProcessTask(task)
	assert.Equal(t, "nack", task.outcome)

	loaded, err := f.store.Load(context.Background(), s.Id)
	require.NoError(t, err)
	assert.Equal(t, session.Failed, loaded.Stage)
	assert.Contains(t, loaded.Error, "cluster unavailable")

	var stored database.TrainingRun
	require.NoError(t, f.db.First(&stored, "id = ?", run.Id).Error)
	assert.Equal(t, database.RunFailed, stored.Status)
}

func TestProcessResumesInterruptedPrediction(t *testing.T) {
	f := setup(t)
	s, run := f.prepare(t)
	ctx := context.Background()

	// A worker that stopped after training leaves the session predicting.
	s.Stage = session.Predicting
	require.NoError(t, f.store.Save(ctx, s))
	require.NoError(t, database.UpdateTrainingRunStatus(ctx, f.db, run.Id, database.RunTraining))

	task := runTask(t, messaging.RunSessionPayload{SessionId: s.Id, TrainingRunId: run.Id, MaxRuntimeSecs: 10})
	f.proc.ProcessTask(task)
	assert.Equal(t, "ack", task.outcome)

	loaded, err := f.store.Load(ctx, s.Id)
	require.NoError(t, err)
	assert.Equal(t, session.Done, loaded.Stage)
	assert.NotEmpty(t, loaded.ResultKey)

	var stored database.TrainingRun
	require.NoError(t, f.db.First(&stored, "id = ?", run.Id).Error)
	assert.Equal(t, database.RunTrained, stored.Status)

	_, err = f.driver.Step(ctx, loaded, session.UploadPredict{Name: "again.csv", Data: []byte("a,b\n6,x\n")})
	assert.NoError(t, err)
}

func TestProcessSkipsSessionsNotWaitingForRun(t *testing.T) {
	f := setup(t)

	s, err := f.store.Create(context.Background())
	require.NoError(t, err)

	task := runTask(t, messaging.RunSessionPayload{SessionId: s.Id})
	f.proc.ProcessTask(task)
	assert.Equal(t, "ack", task.outcome)
	assert.Equal(t, 0, f.engine.TrainCount())
}

func TestProcessMissingSession(t *testing.T) {
	f := setup(t)

	task := runTask(t, messaging.RunSessionPayload{SessionId: uuid.New()})
	f.proc.ProcessTask(task)
	assert.Equal(t, "nack", task.outcome)
}

func TestProcessRejectsBadTasks(t *testing.T) {
	f := setup(t)

	malformed := &recordingTask{queue: messaging.AutoMLQueue, payload: []byte("{not json")}
	f.proc.ProcessTask(malformed)
	assert.Equal(t, "reject", malformed.outcome)

	unknown := &recordingTask{queue: "other_queue", payload: []byte("{}")}
	f.proc.ProcessTask(unknown)
	assert.Equal(t, "reject", unknown.outcome)
}
