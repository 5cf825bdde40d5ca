package automl_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"automl-backend/internal/automl"
	"automl-backend/internal/automl/automltest"
	"automl-backend/internal/table"
	"automl-backend/internal/typing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typedTable(t *testing.T, header []string, rows [][]string, roles typing.Roles, isTest bool) *table.Table {
	t.Helper()
	tbl, err := table.New(header, rows)
	require.NoError(t, err)
	typed, _, err := typing.Preprocess(tbl, roles, isTest)
	require.NoError(t, err)
	return typed
}

var roles = typing.Roles{Categorical: []string{"color", "label"}, Datetime: []string{"day"}, Target: "label"}

func trainTable(t *testing.T) *table.Table {
	return typedTable(t,
		[]string{"color", "day", "size", "label"},
		[][]string{
			{"red", "2021-01-01", "1", "yes"},
			{"blue", "2021-01-02", "2", "no"},
			{"red", "2021-01-03", "3", "yes"},
		}, roles, false)
}

func predictTable(t *testing.T) *table.Table {
	return typedTable(t,
		[]string{"color", "day", "size"},
		[][]string{
			{"blue", "2021-02-01", "4"},
			{"red", "2021-02-02", "5"},
			{"red", "2021-02-03", "6"},
			{"blue", "2021-02-04", "7"},
		}, roles, true)
}

func TestNewFrameColumnTypes(t *testing.T) {
	frame, err := automl.NewFrame("train", trainTable(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"color", "day", "size", "label"}, frame.ColumnNames)
	assert.Equal(t, []automl.ColumnType{automl.EnumColumn, automl.TimeColumn, automl.NumericColumn, automl.EnumColumn}, frame.ColumnTypes)
	assert.Contains(t, string(frame.CSV), "red,2021-01-01 00:00:00,1,yes\n")

	frame, err = automl.NewFrame("train", trainTable(t), "size")
	require.NoError(t, err)
	assert.Equal(t, automl.EnumColumn, frame.ColumnTypes[2])
}

func TestTrainAndPredict(t *testing.T) {
	engine := automltest.NewFakeEngine()
	orchestrator, err := automl.NewOrchestrator(engine, 4)
	require.NoError(t, err)

	model, err := orchestrator.Train(context.Background(), trainTable(t), "label", true, 30)
	require.NoError(t, err)

	assert.Equal(t, "label", model.TargetColumn)
	assert.True(t, model.TargetIsCategorical)
	assert.Equal(t, []string{"color", "day", "size"}, model.FeatureColumns)
	assert.NotEmpty(t, model.LeaderId)

	require.Len(t, engine.Requests, 1)
	req := engine.Requests[0]
	assert.Equal(t, 42, req.Seed)
	assert.Equal(t, 30, req.MaxRuntimeSecs)
	assert.Equal(t, []string{"StackedEnsemble"}, req.ExcludeAlgos)
	assert.Equal(t, "label", req.ResponseColumn)

	predictions, err := orchestrator.Predict(context.Background(), predictTable(t), model)
	require.NoError(t, err)
	assert.Equal(t, 4, predictions.NumRows())
	assert.Equal(t, []string{"predict"}, predictions.ColumnNames())
}

func TestPredictDropsLeftoverTarget(t *testing.T) {
	engine := automltest.NewFakeEngine()
	orchestrator, err := automl.NewOrchestrator(engine, 4)
	require.NoError(t, err)

	model, err := orchestrator.Train(context.Background(), trainTable(t), "label", true, 30)
	require.NoError(t, err)

	labelled := typedTable(t,
		[]string{"color", "day", "size", "label"},
		[][]string{
			{"blue", "2021-02-01", "4", "no"},
			{"red", "2021-02-02", "5", "yes"},
		}, roles, true)
	require.True(t, labelled.HasColumn("label"))

	predictions, err := orchestrator.Predict(context.Background(), labelled, model)
	require.NoError(t, err)
	assert.Equal(t, 2, predictions.NumRows())

	uploaded := engine.Uploads[len(engine.Uploads)-1]
	assert.Equal(t, []string{"color", "day", "size"}, uploaded.ColumnNames)
	assert.NotContains(t, uploaded.ColumnTypes, automl.StringColumn)
}

func TestTrainIsMemoized(t *testing.T) {
	engine := automltest.NewFakeEngine()
	orchestrator, err := automl.NewOrchestrator(engine, 4)
	require.NoError(t, err)

	first, err := orchestrator.Train(context.Background(), trainTable(t), "label", true, 30)
	require.NoError(t, err)
	second, err := orchestrator.Train(context.Background(), trainTable(t), "label", true, 30)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, engine.TrainCount())

	_, err = orchestrator.Train(context.Background(), trainTable(t), "label", true, 60)
	require.NoError(t, err)
	assert.Equal(t, 2, engine.TrainCount())
}

func TestConcurrentIdenticalTrainingRunsOnce(t *testing.T) {
	engine := automltest.NewFakeEngine()
	engine.TrainDelay = 100 * time.Millisecond
	orchestrator, err := automl.NewOrchestrator(engine, 4)
	require.NoError(t, err)

	tbl := trainTable(t)

	var wg sync.WaitGroup
	models := make([]automl.Model, 4)
	for i := range models {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			model, err := orchestrator.Train(context.Background(), tbl, "label", true, 30)
			assert.NoError(t, err)
			models[i] = model
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, engine.TrainCount())
	for _, m := range models[1:] {
		assert.Equal(t, models[0], m)
	}
}

func TestTrainErrorsPropagateAndAreNotCached(t *testing.T) {
	engine := automltest.NewFakeEngine()
	engine.TrainErr = errors.New("cloud is unhealthy")
	orchestrator, err := automl.NewOrchestrator(engine, 4)
	require.NoError(t, err)

	_, err = orchestrator.Train(context.Background(), trainTable(t), "label", true, 30)
	assert.ErrorIs(t, err, engine.TrainErr)

	engine.TrainErr = nil
	_, err = orchestrator.Train(context.Background(), trainTable(t), "label", true, 30)
	assert.NoError(t, err)
	assert.Equal(t, 2, engine.TrainCount())
}

func TestTrainMissingTarget(t *testing.T) {
	orchestrator, err := automl.NewOrchestrator(automltest.NewFakeEngine(), 4)
	require.NoError(t, err)

	_, err = orchestrator.Train(context.Background(), trainTable(t), "nope", false, 30)
	assert.Error(t, err)
}

func TestPredictErrorPropagates(t *testing.T) {
	engine := automltest.NewFakeEngine()
	orchestrator, err := automl.NewOrchestrator(automl.WithMetrics(engine), 4)
	require.NoError(t, err)

	model, err := orchestrator.Train(context.Background(), trainTable(t), "label", true, 30)
	require.NoError(t, err)

	engine.PredictErr = errors.New("column mismatch")
	_, err = orchestrator.Predict(context.Background(), predictTable(t), model)
	assert.ErrorIs(t, err, engine.PredictErr)
}
