package automl

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"automl-backend/internal/core/utils"
	"automl-backend/internal/table"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Model is the handle of a trained AutoML leader.
type Model struct {
	ProjectName         string   `json:"project_name"`
	LeaderId            string   `json:"leader_id"`
	TargetColumn        string   `json:"target_column"`
	TargetIsCategorical bool     `json:"target_is_categorical"`
	FeatureColumns      []string `json:"feature_columns"`
}

type Orchestrator struct {
	engine Engine
	cache  *lru.Cache[string, Model]
	locks  *utils.KeyedMutex
}

func NewOrchestrator(engine Engine, cacheSize int) (*Orchestrator, error) {
	if cacheSize <= 0 {
		cacheSize = 16
	}
	cache, err := lru.New[string, Model](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("error creating model cache: %w", err)
	}
	return &Orchestrator{engine: engine, cache: cache, locks: utils.NewKeyedMutex(0)}, nil
}

func trainKey(t *table.Table, target string, targetIsCat bool, maxRuntimeSecs int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%q\x00%t\x00%d", t.Fingerprint(), target, targetIsCat, maxRuntimeSecs)
	return hex.EncodeToString(h.Sum(nil))
}

// Train runs a time bounded AutoML search for target over every other column
// of t and returns the leader. Identical requests are served from the cache;
// concurrent identical requests wait for the first one to finish.
func (o *Orchestrator) Train(ctx context.Context, t *table.Table, target string, targetIsCat bool, maxRuntimeSecs int) (Model, error) {
	if !t.HasColumn(target) {
		return Model{}, fmt.Errorf("target column '%s' not found in training table", target)
	}

	key := trainKey(t, target, targetIsCat, maxRuntimeSecs)

	unlock, err := o.locks.Lock(key)
	if err != nil {
		return Model{}, err
	}
	defer unlock()

	if model, ok := o.cache.Get(key); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		slog.Info("reusing trained model", "project", model.ProjectName, "leader", model.LeaderId)
		return model, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	var forceEnum []string
	if targetIsCat {
		forceEnum = append(forceEnum, target)
	}

	frame, err := NewFrame("train_"+uuid.NewString(), t, forceEnum...)
	if err != nil {
		return Model{}, err
	}

	start := time.Now()
	frameId, err := o.engine.UploadFrame(ctx, frame)
	if err != nil {
		return Model{}, fmt.Errorf("error uploading training frame: %w", err)
	}

	features := slices.DeleteFunc(t.ColumnNames(), func(c string) bool { return c == target })
	project := "automl_" + key[:16]

	leader, err := o.engine.RunAutoML(ctx, AutoMLRequest{
		ProjectName:    project,
		TrainingFrame:  frameId,
		ResponseColumn: target,
		MaxRuntimeSecs: maxRuntimeSecs,
		Seed:           DefaultSeed,
		ExcludeAlgos:   DefaultExcludeAlgos,
	})
	trainDuration.WithLabelValues(result(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return Model{}, fmt.Errorf("error running automl: %w", err)
	}

	model := Model{
		ProjectName:         project,
		LeaderId:            leader,
		TargetColumn:        target,
		TargetIsCategorical: targetIsCat,
		FeatureColumns:      features,
	}
	o.cache.Add(key, model)

	slog.Info("automl finished", "project", project, "leader", leader, "duration", time.Since(start), "max_runtime_secs", maxRuntimeSecs)

	return model, nil
}

// Predict scores t with the model leader. The table is expected to be typed
// the same way as the training table; mismatches surface as engine errors.
// A target column left in t is not sent to the engine.
func (o *Orchestrator) Predict(ctx context.Context, t *table.Table, model Model) (*table.Table, error) {
	start := time.Now()

	predictions, err := o.predict(ctx, t, model)
	predictDuration.WithLabelValues(result(err)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	slog.Info("prediction finished", "leader", model.LeaderId, "rows", predictions.NumRows(), "duration", time.Since(start))
	return predictions, nil
}

func (o *Orchestrator) predict(ctx context.Context, t *table.Table, model Model) (*table.Table, error) {
	frame, err := NewFrame("predict_"+uuid.NewString(), t.Without(model.TargetColumn))
	if err != nil {
		return nil, err
	}

	frameId, err := o.engine.UploadFrame(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("error uploading prediction frame: %w", err)
	}

	predictionsId, err := o.engine.Predict(ctx, model.LeaderId, frameId)
	if err != nil {
		return nil, fmt.Errorf("error scoring with model %s: %w", model.LeaderId, err)
	}

	data, err := o.engine.DownloadFrame(ctx, predictionsId)
	if err != nil {
		return nil, fmt.Errorf("error downloading predictions: %w", err)
	}

	predictions, err := table.ReadCSV(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing predictions: %w", err)
	}
	return predictions, nil
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
