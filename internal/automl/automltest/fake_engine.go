package automltest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sync"
	"time"

	"automl-backend/internal/automl"
)

// FakeEngine is an in-memory Engine. Predictions contain a single "predict"
// column with one row per scored row.
type FakeEngine struct {
	mu sync.Mutex

	frames    map[string]automl.Frame
	models    map[string]automl.AutoMLRequest
	Requests  []automl.AutoMLRequest
	Uploads   []automl.Frame
	Shutdowns int

	TrainDelay time.Duration
	TrainErr   error
	PredictErr error
}

var _ automl.Engine = (*FakeEngine)(nil)

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		frames: make(map[string]automl.Frame),
		models: make(map[string]automl.AutoMLRequest),
	}
}

func (e *FakeEngine) UploadFrame(ctx context.Context, frame automl.Frame) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := fmt.Sprintf("%s.hex", frame.Name)
	e.frames[id] = frame
	e.Uploads = append(e.Uploads, frame)
	return id, nil
}

func (e *FakeEngine) RunAutoML(ctx context.Context, req automl.AutoMLRequest) (string, error) {
	if e.TrainDelay > 0 {
		select {
		case <-time.After(e.TrainDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.Requests = append(e.Requests, req)
	if e.TrainErr != nil {
		return "", e.TrainErr
	}
	if _, ok := e.frames[req.TrainingFrame]; !ok {
		return "", fmt.Errorf("frame %s not found", req.TrainingFrame)
	}

	leader := fmt.Sprintf("GBM_1_AutoML_%s", req.ProjectName)
	e.models[leader] = req
	return leader, nil
}

func (e *FakeEngine) Predict(ctx context.Context, modelId, frameId string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.PredictErr != nil {
		return "", e.PredictErr
	}
	if _, ok := e.models[modelId]; !ok {
		return "", fmt.Errorf("model %s not found", modelId)
	}
	frame, ok := e.frames[frameId]
	if !ok {
		return "", fmt.Errorf("frame %s not found", frameId)
	}

	records, err := csv.NewReader(bytes.NewReader(frame.CSV)).ReadAll()
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"predict"})
	for i := 1; i < len(records); i++ {
		_ = w.Write([]string{fmt.Sprintf("%d", i%2)})
	}
	w.Flush()

	id := "predictions_" + frameId
	e.frames[id] = automl.Frame{Name: id, CSV: buf.Bytes(), ColumnNames: []string{"predict"}}
	return id, nil
}

func (e *FakeEngine) DownloadFrame(ctx context.Context, frameId string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	frame, ok := e.frames[frameId]
	if !ok {
		return nil, fmt.Errorf("frame %s not found", frameId)
	}
	return frame.CSV, nil
}

func (e *FakeEngine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Shutdowns++
	return nil
}

func (e *FakeEngine) TrainCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.Requests)
}
