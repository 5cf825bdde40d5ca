package h2o

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"automl-backend/internal/automl"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

var ErrJobFailed = errors.New("h2o job failed")

const defaultPollInterval = time.Second

// Client talks to an H2O-3 cluster over its REST API.
type Client struct {
	client       *resty.Client
	pollInterval time.Duration
}

var _ automl.Engine = (*Client)(nil)

func NewClient(baseURL string) *Client {
	return &Client{
		client:       resty.New().SetBaseURL(baseURL),
		pollInterval: defaultPollInterval,
	}
}

func (c *Client) SetPollInterval(d time.Duration) *Client {
	c.pollInterval = d
	return c
}

func checkResponse(res *resty.Response, err error, action string) (gjson.Result, error) {
	if err != nil {
		return gjson.Result{}, fmt.Errorf("error %s: %w", action, err)
	}
	if !res.IsSuccess() {
		body := gjson.ParseBytes(res.Body())
		msg := body.Get("exception_msg").String()
		if msg == "" {
			msg = body.Get("msg").String()
		}
		if msg == "" {
			msg = res.String()
		}
		slog.Error("h2o returned error", "action", action, "status_code", res.StatusCode(), "error", msg)
		return gjson.Result{}, fmt.Errorf("error %s: h2o returned status %d: %s", action, res.StatusCode(), msg)
	}
	return gjson.ParseBytes(res.Body()), nil
}

func jsonList(values any) string {
	data, _ := json.Marshal(values)
	return string(data)
}

// Healthy reports whether the cluster answers and reports itself healthy.
func (c *Client) Healthy(ctx context.Context) bool {
	res, err := c.client.R().SetContext(ctx).Get("/3/Cloud")
	body, err := checkResponse(res, err, "checking cloud status")
	if err != nil {
		return false
	}
	return body.Get("cloud_healthy").Bool()
}

// UploadFrame posts the raw CSV and parses it into a frame with the given
// column types. The returned id is the parsed frame key.
func (c *Client) UploadFrame(ctx context.Context, frame automl.Frame) (string, error) {
	rawKey := frame.Name + ".csv"

	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("destination_frame", rawKey).
		SetFileReader("file", rawKey, bytes.NewReader(frame.CSV)).
		Post("/3/PostFile")
	body, err := checkResponse(res, err, "uploading file")
	if err != nil {
		return "", err
	}
	if key := body.Get("destination_frame").String(); key != "" {
		rawKey = key
	}

	res, err = c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"source_frames": jsonList([]string{rawKey}),
			"check_header":  "1",
		}).
		Post("/3/ParseSetup")
	setup, err := checkResponse(res, err, "running parse setup")
	if err != nil {
		return "", err
	}

	columnTypes := make([]string, len(frame.ColumnTypes))
	for j, t := range frame.ColumnTypes {
		columnTypes[j] = string(t)
	}

	destination := frame.Name + ".hex"
	res, err = c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"destination_frame": destination,
			"source_frames":     jsonList([]string{rawKey}),
			"parse_type":        setup.Get("parse_type").String(),
			"separator":         setup.Get("separator").String(),
			"number_columns":    setup.Get("number_columns").String(),
			"single_quotes":     "false",
			"column_names":      jsonList(frame.ColumnNames),
			"column_types":      jsonList(columnTypes),
			"check_header":      "1",
			"delete_on_done":    "true",
			"chunk_size":        setup.Get("chunk_size").String(),
		}).
		Post("/3/Parse")
	body, err = checkResponse(res, err, "parsing frame")
	if err != nil {
		return "", err
	}

	if err := c.waitForJob(ctx, body.Get("job.key.name").String()); err != nil {
		return "", fmt.Errorf("error parsing frame %s: %w", destination, err)
	}

	slog.Info("frame uploaded", "frame", destination, "columns", len(frame.ColumnNames))
	return destination, nil
}

func (c *Client) waitForJob(ctx context.Context, jobKey string) error {
	if jobKey == "" {
		return fmt.Errorf("%w: response did not contain a job key", ErrJobFailed)
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		res, err := c.client.R().SetContext(ctx).Get("/3/Jobs/" + url.PathEscape(jobKey))
		body, err := checkResponse(res, err, "polling job")
		if err != nil {
			return err
		}

		job := body.Get("jobs.0")
		switch status := job.Get("status").String(); status {
		case "DONE":
			return nil
		case "FAILED", "CANCELLED":
			return fmt.Errorf("%w: job %s %s: %s", ErrJobFailed, jobKey, status, job.Get("exception").String())
		default:
			slog.Debug("waiting for job", "job", jobKey, "status", status, "progress", job.Get("progress").Float())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type buildControl struct {
	ProjectName      string           `json:"project_name"`
	StoppingCriteria stoppingCriteria `json:"stopping_criteria"`
}

type stoppingCriteria struct {
	MaxRuntimeSecs int `json:"max_runtime_secs"`
	Seed           int `json:"seed"`
}

type inputSpec struct {
	TrainingFrame  string `json:"training_frame"`
	ResponseColumn string `json:"response_column"`
}

type buildModels struct {
	ExcludeAlgos []string `json:"exclude_algos,omitempty"`
}

type autoMLBuildRequest struct {
	BuildControl buildControl `json:"build_control"`
	InputSpec    inputSpec    `json:"input_spec"`
	BuildModels  buildModels  `json:"build_models"`
}

func (c *Client) RunAutoML(ctx context.Context, req automl.AutoMLRequest) (string, error) {
	build := autoMLBuildRequest{
		BuildControl: buildControl{
			ProjectName: req.ProjectName,
			StoppingCriteria: stoppingCriteria{
				MaxRuntimeSecs: req.MaxRuntimeSecs,
				Seed:           req.Seed,
			},
		},
		InputSpec: inputSpec{
			TrainingFrame:  req.TrainingFrame,
			ResponseColumn: req.ResponseColumn,
		},
		BuildModels: buildModels{ExcludeAlgos: req.ExcludeAlgos},
	}

	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(build).
		Post("/99/AutoMLBuilder")
	body, err := checkResponse(res, err, "starting automl")
	if err != nil {
		return "", err
	}

	slog.Info("automl started", "project", req.ProjectName, "max_runtime_secs", req.MaxRuntimeSecs)

	if err := c.waitForJob(ctx, body.Get("job.key.name").String()); err != nil {
		return "", fmt.Errorf("error running automl project %s: %w", req.ProjectName, err)
	}

	res, err = c.client.R().SetContext(ctx).Get("/99/AutoML/" + url.PathEscape(req.ProjectName))
	body, err = checkResponse(res, err, "fetching leaderboard")
	if err != nil {
		return "", err
	}

	leader := body.Get("leaderboard.models.0.name").String()
	if leader == "" {
		leader = body.Get("leader.name").String()
	}
	if leader == "" {
		return "", fmt.Errorf("automl project %s produced no models", req.ProjectName)
	}

	return leader, nil
}

func (c *Client) Predict(ctx context.Context, modelId, frameId string) (string, error) {
	destination := "predictions_" + frameId

	res, err := c.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"predictions_frame": destination}).
		Post(fmt.Sprintf("/3/Predictions/models/%s/frames/%s", url.PathEscape(modelId), url.PathEscape(frameId)))
	body, err := checkResponse(res, err, "scoring frame")
	if err != nil {
		return "", err
	}

	if name := body.Get("predictions_frame.name").String(); name != "" {
		return name, nil
	}
	if name := body.Get("model_metrics.0.predictions.frame_id.name").String(); name != "" {
		return name, nil
	}
	return destination, nil
}

func (c *Client) DownloadFrame(ctx context.Context, frameId string) ([]byte, error) {
	res, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"frame_id": frameId, "hex_string": "false"}).
		Get("/3/DownloadDataset")
	if _, err := checkResponse(res, err, "downloading frame"); err != nil {
		return nil, err
	}
	return res.Body(), nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	res, err := c.client.R().SetContext(ctx).Post("/3/Shutdown")
	_, err = checkResponse(res, err, "shutting down cluster")
	return err
}
