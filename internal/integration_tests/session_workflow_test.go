//go:build integration

package integrationtests

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	backend "automl-backend/internal/api"
	"automl-backend/internal/automl"
	"automl-backend/internal/automl/automltest"
	"automl-backend/internal/core"
	"automl-backend/internal/ingest"
	"automl-backend/internal/session"
	"automl-backend/internal/storage"
	"automl-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func httpRequest(router http.Handler, req *http.Request, dest any) error {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		return fmt.Errorf("expected status code 200, got %d: %v", rr.Code, rr.Body.String())
	}

	if dest != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), dest); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

func uploadRequest(t *testing.T, path, filename, content string) *http.Request {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestSessionWorkflow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db := createDB(t)
	provider := createS3Provider(t, ctx)
	require.NoError(t, storage.CreateBuckets(ctx, provider))
	publisher, receiver := setupRabbitMQContainer(t, ctx)

	ingester, err := ingest.NewIngester(provider, storage.ExtractedBucket, 8)
	require.NoError(t, err)

	engine := automltest.NewFakeEngine()
	orchestrator, err := automl.NewOrchestrator(automl.WithMetrics(engine), 8)
	require.NoError(t, err)

	driver := session.NewDriver(ingester, orchestrator, provider, 30)

	processor := core.NewTaskProcessor(db, driver, receiver)
	go processor.Start()
	t.Cleanup(processor.Stop)

	service := backend.NewBackendService(db, driver, publisher, 0)
	router := chi.NewRouter()
	service.AddRoutes(router)

	var s api.Session
	require.NoError(t, httpRequest(router, httptest.NewRequest(http.MethodPost, "/sessions", nil), &s))

	train := "sqft,city,sold,price\n1200,austin,2020-05-01,310000\n850,denver,2021-07-12,280000\n2300,austin,2019-03-30,520000\n1600,boston,2022-10-02,640000\n"
	var trainRes api.UploadResponse
	require.NoError(t, httpRequest(router, uploadRequest(t, fmt.Sprintf("/sessions/%s/train-file", s.Id), "houses.csv", train), &trainRes))
	assert.Equal(t, []string{"sqft", "city", "sold", "price"}, trainRes.Columns)

	roles, err := json.Marshal(api.SelectColumnsRequest{Categorical: []string{"city"}, Datetime: []string{"sold"}, Target: "price"})
	require.NoError(t, err)
	var selectRes api.SelectColumnsResponse
	require.NoError(t, httpRequest(router, httptest.NewRequest(http.MethodPost, fmt.Sprintf("/sessions/%s/columns", s.Id), bytes.NewReader(roles)), &selectRes))
	assert.False(t, selectRes.Session.TargetIsCategorical)

	predict := "sqft,city,sold\n1000,denver,2023-01-15\n1900,boston,2023-04-20\n1400,austin,2023-06-01\n"
	var predictRes api.UploadResponse
	require.NoError(t, httpRequest(router, uploadRequest(t, fmt.Sprintf("/sessions/%s/predict-file", s.Id), "new_listings.csv", predict), &predictRes))
	assert.Equal(t, string(session.Training), predictRes.Session.Stage)

	require.Eventually(t, func() bool {
		var current api.Session
		if err := httpRequest(router, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/sessions/%s", s.Id), nil), &current); err != nil {
			return false
		}
		return current.Stage == string(session.Done)
	}, time.Minute, 500*time.Millisecond)

	var result api.ResultResponse
	require.NoError(t, httpRequest(router, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/sessions/%s/result", s.Id), nil), &result))
	assert.Len(t, result.Result.Rows, 3)
	require.NotNil(t, result.Session.Model)
	assert.Equal(t, "price", result.Session.Model.TargetColumn)
	assert.ElementsMatch(t, []string{"sqft", "city", "sold"}, result.Session.Model.FeatureColumns)

	require.Len(t, engine.Requests, 1)
	assert.Equal(t, 30, engine.Requests[0].MaxRuntimeSecs)
}
