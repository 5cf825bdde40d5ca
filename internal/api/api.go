package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"automl-backend/internal/core/utils"
	"automl-backend/internal/database"
	"automl-backend/internal/ingest"
	"automl-backend/internal/messaging"
	"automl-backend/internal/session"
	"automl-backend/internal/typing"
	"automl-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
)

const DefaultMaxUploadBytes = 200 << 20

// Sessions with a pending request; beyond this new requests are rejected
// rather than queued.
const maxLockedSessions = 10000

type BackendService struct {
	db             *gorm.DB
	store          *session.Store
	driver         *session.Driver
	publisher      messaging.Publisher
	locks          *utils.KeyedMutex
	maxUploadBytes int64
}

func NewBackendService(db *gorm.DB, driver *session.Driver, publisher messaging.Publisher, maxUploadBytes int64) *BackendService {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &BackendService{
		db:             db,
		store:          session.NewStore(db),
		driver:         driver,
		publisher:      publisher,
		locks:          utils.NewKeyedMutex(maxLockedSessions),
		maxUploadBytes: maxUploadBytes,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", RestHandler(s.CreateSession))
		r.Route("/{session_id}", func(r chi.Router) {
			r.Get("/", RestHandler(s.GetSession))
			r.With(limitBody(s.maxUploadBytes)).Post("/train-file", RestHandler(s.UploadTrainFile))
			r.Get("/preview", RestHandler(s.GetPreview))
			r.Post("/columns", RestHandler(s.SelectColumns))
			r.With(limitBody(s.maxUploadBytes)).Post("/predict-file", RestHandler(s.UploadPredictFile))
			r.Get("/result", RestHandler(s.GetResult))
			r.Get("/result.csv", s.DownloadResult)
		})
	})
}

// sessionError maps errors from the session package to status codes.
func sessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return CodedError(http.StatusNotFound, err)
	case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, session.ErrNoResult):
		return CodedError(http.StatusConflict, err)
	case errors.Is(err, ingest.ErrEntryTooLarge):
		return CodedError(http.StatusRequestEntityTooLarge, err)
	case errors.Is(err, session.ErrUnreadableFile):
		return CodedError(http.StatusUnprocessableEntity, err)
	case errors.Is(err, typing.ErrUnknownColumn), errors.Is(err, typing.ErrInvalidRoles), errors.Is(err, typing.ErrCoercion):
		return CodedError(http.StatusUnprocessableEntity, err)
	default:
		return CodedError(http.StatusInternalServerError, err)
	}
}

// withSession loads the session named in the url and runs fn while holding
// the session's lock, saving the state afterwards when fn succeeds.
func (s *BackendService) withSession(r *http.Request, save bool, fn func(ctx context.Context, state *session.State) error) (*session.State, error) {
	sessionId, err := URLParamUUID(r, "session_id")
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.Lock(sessionId.String())
	if err != nil {
		return nil, CodedErrorf(http.StatusServiceUnavailable, "too many concurrent session requests")
	}
	defer unlock()

	ctx := r.Context()

	state, err := s.store.Load(ctx, sessionId)
	if err != nil {
		return nil, sessionError(err)
	}

	if err := fn(ctx, state); err != nil {
		return nil, err
	}

	if save {
		if err := s.saveSession(ctx, state); err != nil {
			return nil, err
		}
	}

	return state, nil
}

func (s *BackendService) CreateSession(r *http.Request) (any, error) {
	state, err := s.store.Create(r.Context())
	if err != nil {
		slog.Error("error creating session", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create session")
	}
	slog.Info("created session", "session_id", state.Id)
	return convertSession(state), nil
}

func (s *BackendService) GetSession(r *http.Request) (any, error) {
	sessionId, err := URLParamUUID(r, "session_id")
	if err != nil {
		return nil, err
	}

	state, err := s.store.Load(r.Context(), sessionId)
	if err != nil {
		return nil, sessionError(err)
	}

	return convertSession(state), nil
}

func (s *BackendService) UploadTrainFile(r *http.Request) (any, error) {
	file, err := readUpload(r)
	if err != nil {
		return nil, err
	}

	var view session.View
	state, err := s.withSession(r, true, func(ctx context.Context, state *session.State) error {
		var err error
		view, err = s.driver.Step(ctx, state, session.UploadTrain{Name: file.name, Data: file.data})
		if err != nil {
			return sessionError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return uploadResponse(state, view), nil
}

func (s *BackendService) GetPreview(r *http.Request) (any, error) {
	params, err := ParseRequestQueryParams[api.PreviewParams](r)
	if err != nil {
		return nil, err
	}
	if params.Limit <= 0 || params.Limit > session.TrainPreviewRows {
		params.Limit = session.TrainPreviewRows
	}

	var preview *api.Table
	_, err = s.withSession(r, false, func(ctx context.Context, state *session.State) error {
		tbl, err := s.driver.TrainPreview(ctx, state, params.Limit)
		if err != nil {
			return sessionError(err)
		}
		preview = convertTable(tbl)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return preview, nil
}

func (s *BackendService) SelectColumns(r *http.Request) (any, error) {
	req, err := ParseRequest[api.SelectColumnsRequest](r)
	if err != nil {
		return nil, err
	}

	roles := typing.Roles{Categorical: req.Categorical, Datetime: req.Datetime, Target: req.Target}

	var view session.View
	state, err := s.withSession(r, true, func(ctx context.Context, state *session.State) error {
		var err error
		view, err = s.driver.Step(ctx, state, session.SelectColumns{Roles: roles})
		if err != nil {
			return sessionError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return api.SelectColumnsResponse{Session: convertSession(state), Columns: view.Columns}, nil
}

func (s *BackendService) saveSession(ctx context.Context, state *session.State) error {
	if err := s.store.Save(ctx, state); err != nil {
		slog.Error("error saving session", "session_id", state.Id, "error", err)
		return CodedErrorf(http.StatusInternalServerError, "failed to save session")
	}
	return nil
}

// UploadPredictFile stores the prediction file and queues the training run.
// The response returns as soon as the run is queued; clients poll the session.
// The session is saved before publishing and never after, since a worker may
// already be updating it.
func (s *BackendService) UploadPredictFile(r *http.Request) (any, error) {
	file, err := readUpload(r)
	if err != nil {
		return nil, err
	}

	var view session.View
	state, err := s.withSession(r, false, func(ctx context.Context, state *session.State) error {
		var err error
		view, err = s.driver.Step(ctx, state, session.UploadPredict{Name: file.name, Data: file.data})
		if err != nil {
			return sessionError(err)
		}
		if view.Halted {
			return s.saveSession(ctx, state)
		}

		run, err := database.CreateTrainingRun(ctx, s.db, state.Id, s.driver.MaxRuntimeSecs())
		if err != nil {
			return CodedErrorf(http.StatusInternalServerError, "failed to create training run")
		}

		if err := s.saveSession(ctx, state); err != nil {
			return err
		}

		payload := messaging.RunSessionPayload{
			SessionId:      state.Id,
			TrainingRunId:  run.Id,
			MaxRuntimeSecs: s.driver.MaxRuntimeSecs(),
		}
		if err := s.publisher.PublishRunSessionTask(ctx, payload); err != nil {
			slog.Error("error publishing run session task", "session_id", state.Id, "error", err)
			database.FailTrainingRun(ctx, s.db, run.Id, err.Error())
			state.Stage = session.Failed
			state.Error = "failed to queue training run"
			if err := s.store.Save(ctx, state); err != nil {
				slog.Error("error saving failed session", "session_id", state.Id, "error", err)
			}
			return CodedErrorf(http.StatusInternalServerError, "failed to queue training run")
		}

		slog.Info("queued training run", "session_id", state.Id, "run_id", run.Id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return uploadResponse(state, view), nil
}

func (s *BackendService) GetResult(r *http.Request) (any, error) {
	var result *api.Table
	state, err := s.withSession(r, false, func(ctx context.Context, state *session.State) error {
		tbl, err := s.driver.Result(ctx, state)
		if err != nil {
			return sessionError(err)
		}
		result = convertTable(tbl)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return api.ResultResponse{Session: convertSession(state), Result: *result}, nil
}

func (s *BackendService) DownloadResult(w http.ResponseWriter, r *http.Request) {
	var data []byte
	state, err := s.withSession(r, false, func(ctx context.Context, state *session.State) error {
		var err error
		data, err = s.driver.ResultCSV(ctx, state)
		if err != nil {
			return sessionError(err)
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="predictions_`+state.Id.String()+`.csv"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("error writing result csv", "session_id", state.Id, "error", err)
	}
}

func uploadResponse(state *session.State, view session.View) api.UploadResponse {
	return api.UploadResponse{
		Session: convertSession(state),
		Halted:  view.Halted,
		Message: view.Message,
		Preview: convertTable(view.Preview),
		Columns: view.Columns,
	}
}
