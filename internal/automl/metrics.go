package automl

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	trainDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "automl",
		Name:      "train_duration_seconds",
		Help:      "Wall clock time of AutoML training runs.",
		Buckets:   []float64{1, 10, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"result"})

	predictDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "automl",
		Name:      "predict_duration_seconds",
		Help:      "Wall clock time of scoring requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"result"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "automl",
		Name:      "model_cache_lookups_total",
		Help:      "Trained model cache lookups by outcome.",
	}, []string{"outcome"})

	engineCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "automl",
		Name:      "engine_requests_total",
		Help:      "Calls made to the AutoML engine.",
	}, []string{"method", "result"})

	engineLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "automl",
		Name:      "engine_request_duration_seconds",
		Help:      "Latency of calls made to the AutoML engine.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})
)

var _ Engine = (*metricsEngine)(nil)

type metricsEngine struct {
	engine Engine
}

// WithMetrics records a call counter and latency histogram for every engine
// method.
func WithMetrics(engine Engine) Engine {
	return &metricsEngine{engine: engine}
}

func observe(method string, begin time.Time, err error) {
	engineCalls.WithLabelValues(method, result(err)).Inc()
	engineLatency.WithLabelValues(method).Observe(time.Since(begin).Seconds())
}

func (me *metricsEngine) UploadFrame(ctx context.Context, frame Frame) (id string, err error) {
	defer func(begin time.Time) { observe("upload-frame", begin, err) }(time.Now())
	return me.engine.UploadFrame(ctx, frame)
}

func (me *metricsEngine) RunAutoML(ctx context.Context, req AutoMLRequest) (leader string, err error) {
	defer func(begin time.Time) { observe("run-automl", begin, err) }(time.Now())
	return me.engine.RunAutoML(ctx, req)
}

func (me *metricsEngine) Predict(ctx context.Context, modelId, frameId string) (id string, err error) {
	defer func(begin time.Time) { observe("predict", begin, err) }(time.Now())
	return me.engine.Predict(ctx, modelId, frameId)
}

func (me *metricsEngine) DownloadFrame(ctx context.Context, frameId string) (data []byte, err error) {
	defer func(begin time.Time) { observe("download-frame", begin, err) }(time.Now())
	return me.engine.DownloadFrame(ctx, frameId)
}

func (me *metricsEngine) Shutdown(ctx context.Context) (err error) {
	defer func(begin time.Time) { observe("shutdown", begin, err) }(time.Now())
	return me.engine.Shutdown(ctx)
}
