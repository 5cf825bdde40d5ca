package cmd

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"path/filepath"
	"time"

	"automl-backend/internal/automl"
	"automl-backend/internal/automl/h2o"
	"automl-backend/internal/database"
	"automl-backend/internal/ingest"
	"automl-backend/internal/messaging"
	"automl-backend/internal/session"
	"automl-backend/internal/storage"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

// Config holds the settings shared by the server and the worker.
type Config struct {
	Root        string `env:"ROOT" envDefault:"./automl-data"`
	DatabaseURL string `env:"DATABASE_URL"`

	Queue       string `env:"QUEUE" envDefault:"memory"`
	RabbitMQURL string `env:"RABBITMQ_URL"`

	Storage           string `env:"STORAGE" envDefault:"local"`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`

	H2OURL     string `env:"H2O_URL"`
	H2OJar     string `env:"H2O_JAR"`
	H2OMaxMem  string `env:"H2O_MAX_MEM" envDefault:"6g"`
	H2OPort    int    `env:"H2O_PORT" envDefault:"54321"`
	H2OStartup int    `env:"H2O_STARTUP_TIMEOUT_SECS" envDefault:"120"`

	MaxRuntimeSecs    int   `env:"MAX_RUNTIME_SECS" envDefault:"600"`
	CacheSize         int   `env:"CACHE_SIZE" envDefault:"32"`
	MaxExtractedBytes int64 `env:"MAX_EXTRACTED_BYTES" envDefault:"1073741824"`
}

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

func CreateDatabase(cfg Config) *gorm.DB {
	db, err := database.NewDatabase(cfg.DatabaseURL, cfg.Root)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	return db
}

func CreateStorage(ctx context.Context, cfg Config) storage.Provider {
	var provider storage.Provider
	switch cfg.Storage {
	case "local":
		local, err := storage.NewLocalProvider(filepath.Join(cfg.Root, "storage"))
		if err != nil {
			log.Fatalf("Failed to create local storage: %v", err)
		}
		provider = local
	case "s3":
		s3p, err := storage.NewS3Provider(ctx, storage.S3ProviderConfig{
			S3EndpointURL:     cfg.S3EndpointURL,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
			S3Region:          cfg.S3Region,
		})
		if err != nil {
			log.Fatalf("Failed to create S3 storage: %v", err)
		}
		provider = s3p
	default:
		log.Fatalf("Invalid storage type: %s. Must be either 'local' or 's3'", cfg.Storage)
	}

	if err := storage.CreateBuckets(ctx, provider); err != nil {
		log.Fatalf("Failed to create buckets: %v", err)
	}

	return provider
}

func StartEngine(ctx context.Context, cfg Config) *h2o.Service {
	svc, err := h2o.StartService(ctx, h2o.ServiceConfig{
		URL:            cfg.H2OURL,
		JarPath:        cfg.H2OJar,
		MaxMem:         cfg.H2OMaxMem,
		Port:           cfg.H2OPort,
		StartupTimeout: time.Duration(cfg.H2OStartup) * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to start h2o: %v", err)
	}
	return svc
}

// CreateDriver wires ingestion and the instrumented engine into a session
// driver. engine may be nil in processes that never run sessions.
func CreateDriver(cfg Config, provider storage.Provider, engine automl.Engine) *session.Driver {
	ingester, err := ingest.NewIngester(provider, storage.ExtractedBucket, cfg.CacheSize)
	if err != nil {
		log.Fatalf("Failed to create ingester: %v", err)
	}
	ingester.WithMaxEntryBytes(cfg.MaxExtractedBytes)

	var modeler session.Modeler
	if engine != nil {
		orchestrator, err := automl.NewOrchestrator(automl.WithMetrics(engine), cfg.CacheSize)
		if err != nil {
			log.Fatalf("Failed to create orchestrator: %v", err)
		}
		modeler = orchestrator
	}

	return session.NewDriver(ingester, modeler, provider, cfg.MaxRuntimeSecs)
}

// RequeuePendingRuns publishes every run still queued in the database. The
// in-memory queue does not survive restarts, so the server calls this on
// startup.
func RequeuePendingRuns(ctx context.Context, db *gorm.DB, publisher messaging.Publisher) {
	var runs []database.TrainingRun
	if err := db.WithContext(ctx).Where("status IN ?", []string{database.RunQueued, database.RunTraining}).Order("creation_time").Find(&runs).Error; err != nil {
		log.Fatalf("Failed to fetch pending training runs: %v", err)
	}

	for _, run := range runs {
		if err := publisher.PublishRunSessionTask(ctx, messaging.RunSessionPayload{
			SessionId:      run.SessionId,
			TrainingRunId:  run.Id,
			MaxRuntimeSecs: run.MaxRuntimeSecs,
		}); err != nil {
			log.Fatalf("Failed to requeue training run: %v", err)
		}
		slog.Info("requeued training run", "session_id", run.SessionId, "run_id", run.Id)
	}
}
