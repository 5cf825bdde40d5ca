package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"automl-backend/cmd"
	"automl-backend/internal/api"
	"automl-backend/internal/automl"
	"automl-backend/internal/core"
	"automl-backend/internal/messaging"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type APIConfig struct {
	cmd.Config

	Port           int   `env:"PORT" envDefault:"8001"`
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"209715200"`
}

func createQueue(cfg APIConfig) (messaging.Publisher, *messaging.InMemoryQueue) {
	switch cfg.Queue {
	case "memory":
		queue := messaging.NewInMemoryQueue()
		return queue, queue
	case "rabbitmq":
		publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		return publisher, nil
	default:
		log.Fatalf("Invalid queue type: %s. Must be either 'memory' or 'rabbitmq'", cfg.Queue)
		return nil, nil
	}
}

func createServer(service *api.BackendService, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(api.Metrics)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Uploads of large spreadsheets can take longer than the default.
		r.Use(middleware.Timeout(5 * time.Minute))
		service.AddRoutes(r)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	slog.Info("starting backend", "root", cfg.Root, "port", cfg.Port, "queue", cfg.Queue, "storage", cfg.Storage)

	ctx := context.Background()

	db := cmd.CreateDatabase(cfg.Config)
	provider := cmd.CreateStorage(ctx, cfg.Config)

	publisher, queue := createQueue(cfg)
	defer publisher.Close()

	// Runs execute in this process only with the in-memory queue. With
	// rabbitmq the server never trains and needs no engine.
	var engine automl.Engine
	if queue != nil {
		svc := cmd.StartEngine(ctx, cfg.Config)
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := svc.Close(closeCtx); err != nil {
				slog.Error("error stopping h2o", "error", err)
			}
		}()
		engine = svc
	}

	driver := cmd.CreateDriver(cfg.Config, provider, engine)

	var processor *core.TaskProcessor
	if queue != nil {
		processor = core.NewTaskProcessor(db, driver, queue)
		go processor.Start()

		cmd.RequeuePendingRuns(ctx, db, queue)
	}

	service := api.NewBackendService(db, driver, publisher, cfg.MaxUploadBytes)
	server := createServer(service, cfg.Port)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("API server listening on port %d", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %d: %v\n", cfg.Port, err)
	}

	if processor != nil {
		processor.Stop()
	}

	log.Println("Server stopped.")
}
