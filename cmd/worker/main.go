package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"automl-backend/cmd"
	"automl-backend/internal/core"
	"automl-backend/internal/messaging"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	cmd.Config

	RabbitMQURL string `env:"RABBITMQ_URL,notEmpty,required"`
}

func main() {
	log.Println("Starting Worker Process...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}
	cfg.Config.RabbitMQURL = cfg.RabbitMQURL

	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	ctx := context.Background()

	db := cmd.CreateDatabase(cfg.Config)
	provider := cmd.CreateStorage(ctx, cfg.Config)

	engine := cmd.StartEngine(ctx, cfg.Config)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			slog.Error("error stopping h2o", "error", err)
		}
	}()

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Worker: Failed to connect to RabbitMQ: %v", err)
	}

	driver := cmd.CreateDriver(cfg.Config, provider, engine)
	processor := core.NewTaskProcessor(db, driver, receiver)

	done := make(chan struct{})
	go func() {
		processor.Start()
		close(done)
	}()

	log.Println("Worker started. Waiting for tasks. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, waiting for the current task to finish...")

	processor.Stop()
	<-done

	log.Println("Worker process stopped.")
}
