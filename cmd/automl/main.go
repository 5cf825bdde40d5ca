package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"automl-backend/cmd"
	"automl-backend/internal/session"
	"automl-backend/internal/storage"
	"automl-backend/internal/typing"

	"github.com/caarlos0/env/v11"
	"github.com/schollz/progressbar/v3"
)

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func readFile(path string) (string, []byte) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("error reading '%s': %v", path, err)
	}
	return filepath.Base(path), data
}

func step(ctx context.Context, driver *session.Driver, s *session.State, ev session.Event) session.View {
	view, err := driver.Step(ctx, s, ev)
	if err != nil {
		log.Fatalf("error: %v", err)
	}
	if view.Halted {
		log.Fatalf("%s", view.Message)
	}
	return view
}

// trackBudget advances a progress bar once per second over the training
// budget until done is closed.
func trackBudget(maxRuntimeSecs int, done <-chan struct{}) {
	bar := progressbar.NewOptions(maxRuntimeSecs,
		progressbar.OptionSetDescription("⏳ training"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	elapsed := 0
	for {
		select {
		case <-done:
			if err := bar.Finish(); err != nil {
				slog.Warn("error finishing progress bar", "error", err)
			}
			return
		case <-ticker.C:
			// Hold short of full until training returns.
			if elapsed++; elapsed < maxRuntimeSecs {
				_ = bar.Add(1)
			}
		}
	}
}

func main() {
	var (
		trainPath   = flag.String("train", "", "training file (.csv, .xlsx or .zip)")
		predictPath = flag.String("predict", "", "file to score (.csv, .xlsx or .zip)")
		categorical = flag.String("categorical", "", "comma separated categorical columns")
		datetime    = flag.String("datetime", "", "comma separated datetime columns")
		target      = flag.String("target", "", "column to predict")
		outPath     = flag.String("out", "predictions.csv", "where to write the predictions")
		maxRuntime  = flag.Int("max-runtime", 0, "training budget in seconds, defaults to MAX_RUNTIME_SECS")
	)

	cmd.LoadEnvFile()

	if *trainPath == "" || *predictPath == "" || *target == "" {
		flag.Usage()
		os.Exit(2)
	}

	var cfg cmd.Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}
	if *maxRuntime > 0 {
		cfg.MaxRuntimeSecs = *maxRuntime
	}

	ctx := context.Background()

	workdir, err := os.MkdirTemp("", "automl-*")
	if err != nil {
		log.Fatalf("error creating work directory: %v", err)
	}
	defer os.RemoveAll(workdir)

	provider, err := storage.NewLocalProvider(workdir)
	if err != nil {
		log.Fatalf("error creating storage: %v", err)
	}

	engine := cmd.StartEngine(ctx, cfg)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := engine.Close(closeCtx); err != nil {
			slog.Error("error stopping h2o", "error", err)
		}
	}()

	driver := cmd.CreateDriver(cfg, provider, engine)
	s := session.NewState()

	name, data := readFile(*trainPath)
	view := step(ctx, driver, s, session.UploadTrain{Name: name, Data: data})
	slog.Info("loaded training file", "columns", view.Columns, "rows", view.Preview.NumRows())

	roles := typing.Roles{Categorical: splitList(*categorical), Datetime: splitList(*datetime), Target: *target}
	step(ctx, driver, s, session.SelectColumns{Roles: roles})

	name, data = readFile(*predictPath)
	step(ctx, driver, s, session.UploadPredict{Name: name, Data: data})

	done := make(chan struct{})
	go trackBudget(cfg.MaxRuntimeSecs, done)

	_, err = driver.Step(ctx, s, session.Run{MaxRuntimeSecs: cfg.MaxRuntimeSecs})
	close(done)
	if err != nil {
		log.Fatalf("error running automl: %v", err)
	}

	result, err := driver.ResultCSV(ctx, s)
	if err != nil {
		log.Fatalf("error loading predictions: %v", err)
	}
	if err := os.WriteFile(*outPath, result, 0644); err != nil {
		log.Fatalf("error writing predictions: %v", err)
	}

	log.Printf("leader %s, predictions written to %s", s.Model.LeaderId, *outPath)
}
