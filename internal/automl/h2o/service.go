package h2o

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"
)

type ServiceConfig struct {
	// URL of an already running cluster. When empty a local JVM is started
	// from JarPath on Port.
	URL string

	JarPath        string
	JavaBin        string
	MaxMem         string
	Port           int
	StartupTimeout time.Duration
}

// Service owns the connection to the engine and, when it launched one, the
// local H2O process. It must be closed explicitly.
type Service struct {
	*Client
	cmd  *exec.Cmd
	done chan error
}

func (cfg ServiceConfig) withDefaults() ServiceConfig {
	if cfg.JavaBin == "" {
		cfg.JavaBin = "java"
	}
	if cfg.MaxMem == "" {
		cfg.MaxMem = "6g"
	}
	if cfg.Port == 0 {
		cfg.Port = 54321
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 2 * time.Minute
	}
	return cfg
}

func StartService(ctx context.Context, cfg ServiceConfig) (*Service, error) {
	cfg = cfg.withDefaults()

	svc := &Service{}

	baseURL := cfg.URL
	if baseURL == "" {
		if cfg.JarPath == "" {
			return nil, errors.New("either an h2o url or a path to the h2o jar must be provided")
		}

		svc.cmd = exec.Command(cfg.JavaBin,
			"-Xmx"+cfg.MaxMem,
			"-jar", cfg.JarPath,
			"-nthreads", "-1",
			"-port", strconv.Itoa(cfg.Port),
		)
		svc.cmd.Stdout = os.Stdout
		svc.cmd.Stderr = os.Stderr

		if err := svc.cmd.Start(); err != nil {
			return nil, fmt.Errorf("error starting h2o: %w", err)
		}
		slog.Info("started h2o", "pid", svc.cmd.Process.Pid, "port", cfg.Port, "max_mem", cfg.MaxMem)

		svc.done = make(chan error, 1)
		go func() { svc.done <- svc.cmd.Wait() }()

		baseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}

	svc.Client = NewClient(baseURL)

	if err := svc.waitHealthy(ctx, cfg.StartupTimeout); err != nil {
		svc.kill()
		return nil, err
	}

	slog.Info("h2o cluster is healthy", "url", baseURL)
	return svc, nil
}

func (s *Service) waitHealthy(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if s.Healthy(ctx) {
			return nil
		}
		select {
		case err := <-s.done:
			return fmt.Errorf("h2o exited during startup: %v", err)
		case <-ctx.Done():
			return fmt.Errorf("h2o did not become healthy within %v", timeout)
		case <-ticker.C:
		}
	}
}

// Close shuts down a locally launched cluster and waits for the process to
// exit, killing it if it does not stop in time. A cluster that was attached
// to by URL is left running.
func (s *Service) Close(ctx context.Context) error {
	if s.cmd == nil {
		return nil
	}

	err := s.Shutdown(ctx)
	if err != nil {
		slog.Error("error shutting down h2o", "error", err)
	}

	select {
	case <-s.done:
	case <-time.After(30 * time.Second):
		slog.Warn("h2o did not exit after shutdown, killing it")
		s.kill()
	}
	return err
}

func (s *Service) kill() {
	if s.cmd != nil && s.cmd.Process != nil {
		if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			slog.Error("error killing h2o", "error", err)
		}
	}
}
