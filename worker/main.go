package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"scaffold/api/storage"
	"scaffold/worker/plugins"
	"scaffold/worker/render"
	"scaffold/worker/runner"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "scaffold-worker",
		Level: hclog.LevelFromString(envOr("WORKER_LOG_LEVEL", "info")),
	})
	fatal := func(msg string, args ...interface{}) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	specs := &runner.SpecLoader{}
	if endpoint := os.Getenv("WORKER_S3_ENDPOINT"); endpoint != "" {
		s3, err := storage.NewClient(storage.Config{
			Endpoint:  endpoint,
			AccessKey: os.Getenv("WORKER_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("WORKER_S3_SECRET_KEY"),
			Region:    envOr("WORKER_S3_REGION", "auto"),
			UseSSL:    os.Getenv("WORKER_S3_USE_SSL") != "false",
		}, logger)
		if err != nil {
			fatal("s3", "error", err)
		}
		specs.Objects = s3
	}

	managerURL := envOr("BUILD_MANAGER_URL", "http://localhost:8800")
	rn := &runner.Runner{
		Specs:     specs,
		Installer: &plugins.Installer{Dir: os.Getenv("WORKER_PLUGINS_DIR")},
		Renderer:  render.Templates{},
		Reporter:  runner.NewReporter(managerURL),
		Logger:    logger,
	}

	// One-shot mode: the exec and nomad dispatchers pass the job in the
	// environment.
	if specPath := os.Getenv("BUILD_SPEC_PATH"); specPath != "" {
		job := runner.Job{
			ResourceID:    os.Getenv("RESOURCE_ID"),
			BuildID:       os.Getenv("BUILD_ID"),
			SpecPath:      specPath,
			OutputPath:    os.Getenv("BUILD_OUTPUT_PATH"),
			CallbackToken: os.Getenv("CALLBACK_TOKEN"),
		}
		if err := rn.Run(context.Background(), job); err != nil {
			fatal("generation failed", "buildId", job.BuildID, "error", err)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		var job runner.Job
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&job); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if job.BuildID == "" || job.SpecPath == "" || job.OutputPath == "" {
			http.Error(w, "buildId, specPath and outputPath are required", http.StatusBadRequest)
			return
		}
		go func() {
			if err := rn.Run(ctx, job); err != nil {
				logger.Error("generation failed", "buildId", job.BuildID, "error", err)
			}
		}()
		w.Write([]byte("Started"))
	})

	addr := envOr("WORKER_BIND_ADDR", "127.0.0.1") + ":" + envOr("WORKER_PORT", "8900")
	srv := &http.Server{
		Addr:     addr,
		Handler:  r,
		ErrorLog: logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}

	go func() {
		logger.Info("worker starting", "addr", addr, "manager", managerURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
}
