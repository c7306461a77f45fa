package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-hclog"

	"scaffold/api/action"
	"scaffold/api/assemble"
	"scaffold/api/auth"
	"scaffold/api/build"
	"scaffold/api/config"
	"scaffold/api/consul"
	"scaffold/api/dispatch"
	"scaffold/api/handler"
	"scaffold/api/hub"
	"scaffold/api/janitor"
	"scaffold/api/jobstore"
	"scaffold/api/lease"
	"scaffold/api/nomad"
	"scaffold/api/querylog"
	"scaffold/api/schema"
	"scaffold/api/storage"
	"scaffold/api/store"
)

// buildStore is everything the API needs from persistence; both the postgres
// and the in-memory store provide it.
type buildStore interface {
	build.Store
	action.Store
	assemble.Source
	Healthy(ctx context.Context) error
}

func main() {
	cfg := config.Load()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "scaffold",
		Level:      hclog.LevelFromString(cfg.LogLevel),
		JSONFormat: cfg.LogJSON,
	})
	fatal := func(msg string, args ...interface{}) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	queries := querylog.NewRing(cfg.QueryLogSize)
	var checks []handler.Check

	// Database
	var db buildStore
	if cfg.DatabaseURL == "memory" {
		logger.Warn("using in-memory store, builds are lost on restart")
		db = store.NewMem()
	} else {
		pg, err := store.Connect(cfg.DatabaseURL, &querylog.Tracer{Ring: queries})
		if err != nil {
			fatal("database", "error", err)
		}
		defer pg.Close()
		if err := store.Migrate(pg); err != nil {
			fatal("migration", "error", err)
		}
		db = pg
	}
	checks = append(checks, handler.Check{Name: "store", Fn: db.Healthy})

	// Job store
	var jobs jobstore.Store
	switch cfg.JobStore {
	case "s3":
		s3Client, err := storage.NewClient(storage.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		}, logger)
		if err != nil {
			fatal("S3 storage", "error", err)
		}
		if err := s3Client.EnsureBucket(context.Background(), cfg.S3Bucket); err != nil {
			logger.Warn("S3 bucket unavailable", "bucket", cfg.S3Bucket, "error", err)
		}
		logger.Info("S3 job store connected", "endpoint", s3Client.Endpoint(), "bucket", cfg.S3Bucket)
		jobs = jobstore.NewS3(s3Client, cfg.S3Bucket, cfg.S3Prefix, cfg.JobsFile)
		checks = append(checks, handler.Check{Name: "s3", Fn: s3Client.Healthy})
	default:
		jobs = jobstore.NewFS(cfg.JobsDir, cfg.JobsFile)
	}

	// Leases
	var leases lease.Locker
	switch cfg.Lease {
	case "consul":
		consulClient, err := consul.NewClient(cfg.ConsulAddr)
		if err != nil {
			fatal("consul", "error", err)
		}
		if err := consulClient.Healthy(); err != nil {
			logger.Warn("consul not healthy", "addr", cfg.ConsulAddr, "error", err)
		}
		leases = lease.NewConsul(consulClient, "", cfg.LeaseTTL)
		checks = append(checks, handler.Check{Name: "consul", Fn: func(context.Context) error { return consulClient.Healthy() }})
	default:
		leases = lease.NewMemory(cfg.LeaseTTL)
	}

	// Worker dispatch
	var dispatcher dispatch.Dispatcher
	switch cfg.DispatchMode {
	case "nomad":
		nomadClient, err := nomad.NewClient(cfg.NomadAddr)
		if err != nil {
			fatal("nomad", "error", err)
		}
		if err := nomadClient.Healthy(); err != nil {
			logger.Warn("nomad not healthy", "addr", cfg.NomadAddr, "error", err)
		}
		dispatcher = dispatch.NewNomad(nomadClient, cfg.NomadJob, logger)
		checks = append(checks, handler.Check{Name: "nomad", Fn: func(context.Context) error { return nomadClient.Healthy() }})
	case "exec":
		dispatcher = dispatch.NewExec(cfg.WorkerCommand, cfg.Host, logger)
	default:
		dispatcher = dispatch.NewHTTP(cfg.WorkerURL)
	}
	logger.Info("worker dispatch configured", "mode", cfg.DispatchMode)

	validator, err := schema.NewValidator()
	if err != nil {
		fatal("job record schema", "error", err)
	}

	// Always allow the local UI dev servers, plus configured extras.
	allowedOrigins := append([]string{"http://localhost:5173", "http://localhost:3000"}, cfg.AllowedOrigins...)

	ws := hub.New(allowedOrigins, logger)
	go ws.Run()

	signer := auth.NewCallbackSigner(cfg.CallbackSecret, 0)
	if !signer.Enabled() {
		logger.Warn("SCAFFOLD_CALLBACK_SECRET not set, worker callbacks are unauthenticated")
	}

	orch := build.New(build.Deps{
		Store:      db,
		Tracker:    action.NewTracker(db, ws, logger),
		Assembler:  assemble.New(db, cfg.Host),
		Validator:  validator,
		Jobs:       jobs,
		Dispatcher: dispatcher,
		Leases:     leases,
		Tokens:     signer,
		Notify:     ws,
		Logger:     logger,
	}, build.Config{
		ArtifactsDir:     cfg.ArtifactsDir,
		GenerationBranch: cfg.GenerationBranch,
		AuthorName:       cfg.GitAuthorName,
		AuthorEmail:      cfg.GitAuthorEmail,
		RetainJobs:       cfg.JobsRetain,
	})

	var sweeper *janitor.Janitor
	if cfg.JobsRetain {
		sweeper = janitor.New(jobs, orch, cfg.JobsRetention, logger)
		if err := sweeper.Schedule(cfg.JanitorSchedule); err != nil {
			fatal("janitor", "error", err)
		}
		sweeper.Start()
	}

	h := handler.New(orch, signer, jobs, queries, checks, logger)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	// Worker callbacks carry their own per-build token.
	if cfg.APIToken != "" {
		r.Use(auth.Bearer(cfg.APIToken, func(r *http.Request) bool {
			return r.URL.Path == "/ws" || r.URL.Path == "/api/health" || r.URL.Path == "/api/version" ||
				strings.HasPrefix(r.URL.Path, "/build-runner/")
		}))
		logger.Info("API token auth enabled")
	}

	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"version": Version})
	})
	h.Mount(r)
	r.Get("/ws", ws.HandleConnect)

	srv := &http.Server{
		Addr:     cfg.Addr(),
		Handler:  r,
		ErrorLog: logger.StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true}),
	}

	go func() {
		logger.Info("listening", "version", Version, "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fatal("server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if sweeper != nil {
		sweeper.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}
