package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/askdb/askdb/internal/api"
	"github.com/askdb/askdb/internal/archive"
	archiveduckdb "github.com/askdb/askdb/internal/archive/duckdb"
	"github.com/askdb/askdb/internal/auth"
	catalogpostgres "github.com/askdb/askdb/internal/catalog/postgres"
	"github.com/askdb/askdb/internal/classifier"
	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/engine"
	enginemysql "github.com/askdb/askdb/internal/engine/mysql"
	enginepostgres "github.com/askdb/askdb/internal/engine/postgres"
	"github.com/askdb/askdb/internal/ledger"
	"github.com/askdb/askdb/internal/llm"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/pipeline"
	"github.com/askdb/askdb/internal/registry"
	"github.com/askdb/askdb/internal/sandbox"
	"github.com/askdb/askdb/internal/snapshot"
	s3store "github.com/askdb/askdb/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("askdb-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	catalogDB, err := catalogpostgres.Open(context.Background(), catalogpostgres.DBConfigFrom(cfg.Catalog))
	if err != nil {
		logger.Error("failed to open catalog db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = catalogDB.Close() }()
	catalogRepo := catalogpostgres.NewRepository(catalogDB)

	engineOpts := engine.Options{
		ConnectTimeout:   cfg.Sandbox.ConnectTimeout,
		StatementTimeout: cfg.Sandbox.StatementTimeout,
		MaxRows:          cfg.Sandbox.MaxRows,
	}
	engines := engine.NewSet(
		enginemysql.New(nil, engineOpts),
		enginepostgres.New(nil, engineOpts),
	)

	model, err := llm.New(cfg.AI)
	if err != nil {
		logger.Error("failed to initialize language model client", slog.Any("error", err))
		os.Exit(1)
	}

	snapshots := snapshot.NewStore(engines, catalogRepo)
	connections := registry.New(catalogRepo, snapshots, logger)
	pipelineDeps := pipeline.Dependencies{
		Connections: connections,
		Snapshots:   snapshots,
		Translator: nl2sql.NewTranslator(model, nl2sql.Options{
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
		}),
		Sandbox: sandbox.New(connections, engines, logger),
		Classifier: classifier.New(model, classifier.Options{
			Model:       firstNonEmpty(cfg.AI.ClassifierModel, cfg.AI.Model),
			Temperature: cfg.AI.ClassifierTemperature,
			MaxTokens:   cfg.AI.MaxTokens,
			PreviewRows: cfg.Pipeline.PreviewRows,
		}, logger),
	}

	var ledgerOpts []ledger.Option
	readiness := []api.ReadinessCheck{api.CheckFunc("catalog", catalogRepo.HealthCheck)}
	deps := api.Dependencies{
		Logger:            logger,
		Connections:       connections,
		Snapshots:         snapshots,
		DependencyTimeout: time.Second,
	}

	if cfg.Archive.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.ConfigFrom(cfg.ObjectStore))
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		pipelineDeps.Archiver = archive.New(objectStore, logger)
		deps.Results = archiveduckdb.NewReader(objectStore)
		ledgerOpts = append(ledgerOpts, ledger.WithResultStore(objectStore))
		readiness = append(readiness,
			api.CheckObjectStoreConfig(cfg),
			api.CheckFunc("object store", objectStore.Ping),
		)
	}

	conversations := ledger.New(catalogRepo, logger, ledgerOpts...)
	pipelineDeps.Ledger = conversations
	deps.Conversations = conversations
	deps.Pipeline = pipeline.New(pipelineDeps, pipeline.Options{
		RetryBudget:  cfg.Pipeline.RetryBudget,
		HistoryLimit: cfg.Pipeline.HistoryLimit,
	}, logger)
	deps.Readiness = api.CombineReadinessChecks(readiness...)

	if cfg.Auth.Required {
		static, err := auth.NewStaticKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		validators := auth.Chain{static}
		if cfg.Auth.JWTSecret != "" {
			validators = append(validators, auth.NewJWTValidator(cfg.Auth.JWTSecret))
		}
		deps.AuthMiddleware = auth.Middleware(logger, validators)
	} else {
		deps.AuthMiddleware = auth.HeaderMiddleware
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("llm_provider", string(cfg.AI.Provider)),
			slog.Bool("archive_enabled", cfg.Archive.Enabled),
			slog.Bool("auth_required", cfg.Auth.Required),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
