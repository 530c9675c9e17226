// Command pipeline runs every stage in one process behind a single HTTP API.
// Handoffs go through in-process goroutines, NATS, or Cloud Workflows,
// depending on HANDOFF_BACKEND.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lllllllleong/documentpipeline/internal/bootstrap"
	"github.com/Lllllllleong/documentpipeline/internal/config"
	"github.com/Lllllllleong/documentpipeline/internal/httpapi"
	"github.com/Lllllllleong/documentpipeline/internal/local"
	"github.com/Lllllllleong/documentpipeline/internal/models"
	"github.com/Lllllllleong/documentpipeline/internal/natsbus"
	"github.com/Lllllllleong/documentpipeline/internal/services"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := bootstrap.New("pipeline")
	err := run(ctx, app)
	if cerr := app.Close(); cerr != nil {
		app.Logger.Warn("Failed to close clients", "error", cerr)
	}
	if err != nil {
		app.Logger.Error("Pipeline server stopped with error", "error", err)
		stop()
		os.Exit(1)
	}
}

func runHandoff(stage httpapi.StageRunner) local.HandoffFunc {
	return func(ctx context.Context, h models.Handoff) error {
		_, err := stage.Process(ctx, h)
		return err
	}
}

func run(ctx context.Context, app *bootstrap.App) error {
	cfg := app.Config
	logger := app.Logger
	opts := app.StageOptions()

	ledger, err := app.Ledger(ctx)
	if err != nil {
		return err
	}
	store, err := app.Store(ctx)
	if err != nil {
		return err
	}
	extractor, err := app.Extractor(ctx, store)
	if err != nil {
		return err
	}
	model, err := app.Model(ctx)
	if err != nil {
		return err
	}

	dispatcher := local.NewDispatcher(logger)
	summarize := services.NewSummarization(ledger, model, opts...)

	var classify *services.ClassificationFunction
	var toClassify services.NextStage
	if cfg.HandoffBackend == config.BackendLocal {
		classify = services.NewClassification(ledger, model, dispatcher.Trigger(bootstrap.TargetSummarize, runHandoff(summarize)), opts...)
		toClassify = dispatcher.Trigger(bootstrap.TargetClassify, runHandoff(classify))
	} else {
		toSummarize, err := app.RemoteHandoff(ctx, bootstrap.TargetSummarize)
		if err != nil {
			return err
		}
		classify = services.NewClassification(ledger, model, toSummarize, opts...)
		if toClassify, err = app.RemoteHandoff(ctx, bootstrap.TargetClassify); err != nil {
			return err
		}
	}
	extraction := services.NewExtraction(ledger, extractor, toClassify, opts...)

	if fs, ok := store.(*local.FileStore); ok {
		fs.OnWrite(dispatcher.StorageHook(func(ctx context.Context, e models.StorageWrite) error {
			_, err := extraction.Process(ctx, e)
			return err
		}))
	} else {
		logger.Info("Extraction is triggered by bucket notifications; deploy the extraction function.", "bucket", cfg.DocumentsBucket)
	}

	intake := services.NewIntake(store, ledger, services.IntakeConfig{MaxUploadBytes: cfg.MaxUploadBytes}, opts...)
	router := httpapi.NewRouter(httpapi.Deps{
		Intake:         intake,
		Results:        services.NewResults(ledger, logger),
		Classify:       classify,
		Summarize:      summarize,
		Metrics:        app.Metrics,
		Limiter:        httpapi.NewIPRateLimiter(cfg.UploadRateLimit, cfg.UploadRateBurst),
		MaxUploadBytes: cfg.MaxUploadBytes,
		Logger:         logger,
	})
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var bus *natsbus.Bus
	if cfg.HandoffBackend == config.BackendNATS {
		if bus, err = app.Bus(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Pipeline API listening.", "port", cfg.APIPort, "handoff", cfg.HandoffBackend, "ledger", cfg.LedgerBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if bus != nil {
		g.Go(func() error {
			return bus.Subscribe(gctx, app.Subject(bootstrap.TargetClassify), cfg.NATSConsumerGroup, natsHandler(classify))
		})
		g.Go(func() error {
			return bus.Subscribe(gctx, app.Subject(bootstrap.TargetSummarize), cfg.NATSConsumerGroup, natsHandler(summarize))
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		logger.Info("Shutting down pipeline API.")
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown did not complete", "error", err)
		}
		dispatcher.Close()
		done := make(chan struct{})
		go func() {
			dispatcher.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			logger.Warn("In-flight stage work abandoned at shutdown.")
		}
		return nil
	})

	return g.Wait()
}

func natsHandler(stage httpapi.StageRunner) natsbus.HandlerFunc {
	return func(ctx context.Context, h models.Handoff) error {
		processCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()
		_, err := stage.Process(processCtx, h)
		return err
	}
}
