// Package bootstrap builds the pipeline's backends from configuration so each
// binary only decides which stages it runs.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	executions "cloud.google.com/go/workflows/executions/apiv1"
	"github.com/Lllllllleong/documentpipeline/internal/config"
	"github.com/Lllllllleong/documentpipeline/internal/gcp"
	"github.com/Lllllllleong/documentpipeline/internal/gemini"
	"github.com/Lllllllleong/documentpipeline/internal/local"
	"github.com/Lllllllleong/documentpipeline/internal/logging"
	"github.com/Lllllllleong/documentpipeline/internal/metrics"
	"github.com/Lllllllleong/documentpipeline/internal/natsbus"
	"github.com/Lllllllleong/documentpipeline/internal/postgres"
	"github.com/Lllllllleong/documentpipeline/internal/redisledger"
	"github.com/Lllllllleong/documentpipeline/internal/resilience"
	"github.com/Lllllllleong/documentpipeline/internal/services"
)

// Handoff targets.
const (
	TargetClassify  = "classify"
	TargetSummarize = "summarize"
)

// Store is a document store that can also read objects back for extraction.
type Store interface {
	services.DocumentStore
	local.Opener
}

// App owns the shared process dependencies and the clients built from them.
type App struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.Pipeline
	Exec    *resilience.Executor

	bus        *natsbus.Bus
	executions *executions.Client
	fileStore  *local.FileStore
	closers    []func() error
}

// New loads configuration and installs the JSON logger for service.
func New(service string) *App {
	cfg := config.Load()
	logger := logging.Setup(service, cfg.LogLevel)
	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewPipeline(service),
		Exec:    resilience.NewExecutor(cfg.Resilience, logger),
	}
}

// StageOptions are the options every stage function is built with.
func (a *App) StageOptions() []services.Option {
	return []services.Option{services.WithLogger(a.Logger), services.WithObserver(a.Metrics)}
}

func (a *App) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// Close releases clients in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// RequireSharedBackends rejects backends that only live inside one process.
// A stage deployed as its own function must share its ledger, and its
// document store when withStore is set, with the other stages.
func (a *App) RequireSharedBackends(withStore bool) error {
	cfg := a.Config
	if cfg.LedgerBackend == config.BackendMemory {
		return fmt.Errorf("LEDGER_BACKEND %q is process-local; use the pipeline binary or a shared ledger", cfg.LedgerBackend)
	}
	if withStore && cfg.StoreBackend == config.BackendLocal {
		return fmt.Errorf("STORE_BACKEND %q never raises storage triggers; set it to %q", cfg.StoreBackend, config.BackendGCS)
	}
	return nil
}

// Ledger builds the configured result ledger.
func (a *App) Ledger(ctx context.Context) (services.Ledger, error) {
	cfg := a.Config
	switch cfg.LedgerBackend {
	case config.BackendMemory:
		a.Logger.Warn("Using the in-memory ledger; records do not outlive the process.")
		return local.NewLedger(), nil
	case config.BackendFirestore:
		if err := cfg.RequireProject(); err != nil {
			return nil, err
		}
		client, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		a.onClose(client.Close)
		return gcp.NewFirestoreLedger(client, cfg.FirestoreCollection), nil
	case config.BackendRedis:
		client, err := redisledger.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		a.onClose(client.Close)
		return redisledger.New(client), nil
	case config.BackendPostgres:
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		a.onClose(db.Close)
		ledger := postgres.NewLedger(db)
		if err := ledger.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return ledger, nil
	}
	return nil, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.LedgerBackend)
}

// Store builds the configured document store.
func (a *App) Store(ctx context.Context) (Store, error) {
	cfg := a.Config
	switch cfg.StoreBackend {
	case config.BackendLocal:
		if a.fileStore == nil {
			fs, err := local.NewFileStore(cfg.StoragePath)
			if err != nil {
				return nil, err
			}
			a.fileStore = fs
		}
		return a.fileStore, nil
	case config.BackendGCS:
		if err := cfg.RequireBucket(); err != nil {
			return nil, err
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		a.onClose(client.Close)
		return gcp.NewDocumentStore(client, cfg.DocumentsBucket), nil
	}
	return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
}

// Extractor builds the configured text extractor. The local extractor reads
// objects back from store.
func (a *App) Extractor(ctx context.Context, store local.Opener) (services.TextExtractor, error) {
	cfg := a.Config
	switch cfg.ExtractorBackend {
	case config.BackendLocal:
		return local.NewExtractor(store), nil
	case config.BackendDocAI:
		if err := cfg.RequireProject(); err != nil {
			return nil, err
		}
		if err := cfg.RequireExtractor(); err != nil {
			return nil, err
		}
		ex, err := gcp.NewDocumentAIExtractor(ctx, cfg.ProjectID, cfg.DocumentAILocation, cfg.DocumentAIProcessorID, a.Exec)
		if err != nil {
			return nil, err
		}
		a.onClose(ex.Close)
		return ex, nil
	}
	return nil, fmt.Errorf("unknown EXTRACTOR_BACKEND %q", cfg.ExtractorBackend)
}

// Model builds the language model shared by classification and
// summarization.
func (a *App) Model(ctx context.Context) (services.LanguageModel, error) {
	cfg := a.Config
	if err := cfg.RequireModel(); err != nil {
		return nil, err
	}
	if cfg.ModelBackend == config.BackendGemini {
		m, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, a.Exec)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	m, err := gcp.NewVertexModel(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.VertexModel, a.Exec)
	if err != nil {
		return nil, err
	}
	a.onClose(m.Close)
	return m, nil
}

// Bus connects to NATS once per process.
func (a *App) Bus() (*natsbus.Bus, error) {
	if a.bus != nil {
		return a.bus, nil
	}
	bus, err := natsbus.Connect(a.Config.NATSURL, "idp-"+a.Config.NATSConsumerGroup, a.Exec, a.Logger)
	if err != nil {
		return nil, err
	}
	a.bus = bus
	a.onClose(func() error { bus.Close(); return nil })
	return bus, nil
}

// Subject is the NATS subject a handoff target listens on.
func (a *App) Subject(target string) string {
	if target == TargetSummarize {
		return a.Config.NATSSummarizeSubj
	}
	return a.Config.NATSClassifySubj
}

func (a *App) workflowID(target string) string {
	if target == TargetSummarize {
		return a.Config.SummarizeWorkflowID
	}
	return a.Config.ClassifyWorkflowID
}

// RemoteHandoff builds the trigger for target over NATS or Cloud Workflows.
// The local backend needs the next stage in-process and is wired by the
// caller.
func (a *App) RemoteHandoff(ctx context.Context, target string) (services.NextStage, error) {
	cfg := a.Config
	switch cfg.HandoffBackend {
	case config.BackendNATS:
		bus, err := a.Bus()
		if err != nil {
			return nil, err
		}
		return bus.Publisher(a.Subject(target)), nil
	case config.BackendWorkflows:
		if err := cfg.RequireProject(); err != nil {
			return nil, err
		}
		if a.executions == nil {
			client, err := executions.NewClient(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to create executions client: %w", err)
			}
			a.executions = client
			a.onClose(client.Close)
		}
		return gcp.NewWorkflowTrigger(a.executions, cfg.ProjectID, cfg.WorkflowLocation, a.workflowID(target), a.Exec), nil
	case config.BackendLocal:
		return nil, fmt.Errorf("HANDOFF_BACKEND %q runs stages in-process; use the pipeline binary", cfg.HandoffBackend)
	}
	return nil, fmt.Errorf("unknown HANDOFF_BACKEND %q", cfg.HandoffBackend)
}
