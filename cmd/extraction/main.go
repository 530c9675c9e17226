package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/documentpipeline/internal/bootstrap"
	"github.com/Lllllllleong/documentpipeline/internal/models"
	"github.com/Lllllllleong/documentpipeline/internal/services"
	cloudevents "github.com/cloudevents/sdk-go/v2"
)

var (
	extraction *services.ExtractionFunction
	once       sync.Once
	initErr    error
)

func init() {
	functions.CloudEvent("HandleStorageWrite", handleStorageWrite)
}

// main is required by the Go Functions Framework.
func main() {}

func setup(ctx context.Context) error {
	app := bootstrap.New("extraction")
	if err := app.RequireSharedBackends(true); err != nil {
		return err
	}
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
	next, err := app.RemoteHandoff(ctx, bootstrap.TargetClassify)
	if err != nil {
		return err
	}
	extraction = services.NewExtraction(ledger, extractor, next, app.StageOptions()...)
	return nil
}

// handleStorageWrite runs extraction for one finalized object. Not-found and
// invalid events are acknowledged so the bucket notification is not retried.
func handleStorageWrite(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		initErr = setup(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	event, err := models.DecodeStorageWrite(e.Data())
	if err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "eventId", e.ID(), "data", string(e.Data()))
		return nil
	}
	if _, err := extraction.Process(ctx, event); err != nil {
		if services.IsTerminalStageError(err) {
			slog.Warn("Acknowledging storage event without retry", "storageKey", event.Key, "error", err)
			return nil
		}
		return err
	}
	return nil
}
