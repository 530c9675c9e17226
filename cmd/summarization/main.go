package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/documentpipeline/internal/bootstrap"
	"github.com/Lllllllleong/documentpipeline/internal/httpapi"
	"github.com/Lllllllleong/documentpipeline/internal/services"
)

var (
	handler http.Handler
	once    sync.Once
	initErr error
)

func init() {
	functions.HTTP("HandleSummarize", handleSummarize)
}

// main is required by the Go Functions Framework.
func main() {}

func setup(ctx context.Context) error {
	app := bootstrap.New("summarization")
	if err := app.RequireSharedBackends(false); err != nil {
		return err
	}
	ledger, err := app.Ledger(ctx)
	if err != nil {
		return err
	}
	model, err := app.Model(ctx)
	if err != nil {
		return err
	}
	stage := services.NewSummarization(ledger, model, app.StageOptions()...)
	handler = httpapi.StageHandler(stage, app.Logger)
	return nil
}

func handleSummarize(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		initErr = setup(context.Background())
	})
	if initErr != nil {
		slog.Error("Summarization initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}
