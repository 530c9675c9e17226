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
	functions.HTTP("HandleResults", handleResults)
}

// main is required by the Go Functions Framework.
func main() {}

func setup(ctx context.Context) error {
	app := bootstrap.New("results")
	if err := app.RequireSharedBackends(false); err != nil {
		return err
	}
	ledger, err := app.Ledger(ctx)
	if err != nil {
		return err
	}
	handler = httpapi.CORS(httpapi.NewResults(services.NewResults(ledger, app.Logger), app.Logger))
	return nil
}

// handleResults serves GET / (all records) and GET /{documentId}.
func handleResults(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		initErr = setup(context.Background())
	})
	if initErr != nil {
		slog.Error("Results initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}
