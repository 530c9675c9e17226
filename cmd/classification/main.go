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
	// Invoked by the classify workflow with a handoff body.
	functions.HTTP("HandleClassify", handleClassify)
}

// main is required by the Go Functions Framework.
func main() {}

func setup(ctx context.Context) error {
	app := bootstrap.New("classification")
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
	next, err := app.RemoteHandoff(ctx, bootstrap.TargetSummarize)
	if err != nil {
		return err
	}
	stage := services.NewClassification(ledger, model, next, app.StageOptions()...)
	handler = httpapi.StageHandler(stage, app.Logger)
	return nil
}

func handleClassify(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		initErr = setup(context.Background())
	})
	if initErr != nil {
		slog.Error("Classification initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}
