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
	functions.HTTP("HandleUpload", handleUpload)
}

// main is required by the Go Functions Framework.
func main() {}

func setup(ctx context.Context) error {
	app := bootstrap.New("intake")
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
	cfg := services.IntakeConfig{MaxUploadBytes: app.Config.MaxUploadBytes}
	intake := services.NewIntake(store, ledger, cfg, app.StageOptions()...)

	limiter := httpapi.NewIPRateLimiter(app.Config.UploadRateLimit, app.Config.UploadRateBurst)
	handler = httpapi.CORS(limiter.Middleware(httpapi.UploadHandler(intake, cfg.MaxUploadBytes, app.Logger)))
	return nil
}

// handleUpload is the HTTP entry point for document uploads.
func handleUpload(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		initErr = setup(context.Background())
	})
	if initErr != nil {
		slog.Error("Intake initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}
	handler.ServeHTTP(w, r)
}
