// Command poller uploads documents to the pipeline and waits for each to be
// summarized, printing the final records as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Lllllllleong/documentpipeline/internal/config"
	"github.com/Lllllllleong/documentpipeline/internal/logging"
	"github.com/Lllllllleong/documentpipeline/internal/models"
	"github.com/Lllllllleong/documentpipeline/internal/poller"
	"golang.org/x/sync/errgroup"
)

type result struct {
	File       string         `json:"file"`
	DocumentID string         `json:"documentId"`
	Completed  bool           `json:"completed"`
	Attempts   int            `json:"attempts"`
	Record     *models.Record `json:"record,omitempty"`
}

func main() {
	var (
		baseURL  = flag.String("url", config.GetEnv("PIPELINE_URL", "http://localhost:8080"), "pipeline API base URL")
		attempts = flag.Int("attempts", poller.DefaultMaxAttempts, "maximum polls per document")
		interval = flag.Duration("interval", poller.DefaultInterval, "delay between polls")
		parallel = flag.Int("parallel", 4, "documents processed concurrently")
	)
	flag.Parse()
	files := flag.Args()
	logger := logging.Setup("poller", config.GetEnv("LOG_LEVEL", "info"))
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: poller [flags] FILE...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := poller.NewClient(*baseURL)
	client.Logger = logger
	opts := poller.Options{MaxAttempts: *attempts, Interval: *interval}

	results := make([]result, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallel)
	for i, file := range files {
		g.Go(func() error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			name := filepath.Base(file)
			contentType := mime.TypeByExtension(filepath.Ext(name))
			resp, err := client.Upload(gctx, name, contentType, data)
			if err != nil {
				return err
			}
			logger.Info("Uploaded document.", "file", file, "documentId", resp.DocumentID)

			out, err := client.Wait(gctx, resp.DocumentID, opts)
			if err != nil {
				return fmt.Errorf("wait for %s: %w", resp.DocumentID, err)
			}
			results[i] = result{File: file, DocumentID: resp.DocumentID, Completed: out.Completed, Attempts: out.Attempts, Record: out.Record}
			return nil
		})
	}
	err := g.Wait()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(results); encErr != nil {
		logger.Error("Failed to print results", "error", encErr)
	}
	if err != nil {
		logger.Error("Polling failed", "error", err)
		stop()
		os.Exit(1)
	}
}
