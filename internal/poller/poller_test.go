package poller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Lllllllleong/documentpipeline/internal/models"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// progressServer answers {} for the first poll, then walks the status chain.
func progressServer(t *testing.T, polls *atomic.Int32) *httptest.Server {
	t.Helper()
	statuses := []models.Status{models.StatusUploaded, models.StatusOCRComplete, models.StatusClassified, models.StatusSummarized}
	mux := http.NewServeMux()
	mux.HandleFunc("/results/", func(w http.ResponseWriter, r *http.Request) {
		n := int(polls.Add(1)) - 1
		w.Header().Set("Content-Type", "application/json")
		if n == 0 {
			w.Write([]byte(`{}`))
			return
		}
		idx := n - 1
		if idx >= len(statuses) {
			idx = len(statuses) - 1
		}
		json.NewEncoder(w).Encode(models.Record{DocumentID: r.URL.Path[len("/results/"):], UploadTimestamp: 1, Status: statuses[idx]})
	})
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		var req models.UploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || string(req.File) != "hello" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"bad upload"}`))
			return
		}
		json.NewEncoder(w).Encode(models.UploadResponse{DocumentID: "doc-9", Status: models.StatusUploaded})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(srv.URL + "/")
	c.Logger = quiet()
	return c
}

func TestUploadAndWaitCompletes(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(progressServer(t, &polls))

	resp, err := c.Upload(context.Background(), "a.txt", "text/plain", []byte("hello"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if resp.DocumentID != "doc-9" {
		t.Fatalf("documentId = %q", resp.DocumentID)
	}

	out, err := c.Wait(context.Background(), resp.DocumentID, Options{MaxAttempts: 10, Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !out.Completed || out.Record == nil || out.Record.Status != models.StatusSummarized {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Attempts != 5 {
		t.Fatalf("attempts = %d, want 5", out.Attempts)
	}
}

func TestWaitGivesUpWithoutError(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(progressServer(t, &polls))

	out, err := c.Wait(context.Background(), "doc", Options{MaxAttempts: 3, Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("exhausting the bound should not error: %v", err)
	}
	if out.Completed || out.Attempts != 3 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.Record == nil || out.Record.Status != models.StatusOCRComplete {
		t.Fatalf("last record = %+v", out.Record)
	}
}

func TestWaitHonoursCancellation(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(progressServer(t, &polls))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx, "doc", Options{MaxAttempts: 100, Interval: time.Hour})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWaitKeepsPollingThroughServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":"ledger down"}`))
			return
		}
		json.NewEncoder(w).Encode(models.Record{DocumentID: "doc", Status: models.StatusSummarized})
	}))
	defer srv.Close()

	out, err := newTestClient(srv).Wait(context.Background(), "doc", Options{MaxAttempts: 3, Interval: time.Millisecond})
	if err != nil || !out.Completed || out.Attempts != 2 || out.LastErr != nil {
		t.Fatalf("outcome = %+v (%v)", out, err)
	}
}

func TestUploadSurfacesErrorPayload(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(progressServer(t, &polls))
	_, err := c.Upload(context.Background(), "a.txt", "text/plain", []byte("nope"))
	if err == nil || err.Error() != "upload a.txt: status 400: bad upload" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGetUnknownID(t *testing.T) {
	var polls atomic.Int32
	c := newTestClient(progressServer(t, &polls))
	rec, found, err := c.Get(context.Background(), "doc")
	if err != nil || found || rec != nil {
		t.Fatalf("Get = %v %v %v", rec, found, err)
	}
}
