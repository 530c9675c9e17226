// Package poller is the client side of the pipeline: it uploads documents and
// polls the results endpoint until a record reaches the terminal status.
package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Lllllllleong/documentpipeline/internal/models"
)

const (
	DefaultMaxAttempts = 30
	DefaultInterval    = 10 * time.Second
)

// Client talks to the pipeline API rooted at BaseURL.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Upload submits one document and returns the intake response.
func (c *Client) Upload(ctx context.Context, fileName, contentType string, data []byte) (*models.UploadResponse, error) {
	body, err := json.Marshal(models.UploadRequest{File: data, FileName: fileName, ContentType: contentType})
	if err != nil {
		return nil, fmt.Errorf("marshal upload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/upload", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp models.UploadResponse
	if err := c.do(req, &resp); err != nil {
		return nil, fmt.Errorf("upload %s: %w", fileName, err)
	}
	return &resp, nil
}

// Get fetches the newest record for documentID. The bool is false while the
// ledger has no record for the id.
func (c *Client) Get(ctx context.Context, documentID string) (*models.Record, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/results/"+url.PathEscape(documentID), nil)
	if err != nil {
		return nil, false, fmt.Errorf("build results request: %w", err)
	}
	var rec models.Record
	if err := c.do(req, &rec); err != nil {
		return nil, false, fmt.Errorf("get %s: %w", documentID, err)
	}
	if rec.DocumentID == "" {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e models.ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Options bound a Wait.
type Options struct {
	MaxAttempts int
	Interval    time.Duration
}

func (o Options) normalize() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Interval < 0 {
		o.Interval = 0
	}
	return o
}

// Outcome is what a Wait observed. Record is nil when no poll saw a record.
// LastErr holds the error of the final poll, if it failed.
type Outcome struct {
	Record    *models.Record
	Completed bool
	Attempts  int
	LastErr   error
}

// Wait polls until the record is terminal or the attempts run out. Running
// out is not an error; only context cancellation is.
func (c *Client) Wait(ctx context.Context, documentID string, opts Options) (Outcome, error) {
	opts = opts.normalize()
	logCtx := c.logger().With("documentId", documentID)

	var out Outcome
	for out.Attempts < opts.MaxAttempts {
		if out.Attempts > 0 {
			if err := sleep(ctx, opts.Interval); err != nil {
				return out, err
			}
		}
		out.Attempts++

		rec, found, err := c.Get(ctx, documentID)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			logCtx.Warn("Poll failed.", "attempt", out.Attempts, "error", err)
			out.LastErr = err
			continue
		}
		out.LastErr = nil
		if !found {
			logCtx.Debug("No record yet.", "attempt", out.Attempts)
			continue
		}
		out.Record = rec
		if rec.Status.Terminal() {
			out.Completed = true
			return out, nil
		}
		logCtx.Debug("Record in progress.", "attempt", out.Attempts, "status", rec.Status)
	}
	logCtx.Info("Gave up waiting for a terminal status.", "attempts", out.Attempts)
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
