// Package httpapi exposes the pipeline over HTTP: the upload and results
// endpoints callers use, and the stage endpoints a workflow engine posts
// handoffs to.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Lllllllleong/documentpipeline/internal/models"
)

// Uploader accepts one document.
type Uploader interface {
	Process(ctx context.Context, req *models.UploadRequest) (*models.UploadResponse, error)
}

// ResultsReader queries processing records.
type ResultsReader interface {
	List(ctx context.Context) ([]models.Record, error)
	Get(ctx context.Context, documentID string) ([]models.Record, error)
}

// StageRunner runs one handoff-triggered stage.
type StageRunner interface {
	Process(ctx context.Context, h models.Handoff) (*models.StageResult, error)
}

// base64 inflates the file by 4/3; leave room for the other fields.
func bodyLimit(maxUploadBytes int64) int64 {
	if maxUploadBytes <= 0 {
		return 0
	}
	return maxUploadBytes/3*4 + 64<<10
}

// UploadHandler serves POST uploads with a JSON body carrying the base64 file.
func UploadHandler(intake Uploader, maxUploadBytes int64, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	limit := bodyLimit(maxUploadBytes)
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		body := io.Reader(r.Body)
		if limit > 0 {
			body = http.MaxBytesReader(w, r.Body, limit)
		}
		var req models.UploadRequest
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}

		resp, err := intake.Process(r.Context(), &req)
		if err != nil {
			logger.Warn("Upload rejected.", "fileName", req.FileName, "error", err)
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// Results serves record queries. A single id answers with the newest
// version, or {} when the id is unknown; history=true returns every version.
type Results struct {
	reader ResultsReader
	logger *slog.Logger
}

func NewResults(reader ResultsReader, logger *slog.Logger) *Results {
	if logger == nil {
		logger = slog.Default()
	}
	return &Results{reader: reader, logger: logger}
}

// ServeHTTP routes on the path alone so the handler can run as a bare
// function entry point: "/" and "/results" list, "/results/{id}" or "/{id}"
// query one document.
func (h *Results) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	id := strings.Trim(r.URL.Path, "/")
	if id == "results" {
		id = ""
	} else if rest, ok := strings.CutPrefix(id, "results/"); ok {
		id = strings.Trim(rest, "/")
	}
	if id == "" {
		h.List(w, r)
		return
	}
	h.Get(w, r, id)
}

func (h *Results) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.reader.List(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Results) Get(w http.ResponseWriter, r *http.Request, documentID string) {
	recs, err := h.reader.Get(r.Context(), documentID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if history, _ := strconv.ParseBool(r.URL.Query().Get("history")); history {
		writeJSON(w, http.StatusOK, recs)
		return
	}
	if len(recs) == 0 {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, recs[0])
}

// StageHandler serves POSTed handoffs for one stage. Unknown records give
// 404, malformed handoffs 400, and every other failure 500.
func StageHandler(stage StageRunner, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read request body: "+err.Error())
			return
		}
		h, err := decodeHandoffBody(body)
		if err != nil {
			writeErr(w, err)
			return
		}
		res, err := stage.Process(r.Context(), h)
		if err != nil {
			logger.Error("Stage failed.", "documentId", h.DocumentID, "timestamp", h.Timestamp, "error", err)
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
