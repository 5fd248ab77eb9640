package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/brunobiangulo/hipporeg"
	"github.com/brunobiangulo/hipporeg/batch"
	"github.com/brunobiangulo/hipporeg/graph"
	"github.com/brunobiangulo/hipporeg/store"
)

const maxBatchBytes = 100 << 20

type handler struct {
	svc     *hipporeg.Service
	batches *batch.Registry
}

func newHandler(svc *hipporeg.Service) *handler {
	return &handler{svc: svc, batches: batch.NewRegistry()}
}

func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /jurisdictions", h.handleJurisdictions)
	mux.HandleFunc("GET /jurisdictions/{j}/stats", h.handleStats)
	mux.HandleFunc("GET /jurisdictions/{j}/graph", h.handleGraph)
	mux.HandleFunc("POST /jurisdictions/{j}/retrieve", h.handleRetrieve)
	mux.HandleFunc("POST /jurisdictions/{j}/ingest", h.handleIngest)
	return mux
}

// POST /jurisdictions/{j}/retrieve
func (h *handler) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var req hipporeg.RetrieveRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	resp, err := h.svc.Retrieve(ctx, r.PathValue("j"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// POST /jurisdictions/{j}/ingest
// Accepts a JSON batch body, or a multipart upload of a .json or .xlsx
// batch in the "file" field. ?rebuild=true starts from an empty graph.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var opts []hipporeg.IngestOption
	if v := r.URL.Query().Get("rebuild"); v != "" {
		rebuild, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "rebuild must be a boolean")
			return
		}
		if rebuild {
			opts = append(opts, hipporeg.WithRebuild())
		}
	}

	b, err := h.readBatch(ctx, w, r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	res, err := h.svc.Ingest(ctx, r.PathValue("j"), *b, opts...)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Skipped {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *handler) readBatch(ctx context.Context, w http.ResponseWriter, r *http.Request) (*graph.Batch, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBatchBytes)

	if err := r.ParseMultipartForm(32 << 20); err == nil {
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, errBadRequest("missing file field")
		}
		defer file.Close()

		tmpDir, err := os.MkdirTemp("", "hipporeg-batch-*")
		if err != nil {
			return nil, err
		}
		defer os.RemoveAll(tmpDir)
		// Sanitise filename to prevent path traversal.
		tmpPath := filepath.Join(tmpDir, filepath.Base(header.Filename))

		dst, err := os.Create(tmpPath)
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(dst, file); err != nil {
			dst.Close()
			return nil, err
		}
		if err := dst.Close(); err != nil {
			return nil, err
		}
		return h.batches.Read(ctx, tmpPath)
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errBadRequest("reading body failed")
	}
	return batch.DecodeJSON(data)
}

// GET /jurisdictions/{j}/stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context(), r.PathValue("j"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /jurisdictions/{j}/graph
func (h *handler) handleGraph(w http.ResponseWriter, r *http.Request) {
	exp, err := h.svc.Graph(r.Context(), r.PathValue("j"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

// GET /jurisdictions
func (h *handler) handleJurisdictions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"jurisdictions": h.svc.Jurisdictions(),
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type badRequest string

func (e badRequest) Error() string { return string(e) }

func errBadRequest(msg string) error { return badRequest(msg) }

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var br badRequest
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &br),
		errors.Is(err, hipporeg.ErrInvalidDamping),
		errors.Is(err, hipporeg.ErrInvalidRequest),
		errors.Is(err, graph.ErrInvalidBatch),
		errors.Is(err, batch.ErrInvalidRecord),
		errors.Is(err, batch.ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, hipporeg.ErrJurisdictionUnknown):
		return http.StatusNotFound
	case errors.Is(err, hipporeg.ErrJurisdictionUnavailable),
		errors.Is(err, store.ErrCorruptSnapshot):
		return http.StatusServiceUnavailable
	case errors.Is(err, hipporeg.ErrSeedsDesynchronized),
		errors.Is(err, hipporeg.ErrSourceConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "request_id", requestID(r.Context()), "error", err)
		if status == http.StatusInternalServerError {
			writeError(w, status, "internal error")
			return
		}
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
