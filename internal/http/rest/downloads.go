package rest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/resumable_downloader/internal/downloader"
	"github.com/italolelis/resumable_downloader/internal/logctx"
	"github.com/italolelis/resumable_downloader/internal/storage"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	maxRequestBody = 64 * 1024
)

// Submitter queues download jobs.
type Submitter interface {
	Submit(ctx context.Context, job downloader.Job) (*storage.DownloadRecord, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

type DownloadsHandler struct {
	submitter Submitter
	records   storage.DownloadReadRepository
	username  string
	password  string
}

// NewDownloadsHandler creates the download API. Basic auth is enforced when username is set.
func NewDownloadsHandler(submitter Submitter, records storage.DownloadReadRepository, username, password string) *DownloadsHandler {
	return &DownloadsHandler{
		submitter: submitter,
		records:   records,
		username:  username,
		password:  password,
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.basicAuthMiddleware)

	r.Post("/downloads", h.HandleCreate)
	r.Get("/downloads", h.HandleList)
	r.Get("/downloads/{id}", h.HandleGet)

	return r
}

// HandleCreate queues a download and answers 202 with its pending record.
func (h *DownloadsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var job downloader.Job
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&job); err != nil {
		logger.DebugContext(r.Context(), "failed to decode request", "err", err)
		writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})

		return
	}

	record, err := h.submitter.Submit(r.Context(), job)
	if err != nil {
		switch {
		case errors.Is(err, downloader.ErrInvalidJob):
			writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: err.Error()})
		case errors.Is(err, downloader.ErrDestinationBusy):
			writeJSON(w, r, http.StatusConflict, errorResponse{Error: err.Error()})
		case errors.Is(err, downloader.ErrClosed):
			writeJSON(w, r, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		default:
			logger.ErrorContext(r.Context(), "failed to submit download", "err", err)
			writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "failed to submit download"})
		}

		return
	}

	w.Header().Set("Location", "/downloads/"+record.ID)
	writeJSON(w, r, http.StatusAccepted, record)
}

// HandleList returns the latest records, newest first.
func (h *DownloadsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeJSON(w, r, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})

			return
		}

		limit = min(n, maxListLimit)
	}

	records, err := h.records.List(r.Context(), limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to list downloads", "err", err)
		writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "failed to list downloads"})

		return
	}

	if records == nil {
		records = []storage.DownloadRecord{}
	}

	writeJSON(w, r, http.StatusOK, records)
}

func (h *DownloadsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	record, err := h.records.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "download not found"})

			return
		}

		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to get download", "err", err)
		writeJSON(w, r, http.StatusInternalServerError, errorResponse{Error: "failed to get download"})

		return
	}

	writeJSON(w, r, http.StatusOK, record)
}

func (h *DownloadsHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.username == "" {
			next.ServeHTTP(w, r)

			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="downloads"`)
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) != 1 {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to encode response", "err", err)
	}
}
