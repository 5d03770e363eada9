// Package api implements the HTTP handlers of the scraper service.
//
// Every route is a GET with query-string parameters.
//
// Routes:
//
//	GET /search/new               → submit an aggregated search
//	GET /search/job-status        → poll a search job
//	GET /search/download-csv      → CSV of a stored search result
//	GET /search/download-relog    → reproducibility log of a search
//	GET /reviews                  → submit a reviews scrape
//	GET /reviews/job-status       → poll a reviews job
//	GET /reviews/download-csv     → CSV of stored reviews
//	GET /list                     → submit a top-list scrape
//	GET /list/job-status          → poll a top-list job
//	GET /list/download-csv        → CSV of a stored top list
//	GET /list/download-relog      → reproducibility log of a top list
//	GET /health                   → liveness
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"smar/scraper-service/internal/jobs"
	"smar/scraper-service/internal/model"
	"smar/scraper-service/internal/queue"
	"smar/scraper-service/internal/runlog"
	"smar/scraper-service/internal/store"
)

// JobQueue is the part of a work queue the handlers use.
type JobQueue interface {
	Submit(ctx context.Context, fingerprint string, payload any) (*queue.Job, bool, error)
	Get(ctx context.Context, id string) (*queue.Job, error)
}

// Config holds the handler dependencies.
type Config struct {
	Search  JobQueue
	Reviews JobQueue
	TopList JobQueue
	Results store.Store
	// Runs is optional; without it the reproducibility log falls back to
	// the stored result size.
	Runs    runlog.Recorder
	Version string
	Now     func() time.Time
}

// Handler serves the HTTP API.
type Handler struct {
	cfg Config
}

// NewHandler returns a configured Handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Handler{cfg: cfg}
}

// Routes builds the chi router with every route mounted.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/health", h.health)

	r.Get("/search/new", submit(h.cfg.Search, parseSearch))
	r.Get("/search/job-status", jobStatus(h.cfg.Search))
	r.Get("/search/download-csv", downloadCSV(h, parseSearch, func(r model.SearchRequest) string { return r.Term }))
	r.Get("/search/download-relog", h.searchRelog)

	r.Get("/reviews", submit(h.cfg.Reviews, parseReviews))
	r.Get("/reviews/job-status", jobStatus(h.cfg.Reviews))
	r.Get("/reviews/download-csv", downloadCSV(h, parseReviews, func(r model.ReviewsRequest) string { return r.AppID }))

	r.Get("/list", submit(h.cfg.TopList, parseTopList))
	r.Get("/list/job-status", jobStatus(h.cfg.TopList))
	r.Get("/list/download-csv", downloadCSV(h, parseTopList, func(r model.TopListRequest) string { return r.Category }))
	r.Get("/list/download-relog", h.listRelog)

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, map[string]string{
		"status":  "ok",
		"service": "scraper-service",
		"version": h.cfg.Version,
	})
}

// request is implemented by every submit payload.
type request interface {
	Validate() error
	Fingerprint() string
}

type submitResponse struct {
	Status  string `json:"status"`
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// submit validates the query string and enqueues the normalized request.
// A request whose fingerprint is already waiting or running gets the
// existing job id back.
func submit[R request](q JobQueue, parse func(url.Values) (R, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parse(r.URL.Query())
		if err == nil {
			err = req.Validate()
		}
		if err != nil {
			jsonError(w, err.Error(), httpStatus(err))
			return
		}

		job, created, err := q.Submit(r.Context(), req.Fingerprint(), req)
		if err != nil {
			log.Printf("[api] submit error: %v", err)
			jsonError(w, "could not queue the request", http.StatusInternalServerError)
			return
		}

		msg := "Your request is being processed."
		if !created {
			msg = "An identical request is already being processed."
		}
		jsonOK(w, submitResponse{Status: "processing", JobID: job.ID, Message: msg})
	}
}

type statusResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// jobStatus reports the state of one job. A completed job carries its
// outcome, a failed one its error and kind.
func jobStatus(q JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("jobId")
		if id == "" {
			jsonError(w, "Job ID is missing.", http.StatusBadRequest)
			return
		}

		job, err := q.Get(r.Context(), id)
		if err != nil {
			if !errors.Is(err, queue.ErrJobNotFound) {
				log.Printf("[api] job-status %s error: %v", id, err)
			}
			jsonError(w, errorMessage(err), httpStatus(err))
			return
		}

		switch job.State {
		case queue.StateCompleted:
			jsonOK(w, statusResponse{Status: string(job.State), Data: job.Result})
		case queue.StateFailed:
			code := http.StatusInternalServerError
			if job.ErrorKind == jobs.KindNoResults {
				code = http.StatusNotFound
			}
			jsonStatus(w, code, statusResponse{Status: string(job.State), Error: job.Error, Kind: job.ErrorKind})
		default:
			jsonOK(w, statusResponse{Status: string(job.State)})
		}
	}
}
