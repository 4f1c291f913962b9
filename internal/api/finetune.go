package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/fitgate/internal/finetune"
)

type submitJobRequest struct {
	Records     []finetune.Record `json:"records"`
	FromHistory bool              `json:"from_history"`
	BaseModel   string            `json:"base_model"`
	Suffix      string            `json:"suffix"`
}

func requireJobs(deps Deps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if deps.Jobs == nil {
				httpError(w, http.StatusServiceUnavailable, "api_error", "fine-tuning is not configured")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func handleSubmitJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitJobRequest
		if !decodeBody(w, r, &req) {
			return
		}

		records := req.Records
		if req.FromHistory {
			if len(records) > 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "records and from_history are mutually exclusive")
				return
			}
			var err error
			records, err = deps.Jobs.BuildCorpus(r.Context(), deps.CorpusTarget)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "building corpus: %v", err)
				return
			}
		}

		job, err := deps.Jobs.Submit(r.Context(), records, finetune.SubmitOptions{
			BaseModel: req.BaseModel,
			Suffix:    req.Suffix,
		})
		if err != nil {
			httpError(w, statusFor(err), "invalid_request_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
	}
}

func handleListJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 50
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = n
		}
		var statuses []finetune.Status
		for _, s := range q["status"] {
			statuses = append(statuses, finetune.Status(s))
		}

		jobs, err := deps.Jobs.List(r.Context(), limit, statuses...)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing jobs: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": nonNil(jobs)})
	}
}

func handlePollJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.Poll(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, statusFor(err), "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleCancelJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.Cancel(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, finetune.ErrTerminal) {
			httpError(w, http.StatusConflict, "invalid_request_error", "job %s is already %s", job.ID, job.Status)
			return
		}
		if err != nil {
			httpError(w, statusFor(err), "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}
