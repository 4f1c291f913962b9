package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/fitgate/internal/finetune"
	"github.com/kalambet/fitgate/internal/history"
	"github.com/kalambet/fitgate/internal/pipeline"
	"github.com/kalambet/fitgate/internal/router"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds what the HTTP and MCP surfaces need.
type Deps struct {
	Pipeline *pipeline.Pipeline
	History  *history.Log
	Registry *router.Registry
	// Jobs is nil when no fine-tuning backend is configured.
	Jobs *finetune.Manager
	// Limiter is nil to disable per-user rate limiting.
	Limiter      *UserLimiter
	Token        string
	CorpusTarget int
}

// NewHandler returns the HTTP API. Everything except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/v1/query", handleQuery(deps))
		r.Post("/v1/chat/completions", handleChatCompletions(deps))

		r.Get("/v1/users/{userID}/history", handleGetHistory(deps))
		r.Delete("/v1/users/{userID}/history", handlePurgeHistory(deps))

		r.Get("/v1/providers", handleListProviders(deps))
		r.Post("/v1/providers/{id}/reset", handleResetProvider(deps))

		r.Route("/v1/finetune/jobs", func(r chi.Router) {
			r.Use(requireJobs(deps))
			r.Post("/", handleSubmitJob(deps))
			r.Get("/", handleListJobs(deps))
			r.Get("/{id}", handlePollJob(deps))
			r.Post("/{id}/cancel", handleCancelJob(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		req.UserID = strings.TrimSpace(req.UserID)
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}
		if !allow(w, deps, req.UserID) {
			return
		}

		writeJSON(w, http.StatusOK, deps.Pipeline.Handle(r.Context(), req.UserID, req.Text))
	}
}

func handleGetHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		limit := 0
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a non-negative integer")
				return
			}
			limit = n
		}

		items, err := deps.History.Recent(r.Context(), userID, limit)
		if err != nil {
			httpError(w, statusFor(err), "api_error", "loading history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"user_id":      userID,
			"window":       deps.History.Window(),
			"interactions": nonNil(items),
		})
	}
}

func handlePurgeHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		n, err := deps.History.Purge(r.Context(), userID)
		if err != nil {
			httpError(w, statusFor(err), "api_error", "purging history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "purged": n})
	}
}

func handleListProviders(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"providers": nonNil(deps.Registry.Snapshot()),
			"exhausted": deps.Registry.Exhausted(),
		})
	}
}

func handleResetProvider(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Registry.Reset(id); err != nil {
			httpError(w, statusFor(err), "invalid_request_error", "%v", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func allow(w http.ResponseWriter, deps Deps, userID string) bool {
	if deps.Limiter == nil || deps.Limiter.Allow(userID) {
		return true
	}
	w.Header().Set("Retry-After", "1")
	httpError(w, http.StatusTooManyRequests, "rate_limit_error", "too many requests for user %s", userID)
	return false
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var ve *finetune.ValidationError
	switch {
	case errors.As(err, &ve), errors.Is(err, history.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, finetune.ErrNotFound), errors.Is(err, router.ErrUnknownProvider):
		return http.StatusNotFound
	case errors.Is(err, finetune.ErrTerminal):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
