package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/fitgate/internal/pipeline"
	"github.com/kalambet/fitgate/internal/proxy"
)

// anonymousUser owns chat completions that carry no "user" field.
const anonymousUser = "anonymous"

// handleChatCompletions serves OpenAI-compatible clients. The last user
// message is the query and the request's "user" field selects the history.
func handleChatCompletions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req proxy.ChatRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if len(req.Messages) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages is required and must not be empty")
			return
		}
		if req.Stream {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "streaming is not supported")
			return
		}
		text := pipeline.LastUserMessage(req.Messages)
		if strings.TrimSpace(text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "no user message found")
			return
		}
		userID := strings.TrimSpace(req.User)
		if userID == "" {
			userID = anonymousUser
		}
		if !allow(w, deps, userID) {
			return
		}

		resp := deps.Pipeline.Handle(r.Context(), userID, text)

		model := resp.Provider
		if model == "" {
			model = "fitgate"
		}
		finish := "stop"
		if !resp.Admitted {
			finish = "content_filter"
		}
		writeJSON(w, http.StatusOK, proxy.ChatResponse{
			ID:      "chatcmpl-" + uuid.New().String(),
			Object:  "chat.completion",
			Created: time.Now().Unix(),
			Model:   model,
			Choices: []proxy.Choice{{
				Index:        0,
				Message:      proxy.Message{Role: "assistant", Content: resp.Answer},
				FinishReason: finish,
			}},
		})
	}
}
