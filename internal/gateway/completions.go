package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/flemzord/llmgate/internal/llm"
	"github.com/flemzord/llmgate/internal/router"
)

// errorResponse is the JSON error body for the completions endpoint.
type errorResponse struct {
	Error string `json:"error"`
}

// handleCompletions proxies a chat-completion request through the
// routing pipeline using the configured candidate order.
func (g *Gateway) handleCompletions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req llm.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Messages) == 0 {
			writeJSONError(w, http.StatusBadRequest, "messages are required")
			return
		}

		resp, err := g.deps.Router.Route(r.Context(), &req, promptText(&req), g.deps.Candidates)
		if err != nil {
			if errors.Is(err, router.ErrNoEligibleBackend) {
				writeJSONError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			writeJSONError(w, http.StatusBadGateway, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// promptText extracts the textual content of a request's messages for
// privacy classification. Message payloads themselves are never altered.
func promptText(req *llm.ChatRequest) string {
	var parts []string
	for _, raw := range req.Messages {
		var msg struct {
			Content any `json:"content"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch content := msg.Content.(type) {
		case string:
			parts = append(parts, content)
		case []any:
			// Content-block form: collect "text" fields.
			for _, block := range content {
				if m, ok := block.(map[string]any); ok {
					if text, ok := m["text"].(string); ok {
						parts = append(parts, text)
					}
				}
			}
		}
	}
	return strings.Join(parts, "\n")
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
