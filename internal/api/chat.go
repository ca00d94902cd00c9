package api

import (
	"encoding/json"
	"net/http"

	"llm-gateway/models"
)

// HandleChatCompletions proxies an OpenAI-compatible chat completion
func (h *Handler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	project := h.projectOrReject(w, r)
	if project == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBodyBytes())
	var req models.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, bodyError(err, "JSON body"))
		return
	}

	result, err := h.chat.Complete(r.Context(), project, &req, requestMetadata(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.jsonResponse(w, result)
}
