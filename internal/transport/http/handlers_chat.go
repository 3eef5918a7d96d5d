package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"warden/internal/orchestrator"
	"warden/internal/platform/middleware"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
)

// DefaultMaxChatBodyBytes covers the attachment limit after base64
// expansion for a handful of attachments.
const DefaultMaxChatBodyBytes = 64 << 20

type ChatHandler struct {
	chat         ChatService
	logger       *slog.Logger
	maxBodyBytes int64
}

func NewChatHandler(chat ChatService, logger *slog.Logger, maxBodyBytes int64) *ChatHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxChatBodyBytes
	}
	return &ChatHandler{chat: chat, logger: logger, maxBodyBytes: maxBodyBytes}
}

func (h *ChatHandler) Register(r chi.Router) {
	r.With(middleware.ContentTypeJSON).Post("/api/chat", h.handleChat)
}

// handleChat returns 200 for every completed pipeline run, including runs
// that blocked content; the policy_warning field says so. Authorization
// denials and backend outages are errors.
func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req orchestrator.ChatRequest
	body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "request body too large"))
			return
		}
		h.logger.WarnContext(ctx, "invalid chat request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	resp, err := h.chat.Handle(ctx, req)
	if err != nil {
		writeServiceError(ctx, h.logger, w, "chat request failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
