package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/embedbot/embedbot/internal/chat"
)

// eventRequest is the front-end's wire format for one chat event. An
// attached file arrives as metadata plus a fetch URL; the blob is
// pulled only after validation accepts it.
type eventRequest struct {
	SessionID   int64  `json:"session_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`
	File        *struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
		URL  string `json:"url"`
	} `json:"file,omitempty"`
}

type EventsHandler struct {
	chat        *chat.Router
	fetchClient *http.Client
}

func NewEventsHandler(chatRouter *chat.Router) *EventsHandler {
	return &EventsHandler{
		chat:        chatRouter,
		fetchClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

func (h *EventsHandler) Receive(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event payload"})
		return
	}
	if req.SessionID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}

	ev := chat.Event{
		SessionID:   req.SessionID,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Text:        req.Text,
	}
	if req.File != nil {
		url := req.File.URL
		ev.File = &chat.FileRef{
			Name: req.File.Name,
			Size: req.File.Size,
			Open: func(ctx context.Context) (io.ReadCloser, error) {
				return h.fetchBlob(ctx, url)
			},
		}
	}

	if err := h.chat.Handle(r.Context(), ev); err != nil {
		slog.Error("event handling failed", "session_id", req.SessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "event handling failed"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *EventsHandler) fetchBlob(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create fetch request: %w", err)
	}
	resp, err := h.fetchClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch file: %w", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch file failed (%d)", resp.StatusCode)
	}
	return resp.Body, nil
}
