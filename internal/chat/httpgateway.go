package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// HTTPGateway posts replies to the front-end service that owns the
// actual chat-platform connection.
type HTTPGateway struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPGateway(baseURL, token string) *HTTPGateway {
	return &HTTPGateway{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *HTTPGateway) SendText(ctx context.Context, sessionID int64, text string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"session_id": sessionID,
		"text":       text,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create message request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("send message failed (%d): %s", resp.StatusCode, string(body))
	}
	return nil
}

func (g *HTTPGateway) SendDocument(ctx context.Context, sessionID int64, fileName string, data []byte) error {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	if err := mw.WriteField("session_id", strconv.FormatInt(sessionID, 10)); err != nil {
		return fmt.Errorf("write session field: %w", err)
	}
	part, err := mw.CreateFormFile("document", fileName)
	if err != nil {
		return fmt.Errorf("create document part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finish document form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/documents", buf)
	if err != nil {
		return fmt.Errorf("create document request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("send document failed (%d)", resp.StatusCode)
	}
	return nil
}
